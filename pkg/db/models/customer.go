package models

import (
	"time"

	"github.com/google/uuid"
)

// Customer anchors all credit state. Consumption locks this row to serialize
// balance reads against ledger writes for the same customer.
type Customer struct {
	ID               uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ExternalRef      string    `gorm:"column:external_ref;not null;unique"`
	Email            string    `gorm:"column:email;not null"`
	StripeCustomerID *string   `gorm:"column:stripe_customer_id;unique"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
