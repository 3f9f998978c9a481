package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/parcelhq/trackwise-backend/pkg/enums"
)

// CreditPurchase is a discrete pack of extra credits. Created pending at
// checkout initiation; only the reconciliation handler moves it to completed.
// Expired rows stop counting toward the balance but are never deleted.
type CreditPurchase struct {
	ID                      uuid.UUID            `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerID              uuid.UUID            `gorm:"column:customer_id;type:uuid;not null;index"`
	CreditsAmount           int                  `gorm:"column:credits_amount;not null"`
	Status                  enums.PurchaseStatus `gorm:"column:status;type:purchase_status;not null;default:'pending'"`
	AmountCents             int64                `gorm:"column:amount_cents;not null"`
	Currency                string               `gorm:"column:currency;not null;default:'usd'"`
	ExpiresAt               *time.Time           `gorm:"column:expires_at"`
	IsAutoRecharge          bool                 `gorm:"column:is_auto_recharge;not null;default:false"`
	StripeCheckoutSessionID *string              `gorm:"column:stripe_checkout_session_id;unique"`
	StripePaymentIntentID   *string              `gorm:"column:stripe_payment_intent_id"`
	CompletedAt             *time.Time           `gorm:"column:completed_at"`
	CreatedAt               time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

// Expired reports whether the pack no longer contributes to the balance.
func (p CreditPurchase) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && !now.Before(*p.ExpiresAt)
}
