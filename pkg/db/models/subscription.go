package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/parcelhq/trackwise-backend/pkg/enums"
)

// Subscription persists provider subscription state per customer. Mutated only
// by the reconciliation handler in response to provider events.
type Subscription struct {
	ID                   uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerID           uuid.UUID                `gorm:"column:customer_id;type:uuid;not null;index"`
	PlanID               string                   `gorm:"column:plan_id;not null"`
	StripeSubscriptionID string                   `gorm:"column:stripe_subscription_id;not null;unique"`
	Status               enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'active'"`
	CurrentPeriodStart   time.Time                `gorm:"column:current_period_start;not null"`
	CurrentPeriodEnd     time.Time                `gorm:"column:current_period_end;not null"`
	CancelAtPeriodEnd    bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	CanceledAt           *time.Time               `gorm:"column:canceled_at"`
	CreatedAt            time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

// InPeriod reports whether the timestamp falls inside the current period.
// Periods are half-open: [start, end).
func (s Subscription) InPeriod(at time.Time) bool {
	return !at.Before(s.CurrentPeriodStart) && at.Before(s.CurrentPeriodEnd)
}
