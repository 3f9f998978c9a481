package models

import (
	"time"

	"github.com/google/uuid"
)

// AutoRechargeSettings holds the per-customer replenishment policy.
type AutoRechargeSettings struct {
	ID                  uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerID          uuid.UUID  `gorm:"column:customer_id;type:uuid;not null;unique"`
	Enabled             bool       `gorm:"column:enabled;not null;default:false"`
	MinCreditsThreshold int        `gorm:"column:min_credits_threshold;not null;default:100"`
	RechargeAmount      int        `gorm:"column:recharge_amount;not null;default:500"`
	PaymentMethodID     *uuid.UUID `gorm:"column:payment_method_id;type:uuid"`
	CreatedAt           time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
