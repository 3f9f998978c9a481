package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Plan is immutable reference data describing a subscription tier.
type Plan struct {
	ID             string          `gorm:"column:id;primaryKey"`
	Name           string          `gorm:"column:name;not null"`
	MonthlyCredits int             `gorm:"column:monthly_credits;not null;default:0"`
	PriceAmount    decimal.Decimal `gorm:"column:price_amount;type:numeric(12,2);not null"`
	CurrencyCode   string          `gorm:"column:currency_code;not null;default:'usd'"`
	Features       pq.StringArray  `gorm:"column:features;type:text[];default:ARRAY[]::text[]"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
