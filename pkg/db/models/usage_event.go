package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/parcelhq/trackwise-backend/pkg/enums"
)

// UsageEvent is one immutable unit of consumption. The ledger is append-only;
// balances are always derived by counting these rows, never stored.
type UsageEvent struct {
	ID                      uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerID              uuid.UUID         `gorm:"column:customer_id;type:uuid;not null;index"`
	SourceType              enums.UsageSource `gorm:"column:source_type;type:usage_source;not null"`
	PurchaseID              *uuid.UUID        `gorm:"column:purchase_id;type:uuid;index"`
	SubscriptionPeriodStart *time.Time        `gorm:"column:subscription_period_start"`
	SubscriptionPeriodEnd   *time.Time        `gorm:"column:subscription_period_end"`
	Metadata                json.RawMessage   `gorm:"column:metadata;type:jsonb"`
	CreatedAt               time.Time         `gorm:"column:created_at;autoCreateTime;index"`
}
