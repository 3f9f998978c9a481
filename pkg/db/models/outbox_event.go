package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/parcelhq/trackwise-backend/pkg/enums"
)

// OutboxEvent is a billing alert staged inside the same transaction as the
// state change it describes, drained by the outbox publisher.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;not null"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;not null"`
	AggregateID   uuid.UUID                 `gorm:"column:aggregate_id;type:uuid;not null;index"`
	Payload       json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`
	Status        enums.OutboxStatus        `gorm:"column:status;not null;default:'pending';index"`
	Attempts      int                       `gorm:"column:attempts;not null;default:0"`
	LastError     *string                   `gorm:"column:last_error"`
	PublishedAt   *time.Time                `gorm:"column:published_at"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime;index"`
}
