package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/parcelhq/trackwise-backend/pkg/enums"
)

// BillingTransaction is the append-only audit record of money movement.
// Written by the reconciliation handler and the auto-recharge monitor only.
type BillingTransaction struct {
	ID                    uuid.UUID               `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerID            uuid.UUID               `gorm:"column:customer_id;type:uuid;not null;index"`
	Type                  enums.TransactionType   `gorm:"column:type;type:transaction_type;not null"`
	Status                enums.TransactionStatus `gorm:"column:status;type:transaction_status;not null"`
	AmountCents           int64                   `gorm:"column:amount_cents;not null"`
	Currency              string                  `gorm:"column:currency;not null;default:'usd'"`
	CreditsAdded          int                     `gorm:"column:credits_added;not null;default:0"`
	PurchaseID            *uuid.UUID              `gorm:"column:purchase_id;type:uuid"`
	StripePaymentIntentID *string                 `gorm:"column:stripe_payment_intent_id"`
	StripeInvoiceID       *string                 `gorm:"column:stripe_invoice_id"`
	Metadata              json.RawMessage         `gorm:"column:metadata;type:jsonb"`
	CreatedAt             time.Time               `gorm:"column:created_at;autoCreateTime;index"`
}
