package payloads

import (
	"time"

	"github.com/google/uuid"
)

// PurchaseCompletedEvent notifies downstream systems that a credit pack was
// paid for and is now spendable.
type PurchaseCompletedEvent struct {
	CustomerID    uuid.UUID  `json:"customer_id"`
	PurchaseID    uuid.UUID  `json:"purchase_id"`
	CreditsAmount int        `json:"credits_amount"`
	AmountCents   int64      `json:"amount_cents"`
	Currency      string     `json:"currency"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// AutoRechargeSucceededEvent reports a completed off-session top-up.
type AutoRechargeSucceededEvent struct {
	CustomerID    uuid.UUID `json:"customer_id"`
	PurchaseID    uuid.UUID `json:"purchase_id"`
	CreditsAmount int       `json:"credits_amount"`
	AmountCents   int64     `json:"amount_cents"`
	Currency      string    `json:"currency"`
	BalanceBefore int       `json:"balance_before"`
}

// AutoRechargeFailedEvent reports a declined or errored off-session top-up so
// the customer can be alerted to fix their payment method.
type AutoRechargeFailedEvent struct {
	CustomerID    uuid.UUID `json:"customer_id"`
	CreditsAmount int       `json:"credits_amount"`
	Reason        string    `json:"reason"`
}

// RenewalPaymentFailedEvent reports a failed subscription renewal invoice.
type RenewalPaymentFailedEvent struct {
	CustomerID      uuid.UUID `json:"customer_id"`
	StripeInvoiceID string    `json:"stripe_invoice_id"`
	AmountCents     int64     `json:"amount_cents"`
}
