package enums

// OutboxEventType names the billing alerts published through the outbox.
type OutboxEventType string

const (
	OutboxEventPurchaseCompleted  OutboxEventType = "billing.purchase_completed"
	OutboxEventAutoRechargeOK     OutboxEventType = "billing.auto_recharge_succeeded"
	OutboxEventAutoRechargeFailed OutboxEventType = "billing.auto_recharge_failed"
	OutboxEventRenewalFailed      OutboxEventType = "billing.renewal_payment_failed"
)

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	OutboxAggregateCustomer OutboxAggregateType = "customer"
	OutboxAggregatePurchase OutboxAggregateType = "credit_purchase"
)

// OutboxStatus tracks delivery state of an outbox row.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// IsValid reports whether the value is known.
func (s OutboxStatus) IsValid() bool {
	switch s {
	case OutboxStatusPending, OutboxStatusPublished, OutboxStatusFailed:
		return true
	default:
		return false
	}
}
