package stripewebhook

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/parcelhq/trackwise-backend/pkg/db/models"
	"github.com/parcelhq/trackwise-backend/pkg/enums"
	pkgerrors "github.com/parcelhq/trackwise-backend/pkg/errors"
)

// BuildSubscriptionFromStripe maps a provider subscription into the canonical model.
func BuildSubscriptionFromStripe(stripeSub *stripe.Subscription, customerID uuid.UUID, planID string) (*models.Subscription, error) {
	if stripeSub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe subscription is nil")
	}
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	status, err := mapStripeStatus(stripeSub.Status)
	if err != nil {
		return nil, err
	}
	startTS, endTS := periodFromSubscription(stripeSub)
	if startTS == 0 || endTS == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "subscription period missing")
	}

	return &models.Subscription{
		CustomerID:           customerID,
		PlanID:               planID,
		StripeSubscriptionID: stripeSub.ID,
		Status:               status,
		CurrentPeriodStart:   toTime(startTS),
		CurrentPeriodEnd:     toTime(endTS),
		CancelAtPeriodEnd:    stripeSub.CancelAtPeriodEnd,
		CanceledAt:           toTimePtr(stripeSub.CanceledAt),
	}, nil
}

// UpdateSubscriptionFromStripe mutates the stored subscription with new provider data.
func UpdateSubscriptionFromStripe(target *models.Subscription, stripeSub *stripe.Subscription, planID string) error {
	if target == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "target subscription is nil")
	}
	if stripeSub == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "stripe subscription is nil")
	}
	status, err := mapStripeStatus(stripeSub.Status)
	if err != nil {
		return err
	}

	target.StripeSubscriptionID = stripeSub.ID
	target.Status = status
	if planID != "" {
		target.PlanID = planID
	}
	startTS, endTS := periodFromSubscription(stripeSub)
	if startTS != 0 && endTS != 0 {
		target.CurrentPeriodStart = toTime(startTS)
		target.CurrentPeriodEnd = toTime(endTS)
	}
	target.CancelAtPeriodEnd = stripeSub.CancelAtPeriodEnd
	target.CanceledAt = toTimePtr(stripeSub.CanceledAt)
	return nil
}

// CustomerIDFromMetadata extracts the internal customer ID stamped on provider metadata.
func CustomerIDFromMetadata(metadata map[string]string) (uuid.UUID, error) {
	if metadata == nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription metadata is required")
	}
	raw, ok := metadata["customer_id"]
	if !ok || strings.TrimSpace(raw) == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "customer_id missing from metadata")
	}
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid customer_id metadata")
	}
	return id, nil
}

// PlanIDFromSubscription prefers the plan stamped on metadata and falls back
// to the price ID, which plan rows use as an alias.
func PlanIDFromSubscription(sub *stripe.Subscription) string {
	if sub == nil {
		return ""
	}
	if planID := strings.TrimSpace(sub.Metadata["plan_id"]); planID != "" {
		return planID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		return sub.Items.Data[0].Price.ID
	}
	return ""
}

func mapStripeStatus(status stripe.SubscriptionStatus) (enums.SubscriptionStatus, error) {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return enums.SubscriptionStatusActive, nil
	case stripe.SubscriptionStatusPastDue,
		stripe.SubscriptionStatusUnpaid,
		stripe.SubscriptionStatusIncomplete,
		stripe.SubscriptionStatusPaused:
		return enums.SubscriptionStatusInactive, nil
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return enums.SubscriptionStatusCanceled, nil
	default:
		return "", pkgerrors.New(pkgerrors.CodeDependency, "unknown subscription status: "+string(status))
	}
}

func periodFromSubscription(sub *stripe.Subscription) (int64, int64) {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return 0, 0
	}
	item := sub.Items.Data[0]
	return item.CurrentPeriodStart, item.CurrentPeriodEnd
}

func toTime(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}

func toTimePtr(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
