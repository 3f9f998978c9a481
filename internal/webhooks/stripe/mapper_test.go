package stripewebhook

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/parcelhq/trackwise-backend/pkg/enums"
)

func TestMapStripeStatus(t *testing.T) {
	tests := []struct {
		name   string
		status stripe.SubscriptionStatus
		want   enums.SubscriptionStatus
	}{
		{name: "active", status: stripe.SubscriptionStatusActive, want: enums.SubscriptionStatusActive},
		{name: "trialing counts as active", status: stripe.SubscriptionStatusTrialing, want: enums.SubscriptionStatusActive},
		{name: "past due", status: stripe.SubscriptionStatusPastDue, want: enums.SubscriptionStatusInactive},
		{name: "unpaid", status: stripe.SubscriptionStatusUnpaid, want: enums.SubscriptionStatusInactive},
		{name: "incomplete", status: stripe.SubscriptionStatusIncomplete, want: enums.SubscriptionStatusInactive},
		{name: "paused", status: stripe.SubscriptionStatusPaused, want: enums.SubscriptionStatusInactive},
		{name: "canceled", status: stripe.SubscriptionStatusCanceled, want: enums.SubscriptionStatusCanceled},
		{name: "incomplete expired", status: stripe.SubscriptionStatusIncompleteExpired, want: enums.SubscriptionStatusCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mapStripeStatus(tt.status)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := mapStripeStatus("not-a-status")
	require.Error(t, err)
}

func TestBuildSubscriptionFromStripe(t *testing.T) {
	customerID := uuid.New()
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	sub := activeStripeSubscription("sub_build", nil, start.Unix(), end.Unix())
	sub.CancelAtPeriodEnd = true

	built, err := BuildSubscriptionFromStripe(sub, customerID, "growth")
	require.NoError(t, err)
	assert.Equal(t, customerID, built.CustomerID)
	assert.Equal(t, "growth", built.PlanID)
	assert.Equal(t, "sub_build", built.StripeSubscriptionID)
	assert.Equal(t, start, built.CurrentPeriodStart)
	assert.Equal(t, end, built.CurrentPeriodEnd)
	assert.True(t, built.CancelAtPeriodEnd)
	assert.Nil(t, built.CanceledAt)
}

func TestBuildSubscriptionRequiresPeriod(t *testing.T) {
	sub := &stripe.Subscription{ID: "sub_noperiod", Status: stripe.SubscriptionStatusActive}
	_, err := BuildSubscriptionFromStripe(sub, uuid.New(), "growth")
	require.Error(t, err)
}

func TestCustomerIDFromMetadata(t *testing.T) {
	id := uuid.New()

	got, err := CustomerIDFromMetadata(map[string]string{"customer_id": id.String()})
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = CustomerIDFromMetadata(map[string]string{"customer_id": "not-a-uuid"})
	require.Error(t, err)

	_, err = CustomerIDFromMetadata(map[string]string{})
	require.Error(t, err)

	_, err = CustomerIDFromMetadata(nil)
	require.Error(t, err)
}

func TestPlanIDFromSubscriptionPrefersMetadata(t *testing.T) {
	sub := activeStripeSubscription("sub_plan", map[string]string{"plan_id": "scale"}, 1, 2)
	assert.Equal(t, "scale", PlanIDFromSubscription(sub))

	sub.Metadata = nil
	assert.Equal(t, "growth", PlanIDFromSubscription(sub), "falls back to the price id")

	assert.Equal(t, "", PlanIDFromSubscription(&stripe.Subscription{ID: "sub_bare"}))
}
