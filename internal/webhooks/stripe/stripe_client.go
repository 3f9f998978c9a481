package stripewebhook

import (
	"context"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/subscription"

	pkgstripe "github.com/parcelhq/trackwise-backend/pkg/stripe"
)

// StripeSubscriptionClient fetches provider subscriptions for invoice events,
// which only carry the subscription ID.
type StripeSubscriptionClient interface {
	GetSubscription(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
}

type stripeClientWrapper struct{}

// NewStripeClient wraps the provided Stripe client so the webhook service can be tested.
func NewStripeClient(api *pkgstripe.Client) StripeSubscriptionClient {
	if api == nil {
		return nil
	}
	return &stripeClientWrapper{}
}

func (w *stripeClientWrapper) GetSubscription(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	if params == nil {
		params = &stripe.SubscriptionParams{}
	}
	params.Context = ctx
	var sub *stripe.Subscription
	err := pkgstripe.Do(ctx, func(ctx context.Context) error {
		var err error
		sub, err = subscription.Get(id, params)
		return err
	})
	return sub, err
}
