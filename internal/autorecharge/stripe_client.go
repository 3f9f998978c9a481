package autorecharge

import (
	"context"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"

	pkgstripe "github.com/parcelhq/trackwise-backend/pkg/stripe"
)

// StripePaymentClient charges vaulted payment methods off-session.
type StripePaymentClient interface {
	CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeClientWrapper struct{}

// NewStripeClient wraps the provided Stripe client so the monitor can be tested.
func NewStripeClient(api *pkgstripe.Client) StripePaymentClient {
	if api == nil {
		return nil
	}
	return &stripeClientWrapper{}
}

func (w *stripeClientWrapper) CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if params != nil {
		params.Context = ctx
	}
	var intent *stripe.PaymentIntent
	err := pkgstripe.Do(ctx, func(ctx context.Context) error {
		var err error
		intent, err = paymentintent.New(params)
		return err
	})
	return intent, err
}
