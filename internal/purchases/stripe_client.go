package purchases

import (
	"context"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/customer"

	pkgstripe "github.com/parcelhq/trackwise-backend/pkg/stripe"
)

// StripeCheckoutClient exposes the subset of Stripe operations required by the purchase service.
type StripeCheckoutClient interface {
	CreateCustomer(ctx context.Context, params *stripe.CustomerParams) (*stripe.Customer, error)
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeClientWrapper struct{}

// NewStripeClient wraps the provided Stripe client so the purchase service can be tested.
func NewStripeClient(api *pkgstripe.Client) StripeCheckoutClient {
	if api == nil {
		return nil
	}
	return &stripeClientWrapper{}
}

func (w *stripeClientWrapper) CreateCustomer(ctx context.Context, params *stripe.CustomerParams) (*stripe.Customer, error) {
	if params != nil {
		params.Context = ctx
	}
	var created *stripe.Customer
	err := pkgstripe.Do(ctx, func(ctx context.Context) error {
		var err error
		created, err = customer.New(params)
		return err
	})
	return created, err
}

func (w *stripeClientWrapper) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if params != nil {
		params.Context = ctx
	}
	var created *stripe.CheckoutSession
	err := pkgstripe.Do(ctx, func(ctx context.Context) error {
		var err error
		created, err = session.New(params)
		return err
	})
	return created, err
}
