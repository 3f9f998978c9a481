package paymentmethods

import (
	"context"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/customer"
	"github.com/stripe/stripe-go/v84/paymentmethod"

	pkgstripe "github.com/parcelhq/trackwise-backend/pkg/stripe"
)

// StripeSetupClient exposes the Stripe operations the payment method service needs.
type StripeSetupClient interface {
	CreateCustomer(ctx context.Context, params *stripe.CustomerParams) (*stripe.Customer, error)
	CreateSetupSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	DetachPaymentMethod(ctx context.Context, id string, params *stripe.PaymentMethodDetachParams) (*stripe.PaymentMethod, error)
}

type stripeClientWrapper struct{}

// NewStripeClient wraps the provided Stripe client so the service can be tested.
func NewStripeClient(api *pkgstripe.Client) StripeSetupClient {
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

func (w *stripeClientWrapper) CreateSetupSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
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

func (w *stripeClientWrapper) GetCheckoutSession(ctx context.Context, id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if params == nil {
		params = &stripe.CheckoutSessionParams{}
	}
	params.Context = ctx
	var found *stripe.CheckoutSession
	err := pkgstripe.Do(ctx, func(ctx context.Context) error {
		var err error
		found, err = session.Get(id, params)
		return err
	})
	return found, err
}

func (w *stripeClientWrapper) DetachPaymentMethod(ctx context.Context, id string, params *stripe.PaymentMethodDetachParams) (*stripe.PaymentMethod, error) {
	if params == nil {
		params = &stripe.PaymentMethodDetachParams{}
	}
	params.Context = ctx
	var detached *stripe.PaymentMethod
	err := pkgstripe.Do(ctx, func(ctx context.Context) error {
		var err error
		detached, err = paymentmethod.Detach(id, params)
		return err
	})
	return detached, err
}
