package purchases

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/parcelhq/trackwise-backend/internal/billing"
	"github.com/parcelhq/trackwise-backend/pkg/config"
	"github.com/parcelhq/trackwise-backend/pkg/db/models"
	"github.com/parcelhq/trackwise-backend/pkg/enums"
	pkgerrors "github.com/parcelhq/trackwise-backend/pkg/errors"
	"github.com/parcelhq/trackwise-backend/pkg/logger"
)

// ServiceParams groups dependencies for the purchase service.
type ServiceParams struct {
	BillingRepo  billing.Repository
	StripeClient StripeCheckoutClient
	Config       config.StripeConfig
	Credits      config.CreditsConfig
	Logger       *logger.Logger
}

// Service initiates credit pack checkouts.
type Service struct {
	billingRepo billing.Repository
	stripe      StripeCheckoutClient
	cfg         config.StripeConfig
	credits     config.CreditsConfig
	logg        *logger.Logger
}

// NewService builds the purchase service.
func NewService(params ServiceParams) (*Service, error) {
	if params.BillingRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repo required")
	}
	if params.StripeClient == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	if params.Config.CheckoutSuccess == "" || params.Config.CheckoutCancel == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "checkout redirect urls required")
	}
	return &Service{
		billingRepo: params.BillingRepo,
		stripe:      params.StripeClient,
		cfg:         params.Config,
		credits:     params.Credits,
		logg:        params.Logger,
	}, nil
}

// CheckoutResult is returned to the client so it can redirect to Stripe.
type CheckoutResult struct {
	PurchaseID    uuid.UUID `json:"purchase_id"`
	SessionID     string    `json:"session_id"`
	SessionURL    string    `json:"session_url"`
	CreditsAmount int       `json:"credits_amount"`
	AmountCents   int64     `json:"amount_cents"`
	Currency      string    `json:"currency"`
}

// CreateCheckout records a pending purchase and opens a Stripe Checkout
// Session for it. The purchase stays pending until the reconciliation handler
// sees the session complete.
func (s *Service) CreateCheckout(ctx context.Context, customerID uuid.UUID, creditsAmount int) (*CheckoutResult, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	if creditsAmount < MinCreditsPerPurchase || creditsAmount > MaxCreditsPerPurchase {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("credits amount must be between %d and %d", MinCreditsPerPurchase, MaxCreditsPerPurchase))
	}

	customer, err := s.billingRepo.FindCustomer(ctx, customerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find customer")
	}
	if customer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
	}

	stripeCustomerID, err := s.ensureStripeCustomer(ctx, customer)
	if err != nil {
		return nil, err
	}

	amountCents := AmountCents(creditsAmount)
	currency := s.currency()

	purchase := &models.CreditPurchase{
		ID:            uuid.New(),
		CustomerID:    customer.ID,
		CreditsAmount: creditsAmount,
		Status:        enums.PurchaseStatusPending,
		AmountCents:   amountCents,
		Currency:      currency,
	}
	if err := s.billingRepo.CreatePurchase(ctx, purchase); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create purchase")
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		Customer:   stripe.String(stripeCustomerID),
		SuccessURL: stripe.String(s.cfg.CheckoutSuccess),
		CancelURL:  stripe.String(s.cfg.CheckoutCancel),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(currency),
					UnitAmount: stripe.Int64(amountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("%d tracking credits", creditsAmount)),
					},
				},
			},
		},
	}
	params.AddMetadata("purchase_id", purchase.ID.String())
	params.AddMetadata("customer_id", customer.ID.String())
	params.AddMetadata("credits_amount", fmt.Sprintf("%d", creditsAmount))

	session, err := s.stripe.CreateCheckoutSession(ctx, params)
	if err != nil {
		purchase.Status = enums.PurchaseStatusFailed
		if updateErr := s.billingRepo.UpdatePurchase(ctx, purchase); updateErr != nil && s.logg != nil {
			s.logg.Error(ctx, "mark purchase failed after session error", updateErr)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session")
	}

	purchase.StripeCheckoutSessionID = &session.ID
	if err := s.billingRepo.UpdatePurchase(ctx, purchase); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store session id")
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"customer_id":    customer.ID.String(),
			"purchase_id":    purchase.ID.String(),
			"credits_amount": creditsAmount,
			"amount_cents":   amountCents,
		})
		s.logg.Info(logCtx, "checkout session created")
	}

	return &CheckoutResult{
		PurchaseID:    purchase.ID,
		SessionID:     session.ID,
		SessionURL:    session.URL,
		CreditsAmount: creditsAmount,
		AmountCents:   amountCents,
		Currency:      currency,
	}, nil
}

func (s *Service) ensureStripeCustomer(ctx context.Context, customer *models.Customer) (string, error) {
	if customer.StripeCustomerID != nil && *customer.StripeCustomerID != "" {
		return *customer.StripeCustomerID, nil
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(customer.Email),
	}
	params.AddMetadata("customer_id", customer.ID.String())
	params.AddMetadata("external_ref", customer.ExternalRef)

	created, err := s.stripe.CreateCustomer(ctx, params)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stripe customer")
	}

	customer.StripeCustomerID = &created.ID
	if err := s.billingRepo.UpdateCustomer(ctx, customer); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store stripe customer id")
	}
	return created.ID, nil
}

func (s *Service) currency() string {
	if s.credits.Currency != "" {
		return s.credits.Currency
	}
	return "usd"
}
