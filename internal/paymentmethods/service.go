package paymentmethods

import (
	"context"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/parcelhq/trackwise-backend/internal/billing"
	"github.com/parcelhq/trackwise-backend/pkg/config"
	"github.com/parcelhq/trackwise-backend/pkg/db/models"
	"github.com/parcelhq/trackwise-backend/pkg/enums"
	pkgerrors "github.com/parcelhq/trackwise-backend/pkg/errors"
	"github.com/parcelhq/trackwise-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups dependencies for the payment method service.
type ServiceParams struct {
	BillingRepo       billing.Repository
	StripeClient      StripeSetupClient
	TransactionRunner txRunner
	Config            config.StripeConfig
	Logger            *logger.Logger
}

// Service vaults payment methods through Stripe setup sessions. Card data
// never touches this service; only the provider references and display
// metadata are stored.
type Service struct {
	billingRepo billing.Repository
	stripe      StripeSetupClient
	txRunner    txRunner
	cfg         config.StripeConfig
	logg        *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.BillingRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repo required")
	}
	if params.StripeClient == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Config.SetupReturn == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "setup return url required")
	}
	return &Service{
		billingRepo: params.BillingRepo,
		stripe:      params.StripeClient,
		txRunner:    params.TransactionRunner,
		cfg:         params.Config,
		logg:        params.Logger,
	}, nil
}

// SetupSessionResult is returned to the client so it can redirect to Stripe.
type SetupSessionResult struct {
	SessionID  string `json:"session_id"`
	SessionURL string `json:"session_url"`
}

// CreateSetupSession opens a Stripe Checkout session in setup mode for
// vaulting a payment method without charging it.
func (s *Service) CreateSetupSession(ctx context.Context, customerID uuid.UUID) (*SetupSessionResult, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
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

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSetup)),
		Customer:           stripe.String(stripeCustomerID),
		SuccessURL:         stripe.String(s.cfg.SetupReturn),
		CancelURL:          stripe.String(s.cfg.SetupReturn),
		PaymentMethodTypes: stripe.StringSlice([]string{s.paymentMethodType()}),
	}
	params.AddMetadata("customer_id", customer.ID.String())

	session, err := s.stripe.CreateSetupSession(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create setup session")
	}

	return &SetupSessionResult{SessionID: session.ID, SessionURL: session.URL}, nil
}

// ConfirmSetup resolves a completed setup session and persists the vaulted
// payment method as the customer's default. An auto-recharge policy waiting
// for a payment method is linked to it.
func (s *Service) ConfirmSetup(ctx context.Context, customerID uuid.UUID, sessionID string) (*models.PaymentMethod, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	if sessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}

	customer, err := s.billingRepo.FindCustomer(ctx, customerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find customer")
	}
	if customer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
	}

	params := &stripe.CheckoutSessionParams{}
	params.AddExpand("setup_intent.payment_method")
	session, err := s.stripe.GetCheckoutSession(ctx, sessionID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch setup session")
	}
	if session.SetupIntent == nil || session.SetupIntent.PaymentMethod == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "setup session not completed")
	}
	if session.Customer != nil && customer.StripeCustomerID != nil && session.Customer.ID != *customer.StripeCustomerID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "setup session belongs to a different customer")
	}

	stripeMethod := session.SetupIntent.PaymentMethod
	var saved *models.PaymentMethod
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)

		existing, err := repo.FindPaymentMethodByStripeID(ctx, stripeMethod.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find payment method")
		}
		if existing != nil {
			if existing.CustomerID != customerID {
				return pkgerrors.New(pkgerrors.CodeValidation, "payment method belongs to a different customer")
			}
			if !existing.IsDefault {
				if err := repo.ClearDefaultPaymentMethod(ctx, customerID); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clear default payment method")
				}
				existing.IsDefault = true
				if err := repo.UpdatePaymentMethod(ctx, existing); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update payment method")
				}
			}
			saved = existing
			return nil
		}

		if err := repo.ClearDefaultPaymentMethod(ctx, customerID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clear default payment method")
		}

		method := buildPaymentMethod(customerID, stripeMethod)
		if err := repo.CreatePaymentMethod(ctx, method); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create payment method")
		}

		settings, err := repo.FindAutoRechargeSettings(ctx, customerID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find auto recharge settings")
		}
		if settings != nil && settings.PaymentMethodID == nil {
			settings.PaymentMethodID = &method.ID
			if err := repo.SaveAutoRechargeSettings(ctx, settings); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "link auto recharge payment method")
			}
		}

		saved = method
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"customer_id":       customerID.String(),
			"payment_method_id": saved.ID.String(),
		})
		s.logg.Info(logCtx, "payment method saved")
	}
	return saved, nil
}

// List returns the customer's vaulted payment methods.
func (s *Service) List(ctx context.Context, customerID uuid.UUID) ([]models.PaymentMethod, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	methods, err := s.billingRepo.ListPaymentMethods(ctx, customerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list payment methods")
	}
	return methods, nil
}

// Remove detaches the payment method at the provider and deletes the local
// row. An auto-recharge policy pointing at it is disabled rather than left
// dangling.
func (s *Service) Remove(ctx context.Context, customerID, methodID uuid.UUID) error {
	if customerID == uuid.Nil || methodID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer id and payment method id are required")
	}

	method, err := s.billingRepo.FindPaymentMethod(ctx, methodID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find payment method")
	}
	if method == nil || method.CustomerID != customerID {
		return pkgerrors.New(pkgerrors.CodeNotFound, "payment method not found")
	}

	if _, err := s.stripe.DetachPaymentMethod(ctx, method.StripePaymentMethodID, nil); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "detach payment method")
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)

		settings, err := repo.FindAutoRechargeSettings(ctx, customerID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find auto recharge settings")
		}
		if settings != nil && settings.PaymentMethodID != nil && *settings.PaymentMethodID == methodID {
			settings.Enabled = false
			settings.PaymentMethodID = nil
			if err := repo.SaveAutoRechargeSettings(ctx, settings); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "disable auto recharge")
			}
		}

		if err := repo.DeletePaymentMethod(ctx, methodID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete payment method")
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"customer_id":       customerID.String(),
			"payment_method_id": methodID.String(),
		})
		s.logg.Info(logCtx, "payment method removed")
	}
	return nil
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

func (s *Service) paymentMethodType() string {
	if s.cfg.PaymentMethodType != "" {
		return s.cfg.PaymentMethodType
	}
	return "card"
}

func buildPaymentMethod(customerID uuid.UUID, stripeMethod *stripe.PaymentMethod) *models.PaymentMethod {
	methodType, err := enums.ParsePaymentMethodType(string(stripeMethod.Type))
	if err != nil {
		methodType = enums.PaymentMethodTypeCard
	}

	method := &models.PaymentMethod{
		ID:                    uuid.New(),
		CustomerID:            customerID,
		StripePaymentMethodID: stripeMethod.ID,
		Type:                  methodType,
		IsDefault:             true,
	}
	if stripeMethod.Card != nil {
		brand := string(stripeMethod.Card.Brand)
		last4 := stripeMethod.Card.Last4
		expMonth := int(stripeMethod.Card.ExpMonth)
		expYear := int(stripeMethod.Card.ExpYear)
		method.CardBrand = &brand
		method.CardLast4 = &last4
		method.CardExpMonth = &expMonth
		method.CardExpYear = &expYear
	}
	return method
}
