package stripewebhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/parcelhq/trackwise-backend/internal/billing"
	"github.com/parcelhq/trackwise-backend/pkg/config"
	"github.com/parcelhq/trackwise-backend/pkg/db/models"
	"github.com/parcelhq/trackwise-backend/pkg/enums"
	pkgerrors "github.com/parcelhq/trackwise-backend/pkg/errors"
	"github.com/parcelhq/trackwise-backend/pkg/logger"
	"github.com/parcelhq/trackwise-backend/pkg/outbox"
	"github.com/parcelhq/trackwise-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	BillingRepo       billing.Repository
	Outbox            *outbox.Service
	StripeClient      StripeSubscriptionClient
	TransactionRunner txRunner
	Credits           config.CreditsConfig
	Logger            *logger.Logger
}

// Service applies provider webhook events to the local ledger. It is the only
// writer of subscription rows and the only component that moves purchases out
// of pending.
type Service struct {
	billingRepo billing.Repository
	outbox      *outbox.Service
	stripe      StripeSubscriptionClient
	txRunner    txRunner
	credits     config.CreditsConfig
	logg        *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.BillingRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repo required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox service required")
	}
	if params.StripeClient == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Credits.PurchaseExpiry <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "purchase expiry required")
	}
	return &Service{
		billingRepo: params.BillingRepo,
		outbox:      params.Outbox,
		stripe:      params.StripeClient,
		txRunner:    params.TransactionRunner,
		credits:     params.Credits,
		logg:        params.Logger,
	}, nil
}

func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode checkout session event")
		}
		return s.handleCheckoutCompleted(ctx, &session)
	case stripe.EventTypeCheckoutSessionExpired:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode checkout session event")
		}
		return s.handleCheckoutExpired(ctx, &session)
	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted:
		var stripeSub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode subscription event")
		}
		return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
			_, err := s.syncSubscription(ctx, tx, &stripeSub)
			return err
		})
	case stripe.EventTypeInvoicePaid:
		invoice, stripeSub, err := s.resolveInvoice(ctx, event)
		if err != nil {
			return err
		}
		return s.handleInvoicePaid(ctx, invoice, stripeSub)
	case stripe.EventTypeInvoicePaymentFailed:
		invoice, stripeSub, err := s.resolveInvoice(ctx, event)
		if err != nil {
			return err
		}
		return s.handleInvoicePaymentFailed(ctx, invoice, stripeSub)
	default:
		return nil
	}
}

// handleCheckoutCompleted credits a pending purchase. The expiry clock starts
// at payment, not at checkout initiation. Replays are no-ops.
func (s *Service) handleCheckoutCompleted(ctx context.Context, session *stripe.CheckoutSession) error {
	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		purchase, err := repo.FindPurchaseByCheckoutSessionID(ctx, session.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find purchase by session")
		}
		if purchase == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "no purchase for checkout session")
		}
		if purchase.Status == enums.PurchaseStatusCompleted {
			return nil
		}

		now := time.Now().UTC()
		expiresAt := now.Add(s.credits.PurchaseExpiry)
		purchase.Status = enums.PurchaseStatusCompleted
		purchase.ExpiresAt = &expiresAt
		purchase.CompletedAt = &now
		if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
			purchase.StripePaymentIntentID = &session.PaymentIntent.ID
		}
		if err := repo.UpdatePurchase(ctx, purchase); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "complete purchase")
		}

		transaction := &models.BillingTransaction{
			ID:                    uuid.New(),
			CustomerID:            purchase.CustomerID,
			Type:                  enums.TransactionTypePurchase,
			Status:                enums.TransactionStatusSucceeded,
			AmountCents:           purchase.AmountCents,
			Currency:              purchase.Currency,
			CreditsAdded:          purchase.CreditsAmount,
			PurchaseID:            &purchase.ID,
			StripePaymentIntentID: purchase.StripePaymentIntentID,
		}
		if err := repo.CreateTransaction(ctx, transaction); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record purchase transaction")
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventPurchaseCompleted,
			AggregateType: enums.OutboxAggregatePurchase,
			AggregateID:   purchase.ID,
			CustomerID:    &purchase.CustomerID,
			Data: payloads.PurchaseCompletedEvent{
				CustomerID:    purchase.CustomerID,
				PurchaseID:    purchase.ID,
				CreditsAmount: purchase.CreditsAmount,
				AmountCents:   purchase.AmountCents,
				Currency:      purchase.Currency,
				ExpiresAt:     purchase.ExpiresAt,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit purchase completed")
		}

		s.info(ctx, map[string]any{
			"customer_id": purchase.CustomerID.String(),
			"purchase_id": purchase.ID.String(),
			"credits":     purchase.CreditsAmount,
		}, "credit purchase completed")
		return nil
	})
}

// handleCheckoutExpired abandons a pending purchase whose session lapsed
// without payment.
func (s *Service) handleCheckoutExpired(ctx context.Context, session *stripe.CheckoutSession) error {
	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		purchase, err := repo.FindPurchaseByCheckoutSessionID(ctx, session.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find purchase by session")
		}
		if purchase == nil || purchase.Status != enums.PurchaseStatusPending {
			return nil
		}
		purchase.Status = enums.PurchaseStatusFailed
		if err := repo.UpdatePurchase(ctx, purchase); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fail expired purchase")
		}
		s.info(ctx, map[string]any{
			"customer_id": purchase.CustomerID.String(),
			"purchase_id": purchase.ID.String(),
		}, "checkout session expired, purchase abandoned")
		return nil
	})
}

func (s *Service) handleInvoicePaid(ctx context.Context, invoice *stripe.Invoice, stripeSub *stripe.Subscription) error {
	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		synced, err := s.syncSubscription(ctx, tx, stripeSub)
		if err != nil {
			return err
		}

		repo := s.billingRepo.WithTx(tx)
		creditsAdded := 0
		plan, err := repo.FindPlanByID(ctx, synced.PlanID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find plan")
		}
		if plan != nil {
			creditsAdded = plan.MonthlyCredits
		}

		transaction := &models.BillingTransaction{
			ID:              uuid.New(),
			CustomerID:      synced.CustomerID,
			Type:            enums.TransactionTypeRenewal,
			Status:          enums.TransactionStatusSucceeded,
			AmountCents:     invoice.AmountPaid,
			Currency:        invoiceCurrency(invoice),
			CreditsAdded:    creditsAdded,
			StripeInvoiceID: &invoice.ID,
		}
		if err := repo.CreateTransaction(ctx, transaction); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record renewal transaction")
		}

		s.info(ctx, map[string]any{
			"customer_id":       synced.CustomerID.String(),
			"stripe_invoice_id": invoice.ID,
			"credits_added":     creditsAdded,
		}, "subscription renewal recorded")
		return nil
	})
}

// handleInvoicePaymentFailed records the failure and alerts downstream. The
// current allowance is never clawed back; it simply stops once the period
// lapses without a renewal.
func (s *Service) handleInvoicePaymentFailed(ctx context.Context, invoice *stripe.Invoice, stripeSub *stripe.Subscription) error {
	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		synced, err := s.syncSubscription(ctx, tx, stripeSub)
		if err != nil {
			return err
		}

		repo := s.billingRepo.WithTx(tx)
		transaction := &models.BillingTransaction{
			ID:              uuid.New(),
			CustomerID:      synced.CustomerID,
			Type:            enums.TransactionTypeRenewalFailed,
			Status:          enums.TransactionStatusFailed,
			AmountCents:     invoice.AmountDue,
			Currency:        invoiceCurrency(invoice),
			StripeInvoiceID: &invoice.ID,
		}
		if err := repo.CreateTransaction(ctx, transaction); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record failed renewal")
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventRenewalFailed,
			AggregateType: enums.OutboxAggregateCustomer,
			AggregateID:   synced.CustomerID,
			CustomerID:    &synced.CustomerID,
			Data: payloads.RenewalPaymentFailedEvent{
				CustomerID:      synced.CustomerID,
				StripeInvoiceID: invoice.ID,
				AmountCents:     invoice.AmountDue,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit renewal failed")
		}

		s.warn(ctx, map[string]any{
			"customer_id":       synced.CustomerID.String(),
			"stripe_invoice_id": invoice.ID,
		}, "subscription renewal payment failed")
		return nil
	})
}

// syncSubscription upserts the local subscription row inside the caller's
// transaction. The customer is resolved from metadata, falling back to the
// stored row and then to the provider customer mapping.
func (s *Service) syncSubscription(ctx context.Context, tx *gorm.DB, stripeSub *stripe.Subscription) (*models.Subscription, error) {
	if stripeSub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription is required")
	}
	repo := s.billingRepo.WithTx(tx)
	stored, err := repo.FindSubscriptionByStripeID(ctx, stripeSub.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find subscription")
	}

	customerID, metadataErr := CustomerIDFromMetadata(stripeSub.Metadata)
	if metadataErr != nil && stored != nil {
		customerID = stored.CustomerID
		metadataErr = nil
	}
	if metadataErr != nil && stripeSub.Customer != nil && stripeSub.Customer.ID != "" {
		customer, findErr := repo.FindCustomerByStripeID(ctx, stripeSub.Customer.ID)
		if findErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, findErr, "find customer by stripe id")
		}
		if customer != nil {
			customerID = customer.ID
			metadataErr = nil
		}
	}
	if metadataErr != nil {
		return nil, metadataErr
	}

	planID := PlanIDFromSubscription(stripeSub)
	if planID == "" && stored != nil {
		planID = stored.PlanID
	}

	if stored == nil {
		built, buildErr := BuildSubscriptionFromStripe(stripeSub, customerID, planID)
		if buildErr != nil {
			return nil, buildErr
		}
		built.ID = uuid.New()
		if err := repo.CreateSubscription(ctx, built); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create subscription")
		}
		return built, nil
	}

	if err := UpdateSubscriptionFromStripe(stored, stripeSub, planID); err != nil {
		return nil, err
	}
	if err := repo.UpdateSubscription(ctx, stored); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update subscription")
	}
	return stored, nil
}

// resolveInvoice decodes the invoice payload and fetches the subscription it
// bills, which invoice events only reference by ID.
func (s *Service) resolveInvoice(ctx context.Context, event *stripe.Event) (*stripe.Invoice, *stripe.Subscription, error) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode invoice event")
	}

	subscriptionID := event.GetObjectValue("subscription")
	if subscriptionID == "" {
		subscriptionID = event.GetObjectValue("parent", "subscription_details", "subscription")
	}
	if subscriptionID == "" {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id missing")
	}

	stripeSub, err := s.stripe.GetSubscription(ctx, subscriptionID, &stripe.SubscriptionParams{})
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
	}
	return &invoice, stripeSub, nil
}

func invoiceCurrency(invoice *stripe.Invoice) string {
	if invoice != nil && invoice.Currency != "" {
		return string(invoice.Currency)
	}
	return "usd"
}

func (s *Service) info(ctx context.Context, fields map[string]any, msg string) {
	if s.logg == nil {
		return
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), msg)
}

func (s *Service) warn(ctx context.Context, fields map[string]any, msg string) {
	if s.logg == nil {
		return
	}
	s.logg.Warn(s.logg.WithFields(ctx, fields), msg)
}
