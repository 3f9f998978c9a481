package autorecharge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/parcelhq/trackwise-backend/internal/billing"
	"github.com/parcelhq/trackwise-backend/internal/credits"
	"github.com/parcelhq/trackwise-backend/internal/purchases"
	"github.com/parcelhq/trackwise-backend/pkg/config"
	"github.com/parcelhq/trackwise-backend/pkg/db/models"
	"github.com/parcelhq/trackwise-backend/pkg/enums"
	pkgerrors "github.com/parcelhq/trackwise-backend/pkg/errors"
	"github.com/parcelhq/trackwise-backend/pkg/logger"
	"github.com/parcelhq/trackwise-backend/pkg/outbox"
	"github.com/parcelhq/trackwise-backend/pkg/outbox/payloads"
	pkgstripe "github.com/parcelhq/trackwise-backend/pkg/stripe"
)

const (
	MinThreshold = 50
	MaxThreshold = 1000
	MinRecharge  = 100
	MaxRecharge  = 5000

	lockScope = "auto-recharge"
)

type balanceReader interface {
	Balance(ctx context.Context, customerID uuid.UUID) (*credits.Balance, error)
}

// locker debounces concurrent triggers per customer. The lock is held for its
// full TTL so it doubles as a cooldown between top-ups.
type locker interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	LockKey(scope, id string) string
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	BillingRepo       billing.Repository
	Balances          balanceReader
	StripeClient      StripePaymentClient
	Locker            locker
	Outbox            *outbox.Service
	TransactionRunner txRunner
	Credits           config.CreditsConfig
	Logger            *logger.Logger
}

// Service keeps customer balances above their configured floor by charging
// the saved payment method off-session.
type Service struct {
	billingRepo billing.Repository
	balances    balanceReader
	stripe      StripePaymentClient
	locker      locker
	outbox      *outbox.Service
	txRunner    txRunner
	credits     config.CreditsConfig
	logg        *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.BillingRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repo required")
	}
	if params.Balances == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "balance reader required")
	}
	if params.StripeClient == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	if params.Locker == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "locker required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox service required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Credits.AutoRechargeExpiry <= 0 || params.Credits.AutoRechargeLockTTL <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "auto recharge expiry and lock ttl required")
	}
	return &Service{
		billingRepo: params.BillingRepo,
		balances:    params.Balances,
		stripe:      params.StripeClient,
		locker:      params.Locker,
		outbox:      params.Outbox,
		txRunner:    params.TransactionRunner,
		credits:     params.Credits,
		logg:        params.Logger,
	}, nil
}

// UpdateSettingsParams carries a full replacement of the customer's policy.
type UpdateSettingsParams struct {
	Enabled             bool
	MinCreditsThreshold int
	RechargeAmount      int
	PaymentMethodID     *uuid.UUID
}

// GetSettings returns the stored policy, or the disabled defaults when the
// customer has never configured one.
func (s *Service) GetSettings(ctx context.Context, customerID uuid.UUID) (*models.AutoRechargeSettings, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	settings, err := s.billingRepo.FindAutoRechargeSettings(ctx, customerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find auto recharge settings")
	}
	if settings == nil {
		return &models.AutoRechargeSettings{
			CustomerID:          customerID,
			Enabled:             false,
			MinCreditsThreshold: 100,
			RechargeAmount:      500,
		}, nil
	}
	return settings, nil
}

// UpdateSettings validates and persists the policy. Enabling requires a saved
// payment method; the default one is used when none is named.
func (s *Service) UpdateSettings(ctx context.Context, customerID uuid.UUID, params UpdateSettingsParams) (*models.AutoRechargeSettings, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	if params.MinCreditsThreshold < MinThreshold || params.MinCreditsThreshold > MaxThreshold {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("threshold must be between %d and %d", MinThreshold, MaxThreshold))
	}
	if params.RechargeAmount < MinRecharge || params.RechargeAmount > MaxRecharge {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("recharge amount must be between %d and %d", MinRecharge, MaxRecharge))
	}

	paymentMethodID := params.PaymentMethodID
	if paymentMethodID != nil {
		method, err := s.billingRepo.FindPaymentMethod(ctx, *paymentMethodID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find payment method")
		}
		if method == nil || method.CustomerID != customerID {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment method not found")
		}
	} else if params.Enabled {
		method, err := s.billingRepo.FindDefaultPaymentMethod(ctx, customerID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find default payment method")
		}
		if method == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "a saved payment method is required to enable auto recharge")
		}
		paymentMethodID = &method.ID
	}

	settings, err := s.billingRepo.FindAutoRechargeSettings(ctx, customerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find auto recharge settings")
	}
	if settings == nil {
		settings = &models.AutoRechargeSettings{
			ID:         uuid.New(),
			CustomerID: customerID,
		}
	}
	settings.Enabled = params.Enabled
	settings.MinCreditsThreshold = params.MinCreditsThreshold
	settings.RechargeAmount = params.RechargeAmount
	settings.PaymentMethodID = paymentMethodID

	if err := s.billingRepo.SaveAutoRechargeSettings(ctx, settings); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save auto recharge settings")
	}
	return settings, nil
}

// CheckAndTrigger tops up the customer when their balance sits below the
// configured floor. Returns true when a top-up purchase was credited. A card
// decline is a handled outcome, not an error: it is recorded and alerted, and
// the cooldown lock prevents immediate retries.
func (s *Service) CheckAndTrigger(ctx context.Context, customerID uuid.UUID) (bool, error) {
	if customerID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}

	settings, err := s.billingRepo.FindAutoRechargeSettings(ctx, customerID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find auto recharge settings")
	}
	if settings == nil || !settings.Enabled || settings.PaymentMethodID == nil {
		return false, nil
	}

	balance, err := s.balances.Balance(ctx, customerID)
	if err != nil {
		return false, err
	}
	if balance.TotalAvailable >= settings.MinCreditsThreshold {
		return false, nil
	}

	lockKey := s.locker.LockKey(lockScope, customerID.String())
	acquired, err := s.locker.SetNX(ctx, lockKey, "1", s.credits.AutoRechargeLockTTL)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire auto recharge lock")
	}
	if !acquired {
		return false, nil
	}

	// Recheck under the lock: a concurrent consume or top-up may have moved
	// the balance while we raced for it.
	balance, err = s.balances.Balance(ctx, customerID)
	if err != nil {
		return false, err
	}
	if balance.TotalAvailable >= settings.MinCreditsThreshold {
		return false, nil
	}

	method, err := s.billingRepo.FindPaymentMethod(ctx, *settings.PaymentMethodID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find payment method")
	}
	if method == nil {
		return false, pkgerrors.New(pkgerrors.CodeInternal, "auto recharge payment method missing")
	}

	customer, err := s.billingRepo.FindCustomer(ctx, customerID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find customer")
	}
	if customer == nil || customer.StripeCustomerID == nil {
		return false, pkgerrors.New(pkgerrors.CodeInternal, "customer has no stripe mapping")
	}

	amountCents := purchases.AmountCents(settings.RechargeAmount)
	currency := s.currency()

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amountCents),
		Currency:      stripe.String(currency),
		Customer:      stripe.String(*customer.StripeCustomerID),
		PaymentMethod: stripe.String(method.StripePaymentMethodID),
		OffSession:    stripe.Bool(true),
		Confirm:       stripe.Bool(true),
	}
	params.AddMetadata("customer_id", customerID.String())
	params.AddMetadata("reason", "auto_recharge")

	intent, chargeErr := s.stripe.CreatePaymentIntent(ctx, params)
	if chargeErr != nil {
		if pkgstripe.IsNetworkError(chargeErr) {
			return false, pkgerrors.Wrap(pkgerrors.CodeDependency, chargeErr, "create payment intent")
		}
		if err := s.recordFailure(ctx, customerID, settings.RechargeAmount, amountCents, currency, chargeErr); err != nil {
			return false, err
		}
		return false, nil
	}

	if err := s.recordSuccess(ctx, customerID, settings.RechargeAmount, amountCents, currency, intent.ID, balance.TotalAvailable); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) recordSuccess(ctx context.Context, customerID uuid.UUID, creditsAmount int, amountCents int64, currency, paymentIntentID string, balanceBefore int) error {
	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		now := time.Now().UTC()
		expiresAt := now.Add(s.credits.AutoRechargeExpiry)

		purchase := &models.CreditPurchase{
			ID:                    uuid.New(),
			CustomerID:            customerID,
			CreditsAmount:         creditsAmount,
			Status:                enums.PurchaseStatusCompleted,
			AmountCents:           amountCents,
			Currency:              currency,
			ExpiresAt:             &expiresAt,
			IsAutoRecharge:        true,
			StripePaymentIntentID: &paymentIntentID,
			CompletedAt:           &now,
		}
		if err := repo.CreatePurchase(ctx, purchase); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create auto recharge purchase")
		}

		transaction := &models.BillingTransaction{
			ID:                    uuid.New(),
			CustomerID:            customerID,
			Type:                  enums.TransactionTypeAutoRecharge,
			Status:                enums.TransactionStatusSucceeded,
			AmountCents:           amountCents,
			Currency:              currency,
			CreditsAdded:          creditsAmount,
			PurchaseID:            &purchase.ID,
			StripePaymentIntentID: &paymentIntentID,
		}
		if err := repo.CreateTransaction(ctx, transaction); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record auto recharge transaction")
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventAutoRechargeOK,
			AggregateType: enums.OutboxAggregatePurchase,
			AggregateID:   purchase.ID,
			CustomerID:    &customerID,
			Data: payloads.AutoRechargeSucceededEvent{
				CustomerID:    customerID,
				PurchaseID:    purchase.ID,
				CreditsAmount: creditsAmount,
				AmountCents:   amountCents,
				Currency:      currency,
				BalanceBefore: balanceBefore,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit auto recharge succeeded")
		}

		s.info(ctx, map[string]any{
			"customer_id":    customerID.String(),
			"purchase_id":    purchase.ID.String(),
			"credits":        creditsAmount,
			"balance_before": balanceBefore,
		}, "auto recharge completed")
		return nil
	})
}

func (s *Service) recordFailure(ctx context.Context, customerID uuid.UUID, creditsAmount int, amountCents int64, currency string, cause error) error {
	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		transaction := &models.BillingTransaction{
			ID:          uuid.New(),
			CustomerID:  customerID,
			Type:        enums.TransactionTypeAutoRecharge,
			Status:      enums.TransactionStatusFailed,
			AmountCents: amountCents,
			Currency:    currency,
		}
		if err := repo.CreateTransaction(ctx, transaction); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record failed auto recharge")
		}

		reason := "payment_failed"
		if pkgstripe.IsCardDeclined(cause) {
			reason = "card_declined"
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventAutoRechargeFailed,
			AggregateType: enums.OutboxAggregateCustomer,
			AggregateID:   customerID,
			CustomerID:    &customerID,
			Data: payloads.AutoRechargeFailedEvent{
				CustomerID:    customerID,
				CreditsAmount: creditsAmount,
				Reason:        reason,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit auto recharge failed")
		}

		if s.logg != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"customer_id": customerID.String(),
				"reason":      reason,
			})
			s.logg.Error(logCtx, "auto recharge failed", cause)
		}
		return nil
	})
}

func (s *Service) currency() string {
	if s.credits.Currency != "" {
		return s.credits.Currency
	}
	return "usd"
}

func (s *Service) info(ctx context.Context, fields map[string]any, msg string) {
	if s.logg == nil {
		return
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), msg)
}
