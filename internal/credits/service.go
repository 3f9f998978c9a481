package credits

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/parcelhq/trackwise-backend/internal/billing"
	"github.com/parcelhq/trackwise-backend/pkg/db/models"
	"github.com/parcelhq/trackwise-backend/pkg/enums"
	pkgerrors "github.com/parcelhq/trackwise-backend/pkg/errors"
	"github.com/parcelhq/trackwise-backend/pkg/logger"
	"github.com/parcelhq/trackwise-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups dependencies for the credits service.
type ServiceParams struct {
	Repo              Repository
	BillingRepo       billing.Repository
	TransactionRunner txRunner
	Logger            *logger.Logger
}

// Service owns balance computation and atomic consumption.
type Service struct {
	repo        Repository
	billingRepo billing.Repository
	txRunner    txRunner
	logg        *logger.Logger
}

// NewService builds the credits service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "credits repo required")
	}
	if params.BillingRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repo required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	return &Service{
		repo:        params.Repo,
		billingRepo: params.BillingRepo,
		txRunner:    params.TransactionRunner,
		logg:        params.Logger,
	}, nil
}

// Balance is always derived from the ledger and the purchase/subscription
// records; nothing here is ever read from a stored counter.
type Balance struct {
	MonthlyAllowance int   `json:"monthly_allowance"`
	MonthlyUsed      int   `json:"monthly_used"`
	MonthlyRemaining int   `json:"monthly_remaining"`
	ExtraRemaining   int   `json:"extra_remaining"`
	TotalAvailable   int   `json:"total_available"`
	TotalUsed        int64 `json:"total_used"`
}

// ConsumeResult reports what a successful consumption was attributed to.
type ConsumeResult struct {
	Source     enums.UsageSource `json:"source"`
	PurchaseID *uuid.UUID        `json:"purchase_id,omitempty"`
	Remaining  int               `json:"remaining"`
}

// Balance computes the customer's current balance. Subscription or plan
// lookup failures degrade to purchased-credits-only instead of failing the
// whole read.
func (s *Service) Balance(ctx context.Context, customerID uuid.UUID) (*Balance, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}

	customer, err := s.repo.FindCustomer(ctx, customerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find customer")
	}
	if customer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
	}

	snapshot, err := s.computeBalance(ctx, s.repo, s.billingRepo, customerID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return &snapshot.Balance, nil
}

// Consume atomically spends one credit. The customer row lock serializes
// concurrent calls, so the recomputed balance cannot go stale between the
// check and the ledger insert.
func (s *Service) Consume(ctx context.Context, customerID uuid.UUID, metadata json.RawMessage) (*ConsumeResult, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}

	var result *ConsumeResult
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		billingRepo := s.billingRepo.WithTx(tx)
		now := time.Now().UTC()

		customer, err := repo.LockCustomer(ctx, customerID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock customer")
		}
		if customer == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
		}

		snapshot, err := s.computeBalance(ctx, repo, billingRepo, customerID, now)
		if err != nil {
			return err
		}

		event := &models.UsageEvent{
			ID:         uuid.New(),
			CustomerID: customerID,
			Metadata:   metadata,
		}

		switch {
		case snapshot.Balance.MonthlyRemaining > 0:
			event.SourceType = enums.UsageSourceMonthly
			event.SubscriptionPeriodStart = &snapshot.PeriodStart
			event.SubscriptionPeriodEnd = &snapshot.PeriodEnd
		default:
			purchase := snapshot.nextSpendablePurchase()
			if purchase == nil {
				return pkgerrors.New(pkgerrors.CodeInsufficientBalance, "no credits available").
					WithDetails(map[string]any{
						"monthly_remaining": snapshot.Balance.MonthlyRemaining,
						"extra_remaining":   snapshot.Balance.ExtraRemaining,
					})
			}
			event.SourceType = enums.UsageSourcePurchase
			event.PurchaseID = &purchase.ID
		}

		if err := repo.InsertUsageEvent(ctx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert usage event")
		}

		result = &ConsumeResult{
			Source:     event.SourceType,
			PurchaseID: event.PurchaseID,
			Remaining:  snapshot.Balance.TotalAvailable - 1,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UsagePage is one page of consumption history.
type UsagePage struct {
	Events     []models.UsageEvent `json:"events"`
	TotalUsed  int64               `json:"total_used"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

// ListUsageParams configures a usage history page.
type ListUsageParams struct {
	Limit  int
	Cursor string
	Source *enums.UsageSource
}

// ListUsage returns the customer's consumption history, newest first.
func (s *Service) ListUsage(ctx context.Context, customerID uuid.UUID, params ListUsageParams) (*UsagePage, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	if params.Source != nil && !params.Source.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid usage source")
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	events, next, err := s.repo.ListUsageEvents(ctx, ListUsageQuery{
		CustomerID: customerID,
		Limit:      params.Limit,
		Cursor:     cursor,
		Source:     params.Source,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list usage events")
	}

	total, err := s.repo.CountTotalUsage(ctx, customerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count usage")
	}

	page := &UsagePage{Events: events, TotalUsed: total}
	if next != nil {
		page.NextCursor = pagination.EncodeCursor(*next)
	}
	return page, nil
}

// balanceSnapshot carries the derived balance plus the attribution inputs the
// consume path needs under the lock.
type balanceSnapshot struct {
	Balance     Balance
	PeriodStart time.Time
	PeriodEnd   time.Time

	purchases      []models.CreditPurchase
	purchaseCounts map[uuid.UUID]int64
}

func (b *balanceSnapshot) nextSpendablePurchase() *models.CreditPurchase {
	for i := range b.purchases {
		p := &b.purchases[i]
		if int64(p.CreditsAmount)-b.purchaseCounts[p.ID] > 0 {
			return p
		}
	}
	return nil
}

func (s *Service) computeBalance(ctx context.Context, repo Repository, billingRepo billing.Repository, customerID uuid.UUID, now time.Time) (*balanceSnapshot, error) {
	snapshot := &balanceSnapshot{}

	sub, err := billingRepo.FindActiveSubscription(ctx, customerID)
	if err != nil {
		s.warn(ctx, customerID, "subscription lookup failed, using purchased credits only", err)
		sub = nil
	}
	if sub != nil && sub.InPeriod(now) {
		plan, err := billingRepo.FindPlanByID(ctx, sub.PlanID)
		if err != nil || plan == nil {
			s.warn(ctx, customerID, "plan lookup failed, using purchased credits only", err)
		} else {
			used, err := repo.CountMonthlyUsage(ctx, customerID, sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count monthly usage")
			}
			snapshot.PeriodStart = sub.CurrentPeriodStart
			snapshot.PeriodEnd = sub.CurrentPeriodEnd
			snapshot.Balance.MonthlyAllowance = plan.MonthlyCredits
			snapshot.Balance.MonthlyUsed = int(used)
			if remaining := plan.MonthlyCredits - int(used); remaining > 0 {
				snapshot.Balance.MonthlyRemaining = remaining
			}
		}
	}

	purchases, err := billingRepo.ListSpendablePurchases(ctx, customerID, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list purchases")
	}
	ids := make([]uuid.UUID, 0, len(purchases))
	for _, p := range purchases {
		ids = append(ids, p.ID)
	}
	counts, err := repo.CountPurchaseUsage(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count purchase usage")
	}

	extra := 0
	for _, p := range purchases {
		if remaining := int64(p.CreditsAmount) - counts[p.ID]; remaining > 0 {
			extra += int(remaining)
		}
	}

	total, err := repo.CountTotalUsage(ctx, customerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count usage")
	}

	snapshot.purchases = purchases
	snapshot.purchaseCounts = counts
	snapshot.Balance.ExtraRemaining = extra
	snapshot.Balance.TotalAvailable = snapshot.Balance.MonthlyRemaining + extra
	snapshot.Balance.TotalUsed = total
	return snapshot, nil
}

func (s *Service) warn(ctx context.Context, customerID uuid.UUID, msg string, err error) {
	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithCustomerID(ctx, customerID.String())
	if err != nil {
		logCtx = s.logg.WithField(logCtx, "error", err.Error())
	}
	s.logg.Warn(logCtx, msg)
}
