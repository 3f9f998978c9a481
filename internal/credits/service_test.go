package credits

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/parcelhq/trackwise-backend/internal/billing"
	"github.com/parcelhq/trackwise-backend/pkg/db/models"
	"github.com/parcelhq/trackwise-backend/pkg/enums"
	pkgerrors "github.com/parcelhq/trackwise-backend/pkg/errors"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r *gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func newCreditsService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo:              NewRepository(db),
		BillingRepo:       billing.NewRepository(db),
		TransactionRunner: &gormTxRunner{db: db},
	})
	require.NoError(t, err)
	return svc
}

func seedPlan(t *testing.T, db *gorm.DB, id string, monthlyCredits int) {
	t.Helper()
	require.NoError(t, db.Create(&models.Plan{
		ID:             id,
		Name:           id,
		MonthlyCredits: monthlyCredits,
		PriceAmount:    decimal.NewFromInt(9),
		CurrencyCode:   "usd",
	}).Error)
}

func seedActiveSubscription(t *testing.T, db *gorm.DB, customerID uuid.UUID, planID string, start, end time.Time) *models.Subscription {
	t.Helper()
	sub := &models.Subscription{
		ID:                   uuid.New(),
		CustomerID:           customerID,
		PlanID:               planID,
		StripeSubscriptionID: "sub_" + uuid.NewString(),
		Status:               enums.SubscriptionStatusActive,
		CurrentPeriodStart:   start,
		CurrentPeriodEnd:     end,
	}
	require.NoError(t, db.Create(sub).Error)
	return sub
}

func seedCompletedPurchase(t *testing.T, db *gorm.DB, customerID uuid.UUID, credits int, expiresAt time.Time, createdAt time.Time) *models.CreditPurchase {
	t.Helper()
	sessionID := "cs_" + uuid.NewString()
	completedAt := createdAt.Add(time.Minute)
	purchase := &models.CreditPurchase{
		ID:                      uuid.New(),
		CustomerID:              customerID,
		CreditsAmount:           credits,
		Status:                  enums.PurchaseStatusCompleted,
		AmountCents:             int64(credits) * 4,
		Currency:                "usd",
		ExpiresAt:               &expiresAt,
		StripeCheckoutSessionID: &sessionID,
		CompletedAt:             &completedAt,
		CreatedAt:               createdAt,
	}
	require.NoError(t, db.Create(purchase).Error)
	return purchase
}

// The fakes below record the order of repository calls so the test can pin
// the lock discipline: sqlite swallows FOR UPDATE, so the row-lock ordering
// cannot be observed through the in-memory database.

type callOrderRecorder struct {
	calls []string
}

func (r *callOrderRecorder) note(name string) {
	r.calls = append(r.calls, name)
}

type lockOrderLedgerRepo struct {
	Repository
	rec      *callOrderRecorder
	customer *models.Customer
	inserted *models.UsageEvent
}

func (r *lockOrderLedgerRepo) WithTx(*gorm.DB) Repository { return r }

func (r *lockOrderLedgerRepo) LockCustomer(_ context.Context, _ uuid.UUID) (*models.Customer, error) {
	r.rec.note("lock_customer")
	return r.customer, nil
}

func (r *lockOrderLedgerRepo) CountPurchaseUsage(_ context.Context, _ []uuid.UUID) (map[uuid.UUID]int64, error) {
	r.rec.note("count_purchase_usage")
	return map[uuid.UUID]int64{}, nil
}

func (r *lockOrderLedgerRepo) CountTotalUsage(_ context.Context, _ uuid.UUID) (int64, error) {
	r.rec.note("count_total_usage")
	return 0, nil
}

func (r *lockOrderLedgerRepo) InsertUsageEvent(_ context.Context, event *models.UsageEvent) error {
	r.rec.note("insert_usage_event")
	r.inserted = event
	return nil
}

type lockOrderBillingRepo struct {
	billing.Repository
	rec       *callOrderRecorder
	purchases []models.CreditPurchase
}

func (r *lockOrderBillingRepo) WithTx(*gorm.DB) billing.Repository { return r }

func (r *lockOrderBillingRepo) FindActiveSubscription(_ context.Context, _ uuid.UUID) (*models.Subscription, error) {
	r.rec.note("find_subscription")
	return nil, nil
}

func (r *lockOrderBillingRepo) ListSpendablePurchases(_ context.Context, _ uuid.UUID, _ time.Time) ([]models.CreditPurchase, error) {
	r.rec.note("list_purchases")
	return r.purchases, nil
}

type recordingTxRunner struct {
	rec *callOrderRecorder
}

func (r *recordingTxRunner) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	r.rec.note("tx_begin")
	err := fn(nil)
	r.rec.note("tx_commit")
	return err
}

func TestConsumeLocksCustomerBeforeBalanceReadAndInsert(t *testing.T) {
	rec := &callOrderRecorder{}
	customerID := uuid.New()
	expiry := time.Now().UTC().AddDate(0, 6, 0)
	repo := &lockOrderLedgerRepo{rec: rec, customer: &models.Customer{ID: customerID}}
	billingRepo := &lockOrderBillingRepo{rec: rec, purchases: []models.CreditPurchase{{
		ID:            uuid.New(),
		CustomerID:    customerID,
		CreditsAmount: 3,
		Status:        enums.PurchaseStatusCompleted,
		ExpiresAt:     &expiry,
	}}}

	svc, err := NewService(ServiceParams{
		Repo:              repo,
		BillingRepo:       billingRepo,
		TransactionRunner: &recordingTxRunner{rec: rec},
	})
	require.NoError(t, err)

	result, err := svc.Consume(context.Background(), customerID, nil)
	require.NoError(t, err)
	assert.Equal(t, enums.UsageSourcePurchase, result.Source)
	require.NotNil(t, repo.inserted)

	// With N concurrent consumers the lock is what makes the balance check
	// and the ledger insert one atomic step, so it must come first in the
	// transaction and every read plus the insert must follow it.
	assert.Equal(t, []string{
		"tx_begin",
		"lock_customer",
		"find_subscription",
		"list_purchases",
		"count_purchase_usage",
		"count_total_usage",
		"insert_usage_event",
		"tx_commit",
	}, rec.calls)
}

func TestConsumeAttributesMonthlyBeforePurchases(t *testing.T) {
	db := setupCreditsTestDB(t)
	svc := newCreditsService(t, db)
	ctx := context.Background()
	customer := newLedgerCustomer(t, db)

	now := time.Now().UTC().Truncate(time.Second)
	seedPlan(t, db, "starter", 2)
	seedActiveSubscription(t, db, customer.ID, "starter", now.AddDate(0, 0, -5), now.AddDate(0, 0, 25))
	pack := seedCompletedPurchase(t, db, customer.ID, 1, now.AddDate(1, 0, 0), now.Add(-time.Hour))

	for i := 0; i < 2; i++ {
		result, err := svc.Consume(ctx, customer.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, enums.UsageSourceMonthly, result.Source)
		assert.Nil(t, result.PurchaseID)
	}

	result, err := svc.Consume(ctx, customer.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, enums.UsageSourcePurchase, result.Source)
	require.NotNil(t, result.PurchaseID)
	assert.Equal(t, pack.ID, *result.PurchaseID)
	assert.Equal(t, 0, result.Remaining)

	_, err = svc.Consume(ctx, customer.ID, nil)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInsufficientBalance, typed.Code())

	var count int64
	require.NoError(t, db.Model(&models.UsageEvent{}).Where("customer_id = ?", customer.ID).Count(&count).Error)
	assert.Equal(t, int64(3), count, "failed consume writes no ledger row")
}

func TestConsumePrefersEarliestExpiringPurchase(t *testing.T) {
	db := setupCreditsTestDB(t)
	svc := newCreditsService(t, db)
	ctx := context.Background()
	customer := newLedgerCustomer(t, db)

	now := time.Now().UTC().Truncate(time.Second)
	later := seedCompletedPurchase(t, db, customer.ID, 5, now.AddDate(0, 6, 0), now.Add(-2*time.Hour))
	sooner := seedCompletedPurchase(t, db, customer.ID, 1, now.AddDate(0, 1, 0), now.Add(-time.Hour))

	result, err := svc.Consume(ctx, customer.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, result.PurchaseID)
	assert.Equal(t, sooner.ID, *result.PurchaseID)

	result, err = svc.Consume(ctx, customer.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, result.PurchaseID)
	assert.Equal(t, later.ID, *result.PurchaseID, "drained pack falls through to the next expiry")
}

func TestConsumeIgnoresExpiredPacks(t *testing.T) {
	db := setupCreditsTestDB(t)
	svc := newCreditsService(t, db)
	ctx := context.Background()
	customer := newLedgerCustomer(t, db)

	now := time.Now().UTC()
	seedCompletedPurchase(t, db, customer.ID, 100, now.AddDate(0, 0, -1), now.AddDate(0, -6, 0))

	_, err := svc.Consume(ctx, customer.ID, nil)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeInsufficientBalance, pkgerrors.As(err).Code())
}

func TestConsumeUnknownCustomer(t *testing.T) {
	db := setupCreditsTestDB(t)
	svc := newCreditsService(t, db)

	_, err := svc.Consume(context.Background(), uuid.New(), nil)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}

func TestRenewalResetsMonthlyAllowance(t *testing.T) {
	db := setupCreditsTestDB(t)
	svc := newCreditsService(t, db)
	ctx := context.Background()
	customer := newLedgerCustomer(t, db)

	now := time.Now().UTC().Truncate(time.Second)
	seedPlan(t, db, "starter", 1)
	sub := seedActiveSubscription(t, db, customer.ID, "starter", now.AddDate(0, -1, 0), now.Add(time.Hour))

	_, err := svc.Consume(ctx, customer.ID, nil)
	require.NoError(t, err)

	_, err = svc.Consume(ctx, customer.ID, nil)
	require.Error(t, err, "allowance exhausted")

	// Renewal shifts the period; old events stop matching.
	sub.CurrentPeriodStart = now.Add(-time.Minute)
	sub.CurrentPeriodEnd = now.AddDate(0, 1, 0)
	require.NoError(t, db.Save(sub).Error)

	balance, err := svc.Balance(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, balance.MonthlyRemaining)
	assert.Equal(t, 0, balance.MonthlyUsed)
	assert.Equal(t, int64(1), balance.TotalUsed, "lifetime total still counts old periods")

	result, err := svc.Consume(ctx, customer.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, enums.UsageSourceMonthly, result.Source)
}

func TestBalanceDegradesWhenPlanMissing(t *testing.T) {
	db := setupCreditsTestDB(t)
	svc := newCreditsService(t, db)
	ctx := context.Background()
	customer := newLedgerCustomer(t, db)

	now := time.Now().UTC()
	// Subscription references a plan that was never seeded.
	seedActiveSubscription(t, db, customer.ID, "ghost-plan", now.AddDate(0, 0, -5), now.AddDate(0, 0, 25))
	seedCompletedPurchase(t, db, customer.ID, 10, now.AddDate(1, 0, 0), now.Add(-time.Hour))

	balance, err := svc.Balance(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, balance.MonthlyAllowance)
	assert.Equal(t, 0, balance.MonthlyRemaining)
	assert.Equal(t, 10, balance.ExtraRemaining)
	assert.Equal(t, 10, balance.TotalAvailable)
}

func TestBalanceUnknownCustomer(t *testing.T) {
	db := setupCreditsTestDB(t)
	svc := newCreditsService(t, db)

	_, err := svc.Balance(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}

func TestConsumeStoresMetadata(t *testing.T) {
	db := setupCreditsTestDB(t)
	svc := newCreditsService(t, db)
	ctx := context.Background()
	customer := newLedgerCustomer(t, db)

	now := time.Now().UTC()
	seedCompletedPurchase(t, db, customer.ID, 5, now.AddDate(1, 0, 0), now.Add(-time.Hour))

	metadata := json.RawMessage(`{"shipment_id":"shp_123","carrier":"ups"}`)
	_, err := svc.Consume(ctx, customer.ID, metadata)
	require.NoError(t, err)

	var event models.UsageEvent
	require.NoError(t, db.Where("customer_id = ?", customer.ID).First(&event).Error)
	var decoded map[string]string
	require.NoError(t, json.Unmarshal(event.Metadata, &decoded))
	assert.Equal(t, "shp_123", decoded["shipment_id"])
}

func TestListUsageReturnsTotalsAndPages(t *testing.T) {
	db := setupCreditsTestDB(t)
	svc := newCreditsService(t, db)
	ctx := context.Background()
	customer := newLedgerCustomer(t, db)

	now := time.Now().UTC()
	seedCompletedPurchase(t, db, customer.ID, 10, now.AddDate(1, 0, 0), now.Add(-time.Hour))
	for i := 0; i < 4; i++ {
		_, err := svc.Consume(ctx, customer.ID, nil)
		require.NoError(t, err)
	}

	page, err := svc.ListUsage(ctx, customer.ID, ListUsageParams{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, page.Events, 3)
	assert.Equal(t, int64(4), page.TotalUsed)
	require.NotEmpty(t, page.NextCursor)

	page, err = svc.ListUsage(ctx, customer.ID, ListUsageParams{Limit: 3, Cursor: page.NextCursor})
	require.NoError(t, err)
	assert.Len(t, page.Events, 1)
	assert.Empty(t, page.NextCursor)
}
