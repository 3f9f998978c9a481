package purchases

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/parcelhq/trackwise-backend/internal/billing"
	"github.com/parcelhq/trackwise-backend/pkg/config"
	"github.com/parcelhq/trackwise-backend/pkg/db/models"
	"github.com/parcelhq/trackwise-backend/pkg/enums"
	pkgerrors "github.com/parcelhq/trackwise-backend/pkg/errors"
)

type fakeStripeCheckout struct {
	customerParams *stripe.CustomerParams
	sessionParams  *stripe.CheckoutSessionParams

	customerErr error
	sessionErr  error
	sessionID   string
	sessionURL  string
	sessions    int
}

func (f *fakeStripeCheckout) CreateCustomer(ctx context.Context, params *stripe.CustomerParams) (*stripe.Customer, error) {
	f.customerParams = params
	if f.customerErr != nil {
		return nil, f.customerErr
	}
	return &stripe.Customer{ID: "cus_test"}, nil
}

func (f *fakeStripeCheckout) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.sessionParams = params
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	f.sessions++
	// Session ids carry a unique index on credit_purchases, so each call
	// must hand out a fresh one unless the test pinned an id.
	id := f.sessionID
	if id == "" {
		id = fmt.Sprintf("cs_test_%d", f.sessions)
	}
	url := f.sessionURL
	if url == "" {
		url = "https://checkout.stripe.com/c/pay/cs_test"
	}
	return &stripe.CheckoutSession{ID: id, URL: url}, nil
}

func setupPurchasesTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{
		`CREATE TABLE IF NOT EXISTS customers (
  id TEXT PRIMARY KEY,
  external_ref TEXT NOT NULL UNIQUE,
  email TEXT NOT NULL,
  stripe_customer_id TEXT UNIQUE,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS credit_purchases (
  id TEXT PRIMARY KEY,
  customer_id TEXT NOT NULL,
  credits_amount INTEGER NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'usd',
  expires_at DATETIME,
  is_auto_recharge INTEGER NOT NULL DEFAULT 0,
  stripe_checkout_session_id TEXT UNIQUE,
  stripe_payment_intent_id TEXT,
  completed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	}
	for _, stmt := range statements {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

func newPurchaseService(t *testing.T, db *gorm.DB, client StripeCheckoutClient) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		BillingRepo:  billing.NewRepository(db),
		StripeClient: client,
		Config: config.StripeConfig{
			CheckoutSuccess: "https://app.example.com/billing/success",
			CheckoutCancel:  "https://app.example.com/billing/cancel",
		},
		Credits: config.CreditsConfig{Currency: "usd"},
	})
	require.NoError(t, err)
	return svc
}

func seedCustomer(t *testing.T, db *gorm.DB, stripeID *string) *models.Customer {
	t.Helper()
	customer := &models.Customer{
		ID:               uuid.New(),
		ExternalRef:      "acct_" + uuid.NewString(),
		Email:            "ops@example.com",
		StripeCustomerID: stripeID,
	}
	require.NoError(t, db.Create(customer).Error)
	return customer
}

func TestCreateCheckoutRecordsPendingPurchase(t *testing.T) {
	db := setupPurchasesTestDB(t)
	client := &fakeStripeCheckout{sessionID: "cs_abc123"}
	svc := newPurchaseService(t, db, client)
	ctx := context.Background()

	existing := "cus_existing"
	customer := seedCustomer(t, db, &existing)

	result, err := svc.CreateCheckout(ctx, customer.ID, 250)
	require.NoError(t, err)
	assert.Equal(t, "cs_abc123", result.SessionID)
	assert.NotEmpty(t, result.SessionURL)
	assert.Equal(t, 250, result.CreditsAmount)
	assert.Equal(t, int64(1125), result.AmountCents)

	var purchase models.CreditPurchase
	require.NoError(t, db.Where("customer_id = ?", customer.ID).First(&purchase).Error)
	assert.Equal(t, enums.PurchaseStatusPending, purchase.Status)
	assert.Equal(t, int64(1125), purchase.AmountCents)
	require.NotNil(t, purchase.StripeCheckoutSessionID)
	assert.Equal(t, "cs_abc123", *purchase.StripeCheckoutSessionID)
	assert.Nil(t, purchase.ExpiresAt, "expiry is stamped at completion, not initiation")

	require.NotNil(t, client.sessionParams)
	assert.Nil(t, client.customerParams, "existing stripe customer is reused")
	assert.Equal(t, "cus_existing", *client.sessionParams.Customer)
	assert.Equal(t, purchase.ID.String(), client.sessionParams.Metadata["purchase_id"])
	require.Len(t, client.sessionParams.LineItems, 1)
	assert.Equal(t, int64(1125), *client.sessionParams.LineItems[0].PriceData.UnitAmount)
}

func TestCreateCheckoutCreatesStripeCustomerOnce(t *testing.T) {
	db := setupPurchasesTestDB(t)
	client := &fakeStripeCheckout{}
	svc := newPurchaseService(t, db, client)
	ctx := context.Background()

	customer := seedCustomer(t, db, nil)

	_, err := svc.CreateCheckout(ctx, customer.ID, 100)
	require.NoError(t, err)

	require.NotNil(t, client.customerParams)
	assert.Equal(t, customer.ID.String(), client.customerParams.Metadata["customer_id"])

	var stored models.Customer
	require.NoError(t, db.First(&stored, "id = ?", customer.ID).Error)
	require.NotNil(t, stored.StripeCustomerID)
	assert.Equal(t, "cus_test", *stored.StripeCustomerID)

	// Second checkout must not create another Stripe customer.
	client.customerParams = nil
	_, err = svc.CreateCheckout(ctx, customer.ID, 100)
	require.NoError(t, err)
	assert.Nil(t, client.customerParams)

	var count int64
	require.NoError(t, db.Model(&models.CreditPurchase{}).Where("customer_id = ?", customer.ID).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestCreateCheckoutValidatesCreditsRange(t *testing.T) {
	db := setupPurchasesTestDB(t)
	svc := newPurchaseService(t, db, &fakeStripeCheckout{})
	ctx := context.Background()
	customer := seedCustomer(t, db, nil)

	for _, credits := range []int{0, 9, 5001} {
		_, err := svc.CreateCheckout(ctx, customer.ID, credits)
		require.Error(t, err, "credits=%d", credits)
		assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
	}

	var count int64
	require.NoError(t, db.Model(&models.CreditPurchase{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateCheckoutMarksPurchaseFailedWhenSessionFails(t *testing.T) {
	db := setupPurchasesTestDB(t)
	client := &fakeStripeCheckout{sessionErr: errors.New("stripe unavailable")}
	svc := newPurchaseService(t, db, client)
	ctx := context.Background()

	existing := "cus_existing"
	customer := seedCustomer(t, db, &existing)

	_, err := svc.CreateCheckout(ctx, customer.ID, 100)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.As(err).Code())

	var purchase models.CreditPurchase
	require.NoError(t, db.Where("customer_id = ?", customer.ID).First(&purchase).Error)
	assert.Equal(t, enums.PurchaseStatusFailed, purchase.Status)
	assert.Nil(t, purchase.StripeCheckoutSessionID)
}

func TestCreateCheckoutUnknownCustomer(t *testing.T) {
	db := setupPurchasesTestDB(t)
	svc := newPurchaseService(t, db, &fakeStripeCheckout{})

	_, err := svc.CreateCheckout(context.Background(), uuid.New(), 100)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}
