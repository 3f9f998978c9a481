package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	billingsvc "github.com/parcelhq/trackwise-backend/internal/billing"
	purchasesvc "github.com/parcelhq/trackwise-backend/internal/purchases"
	"github.com/parcelhq/trackwise-backend/pkg/db/models"
	"github.com/parcelhq/trackwise-backend/pkg/enums"
	pkgerrors "github.com/parcelhq/trackwise-backend/pkg/errors"
)

type fakeCheckoutService struct {
	gotCredits int
	result     *purchasesvc.CheckoutResult
	err        error
}

func (f *fakeCheckoutService) CreateCheckout(ctx context.Context, customerID uuid.UUID, creditsAmount int) (*purchasesvc.CheckoutResult, error) {
	f.gotCredits = creditsAmount
	return f.result, f.err
}

type fakeTransactionsService struct {
	lastParams billingsvc.ListTransactionsParams
	page       *billingsvc.TransactionPage
	err        error
}

func (f *fakeTransactionsService) ListTransactions(ctx context.Context, customerID uuid.UUID, params billingsvc.ListTransactionsParams) (*billingsvc.TransactionPage, error) {
	f.lastParams = params
	return f.page, f.err
}

func TestBillingCheckoutOpensSession(t *testing.T) {
	purchaseID := uuid.New()
	service := &fakeCheckoutService{
		result: &purchasesvc.CheckoutResult{
			PurchaseID:    purchaseID,
			SessionID:     "cs_test_123",
			SessionURL:    "https://checkout.stripe.com/c/pay/cs_test_123",
			CreditsAmount: 500,
			AmountCents:   2000,
			Currency:      "usd",
		},
	}
	handler := BillingCheckout(service, nil)
	resp := httptest.NewRecorder()
	handler(resp, authedRequest(http.MethodPost, "/api/v1/billing/checkout", `{"credits":500}`))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", resp.Code, resp.Body.String())
	}
	if service.gotCredits != 500 {
		t.Fatalf("expected credits forwarded, got %d", service.gotCredits)
	}

	var envelope struct {
		Data purchasesvc.CheckoutResult `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.SessionURL == "" {
		t.Fatalf("expected session url in response")
	}
	if envelope.Data.AmountCents != 2000 {
		t.Fatalf("expected amount 2000, got %d", envelope.Data.AmountCents)
	}
}

func TestBillingCheckoutRejectsMissingCredits(t *testing.T) {
	service := &fakeCheckoutService{}
	handler := BillingCheckout(service, nil)
	resp := httptest.NewRecorder()
	handler(resp, authedRequest(http.MethodPost, "/api/v1/billing/checkout", `{}`))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%s)", resp.Code, resp.Body.String())
	}
	if service.gotCredits != 0 {
		t.Fatalf("service should not be called on validation failure")
	}
}

func TestBillingCheckoutSurfacesServiceValidation(t *testing.T) {
	service := &fakeCheckoutService{
		err: pkgerrors.New(pkgerrors.CodeValidation, "credits amount must be between 10 and 5000"),
	}
	handler := BillingCheckout(service, nil)
	resp := httptest.NewRecorder()
	handler(resp, authedRequest(http.MethodPost, "/api/v1/billing/checkout", `{"credits":7}`))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestBillingTransactionsParsesFilters(t *testing.T) {
	intentID := "pi_123"
	service := &fakeTransactionsService{
		page: &billingsvc.TransactionPage{
			Transactions: []models.BillingTransaction{
				{
					ID:                    uuid.New(),
					CustomerID:            uuid.New(),
					Type:                  enums.TransactionTypeAutoRecharge,
					Status:                enums.TransactionStatusSucceeded,
					AmountCents:           2000,
					Currency:              "usd",
					CreditsAdded:          500,
					StripePaymentIntentID: &intentID,
					CreatedAt:             time.Now().UTC(),
				},
			},
			NextCursor: "next-page",
		},
	}
	handler := BillingTransactions(service, nil)
	resp := httptest.NewRecorder()
	handler(resp, authedRequest(http.MethodGet, "/api/v1/billing/transactions?limit=10&type=auto_recharge&status=succeeded&cursor=abc", ""))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}

	if service.lastParams.Limit != 10 {
		t.Fatalf("expected limit 10, got %d", service.lastParams.Limit)
	}
	if service.lastParams.Type == nil || *service.lastParams.Type != enums.TransactionTypeAutoRecharge {
		t.Fatalf("type filter not forwarded")
	}
	if service.lastParams.Status == nil || *service.lastParams.Status != enums.TransactionStatusSucceeded {
		t.Fatalf("status filter not forwarded")
	}

	var envelope struct {
		Data billingTransactionsResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.NextCursor != "next-page" {
		t.Fatalf("expected cursor forwarded, got %q", envelope.Data.NextCursor)
	}
	if len(envelope.Data.Transactions) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(envelope.Data.Transactions))
	}
	txn := envelope.Data.Transactions[0]
	if txn.CreditsAdded != 500 {
		t.Fatalf("expected credits added 500, got %d", txn.CreditsAdded)
	}
	if txn.PaymentIntentID == nil || *txn.PaymentIntentID != intentID {
		t.Fatalf("payment intent id missing")
	}
}

func TestBillingTransactionsRejectsUnknownType(t *testing.T) {
	handler := BillingTransactions(&fakeTransactionsService{}, nil)
	resp := httptest.NewRecorder()
	handler(resp, authedRequest(http.MethodGet, "/api/v1/billing/transactions?type=bogus", ""))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
