package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/parcelhq/trackwise-backend/api/middleware"
	creditsvc "github.com/parcelhq/trackwise-backend/internal/credits"
	"github.com/parcelhq/trackwise-backend/pkg/db/models"
	"github.com/parcelhq/trackwise-backend/pkg/enums"
	pkgerrors "github.com/parcelhq/trackwise-backend/pkg/errors"
)

type fakeCreditsService struct {
	balance       *creditsvc.Balance
	balanceErr    error
	consumeResult *creditsvc.ConsumeResult
	consumeErr    error
	consumedMeta  json.RawMessage
	usagePage     *creditsvc.UsagePage
	usageParams   creditsvc.ListUsageParams
}

func (f *fakeCreditsService) Balance(ctx context.Context, customerID uuid.UUID) (*creditsvc.Balance, error) {
	return f.balance, f.balanceErr
}

func (f *fakeCreditsService) Consume(ctx context.Context, customerID uuid.UUID, metadata json.RawMessage) (*creditsvc.ConsumeResult, error) {
	f.consumedMeta = metadata
	return f.consumeResult, f.consumeErr
}

func (f *fakeCreditsService) ListUsage(ctx context.Context, customerID uuid.UUID, params creditsvc.ListUsageParams) (*creditsvc.UsagePage, error) {
	f.usageParams = params
	return f.usagePage, nil
}

func authedRequest(method, target string, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	return req.WithContext(middleware.WithCustomerID(req.Context(), uuid.New()))
}

func TestCreditsBalanceRequiresCustomerContext(t *testing.T) {
	handler := CreditsBalance(&fakeCreditsService{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/credits/balance", nil)
	resp := httptest.NewRecorder()
	handler(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without customer context, got %d", resp.Code)
	}
}

func TestCreditsBalanceReturnsDerivedTotals(t *testing.T) {
	service := &fakeCreditsService{
		balance: &creditsvc.Balance{
			MonthlyAllowance: 500,
			MonthlyUsed:      120,
			MonthlyRemaining: 380,
			ExtraRemaining:   250,
			TotalAvailable:   630,
			TotalUsed:        1120,
		},
	}
	handler := CreditsBalance(service, nil)
	resp := httptest.NewRecorder()
	handler(resp, authedRequest(http.MethodGet, "/api/v1/credits/balance", ""))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}

	var envelope struct {
		Data creditsvc.Balance `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.TotalAvailable != 630 {
		t.Fatalf("expected total 630, got %d", envelope.Data.TotalAvailable)
	}
	if envelope.Data.MonthlyRemaining != 380 {
		t.Fatalf("expected monthly remaining 380, got %d", envelope.Data.MonthlyRemaining)
	}
}

func TestCreditsConsumeForwardsMetadata(t *testing.T) {
	purchaseID := uuid.New()
	service := &fakeCreditsService{
		consumeResult: &creditsvc.ConsumeResult{
			Source:     enums.UsageSourcePurchase,
			PurchaseID: &purchaseID,
			Remaining:  41,
		},
	}
	handler := CreditsConsume(service, nil)
	resp := httptest.NewRecorder()
	handler(resp, authedRequest(http.MethodPost, "/api/v1/credits/consume", `{"metadata":{"shipment_id":"shp_123"}}`))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	if !strings.Contains(string(service.consumedMeta), "shp_123") {
		t.Fatalf("expected metadata forwarded, got %s", service.consumedMeta)
	}

	var envelope struct {
		Data creditsvc.ConsumeResult `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Source != enums.UsageSourcePurchase {
		t.Fatalf("expected purchase source, got %s", envelope.Data.Source)
	}
	if envelope.Data.Remaining != 41 {
		t.Fatalf("expected remaining 41, got %d", envelope.Data.Remaining)
	}
}

func TestCreditsConsumeAllowsEmptyBody(t *testing.T) {
	service := &fakeCreditsService{
		consumeResult: &creditsvc.ConsumeResult{Source: enums.UsageSourceMonthly, Remaining: 99},
	}
	handler := CreditsConsume(service, nil)
	resp := httptest.NewRecorder()
	handler(resp, authedRequest(http.MethodPost, "/api/v1/credits/consume", ""))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 on empty body, got %d (%s)", resp.Code, resp.Body.String())
	}
}

func TestCreditsConsumeMapsInsufficientBalance(t *testing.T) {
	service := &fakeCreditsService{
		consumeErr: pkgerrors.New(pkgerrors.CodeInsufficientBalance, "no credits available"),
	}
	handler := CreditsConsume(service, nil)
	resp := httptest.NewRecorder()
	handler(resp, authedRequest(http.MethodPost, "/api/v1/credits/consume", `{}`))
	if resp.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d (%s)", resp.Code, resp.Body.String())
	}

	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if payload.Error.Code != string(pkgerrors.CodeInsufficientBalance) {
		t.Fatalf("expected insufficient balance code, got %s", payload.Error.Code)
	}
}

func TestCreditsUsageParsesFilters(t *testing.T) {
	now := time.Now().UTC()
	purchaseID := uuid.New()
	service := &fakeCreditsService{
		usagePage: &creditsvc.UsagePage{
			Events: []models.UsageEvent{
				{
					ID:         uuid.New(),
					CustomerID: uuid.New(),
					SourceType: enums.UsageSourcePurchase,
					PurchaseID: &purchaseID,
					CreatedAt:  now,
				},
			},
			TotalUsed:  321,
			NextCursor: "next-page",
		},
	}
	handler := CreditsUsage(service, nil)
	resp := httptest.NewRecorder()
	handler(resp, authedRequest(http.MethodGet, "/api/v1/credits/usage?limit=25&source=purchase&cursor=abc", ""))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}

	if service.usageParams.Limit != 25 {
		t.Fatalf("expected limit 25, got %d", service.usageParams.Limit)
	}
	if service.usageParams.Cursor != "abc" {
		t.Fatalf("expected cursor forwarded, got %q", service.usageParams.Cursor)
	}
	if service.usageParams.Source == nil || *service.usageParams.Source != enums.UsageSourcePurchase {
		t.Fatalf("source filter not forwarded")
	}

	var envelope struct {
		Data usagePageResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.TotalUsed != 321 {
		t.Fatalf("expected total used 321, got %d", envelope.Data.TotalUsed)
	}
	if len(envelope.Data.Events) != 1 || envelope.Data.Events[0].PurchaseID == nil {
		t.Fatalf("expected one event with purchase attribution")
	}
}

func TestCreditsUsageRejectsUnknownSource(t *testing.T) {
	handler := CreditsUsage(&fakeCreditsService{}, nil)
	resp := httptest.NewRecorder()
	handler(resp, authedRequest(http.MethodGet, "/api/v1/credits/usage?source=bogus", ""))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
