package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parcelhq/trackwise-backend/api/middleware"
	"github.com/parcelhq/trackwise-backend/api/responses"
	"github.com/parcelhq/trackwise-backend/api/validators"
	creditsvc "github.com/parcelhq/trackwise-backend/internal/credits"
	"github.com/parcelhq/trackwise-backend/pkg/db/models"
	"github.com/parcelhq/trackwise-backend/pkg/enums"
	pkgerrors "github.com/parcelhq/trackwise-backend/pkg/errors"
	"github.com/parcelhq/trackwise-backend/pkg/logger"
)

// CreditsService is the surface the credits controllers need.
type CreditsService interface {
	Balance(ctx context.Context, customerID uuid.UUID) (*creditsvc.Balance, error)
	Consume(ctx context.Context, customerID uuid.UUID, metadata json.RawMessage) (*creditsvc.ConsumeResult, error)
	ListUsage(ctx context.Context, customerID uuid.UUID, params creditsvc.ListUsageParams) (*creditsvc.UsagePage, error)
}

func CreditsBalance(svc CreditsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable"))
			return
		}

		customerID, err := resolveCustomerID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		balance, err := svc.Balance(ctx, customerID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, balance)
	}
}

type consumeRequest struct {
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

func CreditsConsume(svc CreditsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable"))
			return
		}

		customerID, err := resolveCustomerID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var body consumeRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &body); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
		}

		result, err := svc.Consume(ctx, customerID, body.Metadata)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

type usageEventResponse struct {
	ID          string          `json:"id"`
	SourceType  string          `json:"source_type"`
	PurchaseID  *string         `json:"purchase_id,omitempty"`
	PeriodStart *time.Time      `json:"period_start,omitempty"`
	PeriodEnd   *time.Time      `json:"period_end,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type usagePageResponse struct {
	Events     []usageEventResponse `json:"events"`
	TotalUsed  int64                `json:"total_used"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

func CreditsUsage(svc CreditsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable"))
			return
		}

		customerID, err := resolveCustomerID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 0, 1, 200)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var source *enums.UsageSource
		if raw := strings.TrimSpace(r.URL.Query().Get("source")); raw != "" {
			parsed, parseErr := enums.ParseUsageSource(raw)
			if parseErr != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid source"))
				return
			}
			source = &parsed
		}

		page, err := svc.ListUsage(ctx, customerID, creditsvc.ListUsageParams{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
			Source: source,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		payload := usagePageResponse{
			Events:     make([]usageEventResponse, len(page.Events)),
			TotalUsed:  page.TotalUsed,
			NextCursor: page.NextCursor,
		}
		for i, event := range page.Events {
			payload.Events[i] = toUsageEventResponse(event)
		}
		responses.WriteSuccess(w, payload)
	}
}

func toUsageEventResponse(event models.UsageEvent) usageEventResponse {
	resp := usageEventResponse{
		ID:          event.ID.String(),
		SourceType:  string(event.SourceType),
		PeriodStart: event.SubscriptionPeriodStart,
		PeriodEnd:   event.SubscriptionPeriodEnd,
		Metadata:    event.Metadata,
		CreatedAt:   event.CreatedAt.UTC(),
	}
	if event.PurchaseID != nil {
		id := event.PurchaseID.String()
		resp.PurchaseID = &id
	}
	return resp
}

func resolveCustomerID(r *http.Request) (uuid.UUID, error) {
	customerID := middleware.CustomerIDFromContext(r.Context())
	if customerID == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "customer context missing")
	}
	return customerID, nil
}
