package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/parcelhq/trackwise-backend/api/responses"
	"github.com/parcelhq/trackwise-backend/api/validators"
	pmsvc "github.com/parcelhq/trackwise-backend/internal/paymentmethods"
	"github.com/parcelhq/trackwise-backend/pkg/db/models"
	pkgerrors "github.com/parcelhq/trackwise-backend/pkg/errors"
	"github.com/parcelhq/trackwise-backend/pkg/logger"
)

// PaymentMethodsService is the surface the payment method controllers need.
type PaymentMethodsService interface {
	CreateSetupSession(ctx context.Context, customerID uuid.UUID) (*pmsvc.SetupSessionResult, error)
	ConfirmSetup(ctx context.Context, customerID uuid.UUID, sessionID string) (*models.PaymentMethod, error)
	List(ctx context.Context, customerID uuid.UUID) ([]models.PaymentMethod, error)
	Remove(ctx context.Context, customerID, methodID uuid.UUID) error
}

func PaymentMethodSetup(svc PaymentMethodsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment method service unavailable"))
			return
		}

		customerID, err := resolveCustomerID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.CreateSetupSession(ctx, customerID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

type confirmSetupRequest struct {
	SessionID string `json:"session_id" validate:"required"`
}

func PaymentMethodConfirm(svc PaymentMethodsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment method service unavailable"))
			return
		}

		customerID, err := resolveCustomerID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var body confirmSetupRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		method, err := svc.ConfirmSetup(ctx, customerID, body.SessionID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toPaymentMethodResponse(*method))
	}
}

type paymentMethodResponse struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	CardBrand    *string   `json:"card_brand,omitempty"`
	CardLast4    *string   `json:"card_last4,omitempty"`
	CardExpMonth *int      `json:"card_exp_month,omitempty"`
	CardExpYear  *int      `json:"card_exp_year,omitempty"`
	IsDefault    bool      `json:"is_default"`
	CreatedAt    time.Time `json:"created_at"`
}

func PaymentMethodList(svc PaymentMethodsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment method service unavailable"))
			return
		}

		customerID, err := resolveCustomerID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		methods, err := svc.List(ctx, customerID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		payload := make([]paymentMethodResponse, len(methods))
		for i, method := range methods {
			payload[i] = toPaymentMethodResponse(method)
		}
		responses.WriteSuccess(w, map[string]any{"payment_methods": payload})
	}
}

func PaymentMethodRemove(svc PaymentMethodsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment method service unavailable"))
			return
		}

		customerID, err := resolveCustomerID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		methodID, err := uuid.Parse(chi.URLParam(r, "methodId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method id"))
			return
		}

		if err := svc.Remove(ctx, customerID, methodID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "removed"})
	}
}

func toPaymentMethodResponse(method models.PaymentMethod) paymentMethodResponse {
	return paymentMethodResponse{
		ID:           method.ID.String(),
		Type:         string(method.Type),
		CardBrand:    method.CardBrand,
		CardLast4:    method.CardLast4,
		CardExpMonth: method.CardExpMonth,
		CardExpYear:  method.CardExpYear,
		IsDefault:    method.IsDefault,
		CreatedAt:    method.CreatedAt.UTC(),
	}
}
