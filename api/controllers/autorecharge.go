package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/parcelhq/trackwise-backend/api/responses"
	"github.com/parcelhq/trackwise-backend/api/validators"
	rechargesvc "github.com/parcelhq/trackwise-backend/internal/autorecharge"
	"github.com/parcelhq/trackwise-backend/pkg/db/models"
	pkgerrors "github.com/parcelhq/trackwise-backend/pkg/errors"
	"github.com/parcelhq/trackwise-backend/pkg/logger"
)

// AutoRechargeService reads and replaces the per-customer replenishment policy.
type AutoRechargeService interface {
	GetSettings(ctx context.Context, customerID uuid.UUID) (*models.AutoRechargeSettings, error)
	UpdateSettings(ctx context.Context, customerID uuid.UUID, params rechargesvc.UpdateSettingsParams) (*models.AutoRechargeSettings, error)
	CheckAndTrigger(ctx context.Context, customerID uuid.UUID) (bool, error)
}

type autoRechargeSettingsResponse struct {
	Enabled             bool       `json:"enabled"`
	MinCreditsThreshold int        `json:"min_credits_threshold"`
	RechargeAmount      int        `json:"recharge_amount"`
	PaymentMethodID     *string    `json:"payment_method_id,omitempty"`
	UpdatedAt           *time.Time `json:"updated_at,omitempty"`
}

func AutoRechargeGet(svc AutoRechargeService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auto recharge service unavailable"))
			return
		}

		customerID, err := resolveCustomerID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		settings, err := svc.GetSettings(ctx, customerID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toAutoRechargeSettingsResponse(settings))
	}
}

type updateAutoRechargeRequest struct {
	Enabled             bool    `json:"enabled"`
	MinCreditsThreshold int     `json:"min_credits_threshold" validate:"required,min=1"`
	RechargeAmount      int     `json:"recharge_amount" validate:"required,min=1"`
	PaymentMethodID     *string `json:"payment_method_id,omitempty"`
}

func AutoRechargeUpdate(svc AutoRechargeService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auto recharge service unavailable"))
			return
		}

		customerID, err := resolveCustomerID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var body updateAutoRechargeRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		params := rechargesvc.UpdateSettingsParams{
			Enabled:             body.Enabled,
			MinCreditsThreshold: body.MinCreditsThreshold,
			RechargeAmount:      body.RechargeAmount,
		}
		if body.PaymentMethodID != nil {
			methodID, parseErr := uuid.Parse(*body.PaymentMethodID)
			if parseErr != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid payment method id"))
				return
			}
			params.PaymentMethodID = &methodID
		}

		settings, err := svc.UpdateSettings(ctx, customerID, params)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toAutoRechargeSettingsResponse(settings))
	}
}

type autoRechargeCheckResponse struct {
	Triggered bool `json:"triggered"`
}

// AutoRechargeCheck runs the threshold check on demand. The service holds a
// per-customer lock, so hammering this endpoint cannot double-charge.
func AutoRechargeCheck(svc AutoRechargeService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auto recharge service unavailable"))
			return
		}

		customerID, err := resolveCustomerID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		triggered, err := svc.CheckAndTrigger(ctx, customerID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, autoRechargeCheckResponse{Triggered: triggered})
	}
}

func toAutoRechargeSettingsResponse(settings *models.AutoRechargeSettings) autoRechargeSettingsResponse {
	if settings == nil {
		return autoRechargeSettingsResponse{}
	}
	resp := autoRechargeSettingsResponse{
		Enabled:             settings.Enabled,
		MinCreditsThreshold: settings.MinCreditsThreshold,
		RechargeAmount:      settings.RechargeAmount,
	}
	if settings.PaymentMethodID != nil {
		id := settings.PaymentMethodID.String()
		resp.PaymentMethodID = &id
	}
	if !settings.UpdatedAt.IsZero() {
		updated := settings.UpdatedAt.UTC()
		resp.UpdatedAt = &updated
	}
	return resp
}
