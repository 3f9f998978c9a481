package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/parcelhq/trackwise-backend/pkg/db/models"
	"github.com/parcelhq/trackwise-backend/pkg/logger"
)

const defaultSweepLimit = 500

type rechargeTrigger interface {
	CheckAndTrigger(ctx context.Context, customerID uuid.UUID) (bool, error)
}

type rechargeSettingsLister interface {
	ListEnabledAutoRechargeSettings(ctx context.Context, limit int) ([]models.AutoRechargeSettings, error)
}

// AutoRechargeJobParams configures the low-balance sweep cron job.
type AutoRechargeJobParams struct {
	Logger   *logger.Logger
	Settings rechargeSettingsLister
	Recharge rechargeTrigger
	Limit    int
}

// NewAutoRechargeJob builds a job that walks every customer with auto recharge
// enabled and triggers a top-up for the ones below their threshold. The
// recharge service does its own balance check and locking, so the sweep only
// has to fan out.
func NewAutoRechargeJob(params AutoRechargeJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Settings == nil {
		return nil, fmt.Errorf("settings lister required")
	}
	if params.Recharge == nil {
		return nil, fmt.Errorf("recharge trigger required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	return &autoRechargeJob{
		logg:     params.Logger,
		settings: params.Settings,
		recharge: params.Recharge,
		limit:    limit,
	}, nil
}

type autoRechargeJob struct {
	logg     *logger.Logger
	settings rechargeSettingsLister
	recharge rechargeTrigger
	limit    int
}

func (j *autoRechargeJob) Name() string { return "auto-recharge-sweep" }

func (j *autoRechargeJob) Run(ctx context.Context) error {
	logCtx := j.logg.WithField(ctx, "job", j.Name())
	logCtx = j.logg.WithField(logCtx, "event", "cron.job")
	candidates, err := j.settings.ListEnabledAutoRechargeSettings(logCtx, j.limit)
	if err != nil {
		return fmt.Errorf("list auto recharge candidates: %w", err)
	}
	var errs error
	triggered := 0
	for i := range candidates {
		customerID := candidates[i].CustomerID
		charged, err := j.recharge.CheckAndTrigger(logCtx, customerID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("customer %s: %w", customerID, err))
			continue
		}
		if charged {
			triggered++
		}
	}
	reportCtx := j.logg.WithFields(logCtx, map[string]any{
		"candidates": len(candidates),
		"triggered":  triggered,
	})
	j.logg.Info(reportCtx, "auto recharge sweep complete")
	return errs
}
