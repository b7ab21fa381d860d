package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/passifypro/passify/internal/models"
	"github.com/passifypro/passify/internal/wallet"
)

// ReconcilerStore is the registry slice reconciliation relies on.
type ReconcilerStore interface {
	ListActivePasses(ctx context.Context) ([]*models.PassRecord, error)
	UpdatePassState(ctx context.Context, objectID string, state models.PassState) error
}

// Reconciler periodically compares the local state mirror of ACTIVE passes
// against the backend and downgrades stale mirrors. It only ever writes pass
// states; redemption records stay exclusive to the Ledger.
type Reconciler struct {
	store   ReconcilerStore
	backend BackendSource
	logger  zerolog.Logger
	cron    *cron.Cron
}

// NewReconciler builds a Reconciler.
func NewReconciler(store ReconcilerStore, backend BackendSource, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:   store,
		backend: backend,
		logger:  logger.With().Str("component", "reconciler").Logger(),
	}
}

// Start schedules reconciliation on the given cron spec (e.g. "@every 15m").
func (r *Reconciler) Start(ctx context.Context, schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if err := r.Run(ctx); err != nil {
			r.logger.Error().Err(err).Msg("reconciliation pass failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule reconciler: %w", err)
	}
	c.Start()
	r.cron = c
	r.logger.Info().Str("schedule", schedule).Msg("reconciler started")
	return nil
}

// Stop halts the schedule and waits for a running pass to finish.
func (r *Reconciler) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// Run reconciles once. A missing credential is not an error: there is
// nothing to reconcile before the vault is configured.
func (r *Reconciler) Run(ctx context.Context) error {
	api, err := r.backend()
	if err != nil {
		r.logger.Debug().Msg("skipping reconciliation, no credential configured")
		return nil
	}

	passes, err := r.store.ListActivePasses(ctx)
	if err != nil {
		return fmt.Errorf("list active passes: %w", err)
	}

	var checked, downgraded int
	for _, pass := range passes {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		obj, err := api.GetObject(ctx, pass.ObjectID)
		if err != nil {
			if wallet.IsNotFound(err) {
				r.logger.Warn().Str("object_id", pass.ObjectID).Msg("pass missing on backend")
				continue
			}
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return err
			}
			r.logger.Error().Err(err).Str("object_id", pass.ObjectID).Msg("state check failed")
			continue
		}
		checked++

		if obj.State == models.PassStateActive {
			continue
		}
		if err := r.store.UpdatePassState(ctx, pass.ObjectID, obj.State); err != nil {
			r.logger.Error().Err(err).Str("object_id", pass.ObjectID).Msg("state downgrade failed")
			continue
		}
		downgraded++
	}

	r.logger.Info().
		Int("checked", checked).
		Int("downgraded", downgraded).
		Msg("reconciliation pass complete")
	return nil
}
