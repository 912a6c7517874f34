package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/engramdev/engram/internal/observability"
)

// Reconciler re-derives the vector index mirror from the primary store.
// The mirror is disposable; a lost or lagging index is repaired by paging
// through the authoritative rows and re-submitting the embedded ones.
type Reconciler struct {
	store    Lister
	upserter Upserter
	index    VectorIndex
	table    string
	pageSize int
	logger   zerolog.Logger
	cron     *cron.Cron
}

// ReconcilerConfig holds reconciler configuration
type ReconcilerConfig struct {
	Store    Lister
	Upserter Upserter
	Index    VectorIndex
	Table    string
	PageSize int // default 500
	Logger   zerolog.Logger
}

// NewReconciler creates a reconciler
func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Store == nil {
		return nil, errors.New("listing store is required")
	}
	if cfg.Upserter == nil {
		return nil, errors.New("upserter is required")
	}
	if cfg.Table == "" {
		return nil, errors.New("table is required")
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 500
	}

	return &Reconciler{
		store:    cfg.Store,
		upserter: cfg.Upserter,
		index:    cfg.Index,
		table:    cfg.Table,
		pageSize: pageSize,
		logger:   cfg.Logger.With().Str("component", "reconciler").Str("table", cfg.Table).Logger(),
	}, nil
}

// Rebuild pages through the table and re-submits every embedded memory to
// the index mirror. It never mutates the primary store.
func (r *Reconciler) Rebuild(ctx context.Context) (int, error) {
	if r.index != nil && r.index.State() != StateReady {
		r.logger.Debug().Str("state", r.index.State().String()).Msg("Index not ready, skipping rebuild")
		return 0, nil
	}

	mirrored := 0
	for offset := 0; ; offset += r.pageSize {
		page, err := r.store.ListByTable(ctx, r.table, r.pageSize, offset)
		if err != nil {
			observability.RecordReconcileRun(false, 0)
			return mirrored, fmt.Errorf("list page at offset %d: %w", offset, err)
		}
		if len(page) == 0 {
			break
		}

		stats := r.upserter.Submit(ctx, page)
		mirrored += stats.Upserted

		if len(page) < r.pageSize {
			break
		}
	}

	observability.RecordReconcileRun(true, mirrored)
	r.logger.Info().Int("mirrored", mirrored).Msg("Index rebuild completed")
	return mirrored, nil
}

// Start schedules periodic rebuilds with the given cron expression
func (r *Reconciler) Start(schedule string) error {
	if r.cron != nil {
		return errors.New("reconciler already started")
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if _, err := r.Rebuild(context.Background()); err != nil {
			r.logger.Warn().Err(err).Msg("Scheduled rebuild failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}

	c.Start()
	r.cron = c
	r.logger.Info().Str("schedule", schedule).Msg("Reconciler started")
	return nil
}

// Stop halts scheduled rebuilds; a rebuild in flight finishes
func (r *Reconciler) Stop() {
	if r.cron != nil {
		r.cron.Stop()
		r.cron = nil
	}
}
