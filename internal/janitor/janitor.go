// Package janitor prunes idle conversations from the history store on a cron
// schedule. Conversations with no activity past the retention window are
// removed wholesale; active conversations are never touched, their window is
// bounded by the store itself.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jkaninda/mioo/internal/history"
	"github.com/jkaninda/mioo/internal/observability"
)

// Janitor runs the retention sweep as a background goroutine.
type Janitor struct {
	store    history.Store
	schedule cron.Schedule
	maxIdle  time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// New creates a Janitor. scheduleExpr is a standard five-field cron
// expression. metrics may be nil.
func New(store history.Store, scheduleExpr string, maxIdle time.Duration, logger *slog.Logger, metrics *observability.Metrics) (*Janitor, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(scheduleExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", scheduleExpr, err)
	}
	return &Janitor{
		store:    store,
		schedule: sched,
		maxIdle:  maxIdle,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// Start begins the sweep loop. Returns a cancel function.
func (j *Janitor) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		j.logger.InfoContext(ctx, "retention janitor started",
			slog.Duration("max_idle", j.maxIdle),
		)

		for {
			next := j.schedule.Next(time.Now().UTC())
			timer := time.NewTimer(time.Until(next))

			select {
			case <-ctx.Done():
				timer.Stop()
				j.logger.Info("retention janitor stopped")
				return
			case <-timer.C:
				if _, err := j.Sweep(ctx); err != nil {
					j.logger.ErrorContext(ctx, "retention sweep failed",
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}()

	return cancel
}

// Sweep removes conversations idle past the retention window and reports how
// many were pruned. Exported so the admin surface can trigger it on demand.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	cutoff := start.UTC().Add(-j.maxIdle)

	pruned, err := j.store.PruneIdle(ctx, cutoff)
	j.metrics.RecordStoreOp("prune_idle", err == nil)
	if err != nil {
		return 0, fmt.Errorf("pruning idle conversations: %w", err)
	}

	j.logger.InfoContext(ctx, "retention sweep completed",
		slog.Int("pruned", pruned),
		slog.Time("cutoff", cutoff),
		slog.Duration("took", time.Since(start)),
	)
	return pruned, nil
}
