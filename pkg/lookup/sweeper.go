package lookup

import (
	"context"
	"log/slog"
	"time"
)

// AllShopsRebuilder runs a full pass over every shop. Service implements it.
type AllShopsRebuilder interface {
	RebuildAllShops(ctx context.Context) (RebuildAllReport, error)
}

// Sweeper periodically rebuilds every shop so that drift from missed
// triggers never outlives one interval. Run it on the leader only.
type Sweeper struct {
	rebuilder AllShopsRebuilder
	interval  time.Duration
	logger    *slog.Logger
}

// NewSweeper creates a sweeper. A zero interval disables it.
func NewSweeper(rebuilder AllShopsRebuilder, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		rebuilder: rebuilder,
		interval:  interval,
		logger:    logger,
	}
}

// Run blocks until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) {
	if w.rebuilder == nil || w.interval <= 0 {
		w.logger.Info("lookup sweeper disabled", "interval", w.interval.String())
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("lookup sweeper started", "interval", w.interval.String())

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("lookup sweeper stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep performs a single pass.
func (w *Sweeper) sweep(ctx context.Context) {
	report, err := w.rebuilder.RebuildAllShops(ctx)
	if err != nil {
		w.logger.Error("lookup sweep failed", "error", err)
		return
	}
	if report.Failed > 0 {
		w.logger.Warn("lookup sweep completed with failures",
			"succeeded", report.Succeeded,
			"failed", report.Failed)
	}
}
