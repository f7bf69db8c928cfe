package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/lookup"
	"github.com/ghnautomation-boop/Spec-table-sub000/pkg/metrics"
)

// Rebuilder is the interface that the worker uses to execute rebuilds.
// It is satisfied by *lookup.Service.
type Rebuilder interface {
	RebuildTemplateLookup(ctx context.Context, shopID string) (lookup.RebuildResult, error)
	RebuildAllShops(ctx context.Context) (lookup.RebuildAllReport, error)
}

// WorkerPool processes queued rebuild jobs using a pool of goroutines.
type WorkerPool struct {
	store     *JobStore
	rebuilder Rebuilder
	cfg       *JobConfig
	logger    *slog.Logger
	wake      chan struct{}
	wg        sync.WaitGroup
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(store *JobStore, rebuilder Rebuilder, cfg *JobConfig, logger *slog.Logger) *WorkerPool {
	if cfg == nil {
		cfg = DefaultJobConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		store:     store,
		rebuilder: rebuilder,
		cfg:       cfg,
		logger:    logger,
		wake:      make(chan struct{}, 1),
	}
}

// Notify asks an idle worker to poll now instead of at its next tick.
// It never blocks.
func (wp *WorkerPool) Notify() {
	select {
	case wp.wake <- struct{}{}:
	default:
	}
}

// Run starts the worker pool. It spawns cfg.Workers goroutines,
// each polling for jobs. It blocks until the context is cancelled,
// then waits for all workers to finish.
func (wp *WorkerPool) Run(ctx context.Context) {
	if wp.store == nil || !wp.cfg.Enabled {
		wp.logger.Info("job worker pool disabled")
		return
	}

	wp.logger.Info("job worker pool starting",
		"workers", wp.cfg.Workers,
		"maxRetries", wp.cfg.MaxRetries,
		"pollInterval", wp.cfg.PollInterval.String())

	// Start stuck job cleanup goroutine.
	wp.wg.Add(1)
	go func() {
		defer wp.wg.Done()
		wp.cleanupLoop(ctx)
	}()

	// Start worker goroutines.
	for i := 0; i < wp.cfg.Workers; i++ {
		wp.wg.Add(1)
		go func(workerID int) {
			defer wp.wg.Done()
			wp.workerLoop(ctx, workerID)
		}(i)
	}

	<-ctx.Done()
	wp.logger.Info("job worker pool shutting down, waiting for workers to finish")
	wp.wg.Wait()
	wp.logger.Info("job worker pool stopped")
}

// workerLoop is the main loop for a single worker goroutine.
func (wp *WorkerPool) workerLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(wp.cfg.PollInterval)
	defer ticker.Stop()

	wp.logger.Debug("worker started", "workerID", workerID)

	for {
		select {
		case <-ctx.Done():
			wp.logger.Debug("worker stopped", "workerID", workerID)
			return
		case <-ticker.C:
		case <-wp.wake:
		}
		// Drain the queue before going back to sleep.
		for ctx.Err() == nil && wp.processOne(ctx, workerID) {
		}
	}
}

// processOne tries to claim and process a single job. It reports whether a
// job was claimed.
func (wp *WorkerPool) processOne(ctx context.Context, workerID int) bool {
	job, err := wp.store.Claim(ctx, wp.cfg.MaxRetries)
	if err != nil {
		wp.logger.Error("failed to claim job", "workerID", workerID, "error", err)
		return false
	}
	if job == nil {
		return false // No jobs available.
	}

	wp.logger.Info("processing job",
		"workerID", workerID,
		"jobID", job.ID,
		"shopID", job.ShopID,
		"trigger", job.Trigger,
		"attempt", job.AttemptCount)

	outcome, err := wp.execute(ctx, job)
	if err != nil {
		metrics.JobsProcessedTotal.WithLabelValues(metrics.StatusError).Inc()
		wp.logger.Error("job failed",
			"workerID", workerID,
			"jobID", job.ID,
			"shopID", job.ShopID,
			"error", err)
		// The job row must be updated even when shutdown cancelled ctx.
		if failErr := wp.store.Fail(context.WithoutCancel(ctx), job.ID, err.Error(), wp.cfg.MaxRetries); failErr != nil {
			wp.logger.Error("failed to mark job as failed", "jobID", job.ID, "error", failErr)
		}
		return true
	}

	metrics.JobsProcessedTotal.WithLabelValues(metrics.StatusSuccess).Inc()
	wp.logger.Info("job completed",
		"workerID", workerID,
		"jobID", job.ID,
		"shopID", job.ShopID,
		"rebuilt", outcome.Rebuilt,
		"shopsFailed", outcome.ShopsFailed,
		"duration", outcome.Duration.String())

	if err := wp.store.Complete(context.WithoutCancel(ctx), job.ID, outcome); err != nil {
		wp.logger.Error("failed to mark job as complete", "jobID", job.ID, "error", err)
	}
	return true
}

func (wp *WorkerPool) execute(ctx context.Context, job *RebuildJob) (JobOutcome, error) {
	if timeout := wp.cfg.timeoutFor(job.ShopID); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if job.ShopID == AllShops {
		report, err := wp.rebuilder.RebuildAllShops(ctx)
		if err != nil {
			return JobOutcome{}, err
		}
		out := JobOutcome{ShopsFailed: report.Failed, Duration: report.Duration}
		for _, s := range report.Shops {
			out.Rebuilt += s.Rebuilt
		}
		out.Message = fmt.Sprintf("Rebuilt %d shops, %d failed", report.Succeeded, report.Failed)
		return out, nil
	}

	result, err := wp.rebuilder.RebuildTemplateLookup(ctx, job.ShopID)
	if err != nil {
		return JobOutcome{}, err
	}
	return JobOutcome{
		Rebuilt:   result.Rebuilt,
		Skipped:   result.Skipped,
		Conflicts: result.Conflicts,
		Duration:  result.Duration,
	}, nil
}

// cleanupLoop periodically cleans up stuck jobs and old completed jobs.
func (wp *WorkerPool) cleanupLoop(ctx context.Context) {
	interval := wp.cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wp.cleanup(ctx)
		}
	}
}

func (wp *WorkerPool) cleanup(ctx context.Context) {
	// Recover stuck jobs.
	if wp.cfg.StuckAfter > 0 {
		recovered, err := wp.store.CleanupStuckJobs(ctx, wp.cfg.StuckAfter)
		if err != nil {
			wp.logger.Error("failed to cleanup stuck jobs", "error", err)
		} else if recovered > 0 {
			wp.logger.Info("recovered stuck jobs", "count", recovered)
		}
	}

	// Delete old terminal jobs.
	if wp.cfg.Retention > 0 {
		cutoff := time.Now().Add(-wp.cfg.Retention)
		deleted, err := wp.store.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			wp.logger.Error("failed to delete old jobs", "error", err)
		} else if deleted > 0 {
			wp.logger.Info("deleted old jobs", "count", deleted)
		}
	}
}
