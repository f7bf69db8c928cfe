package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrJobNotFound is returned when no job has the given ID.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotCancelable is returned when canceling a job that is not queued.
	ErrJobNotCancelable = errors.New("only queued jobs can be canceled")
)

// JobStore provides database operations for rebuild jobs.
type JobStore struct {
	db *gorm.DB
}

// NewJobStore creates a new JobStore.
func NewJobStore(db *gorm.DB) *JobStore {
	return &JobStore{db: db}
}

// AutoMigrate creates or updates the rebuild_jobs table.
func (s *JobStore) AutoMigrate() error {
	return s.db.AutoMigrate(&RebuildJob{})
}

// JobListFilter defines filters for listing jobs.
type JobListFilter struct {
	ShopID  string
	State   string
	Trigger string
}

// NewRebuildJob builds a queued job for shopID carrying the shop's
// idempotency key.
func NewRebuildJob(shopID, trigger, requestedBy string) *RebuildJob {
	key := IdempotencyKeyFor(shopID)
	return &RebuildJob{
		ID:             uuid.NewString(),
		ShopID:         shopID,
		Trigger:        trigger,
		RequestedBy:    requestedBy,
		RequestedAt:    time.Now(),
		State:          JobStateQueued,
		IdempotencyKey: &key,
	}
}

// Enqueue creates a new queued job. If a queued job with the same
// idempotency key exists, that job is returned with its coalesced counter
// bumped and created is false. Safe for concurrent use.
func (s *JobStore) Enqueue(ctx context.Context, job *RebuildJob) (result *RebuildJob, created bool, err error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.State == "" {
		job.State = JobStateQueued
	}
	if job.RequestedAt.IsZero() {
		job.RequestedAt = time.Now()
	}

	db := s.db.WithContext(ctx)
	if job.IdempotencyKey == nil {
		if err := db.Create(job).Error; err != nil {
			return nil, false, fmt.Errorf("enqueue job: %w", err)
		}
		return job, true, nil
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		existing, err := coalesceInto(tx, *job.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			result = existing
			return nil
		}

		if err := tx.Create(job).Error; err != nil {
			return err
		}
		result, created = job, true
		return nil
	})
	if err != nil {
		// Another enqueue may have created the job between our check and
		// create; the unique index rejects ours, so join theirs.
		existing, lookupErr := coalesceInto(db, *job.IdempotencyKey)
		if lookupErr == nil && existing != nil {
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("enqueue job: %w", err)
	}
	return result, created, nil
}

// coalesceInto bumps and returns the queued job holding key, or nil.
func coalesceInto(tx *gorm.DB, key string) (*RebuildJob, error) {
	var existing RebuildJob
	err := tx.Where("idempotency_key = ? AND state = ?", key, JobStateQueued).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check idempotency key: %w", err)
	}
	if err := tx.Model(&RebuildJob{}).Where("id = ?", existing.ID).
		Update("coalesced", gorm.Expr("coalesced + 1")).Error; err != nil {
		return nil, fmt.Errorf("coalesce job: %w", err)
	}
	existing.Coalesced++
	return &existing, nil
}

// supportsSkipLocked reports whether the dialect understands
// FOR UPDATE SKIP LOCKED.
func supportsSkipLocked(db *gorm.DB) bool {
	switch db.Dialector.Name() {
	case "postgres", "mysql":
		return true
	}
	return false
}

// Claim atomically picks the oldest queued job and transitions it to
// running, releasing its idempotency key. Uses FOR UPDATE SKIP LOCKED where
// supported. Returns nil if no jobs are available.
func (s *JobStore) Claim(ctx context.Context, maxRetries int) (*RebuildJob, error) {
	var job RebuildJob

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("state = ? AND attempt_count <= ?", JobStateQueued, maxRetries).
			Order("requested_at ASC").
			Limit(1)
		if supportsSkipLocked(tx) {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.Find(&job).Error; err != nil {
			return err
		}
		if job.ID == "" {
			return nil
		}

		now := time.Now()
		res := tx.Model(&RebuildJob{}).Where("id = ? AND state = ?", job.ID, JobStateQueued).
			Updates(map[string]any{
				"state":           JobStateRunning,
				"started_at":      now,
				"attempt_count":   gorm.Expr("attempt_count + 1"),
				"idempotency_key": nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Claimed by another worker between the select and the update.
			job = RebuildJob{}
		}
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	if job.ID == "" {
		return nil, nil
	}

	// Reload to get the updated values.
	if err := s.db.WithContext(ctx).First(&job, "id = ?", job.ID).Error; err != nil {
		return nil, fmt.Errorf("reload claimed job: %w", err)
	}

	return &job, nil
}

// Complete marks a job as succeeded.
func (s *JobStore) Complete(ctx context.Context, jobID string, outcome JobOutcome) error {
	now := time.Now()
	msg := outcome.Message
	if msg == "" {
		msg = fmt.Sprintf("Rebuilt %d entries, skipped %d targets", outcome.Rebuilt, outcome.Skipped)
	}
	result := s.db.WithContext(ctx).Model(&RebuildJob{}).Where("id = ?", jobID).Updates(map[string]any{
		"state":        JobStateSucceeded,
		"finished_at":  now,
		"rebuilt":      outcome.Rebuilt,
		"skipped":      outcome.Skipped,
		"conflicts":    outcome.Conflicts,
		"shops_failed": outcome.ShopsFailed,
		"duration_ms":  outcome.Duration.Milliseconds(),
		"message":      msg,
	})
	if result.Error != nil {
		return fmt.Errorf("complete job: %w", result.Error)
	}
	return nil
}

// Fail marks a job as failed. If the attempt count is within retries, it
// re-queues the job for retry. A re-queued job does not take its
// idempotency key back; new triggers queue alongside it.
func (s *JobStore) Fail(ctx context.Context, jobID string, errMsg string, maxRetries int) error {
	now := time.Now()
	db := s.db.WithContext(ctx)

	var job RebuildJob
	if err := db.First(&job, "id = ?", jobID).Error; err != nil {
		return fmt.Errorf("load job for fail: %w", err)
	}

	updates := map[string]any{
		"last_error":  errMsg,
		"finished_at": now,
	}

	if job.AttemptCount < maxRetries {
		// Re-queue for retry.
		updates["state"] = JobStateQueued
		updates["started_at"] = nil
		updates["finished_at"] = nil
	} else {
		updates["state"] = JobStateFailed
		updates["message"] = "Max retries exceeded: " + errMsg
	}

	result := db.Model(&RebuildJob{}).Where("id = ?", jobID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("fail job: %w", result.Error)
	}
	return nil
}

// Cancel marks a queued job as canceled and frees its idempotency key.
// Running jobs cannot be canceled.
func (s *JobStore) Cancel(ctx context.Context, jobID string) error {
	now := time.Now()
	db := s.db.WithContext(ctx)
	result := db.Model(&RebuildJob{}).
		Where("id = ? AND state = ?", jobID, JobStateQueued).
		Updates(map[string]any{
			"state":           JobStateCanceled,
			"finished_at":     now,
			"message":         "Canceled by user",
			"idempotency_key": nil,
		})
	if result.Error != nil {
		return fmt.Errorf("cancel job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		var job RebuildJob
		if err := db.First(&job, "id = ?", jobID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
			}
			return fmt.Errorf("check job: %w", err)
		}
		return fmt.Errorf("%w: job %s is %s", ErrJobNotCancelable, jobID, job.State)
	}
	return nil
}

// Get retrieves a job by ID. Returns nil, nil if it does not exist.
func (s *JobStore) Get(ctx context.Context, jobID string) (*RebuildJob, error) {
	var job RebuildJob
	if err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// List returns paginated jobs matching the given filter, newest first.
func (s *JobStore) List(ctx context.Context, filter JobListFilter, pageSize int, pageToken string) ([]RebuildJob, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	db := s.db.WithContext(ctx)
	buildQuery := func(base *gorm.DB) *gorm.DB {
		q := base.Model(&RebuildJob{})
		if filter.ShopID != "" {
			q = q.Where("shop_id = ?", filter.ShopID)
		}
		if filter.State != "" {
			q = q.Where("state = ?", filter.State)
		}
		if filter.Trigger != "" {
			q = q.Where("trigger_source = ?", filter.Trigger)
		}
		return q
	}

	var totalSize int64
	if err := buildQuery(db).Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count jobs: %w", err)
	}

	query := buildQuery(db).Order("requested_at DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("requested_at < ?", t)
	}

	var records []RebuildJob
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list jobs: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].RequestedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}

	return records, nextToken, int(totalSize), nil
}

// CleanupStuckJobs transitions running jobs that have been stuck
// (started_at older than claimTimeout) back to queued for retry.
func (s *JobStore) CleanupStuckJobs(ctx context.Context, claimTimeout time.Duration) (int64, error) {
	cutoff := time.Now().Add(-claimTimeout)
	result := s.db.WithContext(ctx).Model(&RebuildJob{}).
		Where("state = ? AND started_at < ?", JobStateRunning, cutoff).
		Updates(map[string]any{
			"state":      JobStateQueued,
			"started_at": nil,
			"last_error": "Timed out (stuck job recovery)",
		})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup stuck jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteOlderThan removes terminal jobs older than the given cutoff.
func (s *JobStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("state IN ? AND finished_at < ?",
		[]JobState{JobStateSucceeded, JobStateFailed, JobStateCanceled}, cutoff).
		Delete(&RebuildJob{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
