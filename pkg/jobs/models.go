package jobs

import (
	"time"
)

// JobState represents the lifecycle state of a rebuild job.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
	JobStateCanceled  JobState = "canceled"
)

// AllShops is the ShopID of a job that rebuilds every shop.
const AllShops = "_all"

// Triggers recorded on a job.
const (
	TriggerAPI     = "api"
	TriggerWebhook = "webhook"
	TriggerCLI     = "cli"
)

// RebuildJob is the GORM model for a queued lookup index rebuild.
//
// IdempotencyKey is set only while the job is queued; Claim clears it so a
// trigger arriving during the run queues a fresh job instead of being
// absorbed by one that already read the old assignments.
type RebuildJob struct {
	ID             string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	ShopID         string     `gorm:"column:shop_id;type:varchar(255);index:idx_rebuild_job_shop_state,priority:1;not null"`
	Trigger        string     `gorm:"column:trigger_source;type:varchar(32);not null"`
	RequestedBy    string     `gorm:"column:requested_by;not null"`
	RequestedAt    time.Time  `gorm:"column:requested_at;not null"`
	State          JobState   `gorm:"column:state;index:idx_rebuild_job_shop_state,priority:2;index:idx_rebuild_job_state;not null;default:queued"`
	Message        string     `gorm:"column:message"`
	StartedAt      *time.Time `gorm:"column:started_at"`
	FinishedAt     *time.Time `gorm:"column:finished_at"`
	AttemptCount   int        `gorm:"column:attempt_count;default:0"`
	LastError      string     `gorm:"column:last_error"`
	IdempotencyKey *string    `gorm:"column:idempotency_key;type:varchar(300);uniqueIndex:idx_rebuild_job_idemp_key"`
	Coalesced      int        `gorm:"column:coalesced;default:0"`
	Rebuilt        int        `gorm:"column:rebuilt"`
	Skipped        int        `gorm:"column:skipped"`
	Conflicts      int        `gorm:"column:conflicts"`
	ShopsFailed    int        `gorm:"column:shops_failed"`
	DurationMs     int64      `gorm:"column:duration_ms"`
}

// TableName returns the GORM table name.
func (RebuildJob) TableName() string { return "rebuild_jobs" }

// IsTerminal returns true if the job is in a terminal state.
func (j *RebuildJob) IsTerminal() bool {
	switch j.State {
	case JobStateSucceeded, JobStateFailed, JobStateCanceled:
		return true
	}
	return false
}

// IdempotencyKeyFor returns the key that collapses queued rebuilds of a shop.
func IdempotencyKeyFor(shopID string) string {
	return "rebuild:" + shopID
}

// JobOutcome is what a finished rebuild reports back to the store.
type JobOutcome struct {
	Rebuilt     int
	Skipped     int
	Conflicts   int
	ShopsFailed int
	Duration    time.Duration
	Message     string
}
