package models

import (
	"context"
	"time"
)

// JobStatus is the queue state of a sync job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobTrigger records what created a sync job.
type JobTrigger string

const (
	JobTriggerManual    JobTrigger = "manual"
	JobTriggerScheduled JobTrigger = "scheduled"
	JobTriggerInitial   JobTrigger = "initial"
)

// SnapshotTrigger maps the job trigger to the capture reason of refreshed videos.
func (t JobTrigger) SnapshotTrigger() SnapshotTrigger {
	switch t {
	case JobTriggerManual:
		return SnapshotManualRefresh
	case JobTriggerInitial:
		return SnapshotInitialAdd
	default:
		return SnapshotScheduledRefresh
	}
}

// Queue priorities. Higher runs sooner; user-initiated work beats scheduled work.
const (
	PriorityScheduled = 10
	PriorityUser      = 100
)

// DefaultMaxAttempts bounds retries of a job before it is failed terminally.
const DefaultMaxAttempts = 3

// SyncJob is a queued unit of work: one sync cycle for one account.
type SyncJob struct {
	ID          string     `json:"id"`
	Status      JobStatus  `json:"status"`
	OrgID       string     `json:"org_id"`
	ProjectID   string     `json:"project_id"`
	AccountID   string     `json:"account_id"`
	Trigger     JobTrigger `json:"trigger"`
	Priority    int        `json:"priority"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// TimedOut reports whether a running job has exceeded the hard timeout.
func (j SyncJob) TimedOut(now time.Time, timeout time.Duration) bool {
	if j.Status != JobStatusRunning || j.StartedAt == nil {
		return false
	}
	return now.Sub(*j.StartedAt) > timeout
}

// CanRetry reports whether another attempt is allowed.
func (j SyncJob) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

// SyncJobRepository is the persistent queue.
type SyncJobRepository interface {
	// Create stores a new pending job
	Create(ctx context.Context, job *SyncJob) error

	// GetByID retrieves a job, returning nil when missing
	GetByID(ctx context.Context, id string) (*SyncJob, error)

	// FindActiveForAccount returns the pending or running job of an account, if any
	FindActiveForAccount(ctx context.Context, accountID string) (*SyncJob, error)

	// UpdatePriority changes the priority of a pending job
	UpdatePriority(ctx context.Context, id string, priority int) error

	// CountByStatus returns the number of jobs per status
	CountByStatus(ctx context.Context) (map[JobStatus]int, error)

	// ListByStatus returns jobs with the given status ordered by (priority desc, created_at asc)
	ListByStatus(ctx context.Context, status JobStatus, limit int) ([]SyncJob, error)

	// ClaimPending atomically moves up to limit pending jobs to running
	ClaimPending(ctx context.Context, limit int, at time.Time) ([]SyncJob, error)

	// Complete marks a running job completed if it is still the claim started at claimedAt
	Complete(ctx context.Context, id string, claimedAt time.Time, at time.Time) (bool, error)

	// Fail marks a running job failed if it is still the claim started at claimedAt
	Fail(ctx context.Context, id string, claimedAt time.Time, msg string, at time.Time) (bool, error)

	// Requeue returns a running job to pending with the given attempt count.
	// A zero claimedAt addresses a running job that has no start time.
	Requeue(ctx context.Context, id string, claimedAt time.Time, attempts int, msg string) (bool, error)

	// Delete removes a job
	Delete(ctx context.Context, id string) error

	// DeleteByStatus removes every job with the given status
	DeleteByStatus(ctx context.Context, status JobStatus) (int, error)

	// DeleteActiveForAccount removes the pending and running jobs of an account
	DeleteActiveForAccount(ctx context.Context, accountID string) (int, error)

	// DeleteActiveForProject removes the pending and running jobs of a project
	DeleteActiveForProject(ctx context.Context, projectID string) (int, error)

	// CountFinishedSince returns completed/failed counts finished after since
	CountFinishedSince(ctx context.Context, since time.Time) (map[JobStatus]int, error)
}
