// Package queue is the persistent sync job queue. A periodic tick validates
// running jobs against the hard timeout, claims pending jobs up to the
// concurrency limit and hands them to a Dispatcher without waiting for them.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/reelpulse/reelpulse/internal/metrics"
	"github.com/reelpulse/reelpulse/internal/models"
)

var (
	// ErrInvalidPriority is returned for negative priorities.
	ErrInvalidPriority = errors.New("invalid priority")
	// ErrAccountNotFound is returned when enqueuing for a missing or deleted account.
	ErrAccountNotFound = errors.New("account not found")
)

// Config holds queue limits.
type Config struct {
	ConcurrencyLimit int
	JobTimeout       time.Duration
	MaxAttempts      int
}

// DefaultConfig matches the gateway's own concurrency cap.
func DefaultConfig() Config {
	return Config{
		ConcurrencyLimit: 6,
		JobTimeout:       10 * time.Minute,
		MaxAttempts:      models.DefaultMaxAttempts,
	}
}

// Dispatcher starts claimed jobs. Dispatch must not block on job completion.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobs []models.SyncJob)
}

// Service enqueues and dispatches sync jobs.
type Service struct {
	jobs       models.SyncJobRepository
	accounts   models.TrackedAccountRepository
	activity   models.ActivityLogRepository
	dispatcher Dispatcher
	clock      models.Clock
	ids        models.IDGenerator
	metrics    *metrics.Pipeline
	logger     *slog.Logger
	cfg        Config
}

// Deps are the collaborators of Service. Activity and Metrics may be nil.
type Deps struct {
	Jobs       models.SyncJobRepository
	Accounts   models.TrackedAccountRepository
	Activity   models.ActivityLogRepository
	Dispatcher Dispatcher
	Clock      models.Clock
	IDs        models.IDGenerator
	Metrics    *metrics.Pipeline
	Logger     *slog.Logger
}

func NewService(deps Deps, cfg Config) *Service {
	defaults := DefaultConfig()
	if cfg.ConcurrencyLimit <= 0 {
		cfg.ConcurrencyLimit = defaults.ConcurrencyLimit
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaults.JobTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if deps.Clock == nil {
		deps.Clock = models.RealClock{}
	}
	if deps.IDs == nil {
		deps.IDs = models.UUIDGenerator{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		jobs:       deps.Jobs,
		accounts:   deps.Accounts,
		activity:   deps.Activity,
		dispatcher: deps.Dispatcher,
		clock:      deps.Clock,
		ids:        deps.IDs,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		cfg:        cfg,
	}
}

// Config returns the effective limits.
func (s *Service) Config() Config {
	return s.cfg
}

// ParsePriority maps a priority name ("user", "scheduled") or a
// non-negative number to a queue priority. Empty selects the default.
func ParsePriority(raw string) (int, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	switch name {
	case "":
		return 0, nil
	case "user":
		return models.PriorityUser, nil
	case "scheduled":
		return models.PriorityScheduled, nil
	}
	n, err := strconv.Atoi(name)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPriority, raw)
	}
	return n, nil
}

// EnqueueRequest asks for one sync of an account.
type EnqueueRequest struct {
	AccountID string
	Trigger   models.JobTrigger
	Priority  int // 0 selects the trigger's default
}

// Enqueue creates a pending job for the account. An account with a pending
// or running job gets that job back instead; a pending job is raised to the
// requested priority when it is higher. created reports whether a new job
// was stored.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (job *models.SyncJob, created bool, err error) {
	if req.Priority < 0 {
		return nil, false, fmt.Errorf("%w: %d", ErrInvalidPriority, req.Priority)
	}
	if req.Trigger == "" {
		req.Trigger = models.JobTriggerManual
	}
	if req.Priority == 0 {
		req.Priority = models.PriorityScheduled
		if req.Trigger == models.JobTriggerManual {
			req.Priority = models.PriorityUser
		}
	}

	account, err := s.accounts.GetByID(ctx, req.AccountID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load account: %w", err)
	}
	if account == nil || account.DeletionRequestedAt != nil {
		return nil, false, fmt.Errorf("%w: %s", ErrAccountNotFound, req.AccountID)
	}

	existing, err := s.jobs.FindActiveForAccount(ctx, account.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up active job: %w", err)
	}
	if existing != nil {
		if existing.Status == models.JobStatusPending && req.Priority > existing.Priority {
			if err := s.jobs.UpdatePriority(ctx, existing.ID, req.Priority); err != nil {
				return nil, false, fmt.Errorf("failed to raise priority: %w", err)
			}
			existing.Priority = req.Priority
		}
		return existing, false, nil
	}

	job = &models.SyncJob{
		ID:          s.ids.New(),
		Status:      models.JobStatusPending,
		OrgID:       account.OrgID,
		ProjectID:   account.ProjectID,
		AccountID:   account.ID,
		Trigger:     req.Trigger,
		Priority:    req.Priority,
		MaxAttempts: s.cfg.MaxAttempts,
		CreatedAt:   models.StoreTime(s.clock.Now()),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, false, fmt.Errorf("failed to create job: %w", err)
	}
	s.logger.Info("sync job enqueued",
		"job_id", job.ID,
		"account_id", job.AccountID,
		"trigger", job.Trigger,
		"priority", job.Priority)
	return job, true, nil
}

// TickResult reports what one dispatch tick did.
type TickResult struct {
	Dispatched       int  `json:"dispatched"`
	Validated        int  `json:"validated"`
	MarkedCompleted  int  `json:"marked_completed"`
	MarkedFailed     int  `json:"marked_failed"`
	Requeued         int  `json:"requeued"`
	Cancelled        int  `json:"cancelled"`
	PendingRemaining int  `json:"pending_remaining"`
	CleanedUp        int  `json:"cleaned_up"`
	Idle             bool `json:"idle"`
}

// Tick runs one dispatch pass.
func (s *Service) Tick(ctx context.Context) (TickResult, error) {
	var result TickResult
	start := s.clock.Now()

	counts, err := s.jobs.CountByStatus(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to count jobs: %w", err)
	}
	if counts[models.JobStatusRunning] == 0 && counts[models.JobStatusPending] == 0 {
		cleaned, err := s.jobs.DeleteByStatus(ctx, models.JobStatusCompleted)
		if err != nil {
			return result, fmt.Errorf("failed to clean completed jobs: %w", err)
		}
		result.Idle = true
		result.CleanedUp = cleaned
		if cleaned > 0 {
			s.logger.Info("queue idle, removed completed jobs", "count", cleaned)
		}
		counts[models.JobStatusCompleted] = 0
		s.metrics.SetQueueDepth(depth(counts))
		return result, nil
	}

	stillRunning, err := s.validateRunning(ctx, &result)
	if err != nil {
		return result, err
	}

	if available := s.cfg.ConcurrencyLimit - stillRunning; available > 0 {
		claimed, err := s.jobs.ClaimPending(ctx, available, models.StoreTime(s.clock.Now()))
		if err != nil {
			return result, fmt.Errorf("failed to claim jobs: %w", err)
		}
		result.Dispatched = len(claimed)
		if len(claimed) > 0 {
			s.dispatcher.Dispatch(ctx, claimed)
			s.metrics.AddDispatched(len(claimed))
		}
	}

	counts, err = s.jobs.CountByStatus(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to count jobs: %w", err)
	}
	result.PendingRemaining = counts[models.JobStatusPending]
	s.metrics.SetQueueDepth(depth(counts))

	s.logger.Info("queue tick",
		"dispatched", result.Dispatched,
		"validated", result.Validated,
		"requeued", result.Requeued,
		"marked_failed", result.MarkedFailed,
		"pending_remaining", result.PendingRemaining)
	s.logTick(ctx, result, s.clock.Now().Sub(start))
	return result, nil
}

// validateRunning settles running jobs whose cycle will never report back
// and returns how many are legitimately still running.
func (s *Service) validateRunning(ctx context.Context, result *TickResult) (int, error) {
	running, err := s.jobs.ListByStatus(ctx, models.JobStatusRunning, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list running jobs: %w", err)
	}
	now := models.StoreTime(s.clock.Now())
	stillRunning := 0

	for _, job := range running {
		result.Validated++
		if job.StartedAt == nil {
			// no start time means no timeout can ever fire; give the slot back
			ok, err := s.jobs.Requeue(ctx, job.ID, time.Time{}, job.Attempts, "running without a start time")
			if err != nil {
				return 0, fmt.Errorf("failed to requeue job: %w", err)
			}
			if ok {
				s.logger.Warn("requeued running job without a start time", "job_id", job.ID, "account_id", job.AccountID)
				result.Requeued++
				s.metrics.RecordJobOutcome("requeued")
			}
			continue
		}
		claimedAt := *job.StartedAt
		logger := s.logger.With("job_id", job.ID, "account_id", job.AccountID)

		account, err := s.accounts.GetByID(ctx, job.AccountID)
		if err != nil {
			return 0, fmt.Errorf("failed to load account %s: %w", job.AccountID, err)
		}
		if account == nil {
			if err := s.jobs.Delete(ctx, job.ID); err != nil {
				return 0, fmt.Errorf("failed to delete orphaned job: %w", err)
			}
			logger.Info("removed running job of deleted account")
			result.Cancelled++
			s.metrics.RecordJobOutcome("cancelled")
			continue
		}

		if account.SyncStatus == models.AccountSyncCompleted && account.LastSynced != nil && account.LastSynced.After(claimedAt) {
			ok, err := s.jobs.Complete(ctx, job.ID, claimedAt, now)
			if err != nil {
				return 0, fmt.Errorf("failed to complete job: %w", err)
			}
			if ok {
				logger.Info("marked job completed from account sync state")
				result.MarkedCompleted++
				s.metrics.RecordJobOutcome("completed")
			}
			continue
		}

		if !job.TimedOut(now, s.cfg.JobTimeout) {
			stillRunning++
			continue
		}

		msg := fmt.Sprintf("timed out after %s", s.cfg.JobTimeout)
		if job.CanRetry() {
			ok, err := s.jobs.Requeue(ctx, job.ID, claimedAt, job.Attempts+1, msg)
			if err != nil {
				return 0, fmt.Errorf("failed to requeue job: %w", err)
			}
			if ok {
				logger.Warn("job timed out, requeued", "attempts", job.Attempts+1, "max_attempts", job.MaxAttempts)
				result.Requeued++
				s.metrics.RecordJobOutcome("requeued")
			}
			continue
		}
		ok, err := s.jobs.Fail(ctx, job.ID, claimedAt, msg, now)
		if err != nil {
			return 0, fmt.Errorf("failed to fail job: %w", err)
		}
		if ok {
			logger.Error("job timed out, attempts exhausted", "attempts", job.Attempts)
			result.MarkedFailed++
			s.metrics.RecordJobOutcome("failed")
		}
	}
	return stillRunning, nil
}

func depth(counts map[models.JobStatus]int) map[string]int {
	out := make(map[string]int, 4)
	for _, status := range []models.JobStatus{models.JobStatusPending, models.JobStatusRunning, models.JobStatusCompleted, models.JobStatusFailed} {
		out[string(status)] = counts[status]
	}
	return out
}

func (s *Service) logTick(ctx context.Context, result TickResult, d time.Duration) {
	if s.activity == nil || (result.Dispatched == 0 && result.Requeued == 0 && result.MarkedFailed == 0 && result.MarkedCompleted == 0) {
		return
	}
	count := result.Dispatched
	ms := int(d.Milliseconds())
	entry := models.ActivityLog{
		ID:           s.ids.New(),
		Timestamp:    models.StoreTime(s.clock.Now()),
		ActivityType: models.ActivityTypeQueueTick,
		Message:      fmt.Sprintf("Dispatched %d sync jobs, %d pending", result.Dispatched, result.PendingRemaining),
		ItemCount:    &count,
		DurationMs:   &ms,
		Details: map[string]interface{}{
			"validated":        result.Validated,
			"marked_completed": result.MarkedCompleted,
			"marked_failed":    result.MarkedFailed,
			"requeued":         result.Requeued,
			"cancelled":        result.Cancelled,
		},
	}
	if err := s.activity.Log(ctx, entry); err != nil {
		s.logger.Warn("failed to write activity log", "error", err)
	}
}

// Status is a point-in-time view of the queue.
type Status struct {
	Pending           int              `json:"pending"`
	Running           int              `json:"running"`
	Completed         int              `json:"completed"`
	Failed            int              `json:"failed"`
	ConcurrencyLimit  int              `json:"concurrency_limit"`
	AvailableSlots    int              `json:"available_slots"`
	Utilization       float64          `json:"utilization"`
	CompletedLastHour int              `json:"completed_last_hour"`
	FailedLastHour    int              `json:"failed_last_hour"`
	Next              []models.SyncJob `json:"next"`
}

// Status reports queue counts, capacity use and recent throughput.
func (s *Service) Status(ctx context.Context) (Status, error) {
	counts, err := s.jobs.CountByStatus(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("failed to count jobs: %w", err)
	}
	recent, err := s.jobs.CountFinishedSince(ctx, models.StoreTime(s.clock.Now().Add(-time.Hour)))
	if err != nil {
		return Status{}, fmt.Errorf("failed to count recent jobs: %w", err)
	}
	next, err := s.jobs.ListByStatus(ctx, models.JobStatusPending, 10)
	if err != nil {
		return Status{}, fmt.Errorf("failed to list pending jobs: %w", err)
	}

	st := Status{
		Pending:           counts[models.JobStatusPending],
		Running:           counts[models.JobStatusRunning],
		Completed:         counts[models.JobStatusCompleted],
		Failed:            counts[models.JobStatusFailed],
		ConcurrencyLimit:  s.cfg.ConcurrencyLimit,
		CompletedLastHour: recent[models.JobStatusCompleted],
		FailedLastHour:    recent[models.JobStatusFailed],
		Next:              next,
	}
	st.AvailableSlots = max(0, st.ConcurrencyLimit-st.Running)
	st.Utilization = float64(st.Running) / float64(st.ConcurrencyLimit)
	return st, nil
}

// CancelAccount deletes the pending and running jobs of an account.
func (s *Service) CancelAccount(ctx context.Context, accountID string) (int, error) {
	n, err := s.jobs.DeleteActiveForAccount(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel jobs of account %s: %w", accountID, err)
	}
	return n, nil
}

// CancelProject deletes the pending and running jobs of a project.
func (s *Service) CancelProject(ctx context.Context, projectID string) (int, error) {
	n, err := s.jobs.DeleteActiveForProject(ctx, projectID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel jobs of project %s: %w", projectID, err)
	}
	return n, nil
}
