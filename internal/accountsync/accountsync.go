// Package accountsync runs the sync cycle of one tracked account: refresh
// the stored videos, discover new ones, snapshot everything that changed and
// report the outcome back onto the job.
package accountsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reelpulse/reelpulse/internal/lock"
	"github.com/reelpulse/reelpulse/internal/metrics"
	"github.com/reelpulse/reelpulse/internal/models"
	"github.com/reelpulse/reelpulse/internal/platform"
	"github.com/reelpulse/reelpulse/internal/storage"
	"github.com/reelpulse/reelpulse/internal/validation"
)

// Outcome classifies how a job run ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeContended Outcome = "contended" // lock held elsewhere, job back to pending
	OutcomeRetrying  Outcome = "retrying"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled" // account gone or pending deletion
)

// Result summarizes one cycle.
type Result struct {
	JobID          string        `json:"job_id"`
	AccountID      string        `json:"account_id"`
	Outcome        Outcome       `json:"outcome"`
	Refreshed      int           `json:"refreshed"`
	Discovered     int           `json:"discovered"`
	Created        int           `json:"created"`
	SkippedByDate  int           `json:"skipped_by_date"`
	Invalid        int           `json:"invalid"`
	Snapshots      int           `json:"snapshots"`
	FoundDuplicate bool          `json:"found_duplicate"`
	Batches        int           `json:"batches"`
	Duration       time.Duration `json:"duration"`
	Error          string        `json:"error,omitempty"`
}

// Config bounds discovery.
type Config struct {
	DiscoveryLimit    int
	DiscoveryMaxLimit int
}

// Service runs sync cycles.
type Service struct {
	accounts  models.TrackedAccountRepository
	videos    models.VideoRepository
	jobs      models.SyncJobRepository
	usage     models.UsageRepository
	activity  models.ActivityLogRepository
	locks     *lock.Service
	adapters  *platform.Registry
	persister *storage.Persister
	clock     models.Clock
	ids       models.IDGenerator
	metrics   *metrics.Pipeline
	logger    *slog.Logger
	cfg       Config
}

// Deps are the collaborators of Service. Persister and Metrics may be nil.
type Deps struct {
	Accounts  models.TrackedAccountRepository
	Videos    models.VideoRepository
	Jobs      models.SyncJobRepository
	Usage     models.UsageRepository
	Activity  models.ActivityLogRepository
	Locks     *lock.Service
	Adapters  *platform.Registry
	Persister *storage.Persister
	Clock     models.Clock
	IDs       models.IDGenerator
	Metrics   *metrics.Pipeline
	Logger    *slog.Logger
}

func NewService(deps Deps, cfg Config) *Service {
	if cfg.DiscoveryLimit <= 0 {
		cfg.DiscoveryLimit = platform.DefaultDiscoveryLimit
	}
	if cfg.DiscoveryMaxLimit < cfg.DiscoveryLimit {
		cfg.DiscoveryMaxLimit = cfg.DiscoveryLimit
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
		accounts:  deps.Accounts,
		videos:    deps.Videos,
		jobs:      deps.Jobs,
		usage:     deps.Usage,
		activity:  deps.Activity,
		locks:     deps.Locks,
		adapters:  deps.Adapters,
		persister: deps.Persister,
		clock:     deps.Clock,
		ids:       deps.IDs,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		cfg:       cfg,
	}
}

// RunJob runs the cycle for a claimed job and records the outcome on it.
// Failures of the cycle itself become job state; the returned error is set
// only when that state could not be written.
func (s *Service) RunJob(ctx context.Context, job models.SyncJob) (Result, error) {
	start := s.clock.Now()
	result := Result{JobID: job.ID, AccountID: job.AccountID}
	if job.StartedAt == nil {
		return result, fmt.Errorf("job %s has not been claimed", job.ID)
	}
	claimedAt := *job.StartedAt
	logger := s.logger.With("job_id", job.ID, "account_id", job.AccountID)

	account, err := s.accounts.GetByID(ctx, job.AccountID)
	if err != nil {
		return result, s.retryOrFail(ctx, logger, job, claimedAt, &result, fmt.Errorf("failed to load account: %w", err))
	}
	if account == nil || account.DeletionRequestedAt != nil {
		logger.Info("account gone, dropping job")
		result.Outcome = OutcomeCancelled
		return result, s.jobs.Delete(ctx, job.ID)
	}
	logger = logger.With("platform", string(account.Platform))

	acquired, err := s.locks.Acquire(ctx, account.ID, job.ID)
	if err != nil {
		return result, s.retryOrFail(ctx, logger, job, claimedAt, &result, fmt.Errorf("failed to acquire lock: %w", err))
	}
	if !acquired.Acquired {
		result.Outcome = OutcomeContended
		result.Error = acquired.Reason
		if _, err := s.jobs.Requeue(ctx, job.ID, claimedAt, job.Attempts, acquired.Reason); err != nil {
			return result, fmt.Errorf("failed to requeue contended job: %w", err)
		}
		s.metrics.RecordJobOutcome(string(OutcomeContended))
		return result, nil
	}
	defer func() {
		// release even when ctx already expired
		if err := s.locks.Release(context.WithoutCancel(ctx), account.ID, job.ID); err != nil {
			logger.Error("failed to release lock", "error", err)
		}
	}()

	if err := s.accounts.UpdateSyncStatus(ctx, account.ID, models.AccountSyncSyncing, ""); err != nil {
		logger.Warn("failed to mark account syncing", "error", err)
	}

	cycleErr := s.cycle(ctx, logger, account, job, &result)
	result.Duration = s.clock.Now().Sub(start)

	var stateErr error
	if cycleErr != nil {
		if err := s.accounts.UpdateSyncStatus(context.WithoutCancel(ctx), account.ID, models.AccountSyncError, cycleErr.Error()); err != nil {
			logger.Warn("failed to record account sync error", "error", err)
		}
		stateErr = s.retryOrFail(ctx, logger, job, claimedAt, &result, cycleErr)
	} else {
		result.Outcome = OutcomeCompleted
		ok, err := s.jobs.Complete(ctx, job.ID, claimedAt, models.StoreTime(s.clock.Now()))
		if err != nil {
			stateErr = fmt.Errorf("failed to complete job: %w", err)
		} else if !ok {
			logger.Warn("job was reclaimed before completion was reported")
		}
		s.metrics.RecordJobOutcome(string(OutcomeCompleted))
		logger.Info("sync cycle completed",
			"refreshed", result.Refreshed,
			"created", result.Created,
			"snapshots", result.Snapshots,
			"batches", result.Batches,
			"duration", result.Duration)
	}

	s.metrics.ObserveCycle(string(account.Platform), string(result.Outcome), result.Duration)
	s.logActivity(ctx, account, result)
	return result, stateErr
}

// retryOrFail returns the job to pending with one more attempt, or fails it
// when attempts are exhausted.
func (s *Service) retryOrFail(ctx context.Context, logger *slog.Logger, job models.SyncJob, claimedAt time.Time, result *Result, cause error) error {
	ctx = context.WithoutCancel(ctx)
	result.Error = cause.Error()
	if job.CanRetry() {
		result.Outcome = OutcomeRetrying
		logger.Error("sync cycle failed, will retry", "attempts", job.Attempts+1, "max_attempts", job.MaxAttempts, "error", cause)
		s.metrics.RecordJobOutcome(string(OutcomeRetrying))
		if _, err := s.jobs.Requeue(ctx, job.ID, claimedAt, job.Attempts+1, cause.Error()); err != nil {
			return fmt.Errorf("failed to requeue job: %w", err)
		}
		return nil
	}

	result.Outcome = OutcomeFailed
	logger.Error("sync cycle failed, attempts exhausted", "attempts", job.Attempts, "error", cause)
	s.metrics.RecordJobOutcome(string(OutcomeFailed))
	if _, err := s.jobs.Fail(ctx, job.ID, claimedAt, cause.Error(), models.StoreTime(s.clock.Now())); err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	return nil
}

// touched collects the videos that get a snapshot this cycle, one per video.
type touched struct {
	order    []string
	videos   map[string]models.Video
	triggers map[string]models.SnapshotTrigger
}

func newTouched() *touched {
	return &touched{videos: map[string]models.Video{}, triggers: map[string]models.SnapshotTrigger{}}
}

func (t *touched) add(v models.Video, trigger models.SnapshotTrigger) {
	id := v.DocID()
	if _, ok := t.videos[id]; !ok {
		t.order = append(t.order, id)
	}
	t.videos[id] = v
	if _, ok := t.triggers[id]; !ok {
		t.triggers[id] = trigger
	}
}

func (s *Service) cycle(ctx context.Context, logger *slog.Logger, account *models.TrackedAccount, job models.SyncJob, result *Result) error {
	adapter, err := s.adapters.Get(account.Platform)
	if err != nil {
		return err
	}

	existing, err := s.videos.ListByAccount(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("failed to list videos: %w", err)
	}
	stored := make(map[string]models.Video, len(existing))
	known := make(map[string]struct{}, len(existing))
	for _, v := range existing {
		stored[v.VideoID] = v
		known[v.VideoID] = struct{}{}
	}
	oldest := validation.FindOldestUploadDate(existing)
	changes := newTouched()
	refreshTrigger := job.Trigger.SnapshotTrigger()

	// refresh before discovery so the duplicate set is current
	refreshed, err := adapter.Refresh(ctx, account, existing)
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}
	refreshedIDs := make(map[string]struct{}, len(refreshed))
	for _, v := range refreshed {
		prev, ok := stored[v.VideoID]
		if !ok {
			continue
		}
		if err := s.updateStored(ctx, logger, prev, v, refreshTrigger, changes, result); err != nil {
			return err
		}
		refreshedIDs[v.VideoID] = struct{}{}
	}

	discovered, err := platform.Discover(ctx, adapter, account, known, platform.DiscoverOptions{
		Limit:    s.cfg.DiscoveryLimit,
		MaxLimit: s.cfg.DiscoveryMaxLimit,
	})
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}
	result.FoundDuplicate = discovered.FoundDuplicate
	result.Batches = discovered.Batches
	result.Discovered = len(discovered.NewVideos)
	s.metrics.AddDiscovered(string(account.Platform), result.Discovered)

	// stored videos the discovery batch saw again carry fresh metrics too
	for _, v := range discovered.Seen {
		if _, done := refreshedIDs[v.VideoID]; done {
			continue
		}
		if err := s.updateStored(ctx, logger, stored[v.VideoID], v, refreshTrigger, changes, result); err != nil {
			return err
		}
	}

	for _, v := range discovered.NewVideos {
		if validation.ShouldSkipVideoByDate(v.UploadDate, oldest) {
			result.SkippedByDate++
			continue
		}
		if check := validation.ValidateVideo(&v); !check.Valid {
			logger.Warn("skipping invalid video", "video_id", v.VideoID, "errors", check.Errors)
			result.Invalid++
			continue
		}
		created, err := s.videos.Upsert(ctx, v)
		if err != nil {
			return fmt.Errorf("failed to store video %s: %w", v.VideoID, err)
		}
		if created {
			result.Created++
			changes.add(v, models.SnapshotInitialAdd)
		}
	}

	if err := s.writeSnapshots(ctx, changes, result); err != nil {
		return err
	}

	if !discovered.Profile.Empty() {
		profile := discovered.Profile
		if s.persister != nil && profile.ProfilePicURL != "" {
			profile.ProfilePicURL = s.persister.PersistProfilePicture(ctx, account.Platform, account.ID, profile.ProfilePicURL)
		}
		if err := s.accounts.UpdateProfile(ctx, account.ID, profile); err != nil {
			logger.Warn("failed to update profile", "error", err)
		}
	}

	all, err := s.videos.ListByAccount(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("failed to list videos for totals: %w", err)
	}
	if err := s.accounts.UpdateTotals(ctx, account.ID, models.TotalsFromVideos(all)); err != nil {
		return fmt.Errorf("failed to update totals: %w", err)
	}

	if result.Created > 0 {
		if err := s.usage.AdjustUsage(ctx, account.OrgID, account.ProjectID, models.UsageDelta{Videos: int64(result.Created)}); err != nil {
			logger.Warn("failed to increment usage", "videos", result.Created, "error", err)
		}
	}

	if err := s.accounts.MarkSynced(ctx, account.ID, models.StoreTime(s.clock.Now())); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("account deleted during sync: %w", err)
		}
		return fmt.Errorf("failed to mark synced: %w", err)
	}
	return nil
}

// updateStored upserts fresh data for a stored video and marks it for a
// snapshot when its metrics moved.
func (s *Service) updateStored(ctx context.Context, logger *slog.Logger, prev, v models.Video, trigger models.SnapshotTrigger, changes *touched, result *Result) error {
	if check := validation.ValidateVideo(&v); !check.Valid {
		logger.Warn("skipping invalid refreshed video", "video_id", v.VideoID, "errors", check.Errors)
		result.Invalid++
		return nil
	}
	if prev.ThumbnailURL != "" {
		v.ThumbnailURL = ""
	}
	if v.UploadDateEstimated && validation.HasDate(prev.UploadDate) {
		v.UploadDate = prev.UploadDate
		v.UploadDateEstimated = false
	}
	if _, err := s.videos.Upsert(ctx, v); err != nil {
		return fmt.Errorf("failed to update video %s: %w", v.VideoID, err)
	}
	result.Refreshed++
	if prev.Metrics() != v.Metrics() {
		changes.add(v, trigger)
	}
	return nil
}

func (s *Service) writeSnapshots(ctx context.Context, changes *touched, result *Result) error {
	at := models.StoreTime(s.clock.Now())
	for _, id := range changes.order {
		trigger := changes.triggers[id]
		snap := models.NewSnapshot(s.ids.New(), changes.videos[id], trigger, at)
		if err := s.videos.CreateSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("failed to create snapshot for %s: %w", id, err)
		}
		result.Snapshots++
		s.metrics.AddSnapshots(string(trigger), 1)
	}
	return nil
}

func (s *Service) logActivity(ctx context.Context, account *models.TrackedAccount, result Result) {
	if s.activity == nil {
		return
	}
	count := result.Created
	ms := int(result.Duration.Milliseconds())
	message := fmt.Sprintf("Synced @%s: %d new, %d refreshed", account.Username, result.Created, result.Refreshed)
	if result.Outcome != OutcomeCompleted {
		message = fmt.Sprintf("Sync of @%s %s: %s", account.Username, result.Outcome, result.Error)
	}
	entry := models.ActivityLog{
		ID:           s.ids.New(),
		Timestamp:    models.StoreTime(s.clock.Now()),
		ActivityType: models.ActivityTypeSyncCycle,
		Platform:     string(account.Platform),
		AccountID:    account.ID,
		Message:      message,
		ItemCount:    &count,
		DurationMs:   &ms,
		Details: map[string]interface{}{
			"job_id":          result.JobID,
			"outcome":         result.Outcome,
			"snapshots":       result.Snapshots,
			"batches":         result.Batches,
			"found_duplicate": result.FoundDuplicate,
			"skipped_by_date": result.SkippedByDate,
		},
	}
	if err := s.activity.Log(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn("failed to write activity log", "account_id", account.ID, "error", err)
	}
}
