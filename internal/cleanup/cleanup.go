// Package cleanup deletes accounts, projects and videos together with
// everything that hangs off them, and sweeps soft-deleted accounts.
//
// Cascades run in dependency order: snapshots, stored images, videos, the
// owning document, usage counters, queued jobs. Image deletion failures are
// logged and skipped; document deletion failures abort the cascade so the
// sweep can retry it.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reelpulse/reelpulse/internal/metrics"
	"github.com/reelpulse/reelpulse/internal/models"
	"github.com/reelpulse/reelpulse/internal/storage"
)

// Config bounds the sweep.
type Config struct {
	MaxAttempts       int
	BatchSize         int
	ActivityRetention time.Duration // zero keeps activity entries forever
}

func DefaultConfig() Config {
	return Config{MaxAttempts: 3, BatchSize: 25, ActivityRetention: 30 * 24 * time.Hour}
}

// Report counts what a cascade removed.
type Report struct {
	Accounts      int `json:"accounts_deleted"`
	Videos        int `json:"videos_deleted"`
	Snapshots     int `json:"snapshots_deleted"`
	Objects       int `json:"objects_deleted"`
	ObjectErrors  int `json:"object_errors"`
	JobsCancelled int `json:"jobs_cancelled"`
}

func (r *Report) add(o Report) {
	r.Accounts += o.Accounts
	r.Videos += o.Videos
	r.Snapshots += o.Snapshots
	r.Objects += o.Objects
	r.ObjectErrors += o.ObjectErrors
	r.JobsCancelled += o.JobsCancelled
}

// Service runs deletion cascades.
type Service struct {
	accounts  models.TrackedAccountRepository
	videos    models.VideoRepository
	jobs      models.SyncJobRepository
	usage     models.UsageRepository
	activity  models.ActivityLogRepository
	persister *storage.Persister
	clock     models.Clock
	ids       models.IDGenerator
	metrics   *metrics.Pipeline
	logger    *slog.Logger
	cfg       Config
}

// Deps are the collaborators of Service. Persister, Activity and Metrics may be nil.
type Deps struct {
	Accounts  models.TrackedAccountRepository
	Videos    models.VideoRepository
	Jobs      models.SyncJobRepository
	Usage     models.UsageRepository
	Activity  models.ActivityLogRepository
	Persister *storage.Persister
	Clock     models.Clock
	IDs       models.IDGenerator
	Metrics   *metrics.Pipeline
	Logger    *slog.Logger
}

func NewService(deps Deps, cfg Config) *Service {
	defaults := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
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
		persister: deps.Persister,
		clock:     deps.Clock,
		ids:       deps.IDs,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		cfg:       cfg,
	}
}

// DeleteAccount removes an account of a project immediately.
func (s *Service) DeleteAccount(ctx context.Context, projectID, accountID string) (Report, error) {
	account, err := s.loadAccount(ctx, projectID, accountID)
	if err != nil {
		return Report{}, err
	}
	start := s.clock.Now()
	report, err := s.deleteAccount(ctx, account)
	s.logDeletion(ctx, fmt.Sprintf("Deleted account @%s", account.Username), account, report, start, err)
	return report, err
}

// RequestAccountDeletion soft-deletes an account and cancels its jobs. The
// cascade itself is left to Sweep.
func (s *Service) RequestAccountDeletion(ctx context.Context, projectID, accountID string) (int, error) {
	account, err := s.loadAccount(ctx, projectID, accountID)
	if err != nil {
		return 0, err
	}
	if err := s.accounts.RequestDeletion(ctx, account.ID, models.StoreTime(s.clock.Now())); err != nil {
		return 0, fmt.Errorf("failed to request deletion: %w", err)
	}
	cancelled, err := s.jobs.DeleteActiveForAccount(ctx, account.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel jobs: %w", err)
	}
	s.logger.Info("account deletion requested", "account_id", account.ID, "jobs_cancelled", cancelled)
	return cancelled, nil
}

func (s *Service) loadAccount(ctx context.Context, projectID, accountID string) (*models.TrackedAccount, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if account == nil || (projectID != "" && account.ProjectID != projectID) {
		return nil, fmt.Errorf("account %s: %w", accountID, models.ErrNotFound)
	}
	return account, nil
}

func (s *Service) deleteAccount(ctx context.Context, account *models.TrackedAccount) (Report, error) {
	var report Report
	logger := s.logger.With("account_id", account.ID, "platform", string(account.Platform))

	videos, err := s.videos.ListByAccount(ctx, account.ID)
	if err != nil {
		return report, fmt.Errorf("failed to list videos: %w", err)
	}
	ids := make([]string, len(videos))
	for i, v := range videos {
		ids[i] = v.ID
	}

	report.Snapshots, err = s.videos.DeleteSnapshots(ctx, ids)
	if err != nil {
		return report, fmt.Errorf("failed to delete snapshots: %w", err)
	}

	keys := make([]string, 0, len(videos)+1)
	for _, v := range videos {
		keys = append(keys, storage.ThumbnailKey(account.Platform, account.ID, v.VideoID))
	}
	keys = append(keys, storage.ProfilePictureKey(account.Platform, account.ID))
	s.deleteObjects(ctx, logger, keys, &report)

	report.Videos, err = s.videos.DeleteVideos(ctx, ids)
	if err != nil {
		// committed batches stay deleted
		s.adjustUsage(ctx, logger, account.OrgID, account.ProjectID, models.UsageDelta{Videos: -int64(report.Videos)})
		return report, fmt.Errorf("failed to delete videos: %w", err)
	}

	if err := s.accounts.Delete(ctx, account.ID); err != nil {
		// the videos are gone either way
		s.adjustUsage(ctx, logger, account.OrgID, account.ProjectID, models.UsageDelta{Videos: -int64(report.Videos)})
		return report, fmt.Errorf("failed to delete account: %w", err)
	}
	report.Accounts = 1

	s.adjustUsage(ctx, logger, account.OrgID, account.ProjectID, models.UsageDelta{
		Accounts: -1,
		Videos:   -int64(report.Videos),
	})

	report.JobsCancelled, err = s.jobs.DeleteActiveForAccount(ctx, account.ID)
	if err != nil {
		logger.Warn("failed to cancel jobs of deleted account", "error", err)
	}

	s.record(report)
	logger.Info("account deleted",
		"videos", report.Videos,
		"snapshots", report.Snapshots,
		"objects", report.Objects,
		"object_errors", report.ObjectErrors,
		"jobs_cancelled", report.JobsCancelled)
	return report, nil
}

func (s *Service) deleteObjects(ctx context.Context, logger *slog.Logger, keys []string, report *Report) {
	if s.persister == nil {
		return
	}
	for _, key := range keys {
		if err := s.persister.Delete(ctx, key); err != nil {
			report.ObjectErrors++
			logger.Warn("failed to delete stored object", "key", key, "error", err)
			continue
		}
		report.Objects++
	}
}

func (s *Service) adjustUsage(ctx context.Context, logger *slog.Logger, orgID, projectID string, delta models.UsageDelta) {
	if delta.Zero() {
		return
	}
	if err := s.usage.AdjustUsage(ctx, orgID, projectID, delta); err != nil {
		logger.Error("failed to adjust usage counters", "accounts", delta.Accounts, "videos", delta.Videos, "error", err)
	}
}

func (s *Service) record(r Report) {
	s.metrics.AddCleanupDeleted("accounts", r.Accounts)
	s.metrics.AddCleanupDeleted("videos", r.Videos)
	s.metrics.AddCleanupDeleted("snapshots", r.Snapshots)
	s.metrics.AddCleanupDeleted("objects", r.Objects)
}

// DeleteProject removes every account of a project, then the project.
func (s *Service) DeleteProject(ctx context.Context, projectID string) (Report, error) {
	var report Report
	project, err := s.usage.GetProject(ctx, projectID)
	if err != nil {
		return report, fmt.Errorf("failed to load project: %w", err)
	}
	if project == nil {
		return report, fmt.Errorf("project %s: %w", projectID, models.ErrNotFound)
	}
	start := s.clock.Now()
	logger := s.logger.With("project_id", projectID)

	accounts, err := s.accounts.ListByProject(ctx, projectID)
	if err != nil {
		return report, fmt.Errorf("failed to list accounts: %w", err)
	}
	for _, account := range accounts {
		r, err := s.deleteAccount(ctx, account)
		report.add(r)
		if err != nil {
			return report, fmt.Errorf("failed to delete account %s: %w", account.ID, err)
		}
	}

	if err := s.usage.DeleteProject(ctx, projectID); err != nil {
		return report, fmt.Errorf("failed to delete project: %w", err)
	}
	cancelled, err := s.jobs.DeleteActiveForProject(ctx, projectID)
	if err != nil {
		logger.Warn("failed to cancel jobs of deleted project", "error", err)
	}
	report.JobsCancelled += cancelled

	logger.Info("project deleted", "accounts", report.Accounts, "videos", report.Videos)
	s.logDeletion(ctx, fmt.Sprintf("Deleted project %s", project.Name), nil, report, start, nil)
	return report, nil
}

// DeleteVideo removes one video by composite id and refreshes the owning
// account's totals.
func (s *Service) DeleteVideo(ctx context.Context, projectID, videoID string) (Report, error) {
	var report Report
	video, err := s.videos.GetByID(ctx, videoID)
	if err != nil {
		return report, fmt.Errorf("failed to load video: %w", err)
	}
	if video == nil || (projectID != "" && video.ProjectID != projectID) {
		return report, fmt.Errorf("video %s: %w", videoID, models.ErrNotFound)
	}
	logger := s.logger.With("video_id", video.ID, "account_id", video.AccountID)

	report.Snapshots, err = s.videos.DeleteSnapshots(ctx, []string{video.ID})
	if err != nil {
		return report, fmt.Errorf("failed to delete snapshots: %w", err)
	}
	s.deleteObjects(ctx, logger, []string{storage.ThumbnailKey(video.Platform, video.AccountID, video.VideoID)}, &report)

	report.Videos, err = s.videos.DeleteVideos(ctx, []string{video.ID})
	if err != nil {
		return report, fmt.Errorf("failed to delete video: %w", err)
	}
	s.adjustUsage(ctx, logger, video.OrgID, video.ProjectID, models.UsageDelta{Videos: -int64(report.Videos)})

	remaining, err := s.videos.ListByAccount(ctx, video.AccountID)
	if err != nil {
		logger.Warn("failed to recompute totals", "error", err)
	} else if err := s.accounts.UpdateTotals(ctx, video.AccountID, models.TotalsFromVideos(remaining)); err != nil && !errors.Is(err, models.ErrNotFound) {
		logger.Warn("failed to recompute totals", "error", err)
	}

	s.record(report)
	logger.Info("video deleted", "snapshots", report.Snapshots)
	return report, nil
}

// SweepResult reports one sweep.
type SweepResult struct {
	Report
	Processed       int `json:"processed"`
	Failed          int `json:"failed"`
	ActivityTrimmed int `json:"activity_trimmed"`
}

// Sweep runs the cascade for soft-deleted accounts whose previous attempts
// have not exhausted the retry budget. Failures are recorded on the account
// and retried by later sweeps.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	start := s.clock.Now()

	pending, err := s.accounts.ListPendingDeletion(ctx, s.cfg.MaxAttempts, s.cfg.BatchSize)
	if err != nil {
		return result, fmt.Errorf("failed to list pending deletions: %w", err)
	}
	for _, account := range pending {
		result.Processed++
		report, err := s.deleteAccount(ctx, account)
		result.add(report)
		if err == nil {
			continue
		}
		result.Failed++
		s.logger.Error("deletion cascade failed",
			"account_id", account.ID,
			"attempt", account.DeletionAttempts+1,
			"max_attempts", s.cfg.MaxAttempts,
			"error", err)
		if recErr := s.accounts.RecordDeletionFailure(ctx, account.ID, err.Error()); recErr != nil {
			s.logger.Error("failed to record deletion failure", "account_id", account.ID, "error", recErr)
		}
	}

	if s.activity != nil && s.cfg.ActivityRetention > 0 {
		trimmed, err := s.activity.DeleteBefore(ctx, models.StoreTime(s.clock.Now().Add(-s.cfg.ActivityRetention)))
		if err != nil {
			s.logger.Warn("failed to trim activity log", "error", err)
		}
		result.ActivityTrimmed = trimmed
	}

	if result.Processed > 0 {
		s.logger.Info("cleanup sweep finished", "processed", result.Processed, "failed", result.Failed, "videos", result.Videos)
		s.logEntry(ctx, models.ActivityTypeCleanupSweep,
			fmt.Sprintf("Cleanup sweep removed %d accounts, %d failed", result.Accounts, result.Failed),
			nil, result.Report, start)
	}
	return result, nil
}

func (s *Service) logDeletion(ctx context.Context, message string, account *models.TrackedAccount, report Report, start time.Time, err error) {
	if err != nil {
		message = fmt.Sprintf("%s failed: %v", message, err)
	}
	s.logEntry(ctx, models.ActivityTypeDeletion, message, account, report, start)
}

func (s *Service) logEntry(ctx context.Context, kind models.ActivityType, message string, account *models.TrackedAccount, report Report, start time.Time) {
	if s.activity == nil {
		return
	}
	count := report.Videos
	ms := int(s.clock.Now().Sub(start).Milliseconds())
	entry := models.ActivityLog{
		ID:           s.ids.New(),
		Timestamp:    models.StoreTime(s.clock.Now()),
		ActivityType: kind,
		Message:      message,
		ItemCount:    &count,
		DurationMs:   &ms,
		Details: map[string]interface{}{
			"accounts":       report.Accounts,
			"snapshots":      report.Snapshots,
			"objects":        report.Objects,
			"object_errors":  report.ObjectErrors,
			"jobs_cancelled": report.JobsCancelled,
		},
	}
	if account != nil {
		entry.Platform = string(account.Platform)
		entry.AccountID = account.ID
	}
	if err := s.activity.Log(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn("failed to write activity log", "error", err)
	}
}
