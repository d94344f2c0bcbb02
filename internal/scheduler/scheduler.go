// Package scheduler runs the periodic triggers of the pipeline: the queue
// dispatch tick, the scheduled sync fan-out and the cleanup sweep. Each
// scheduler is a supervised service whose Serve blocks until its context ends.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/reelpulse/reelpulse/internal/cleanup"
	"github.com/reelpulse/reelpulse/internal/models"
	"github.com/reelpulse/reelpulse/internal/queue"
)

// Ticker runs one queue dispatch pass.
type Ticker interface {
	Tick(ctx context.Context) (queue.TickResult, error)
}

// Enqueuer creates sync jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (*models.SyncJob, bool, error)
}

// Sweeper runs one cleanup sweep.
type Sweeper interface {
	Sweep(ctx context.Context) (cleanup.SweepResult, error)
}

// every runs fn immediately and then on each tick until ctx is cancelled.
func every(ctx context.Context, name string, interval time.Duration, logger *slog.Logger, fn func(context.Context)) error {
	logger.Info("starting scheduler", "scheduler", name, "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fn(ctx)
	for {
		select {
		case <-ticker.C:
			fn(ctx)
		case <-ctx.Done():
			logger.Info("scheduler stopped", "scheduler", name)
			return ctx.Err()
		}
	}
}

// TickScheduler drives the queue dispatch loop.
type TickScheduler struct {
	queue    Ticker
	interval time.Duration
	logger   *slog.Logger
}

func NewTickScheduler(q Ticker, interval time.Duration, logger *slog.Logger) *TickScheduler {
	return &TickScheduler{queue: q, interval: interval, logger: logger}
}

func (s *TickScheduler) Serve(ctx context.Context) error {
	return every(ctx, s.String(), s.interval, s.logger, s.tick)
}

func (s *TickScheduler) tick(ctx context.Context) {
	result, err := s.queue.Tick(ctx)
	if err != nil {
		s.logger.Error("queue tick failed", "error", err)
		return
	}
	if result.Idle {
		s.logger.Debug("queue idle", "cleaned_up", result.CleanedUp)
		return
	}
	s.logger.Info("queue tick",
		"dispatched", result.Dispatched,
		"validated", result.Validated,
		"marked_completed", result.MarkedCompleted,
		"marked_failed", result.MarkedFailed,
		"requeued", result.Requeued,
		"pending_remaining", result.PendingRemaining)
}

func (s *TickScheduler) String() string { return "queue-tick" }

// SyncScheduler enqueues a scheduled sync for every active account that has
// not synced within the sync interval. Accounts that already have a pending
// or running job are left alone by the queue's de-duplication.
type SyncScheduler struct {
	accounts      models.TrackedAccountRepository
	queue         Enqueuer
	clock         models.Clock
	syncInterval  time.Duration
	checkInterval time.Duration
	logger        *slog.Logger
}

func NewSyncScheduler(
	accounts models.TrackedAccountRepository,
	q Enqueuer,
	clock models.Clock,
	syncInterval, checkInterval time.Duration,
	logger *slog.Logger,
) *SyncScheduler {
	if clock == nil {
		clock = models.RealClock{}
	}
	return &SyncScheduler{
		accounts:      accounts,
		queue:         q,
		clock:         clock,
		syncInterval:  syncInterval,
		checkInterval: checkInterval,
		logger:        logger,
	}
}

func (s *SyncScheduler) Serve(ctx context.Context) error {
	return every(ctx, s.String(), s.checkInterval, s.logger, func(ctx context.Context) {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("scheduled sync fan-out failed", "error", err)
		}
	})
}

// RunOnce enqueues due accounts and returns how many jobs were created.
func (s *SyncScheduler) RunOnce(ctx context.Context) (int, error) {
	accounts, err := s.accounts.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active accounts: %w", err)
	}

	cutoff := s.clock.Now().Add(-s.syncInterval)
	created := 0
	for _, account := range accounts {
		trigger := models.JobTriggerScheduled
		switch {
		case account.LastSynced == nil:
			trigger = models.JobTriggerInitial
		case account.LastSynced.After(cutoff):
			continue
		}

		_, isNew, err := s.queue.Enqueue(ctx, queue.EnqueueRequest{
			AccountID: account.ID,
			Trigger:   trigger,
			Priority:  models.PriorityScheduled,
		})
		if err != nil {
			s.logger.Warn("failed to enqueue scheduled sync", "account_id", account.ID, "error", err)
			continue
		}
		if isNew {
			created++
		}
	}

	if created > 0 {
		s.logger.Info("scheduled syncs enqueued", "count", created, "active_accounts", len(accounts))
	}
	return created, nil
}

func (s *SyncScheduler) String() string { return "sync-scheduler" }

// CleanupScheduler runs the deletion sweep.
type CleanupScheduler struct {
	sweeper  Sweeper
	interval time.Duration
	logger   *slog.Logger
}

func NewCleanupScheduler(sweeper Sweeper, interval time.Duration, logger *slog.Logger) *CleanupScheduler {
	return &CleanupScheduler{sweeper: sweeper, interval: interval, logger: logger}
}

func (s *CleanupScheduler) Serve(ctx context.Context) error {
	return every(ctx, s.String(), s.interval, s.logger, func(ctx context.Context) {
		if _, err := s.sweeper.Sweep(ctx); err != nil {
			s.logger.Error("cleanup sweep failed", "error", err)
		}
	})
}

func (s *CleanupScheduler) String() string { return "cleanup-sweep" }
