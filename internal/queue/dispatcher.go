package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/reelpulse/reelpulse/internal/accountsync"
	"github.com/reelpulse/reelpulse/internal/models"
)

// JobRunner executes one claimed job and reports its outcome on the job.
type JobRunner interface {
	RunJob(ctx context.Context, job models.SyncJob) (accountsync.Result, error)
}

// AsyncDispatcher runs each job on its own goroutine bounded by the job
// timeout. The tick's context does not cancel dispatched jobs.
type AsyncDispatcher struct {
	runner  JobRunner
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func NewAsyncDispatcher(runner JobRunner, timeout time.Duration, logger *slog.Logger) *AsyncDispatcher {
	return &AsyncDispatcher{runner: runner, timeout: timeout, logger: logger}
}

func (d *AsyncDispatcher) Dispatch(ctx context.Context, jobs []models.SyncJob) {
	base := context.WithoutCancel(ctx)
	for _, job := range jobs {
		d.wg.Add(1)
		go func(job models.SyncJob) {
			defer d.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("sync cycle panicked", "job_id", job.ID, "panic", r)
				}
			}()

			jobCtx, cancel := context.WithTimeout(base, d.timeout)
			defer cancel()
			if _, err := d.runner.RunJob(jobCtx, job); err != nil {
				d.logger.Error("failed to record job outcome", "job_id", job.ID, "account_id", job.AccountID, "error", err)
			}
		}(job)
	}
}

// Wait blocks until every dispatched job has returned.
func (d *AsyncDispatcher) Wait() {
	d.wg.Wait()
}
