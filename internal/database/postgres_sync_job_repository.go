package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/reelpulse/reelpulse/internal/models"
)

// PostgresSyncJobRepository is the persistent sync queue.
type PostgresSyncJobRepository struct {
	db *sql.DB
}

func NewPostgresSyncJobRepository(db *sql.DB) *PostgresSyncJobRepository {
	return &PostgresSyncJobRepository{db: db}
}

const jobColumns = `
	id, status, org_id, project_id, account_id, trigger, priority, attempts, max_attempts,
	created_at, started_at, completed_at, error`

func scanJob(row scanner) (models.SyncJob, error) {
	var j models.SyncJob
	var startedAt, completedAt sql.NullTime
	err := row.Scan(
		&j.ID, &j.Status, &j.OrgID, &j.ProjectID, &j.AccountID, &j.Trigger, &j.Priority, &j.Attempts, &j.MaxAttempts,
		&j.CreatedAt, &startedAt, &completedAt, &j.Error,
	)
	if err != nil {
		return j, err
	}
	j.CreatedAt = j.CreatedAt.UTC()
	j.StartedAt = nullTime(startedAt)
	j.CompletedAt = nullTime(completedAt)
	return j, nil
}

func (r *PostgresSyncJobRepository) queryJobs(ctx context.Context, query string, args ...any) ([]models.SyncJob, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.SyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *PostgresSyncJobRepository) Create(ctx context.Context, job *models.SyncJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = models.StoreTime(time.Now())
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_jobs
		(id, status, org_id, project_id, account_id, trigger, priority, attempts, max_attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.Status, job.OrgID, job.ProjectID, job.AccountID, job.Trigger,
		job.Priority, job.Attempts, job.MaxAttempts, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync job: %w", err)
	}
	return nil
}

func (r *PostgresSyncJobRepository) GetByID(ctx context.Context, id string) (*models.SyncJob, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM sync_jobs WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync job: %w", err)
	}
	return &job, nil
}

func (r *PostgresSyncJobRepository) FindActiveForAccount(ctx context.Context, accountID string) (*models.SyncJob, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM sync_jobs
		WHERE account_id = $1 AND status IN ('pending', 'running')
		ORDER BY (status = 'running') DESC, created_at ASC
		LIMIT 1`, accountID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active job: %w", err)
	}
	return &job, nil
}

func (r *PostgresSyncJobRepository) UpdatePriority(ctx context.Context, id string, priority int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sync_jobs SET priority = $2 WHERE id = $1 AND status = 'pending'`, id, priority)
	return err
}

func (r *PostgresSyncJobRepository) countBy(ctx context.Context, query string, args ...any) (map[models.JobStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count sync jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int)
	for rows.Next() {
		var status models.JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *PostgresSyncJobRepository) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	return r.countBy(ctx, `SELECT status, COUNT(*) FROM sync_jobs GROUP BY status`)
}

func (r *PostgresSyncJobRepository) CountFinishedSince(ctx context.Context, since time.Time) (map[models.JobStatus]int, error) {
	return r.countBy(ctx, `
		SELECT status, COUNT(*) FROM sync_jobs
		WHERE completed_at >= $1
		GROUP BY status`, since)
}

func (r *PostgresSyncJobRepository) ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]models.SyncJob, error) {
	query := `SELECT ` + jobColumns + ` FROM sync_jobs WHERE status = $1
		ORDER BY priority DESC, created_at ASC, id ASC`
	args := []any{status}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	jobs, err := r.queryJobs(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s jobs: %w", status, err)
	}
	return jobs, nil
}

// ClaimPending atomically claims the highest-priority pending jobs.
// SKIP LOCKED keeps concurrent ticks from claiming the same rows.
func (r *PostgresSyncJobRepository) ClaimPending(ctx context.Context, limit int, at time.Time) ([]models.SyncJob, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		UPDATE sync_jobs
		SET status = 'running', started_at = $2
		WHERE id IN (
			SELECT id FROM sync_jobs
			WHERE status = 'pending'
			ORDER BY priority DESC, created_at ASC, id ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	jobs, err := r.queryJobs(ctx, query, limit, at)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending jobs: %w", err)
	}
	return jobs, nil
}

// transition updates a running job only while started_at still matches the
// claim, so a worker that lost its job to the timeout sweep cannot overwrite it.
// A zero claimedAt matches a running job without a start time.
func (r *PostgresSyncJobRepository) transition(ctx context.Context, set string, id string, claimedAt time.Time, args ...any) (bool, error) {
	query := `UPDATE sync_jobs SET ` + set + `
		WHERE id = $1 AND status = 'running' AND started_at IS NOT DISTINCT FROM $2`
	started := sql.NullTime{Time: claimedAt, Valid: !claimedAt.IsZero()}
	result, err := r.db.ExecContext(ctx, query, append([]any{id, started}, args...)...)
	if err != nil {
		return false, fmt.Errorf("failed to update sync job %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresSyncJobRepository) Complete(ctx context.Context, id string, claimedAt time.Time, at time.Time) (bool, error) {
	return r.transition(ctx, `status = 'completed', completed_at = $3, error = ''`, id, claimedAt, at)
}

func (r *PostgresSyncJobRepository) Fail(ctx context.Context, id string, claimedAt time.Time, msg string, at time.Time) (bool, error) {
	return r.transition(ctx, `status = 'failed', completed_at = $3, error = $4`, id, claimedAt, at, msg)
}

func (r *PostgresSyncJobRepository) Requeue(ctx context.Context, id string, claimedAt time.Time, attempts int, msg string) (bool, error) {
	return r.transition(ctx, `status = 'pending', started_at = NULL, attempts = $3, error = $4`, id, claimedAt, attempts, msg)
}

func (r *PostgresSyncJobRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sync_jobs WHERE id = $1`, id)
	return err
}

func (r *PostgresSyncJobRepository) deleteWhere(ctx context.Context, query string, args ...any) (int, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sync jobs: %w", err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (r *PostgresSyncJobRepository) DeleteByStatus(ctx context.Context, status models.JobStatus) (int, error) {
	return r.deleteWhere(ctx, `DELETE FROM sync_jobs WHERE status = $1`, status)
}

func (r *PostgresSyncJobRepository) DeleteActiveForAccount(ctx context.Context, accountID string) (int, error) {
	return r.deleteWhere(ctx,
		`DELETE FROM sync_jobs WHERE account_id = $1 AND status IN ('pending', 'running')`, accountID)
}

func (r *PostgresSyncJobRepository) DeleteActiveForProject(ctx context.Context, projectID string) (int, error) {
	return r.deleteWhere(ctx,
		`DELETE FROM sync_jobs WHERE project_id = $1 AND status IN ('pending', 'running')`, projectID)
}
