package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/reelpulse/reelpulse/internal/models"
)

type PostgresTrackedAccountRepository struct {
	db *sql.DB
}

func NewPostgresTrackedAccountRepository(db *sql.DB) *PostgresTrackedAccountRepository {
	return &PostgresTrackedAccountRepository{db: db}
}

const accountColumns = `
	id, org_id, project_id, username, platform, platform_user_id, display_name,
	profile_pic_url, follower_count, is_active, last_synced, sync_status, sync_error,
	sync_lock_id, sync_lock_timestamp,
	total_videos, total_views, total_likes, total_comments, total_shares,
	deletion_requested_at, deletion_attempts, deletion_error, created_at, updated_at`

func scanAccount(row scanner) (*models.TrackedAccount, error) {
	var a models.TrackedAccount
	var lastSynced, lockTimestamp, deletionRequested sql.NullTime

	err := row.Scan(
		&a.ID, &a.OrgID, &a.ProjectID, &a.Username, &a.Platform, &a.PlatformUserID, &a.DisplayName,
		&a.ProfilePicURL, &a.FollowerCount, &a.IsActive, &lastSynced, &a.SyncStatus, &a.SyncError,
		&a.SyncLockID, &lockTimestamp,
		&a.Totals.Videos, &a.Totals.Views, &a.Totals.Likes, &a.Totals.Comments, &a.Totals.Shares,
		&deletionRequested, &a.DeletionAttempts, &a.DeletionError, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.LastSynced = nullTime(lastSynced)
	a.SyncLockTimestamp = nullTime(lockTimestamp)
	a.DeletionRequestedAt = nullTime(deletionRequested)
	return &a, nil
}

func (r *PostgresTrackedAccountRepository) Create(ctx context.Context, account *models.TrackedAccount) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if account.SyncStatus == "" {
		account.SyncStatus = models.AccountSyncIdle
	}

	query := `
		INSERT INTO tracked_accounts
		(id, org_id, project_id, username, platform, platform_user_id, display_name,
		 profile_pic_url, follower_count, is_active, sync_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		account.ID,
		account.OrgID,
		account.ProjectID,
		account.Username,
		account.Platform,
		account.PlatformUserID,
		account.DisplayName,
		account.ProfilePicURL,
		account.FollowerCount,
		account.IsActive,
		account.SyncStatus,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create tracked account: %w", err)
	}
	return nil
}

func (r *PostgresTrackedAccountRepository) GetByID(ctx context.Context, id string) (*models.TrackedAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM tracked_accounts WHERE id = $1`

	account, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tracked account: %w", err)
	}
	return account, nil
}

func (r *PostgresTrackedAccountRepository) ListActive(ctx context.Context) ([]*models.TrackedAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM tracked_accounts
		WHERE is_active = true AND deletion_requested_at IS NULL
		ORDER BY created_at ASC`
	return r.query(ctx, query)
}

func (r *PostgresTrackedAccountRepository) ListByProject(ctx context.Context, projectID string) ([]*models.TrackedAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM tracked_accounts
		WHERE project_id = $1
		ORDER BY created_at ASC`
	return r.query(ctx, query, projectID)
}

func (r *PostgresTrackedAccountRepository) ListPendingDeletion(ctx context.Context, maxAttempts, limit int) ([]*models.TrackedAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM tracked_accounts
		WHERE deletion_requested_at IS NOT NULL AND deletion_attempts < $1
		ORDER BY deletion_requested_at ASC
		LIMIT $2`
	return r.query(ctx, query, maxAttempts, limit)
}

func (r *PostgresTrackedAccountRepository) query(ctx context.Context, query string, args ...any) ([]*models.TrackedAccount, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracked accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.TrackedAccount
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tracked account: %w", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (r *PostgresTrackedAccountRepository) exec(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *PostgresTrackedAccountRepository) UpdateSyncStatus(ctx context.Context, id string, status models.AccountSyncStatus, syncErr string) error {
	return r.exec(ctx, `
		UPDATE tracked_accounts SET sync_status = $2, sync_error = $3, updated_at = NOW()
		WHERE id = $1`, id, status, syncErr)
}

func (r *PostgresTrackedAccountRepository) MarkSynced(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, `
		UPDATE tracked_accounts
		SET last_synced = $2, sync_status = 'completed', sync_error = '', updated_at = NOW()
		WHERE id = $1`, id, at)
}

func (r *PostgresTrackedAccountRepository) UpdateProfile(ctx context.Context, id string, profile models.AccountProfile) error {
	// empty values keep the stored ones
	return r.exec(ctx, `
		UPDATE tracked_accounts SET
			platform_user_id = COALESCE(NULLIF($2, ''), platform_user_id),
			display_name = COALESCE(NULLIF($3, ''), display_name),
			follower_count = COALESCE($4, follower_count),
			profile_pic_url = COALESCE(NULLIF($5, ''), profile_pic_url),
			updated_at = NOW()
		WHERE id = $1`,
		id, profile.PlatformUserID, profile.DisplayName, profile.FollowerCount, profile.ProfilePicURL)
}

func (r *PostgresTrackedAccountRepository) UpdateTotals(ctx context.Context, id string, totals models.AccountTotals) error {
	return r.exec(ctx, `
		UPDATE tracked_accounts SET
			total_videos = $2, total_views = $3, total_likes = $4,
			total_comments = $5, total_shares = $6, updated_at = NOW()
		WHERE id = $1`,
		id, totals.Videos, totals.Views, totals.Likes, totals.Comments, totals.Shares)
}

func (r *PostgresTrackedAccountRepository) RequestDeletion(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, `
		UPDATE tracked_accounts
		SET is_active = false, deletion_requested_at = COALESCE(deletion_requested_at, $2), updated_at = NOW()
		WHERE id = $1`, id, at)
}

func (r *PostgresTrackedAccountRepository) RecordDeletionFailure(ctx context.Context, id string, msg string) error {
	return r.exec(ctx, `
		UPDATE tracked_accounts
		SET deletion_attempts = deletion_attempts + 1, deletion_error = $2, updated_at = NOW()
		WHERE id = $1`, id, msg)
}

func (r *PostgresTrackedAccountRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM tracked_accounts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete tracked account: %w", err)
	}
	return nil
}

func (r *PostgresTrackedAccountRepository) GetLease(ctx context.Context, accountID string) (models.Lease, error) {
	var lease models.Lease
	var ts sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT sync_lock_id, sync_lock_timestamp FROM tracked_accounts WHERE id = $1`, accountID,
	).Scan(&lease.ID, &ts)
	if err == sql.ErrNoRows {
		return models.Lease{}, models.ErrNotFound
	}
	if err != nil {
		return models.Lease{}, fmt.Errorf("failed to read lease: %w", err)
	}
	lease.Timestamp = nullTime(ts)
	return lease, nil
}

// SwapLease is a compare-and-set on both lock fields. The row lock taken by
// UPDATE serializes concurrent swaps; the loser sees zero rows affected.
func (r *PostgresTrackedAccountRepository) SwapLease(ctx context.Context, accountID string, expected, next models.Lease) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE tracked_accounts
		SET sync_lock_id = $2, sync_lock_timestamp = $3::timestamptz
		WHERE id = $1
		  AND sync_lock_id = $4
		  AND sync_lock_timestamp IS NOT DISTINCT FROM $5::timestamptz`,
		accountID, next.ID, next.Timestamp, expected.ID, expected.Timestamp)
	if err != nil {
		return false, fmt.Errorf("failed to swap lease: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresTrackedAccountRepository) ClearLease(ctx context.Context, accountID, lockID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE tracked_accounts
		SET sync_lock_id = '', sync_lock_timestamp = NULL
		WHERE id = $1 AND sync_lock_id = $2`, accountID, lockID)
	if err != nil {
		return false, fmt.Errorf("failed to clear lease: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
