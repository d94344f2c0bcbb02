package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/reelpulse/reelpulse/internal/models"
)

const maxActivityRows = 1000

// PostgresActivityLogRepository stores the activity feed of sync cycles,
// queue ticks and deletions.
type PostgresActivityLogRepository struct {
	db *sql.DB
}

func NewPostgresActivityLogRepository(db *sql.DB) *PostgresActivityLogRepository {
	return &PostgresActivityLogRepository{db: db}
}

func (r *PostgresActivityLogRepository) Log(ctx context.Context, entry models.ActivityLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	details, err := marshalDetails(entry.Details)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO activity_logs (id, timestamp, activity_type, platform, account_id, message, details, item_count, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.Timestamp, entry.ActivityType, entry.Platform, entry.AccountID,
		entry.Message, details, entry.ItemCount, entry.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity %s: %w", entry.ActivityType, err)
	}
	return nil
}

// List returns the newest entries first. Empty filters match everything and
// the platform filter ignores case.
func (r *PostgresActivityLogRepository) List(ctx context.Context, limit int, activityType string, platform string) ([]models.ActivityLog, error) {
	if limit <= 0 || limit > maxActivityRows {
		limit = maxActivityRows
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, timestamp, activity_type, platform, account_id, message, details, item_count, duration_ms
		FROM activity_logs
		WHERE ($1::text = '' OR activity_type = $1::text)
		  AND ($2::text = '' OR lower(platform) = lower($2::text))
		ORDER BY timestamp DESC
		LIMIT $3`,
		activityType, platform, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer rows.Close()

	entries := []models.ActivityLog{}
	for rows.Next() {
		entry, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *PostgresActivityLogRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM activity_logs WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to trim activity: %w", err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func scanActivity(row scanner) (models.ActivityLog, error) {
	var (
		entry                 models.ActivityLog
		details               []byte
		itemCount, durationMs sql.NullInt64
	)
	err := row.Scan(&entry.ID, &entry.Timestamp, &entry.ActivityType, &entry.Platform, &entry.AccountID,
		&entry.Message, &details, &itemCount, &durationMs)
	if err != nil {
		return entry, fmt.Errorf("failed to scan activity: %w", err)
	}
	entry.ItemCount = nullInt(itemCount)
	entry.DurationMs = nullInt(durationMs)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &entry.Details); err != nil {
			return entry, fmt.Errorf("failed to decode activity details: %w", err)
		}
	}
	return entry, nil
}

func marshalDetails(details map[string]interface{}) ([]byte, error) {
	if len(details) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("failed to encode activity details: %w", err)
	}
	return b, nil
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
