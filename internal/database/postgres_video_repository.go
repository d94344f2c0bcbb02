package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/reelpulse/reelpulse/internal/models"
)

// PostgresVideoRepository implements models.VideoRepository.
type PostgresVideoRepository struct {
	db *sql.DB
}

func NewPostgresVideoRepository(db *sql.DB) *PostgresVideoRepository {
	return &PostgresVideoRepository{db: db}
}

const videoColumns = `
	id, video_id, platform, account_id, org_id, project_id, url, caption, thumbnail_url,
	views, likes, comments, shares, saves, upload_date, last_refreshed_at, status,
	created_at, updated_at`

func scanVideo(row scanner) (models.Video, error) {
	var v models.Video
	err := row.Scan(
		&v.ID, &v.VideoID, &v.Platform, &v.AccountID, &v.OrgID, &v.ProjectID, &v.URL, &v.Caption, &v.ThumbnailURL,
		&v.Views, &v.Likes, &v.Comments, &v.Shares, &v.Saves, &v.UploadDate, &v.LastRefreshedAt, &v.Status,
		&v.CreatedAt, &v.UpdatedAt,
	)
	return v, err
}

func (r *PostgresVideoRepository) ListByAccount(ctx context.Context, accountID string) ([]models.Video, error) {
	query := `SELECT ` + videoColumns + ` FROM videos WHERE account_id = $1 ORDER BY upload_date DESC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	defer rows.Close()

	var videos []models.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan video: %w", err)
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

func (r *PostgresVideoRepository) GetByID(ctx context.Context, id string) (*models.Video, error) {
	v, err := scanVideo(r.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}
	return &v, nil
}

// Upsert keys on the composite id. xmax = 0 only for freshly inserted rows.
func (r *PostgresVideoRepository) Upsert(ctx context.Context, video models.Video) (bool, error) {
	video.ID = video.DocID()
	if video.Status == "" {
		video.Status = models.VideoStatusActive
	}

	query := `
		INSERT INTO videos
		(id, video_id, platform, account_id, org_id, project_id, url, caption, thumbnail_url,
		 views, likes, comments, shares, saves, upload_date, last_refreshed_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			views = EXCLUDED.views,
			likes = EXCLUDED.likes,
			comments = EXCLUDED.comments,
			shares = EXCLUDED.shares,
			saves = EXCLUDED.saves,
			last_refreshed_at = EXCLUDED.last_refreshed_at,
			url = COALESCE(NULLIF(EXCLUDED.url, ''), videos.url),
			caption = COALESCE(NULLIF(EXCLUDED.caption, ''), videos.caption),
			thumbnail_url = COALESCE(NULLIF(EXCLUDED.thumbnail_url, ''), videos.thumbnail_url),
			upload_date = CASE WHEN EXCLUDED.upload_date > 'epoch'::timestamptz
				THEN EXCLUDED.upload_date ELSE videos.upload_date END,
			updated_at = NOW()
		RETURNING (xmax = 0)
	`

	var created bool
	err := r.db.QueryRowContext(ctx, query,
		video.ID, video.VideoID, video.Platform, video.AccountID, video.OrgID, video.ProjectID,
		video.URL, video.Caption, video.ThumbnailURL,
		video.Views, video.Likes, video.Comments, video.Shares, video.Saves,
		video.UploadDate, video.LastRefreshedAt, video.Status,
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("failed to upsert video %s: %w", video.ID, err)
	}
	return created, nil
}

func (r *PostgresVideoRepository) CreateSnapshot(ctx context.Context, snapshot models.Snapshot) error {
	if snapshot.ID == "" {
		snapshot.ID = uuid.New().String()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO video_snapshots
		(id, video_id, account_id, views, likes, comments, shares, saves, captured_at, captured_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		snapshot.ID, snapshot.VideoID, snapshot.AccountID,
		snapshot.Views, snapshot.Likes, snapshot.Comments, snapshot.Shares, snapshot.Saves,
		snapshot.CapturedAt, snapshot.CapturedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	return nil
}

func (r *PostgresVideoRepository) ListSnapshots(ctx context.Context, videoID string) ([]models.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, video_id, account_id, views, likes, comments, shares, saves, captured_at, captured_by
		FROM video_snapshots WHERE video_id = $1 ORDER BY captured_at ASC`, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []models.Snapshot
	for rows.Next() {
		var s models.Snapshot
		if err := rows.Scan(&s.ID, &s.VideoID, &s.AccountID, &s.Views, &s.Likes, &s.Comments,
			&s.Shares, &s.Saves, &s.CapturedAt, &s.CapturedBy); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

// DeleteSnapshots removes snapshots of the given videos, one transaction per
// batch of snapshot ids.
func (r *PostgresVideoRepository) DeleteSnapshots(ctx context.Context, videoIDs []string) (int, error) {
	var snapshotIDs []string
	for _, batch := range chunkIDs(videoIDs) {
		rows, err := r.db.QueryContext(ctx, `SELECT id FROM video_snapshots WHERE video_id = ANY($1)`, pq.Array(batch))
		if err != nil {
			return 0, fmt.Errorf("failed to list snapshots for deletion: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return 0, err
			}
			snapshotIDs = append(snapshotIDs, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return 0, err
		}
	}
	return r.deleteBatched(ctx, "video_snapshots", snapshotIDs)
}

func (r *PostgresVideoRepository) DeleteVideos(ctx context.Context, videoIDs []string) (int, error) {
	return r.deleteBatched(ctx, "videos", videoIDs)
}

func (r *PostgresVideoRepository) deleteBatched(ctx context.Context, table string, ids []string) (int, error) {
	deleted := 0
	for _, batch := range chunkIDs(ids) {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return deleted, fmt.Errorf("failed to begin delete batch: %w", err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ANY($1)`, pq.Array(batch))
		if err != nil {
			tx.Rollback()
			return deleted, fmt.Errorf("failed to delete from %s: %w", table, err)
		}
		if err := tx.Commit(); err != nil {
			return deleted, fmt.Errorf("failed to commit delete batch: %w", err)
		}
		n, _ := result.RowsAffected()
		deleted += int(n)
	}
	return deleted, nil
}
