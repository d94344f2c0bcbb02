package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/reelpulse/reelpulse/internal/models"
)

// PostgresUsageRepository stores organizations, projects and usage counters.
type PostgresUsageRepository struct {
	db *sql.DB
}

func NewPostgresUsageRepository(db *sql.DB) *PostgresUsageRepository {
	return &PostgresUsageRepository{db: db}
}

func (r *PostgresUsageRepository) CreateOrganization(ctx context.Context, org *models.Organization) error {
	if org.ID == "" {
		org.ID = uuid.New().String()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO organizations (id, name, tracked_accounts, tracked_videos)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		org.ID, org.Name, org.TrackedAccounts, org.TrackedVideos,
	).Scan(&org.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

func (r *PostgresUsageRepository) CreateProject(ctx context.Context, project *models.Project) error {
	if project.ID == "" {
		project.ID = uuid.New().String()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO projects (id, org_id, name, account_count, video_count)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		project.ID, project.OrgID, project.Name, project.AccountCount, project.VideoCount,
	).Scan(&project.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

func (r *PostgresUsageRepository) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	var org models.Organization
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, tracked_accounts, tracked_videos, created_at
		FROM organizations WHERE id = $1`, id,
	).Scan(&org.ID, &org.Name, &org.TrackedAccounts, &org.TrackedVideos, &org.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return &org, nil
}

func (r *PostgresUsageRepository) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var p models.Project
	err := r.db.QueryRowContext(ctx, `
		SELECT id, org_id, name, account_count, video_count, created_at
		FROM projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.OrgID, &p.Name, &p.AccountCount, &p.VideoCount, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &p, nil
}

// AdjustUsage applies delta in a single transaction; counters never go below zero.
func (r *PostgresUsageRepository) AdjustUsage(ctx context.Context, orgID, projectID string, delta models.UsageDelta) error {
	if delta.Zero() {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin usage update: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE organizations SET
			tracked_accounts = GREATEST(0, tracked_accounts + $2),
			tracked_videos = GREATEST(0, tracked_videos + $3)
		WHERE id = $1`, orgID, delta.Accounts, delta.Videos); err != nil {
		return fmt.Errorf("failed to adjust organization usage: %w", err)
	}

	if projectID != "" {
		if _, err := tx.ExecContext(ctx, `
			UPDATE projects SET
				account_count = GREATEST(0, account_count + $2),
				video_count = GREATEST(0, video_count + $3)
			WHERE id = $1`, projectID, delta.Accounts, delta.Videos); err != nil {
			return fmt.Errorf("failed to adjust project usage: %w", err)
		}
	}

	return tx.Commit()
}

func (r *PostgresUsageRepository) DeleteProject(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return nil
}
