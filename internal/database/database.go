package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/reelpulse/reelpulse/internal/models"
)

// MaxBatchSize caps the number of documents removed by one batched write.
const MaxBatchSize = 500

// Config holds database connection configuration.
type Config struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
	ConnectTimeout     time.Duration
}

// DefaultConfig returns sensible defaults for database configuration.
func DefaultConfig() Config {
	return Config{
		MaxConnections:     25,
		MaxIdleConnections: 5,
		ConnMaxLifetime:    5 * time.Minute,
		ConnectTimeout:     10 * time.Second,
	}
}

// Connect establishes a connection to the PostgreSQL database.
func Connect(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// HealthCheck performs a database health check.
func HealthCheck(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("unexpected health check result: %d", result)
	}
	return nil
}

// AccountRepository is the account store together with its lease fields.
type AccountRepository interface {
	models.TrackedAccountRepository
	models.LeaseRepository
}

// Repositories bundles every collection the pipeline touches.
type Repositories struct {
	Accounts AccountRepository
	Videos   models.VideoRepository
	Jobs     models.SyncJobRepository
	Usage    models.UsageRepository
	Activity models.ActivityLogRepository
}

// NewPostgresRepositories wires the Postgres implementations onto db.
func NewPostgresRepositories(db *sql.DB) Repositories {
	return Repositories{
		Accounts: NewPostgresTrackedAccountRepository(db),
		Videos:   NewPostgresVideoRepository(db),
		Jobs:     NewPostgresSyncJobRepository(db),
		Usage:    NewPostgresUsageRepository(db),
		Activity: NewPostgresActivityLogRepository(db),
	}
}

// Repositories returns views of the memory store for every collection.
func (s *MemoryStore) Repositories() Repositories {
	return Repositories{
		Accounts: s.Accounts(),
		Videos:   s.Videos(),
		Jobs:     s.Jobs(),
		Usage:    s.Usage(),
		Activity: s.Activity(),
	}
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// chunkIDs splits ids into batches of at most MaxBatchSize.
func chunkIDs(ids []string) [][]string {
	var out [][]string
	for start := 0; start < len(ids); start += MaxBatchSize {
		out = append(out, ids[start:min(start+MaxBatchSize, len(ids))])
	}
	return out
}
