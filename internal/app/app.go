// Package app assembles the sync pipeline from configuration. The server and
// the operator CLI share it so both run the exact same wiring.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/reelpulse/reelpulse/internal/accountsync"
	"github.com/reelpulse/reelpulse/internal/cleanup"
	"github.com/reelpulse/reelpulse/internal/cloudsql"
	"github.com/reelpulse/reelpulse/internal/config"
	"github.com/reelpulse/reelpulse/internal/database"
	"github.com/reelpulse/reelpulse/internal/gateway"
	"github.com/reelpulse/reelpulse/internal/lock"
	"github.com/reelpulse/reelpulse/internal/metrics"
	"github.com/reelpulse/reelpulse/internal/models"
	"github.com/reelpulse/reelpulse/internal/platform"
	"github.com/reelpulse/reelpulse/internal/queue"
	"github.com/reelpulse/reelpulse/internal/scheduler"
	"github.com/reelpulse/reelpulse/internal/storage"
	"github.com/reelpulse/reelpulse/migrations"
	"github.com/thejerf/suture/v4"
)

// App holds the assembled services.
type App struct {
	Config     config.Config
	Logger     *slog.Logger
	DB         *sql.DB // nil for the memory store
	Repos      database.Repositories
	Metrics    *metrics.Collector
	Gateway    *gateway.Client
	Sync       *accountsync.Service
	Dispatcher *queue.AsyncDispatcher
	Queue      *queue.Service
	Cleanup    *cleanup.Service
}

// New connects the store, applies migrations when enabled and builds every
// service. Close releases what New opened.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	collector, err := metrics.NewCollector()
	if err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}
	a.Metrics = collector
	pipeline := collector.Pipeline()

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	objects, err := openObjectStore(ctx, cfg.Storage)
	if err != nil {
		a.Close()
		return nil, err
	}
	persister := storage.NewPersister(objects, logger)

	a.Gateway = gateway.NewClient(gateway.Config{
		BaseURL:           cfg.Gateway.BaseURL,
		Token:             cfg.Gateway.Token,
		Mode:              gateway.Mode(cfg.Gateway.Mode),
		RequestTimeout:    cfg.Gateway.RequestTimeout,
		PollInterval:      cfg.Gateway.PollInterval,
		PollTimeout:       cfg.Gateway.PollTimeout,
		RequestsPerSecond: cfg.Gateway.RequestsPerSecond,
		Burst:             cfg.Gateway.Burst,
		Retry:             gateway.DefaultRetryPolicy(),
	}, pipeline, logger)

	clock := models.RealClock{}
	adapters := platform.DefaultRegistry(platform.Deps{
		Runner:    a.Gateway,
		Persister: persister,
		YouTube:   gateway.NewYouTubeClient(cfg.YouTube.BaseURL, cfg.YouTube.APIKey, logger),
		Tasks: platform.Tasks{
			Instagram: cfg.Gateway.InstagramTask,
			TikTok:    cfg.Gateway.TikTokTask,
			YouTube:   cfg.Gateway.YouTubeTask,
			Twitter:   cfg.Gateway.TwitterTask,
		},
		Clock:  clock,
		Logger: logger,
	})

	repos := a.Repos
	a.Sync = accountsync.NewService(accountsync.Deps{
		Accounts:  repos.Accounts,
		Videos:    repos.Videos,
		Jobs:      repos.Jobs,
		Usage:     repos.Usage,
		Activity:  repos.Activity,
		Locks:     lock.NewService(repos.Accounts, clock, cfg.Lock.TTL, logger),
		Adapters:  adapters,
		Persister: persister,
		Clock:     clock,
		Metrics:   pipeline,
		Logger:    logger,
	}, accountsync.Config{
		DiscoveryLimit:    cfg.Discovery.Limit,
		DiscoveryMaxLimit: cfg.Discovery.MaxLimit,
	})

	a.Dispatcher = queue.NewAsyncDispatcher(a.Sync, cfg.Queue.JobTimeout, logger)
	a.Queue = queue.NewService(queue.Deps{
		Jobs:       repos.Jobs,
		Accounts:   repos.Accounts,
		Activity:   repos.Activity,
		Dispatcher: a.Dispatcher,
		Clock:      clock,
		Metrics:    pipeline,
		Logger:     logger,
	}, queue.Config{
		ConcurrencyLimit: cfg.Queue.ConcurrencyLimit,
		JobTimeout:       cfg.Queue.JobTimeout,
		MaxAttempts:      cfg.Queue.MaxAttempts,
	})

	a.Cleanup = cleanup.NewService(cleanup.Deps{
		Accounts:  repos.Accounts,
		Videos:    repos.Videos,
		Jobs:      repos.Jobs,
		Usage:     repos.Usage,
		Activity:  repos.Activity,
		Persister: persister,
		Clock:     clock,
		Metrics:   pipeline,
		Logger:    logger,
	}, cleanup.Config{
		MaxAttempts:       cfg.Cleanup.MaxAttempts,
		BatchSize:         cfg.Cleanup.BatchSize,
		ActivityRetention: cfg.Cleanup.ActivityRetention,
	})

	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	if a.Config.Database.Driver == "memory" {
		a.Logger.Warn("using in-memory document store, data is lost on exit")
		a.Repos = database.NewMemoryStore().Repositories()
		return nil
	}

	settings := cloudsql.FromEnv()
	dsn, err := settings.DSN()
	if err != nil {
		return fmt.Errorf("failed to build database URL: %w", err)
	}
	a.Logger.Info("database configuration", "config", settings.Describe())

	db, err := database.Connect(ctx, database.Config{
		URL:                dsn,
		MaxConnections:     a.Config.Database.MaxConnections,
		MaxIdleConnections: a.Config.Database.MaxIdleConnections,
		ConnMaxLifetime:    a.Config.Database.ConnMaxLifetime,
		ConnectTimeout:     a.Config.Database.ConnectTimeout,
	})
	if err != nil {
		return err
	}
	a.DB = db
	a.Logger.Info("database connected")
	if err := a.Metrics.RegisterDB(db, "reelpulse"); err != nil {
		a.Logger.Warn("database pool metrics unavailable", "error", err)
	}

	if a.Config.Database.AutoMigrate {
		if _, err := a.Migrate(ctx); err != nil {
			db.Close()
			return err
		}
	}
	a.Repos = database.NewPostgresRepositories(db)
	return nil
}

// Migrate applies pending schema migrations and returns how many ran.
func (a *App) Migrate(ctx context.Context) (int, error) {
	if a.DB == nil {
		return 0, nil
	}
	n, err := database.RunMigrations(ctx, a.DB, migrations.FS, a.Logger)
	if err != nil {
		return n, fmt.Errorf("failed to run migrations: %w", err)
	}
	return n, nil
}

// Health reports whether the store is reachable.
func (a *App) Health(ctx context.Context) error {
	if a.DB == nil {
		return nil
	}
	return database.HealthCheck(ctx, a.DB)
}

// Schedulers returns the periodic services for the supervisor. The sync
// fan-out is left out when scheduling is disabled.
func (a *App) Schedulers() []suture.Service {
	cfg := a.Config
	services := []suture.Service{
		scheduler.NewTickScheduler(a.Queue, cfg.Queue.TickInterval, a.Logger),
		scheduler.NewCleanupScheduler(a.Cleanup, cfg.Cleanup.SweepInterval, a.Logger),
	}
	if cfg.Schedule.Enabled {
		services = append(services, scheduler.NewSyncScheduler(
			a.Repos.Accounts, a.Queue, models.RealClock{},
			cfg.Schedule.SyncInterval, cfg.Schedule.CheckInterval, a.Logger))
	}
	return services
}

// Close waits for dispatched jobs and closes the database.
func (a *App) Close() {
	if a.Dispatcher != nil {
		a.Dispatcher.Wait()
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn("failed to close database", "error", err)
		}
	}
}

func openObjectStore(ctx context.Context, cfg config.StorageConfig) (storage.ObjectStore, error) {
	switch cfg.Driver {
	case "s3":
		store, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			PublicBaseURL:   cfg.PublicBaseURL,
			KeyPrefix:       cfg.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init object storage: %w", err)
		}
		return store, nil
	default:
		return storage.NewMemoryStore(cfg.PublicBaseURL), nil
	}
}
