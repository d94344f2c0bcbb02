package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents runtime configuration derived from environment variables.
type Config struct {
	Server    ServerConfig
	Logging   LoggingConfig
	Database  DatabaseConfig
	Queue     QueueConfig
	Lock      LockConfig
	Discovery DiscoveryConfig
	Schedule  ScheduleConfig
	Gateway   GatewayConfig
	YouTube   YouTubeConfig
	Storage   StorageConfig
	Cleanup   CleanupConfig
}

// ServerConfig holds HTTP server runtime parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string

	// File enables a rotating log file next to stdout when non-empty.
	File           string
	FileMaxSizeMB  int
	FileMaxBackups int
	FileMaxAgeDays int
}

// DatabaseConfig selects the document store and sizes its pool. The
// connection string itself comes from cloudsql.BuildDatabaseURL.
type DatabaseConfig struct {
	Driver             string // postgres or memory
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
	ConnectTimeout     time.Duration
	AutoMigrate        bool
}

// QueueConfig bounds the job queue.
type QueueConfig struct {
	ConcurrencyLimit int
	JobTimeout       time.Duration
	MaxAttempts      int
	TickInterval     time.Duration
}

type LockConfig struct {
	TTL time.Duration
}

type DiscoveryConfig struct {
	Limit    int
	MaxLimit int
}

// ScheduleConfig drives the scheduled sync fan-out.
type ScheduleConfig struct {
	Enabled       bool
	SyncInterval  time.Duration
	CheckInterval time.Duration
}

// GatewayConfig configures the scrape gateway client and the task run for
// each platform.
type GatewayConfig struct {
	BaseURL           string
	Token             string
	Mode              string
	RequestTimeout    time.Duration
	PollInterval      time.Duration
	PollTimeout       time.Duration
	RequestsPerSecond float64
	Burst             int

	InstagramTask string
	TikTokTask    string
	YouTubeTask   string
	TwitterTask   string
}

// YouTubeConfig enables Data API refreshes when APIKey is set.
type YouTubeConfig struct {
	APIKey  string
	BaseURL string
}

// StorageConfig selects where thumbnails and avatars are re-hosted.
type StorageConfig struct {
	Driver          string // memory or s3
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
	KeyPrefix       string
}

// CleanupConfig drives the deletion sweep.
type CleanupConfig struct {
	MaxAttempts       int
	BatchSize         int
	SweepInterval     time.Duration
	ActivityRetention time.Duration
}

const (
	defaultPort            = "8080"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultShutdownTimeout = 5 * time.Second

	defaultLogFormat      = "json"
	defaultLogMaxSizeMB   = 100
	defaultLogMaxBackups  = 3
	defaultLogMaxAgeDays  = 28
	defaultStoreDriver    = "postgres"
	defaultStorageDriver  = "memory"
	defaultGatewayBaseURL = "https://api.apify.com"
	defaultGatewayMode    = "sync"

	defaultConcurrencyLimit = 6
	defaultJobTimeout       = 10 * time.Minute
	defaultMaxAttempts      = 3
	defaultTickInterval     = 60 * time.Second
	defaultLockTTL          = 5 * time.Minute
	defaultDiscoveryLimit   = 10
	defaultDiscoveryMax     = 100
	defaultSyncInterval     = 24 * time.Hour
	defaultCheckInterval    = 15 * time.Minute
	defaultPollInterval     = 5 * time.Second
	defaultPollTimeout      = 120 * time.Second
	defaultRequestTimeout   = 5 * time.Minute
	defaultRequestsPerSec   = 2.0
	defaultBurst            = 4
	defaultCleanupAttempts  = 3
	defaultCleanupBatch     = 25
	defaultSweepInterval    = 15 * time.Minute
	defaultActivityDays     = 30
)

// Load reads configuration from environment variables, applying defaults when
// values are not provided or invalid.
func Load() (Config, error) {
	// Cloud Run sets PORT, but allow SERVER_PORT override for local dev
	port := getEnv("PORT", "")
	if port == "" {
		port = getEnv("SERVER_PORT", defaultPort)
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            port,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			Level:          slog.LevelInfo,
			Format:         defaultLogFormat,
			File:           os.Getenv("LOG_FILE"),
			FileMaxSizeMB:  defaultLogMaxSizeMB,
			FileMaxBackups: defaultLogMaxBackups,
			FileMaxAgeDays: defaultLogMaxAgeDays,
		},
		Database: DatabaseConfig{
			Driver:             getEnv("STORE_DRIVER", defaultStoreDriver),
			MaxConnections:     25,
			MaxIdleConnections: 5,
			ConnMaxLifetime:    5 * time.Minute,
			ConnectTimeout:     10 * time.Second,
			AutoMigrate:        true,
		},
		Queue: QueueConfig{
			ConcurrencyLimit: defaultConcurrencyLimit,
			JobTimeout:       defaultJobTimeout,
			MaxAttempts:      defaultMaxAttempts,
			TickInterval:     defaultTickInterval,
		},
		Lock:      LockConfig{TTL: defaultLockTTL},
		Discovery: DiscoveryConfig{Limit: defaultDiscoveryLimit, MaxLimit: defaultDiscoveryMax},
		Schedule: ScheduleConfig{
			Enabled:       true,
			SyncInterval:  defaultSyncInterval,
			CheckInterval: defaultCheckInterval,
		},
		Gateway: GatewayConfig{
			BaseURL:           getEnv("GATEWAY_BASE_URL", defaultGatewayBaseURL),
			Token:             getEnv("GATEWAY_TOKEN", os.Getenv("APIFY_TOKEN")),
			Mode:              getEnv("GATEWAY_MODE", defaultGatewayMode),
			RequestTimeout:    defaultRequestTimeout,
			PollInterval:      defaultPollInterval,
			PollTimeout:       defaultPollTimeout,
			RequestsPerSecond: defaultRequestsPerSec,
			Burst:             defaultBurst,
			InstagramTask:     os.Getenv("GATEWAY_TASK_INSTAGRAM"),
			TikTokTask:        os.Getenv("GATEWAY_TASK_TIKTOK"),
			YouTubeTask:       os.Getenv("GATEWAY_TASK_YOUTUBE"),
			TwitterTask:       os.Getenv("GATEWAY_TASK_TWITTER"),
		},
		YouTube: YouTubeConfig{
			APIKey:  os.Getenv("YOUTUBE_API_KEY"),
			BaseURL: os.Getenv("YOUTUBE_API_BASE_URL"),
		},
		Storage: StorageConfig{
			Driver:          getEnv("STORAGE_DRIVER", defaultStorageDriver),
			Bucket:          os.Getenv("STORAGE_S3_BUCKET"),
			Region:          os.Getenv("STORAGE_S3_REGION"),
			Endpoint:        os.Getenv("STORAGE_S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("STORAGE_S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("STORAGE_S3_SECRET_ACCESS_KEY"),
			PublicBaseURL:   os.Getenv("STORAGE_PUBLIC_BASE_URL"),
			KeyPrefix:       os.Getenv("STORAGE_KEY_PREFIX"),
		},
		Cleanup: CleanupConfig{
			MaxAttempts:       defaultCleanupAttempts,
			BatchSize:         defaultCleanupBatch,
			SweepInterval:     defaultSweepInterval,
			ActivityRetention: defaultActivityDays * 24 * time.Hour,
		},
	}

	if v := os.Getenv("SERVER_READ_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_READ_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.ReadTimeout = d
	}

	if v := os.Getenv("SERVER_WRITE_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_WRITE_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.WriteTimeout = d
	}

	if v := os.Getenv("SERVER_SHUTDOWN_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_SHUTDOWN_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.ShutdownTimeout = d
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "text":
			cfg.Logging.Format = v
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
		}
	}

	ints := []struct {
		key string
		dst *int
		min int
	}{
		{"LOG_FILE_MAX_SIZE_MB", &cfg.Logging.FileMaxSizeMB, 1},
		{"LOG_FILE_MAX_BACKUPS", &cfg.Logging.FileMaxBackups, 0},
		{"LOG_FILE_MAX_AGE_DAYS", &cfg.Logging.FileMaxAgeDays, 0},
		{"DATABASE_MAX_CONNECTIONS", &cfg.Database.MaxConnections, 1},
		{"DATABASE_MAX_IDLE_CONNECTIONS", &cfg.Database.MaxIdleConnections, 0},
		{"QUEUE_CONCURRENCY_LIMIT", &cfg.Queue.ConcurrencyLimit, 1},
		{"QUEUE_MAX_ATTEMPTS", &cfg.Queue.MaxAttempts, 1},
		{"DISCOVERY_LIMIT", &cfg.Discovery.Limit, 1},
		{"DISCOVERY_MAX_LIMIT", &cfg.Discovery.MaxLimit, 1},
		{"GATEWAY_BURST", &cfg.Gateway.Burst, 1},
		{"CLEANUP_MAX_ATTEMPTS", &cfg.Cleanup.MaxAttempts, 1},
		{"CLEANUP_BATCH_SIZE", &cfg.Cleanup.BatchSize, 1},
	}
	for _, f := range ints {
		if err := setInt(f.key, f.dst, f.min); err != nil {
			return Config{}, err
		}
	}

	durations := []struct {
		key  string
		dst  *time.Duration
		unit time.Duration
	}{
		{"DATABASE_CONNECT_TIMEOUT_SECONDS", &cfg.Database.ConnectTimeout, time.Second},
		{"QUEUE_JOB_TIMEOUT_MINUTES", &cfg.Queue.JobTimeout, time.Minute},
		{"QUEUE_TICK_INTERVAL_SECONDS", &cfg.Queue.TickInterval, time.Second},
		{"LOCK_TTL_MINUTES", &cfg.Lock.TTL, time.Minute},
		{"SCHEDULE_SYNC_INTERVAL_HOURS", &cfg.Schedule.SyncInterval, time.Hour},
		{"SCHEDULE_CHECK_INTERVAL_MINUTES", &cfg.Schedule.CheckInterval, time.Minute},
		{"GATEWAY_REQUEST_TIMEOUT_SECONDS", &cfg.Gateway.RequestTimeout, time.Second},
		{"GATEWAY_POLL_INTERVAL_SECONDS", &cfg.Gateway.PollInterval, time.Second},
		{"GATEWAY_POLL_TIMEOUT_SECONDS", &cfg.Gateway.PollTimeout, time.Second},
		{"CLEANUP_SWEEP_INTERVAL_MINUTES", &cfg.Cleanup.SweepInterval, time.Minute},
		{"CLEANUP_ACTIVITY_RETENTION_DAYS", &cfg.Cleanup.ActivityRetention, 24 * time.Hour},
	}
	for _, f := range durations {
		if err := setDuration(f.key, f.dst, f.unit); err != nil {
			return Config{}, err
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"DATABASE_AUTO_MIGRATE", &cfg.Database.AutoMigrate},
		{"SCHEDULE_ENABLED", &cfg.Schedule.Enabled},
	}
	for _, f := range bools {
		if err := setBool(f.key, f.dst); err != nil {
			return Config{}, err
		}
	}

	if v := os.Getenv("GATEWAY_REQUESTS_PER_SECOND"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil || rps <= 0 {
			return Config{}, fmt.Errorf("invalid GATEWAY_REQUESTS_PER_SECOND: must be a positive number")
		}
		cfg.Gateway.RequestsPerSecond = rps
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("invalid STORE_DRIVER: must be 'postgres' or 'memory'")
	}
	switch c.Storage.Driver {
	case "memory":
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("invalid STORAGE_S3_BUCKET: required when STORAGE_DRIVER is 's3'")
		}
	default:
		return fmt.Errorf("invalid STORAGE_DRIVER: must be 'memory' or 's3'")
	}
	switch c.Gateway.Mode {
	case "sync", "poll":
	default:
		return fmt.Errorf("invalid GATEWAY_MODE: must be 'sync' or 'poll'")
	}
	if c.Discovery.MaxLimit < c.Discovery.Limit {
		return fmt.Errorf("invalid DISCOVERY_MAX_LIMIT: must be at least DISCOVERY_LIMIT (%d)", c.Discovery.Limit)
	}
	if c.Queue.JobTimeout <= 0 || c.Queue.TickInterval <= 0 || c.Lock.TTL <= 0 {
		return fmt.Errorf("invalid queue timing: job timeout, tick interval and lock TTL must be positive")
	}
	return nil
}

func parseSeconds(raw string) (time.Duration, error) {
	return parseUnits(raw, time.Second)
}

func parseUnits(raw string, unit time.Duration) (time.Duration, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return time.Duration(n) * unit, nil
}

func setDuration(key string, dst *time.Duration, unit time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := parseUnits(v, unit)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

func setInt(key string, dst *int, min int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min {
		return fmt.Errorf("invalid %s: must be an integer >= %d", key, min)
	}
	*dst = n
	return nil
}

func setBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		return fmt.Errorf("invalid %s: must be true or false", key)
	}
	*dst = b
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
