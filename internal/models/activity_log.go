package models

import (
	"context"
	"time"
)

// ActivityType represents the type of activity being logged.
type ActivityType string

const (
	ActivityTypeSyncCycle    ActivityType = "sync_cycle"
	ActivityTypeQueueTick    ActivityType = "queue_tick"
	ActivityTypeDeletion     ActivityType = "deletion"
	ActivityTypeCleanupSweep ActivityType = "cleanup_sweep"
)

// ActivityLog represents a logged activity in the system.
type ActivityLog struct {
	ID           string                 `json:"id"`
	Timestamp    time.Time              `json:"timestamp"`
	ActivityType ActivityType           `json:"activity_type"`
	Platform     string                 `json:"platform,omitempty"`
	AccountID    string                 `json:"account_id,omitempty"`
	Message      string                 `json:"message"`
	Details      map[string]interface{} `json:"details,omitempty"`
	ItemCount    *int                   `json:"item_count,omitempty"`
	DurationMs   *int                   `json:"duration_ms,omitempty"`
}

// ActivityLogRepository stores activity entries.
type ActivityLogRepository interface {
	Log(ctx context.Context, log ActivityLog) error
	List(ctx context.Context, limit int, activityType string, platform string) ([]ActivityLog, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}
