package models

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Platform identifies the social network an account or video belongs to.
type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformYouTube   Platform = "youtube"
	PlatformTwitter   Platform = "twitter"
)

// Platforms lists every supported platform in display order.
var Platforms = []Platform{PlatformInstagram, PlatformTikTok, PlatformYouTube, PlatformTwitter}

// Valid reports whether p is one of the supported platforms.
func (p Platform) Valid() bool {
	for _, known := range Platforms {
		if p == known {
			return true
		}
	}
	return false
}

// ParsePlatform normalizes user input ("TikTok", " x ") into a Platform.
func ParsePlatform(raw string) (Platform, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "x" {
		value = string(PlatformTwitter)
	}
	p := Platform(value)
	if !p.Valid() {
		return "", fmt.Errorf("unsupported platform: %q", raw)
	}
	return p, nil
}

// AccountSyncStatus is the soft sync state shown on the dashboard.
type AccountSyncStatus string

const (
	AccountSyncIdle      AccountSyncStatus = "idle"
	AccountSyncSyncing   AccountSyncStatus = "syncing"
	AccountSyncCompleted AccountSyncStatus = "completed"
	AccountSyncError     AccountSyncStatus = "error"
)

// TrackedAccount represents a creator or channel tracked inside a project.
type TrackedAccount struct {
	ID                  string            `json:"id" validate:"required"`
	OrgID               string            `json:"org_id" validate:"required"`
	ProjectID           string            `json:"project_id" validate:"required"`
	Username            string            `json:"username" validate:"required,max=255"`
	Platform            Platform          `json:"platform" validate:"required,oneof=instagram tiktok youtube twitter"`
	PlatformUserID      string            `json:"platform_user_id,omitempty"` // channel id for YouTube, numeric id elsewhere
	DisplayName         string            `json:"display_name,omitempty"`
	ProfilePicURL       string            `json:"profile_pic_url,omitempty" validate:"omitempty,url"`
	FollowerCount       int64             `json:"follower_count" validate:"min=0"`
	IsActive            bool              `json:"is_active"`
	LastSynced          *time.Time        `json:"last_synced,omitempty"`
	SyncStatus          AccountSyncStatus `json:"sync_status"`
	SyncError           string            `json:"sync_error,omitempty"`
	SyncLockID          string            `json:"sync_lock_id,omitempty"`
	SyncLockTimestamp   *time.Time        `json:"sync_lock_timestamp,omitempty"`
	Totals              AccountTotals     `json:"totals"`
	DeletionRequestedAt *time.Time        `json:"deletion_requested_at,omitempty"`
	DeletionAttempts    int               `json:"deletion_attempts"`
	DeletionError       string            `json:"deletion_error,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// Lease returns the lock fields of the account.
func (a TrackedAccount) Lease() Lease {
	return Lease{ID: a.SyncLockID, Timestamp: a.SyncLockTimestamp}
}

// AccountTotals are the aggregate counters kept on an account. They are
// recomputable from the account's videos.
type AccountTotals struct {
	Videos   int64 `json:"total_videos"`
	Views    int64 `json:"total_views"`
	Likes    int64 `json:"total_likes"`
	Comments int64 `json:"total_comments"`
	Shares   int64 `json:"total_shares"`
}

// TotalsFromVideos sums the metrics of the given videos.
func TotalsFromVideos(videos []Video) AccountTotals {
	var totals AccountTotals
	for _, v := range videos {
		totals.Videos++
		totals.Views += v.Views
		totals.Likes += v.Likes
		totals.Comments += v.Comments
		totals.Shares += v.Shares
	}
	return totals
}

// AccountProfile carries profile data reported by a platform alongside its posts.
type AccountProfile struct {
	PlatformUserID string
	DisplayName    string
	FollowerCount  *int64
	ProfilePicURL  string
}

// Empty reports whether the profile carries nothing worth persisting.
func (p AccountProfile) Empty() bool {
	return p.PlatformUserID == "" && p.DisplayName == "" && p.FollowerCount == nil && p.ProfilePicURL == ""
}

// TrackedAccountRepository defines operations for tracked accounts
type TrackedAccountRepository interface {
	// Create stores a new account
	Create(ctx context.Context, account *TrackedAccount) error

	// GetByID retrieves an account by ID, returning nil when it does not exist
	GetByID(ctx context.Context, id string) (*TrackedAccount, error)

	// ListActive returns all active accounts that are not pending deletion
	ListActive(ctx context.Context) ([]*TrackedAccount, error)

	// ListByProject returns every account of a project
	ListByProject(ctx context.Context, projectID string) ([]*TrackedAccount, error)

	// ListPendingDeletion returns soft-deleted accounts whose cascade has not succeeded yet
	ListPendingDeletion(ctx context.Context, maxAttempts, limit int) ([]*TrackedAccount, error)

	// UpdateSyncStatus records the soft sync state
	UpdateSyncStatus(ctx context.Context, id string, status AccountSyncStatus, syncErr string) error

	// MarkSynced sets lastSynced and marks the account completed
	MarkSynced(ctx context.Context, id string, at time.Time) error

	// UpdateProfile applies non-empty profile fields
	UpdateProfile(ctx context.Context, id string, profile AccountProfile) error

	// UpdateTotals overwrites the aggregate counters
	UpdateTotals(ctx context.Context, id string, totals AccountTotals) error

	// RequestDeletion soft-deletes the account for the cleanup sweep
	RequestDeletion(ctx context.Context, id string, at time.Time) error

	// RecordDeletionFailure increments the sweep retry counter
	RecordDeletionFailure(ctx context.Context, id string, msg string) error

	// Delete removes the account document
	Delete(ctx context.Context, id string) error
}
