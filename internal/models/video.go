package models

import (
	"context"
	"fmt"
	"time"
)

// VideoStatus tracks whether a video is still visible on its platform.
type VideoStatus string

const (
	VideoStatusActive VideoStatus = "active"
)

// Video is one platform post owned by a tracked account.
type Video struct {
	ID              string      `json:"id"` // composite key, see VideoDocID
	VideoID         string      `json:"video_id" validate:"required"`
	Platform        Platform    `json:"platform" validate:"required,oneof=instagram tiktok youtube twitter"`
	AccountID       string      `json:"account_id" validate:"required"`
	OrgID           string      `json:"org_id"`
	ProjectID       string      `json:"project_id"`
	URL             string      `json:"url,omitempty" validate:"omitempty,url"`
	Caption         string      `json:"caption,omitempty"`
	ThumbnailURL    string      `json:"thumbnail_url,omitempty"`
	Views           int64       `json:"views" validate:"min=0"`
	Likes           int64       `json:"likes" validate:"min=0"`
	Comments        int64       `json:"comments" validate:"min=0"`
	Shares          int64       `json:"shares" validate:"min=0"`
	Saves           int64       `json:"saves" validate:"min=0"`
	UploadDate      time.Time   `json:"upload_date"`
	LastRefreshedAt time.Time   `json:"last_refreshed_at"`
	Status          VideoStatus `json:"status"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`

	// Ownership reported by the platform payload; used to filter foreign items, never stored.
	OwnerID       string `json:"-"`
	OwnerUsername string `json:"-"`
	// UploadDateEstimated is set when the payload carried no date and
	// UploadDate holds a fallback. A stored date always wins over it.
	UploadDateEstimated bool `json:"-"`
}

// VideoDocID builds the deterministic document id {platform}_{accountId}_{platformVideoId}.
func VideoDocID(platform Platform, accountID, platformVideoID string) string {
	return fmt.Sprintf("%s_%s_%s", platform, accountID, platformVideoID)
}

// DocID returns the composite key for v.
func (v Video) DocID() string {
	return VideoDocID(v.Platform, v.AccountID, v.VideoID)
}

// Metrics are the counters captured by snapshots.
type Metrics struct {
	Views    int64 `json:"views"`
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
	Shares   int64 `json:"shares"`
	Saves    int64 `json:"saves"`
}

// Metrics returns the current counters of v.
func (v Video) Metrics() Metrics {
	return Metrics{
		Views:    v.Views,
		Likes:    v.Likes,
		Comments: v.Comments,
		Shares:   v.Shares,
		Saves:    v.Saves,
	}
}

// VideoRepository persists videos and their snapshots.
type VideoRepository interface {
	// ListByAccount returns every stored video of an account
	ListByAccount(ctx context.Context, accountID string) ([]Video, error)

	// GetByID retrieves a video by composite id, returning nil when missing
	GetByID(ctx context.Context, id string) (*Video, error)

	// Upsert inserts or updates a video keyed by its composite id
	Upsert(ctx context.Context, video Video) (created bool, err error)

	// CreateSnapshot appends an immutable snapshot
	CreateSnapshot(ctx context.Context, snapshot Snapshot) error

	// ListSnapshots returns the snapshots of a video ordered by capture time
	ListSnapshots(ctx context.Context, videoID string) ([]Snapshot, error)

	// DeleteSnapshots removes the snapshots of the given videos in batches
	DeleteSnapshots(ctx context.Context, videoIDs []string) (int, error)

	// DeleteVideos removes the given videos in batches
	DeleteVideos(ctx context.Context, videoIDs []string) (int, error)
}
