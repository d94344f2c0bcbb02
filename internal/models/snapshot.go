package models

import "time"

// SnapshotTrigger records why a snapshot was taken.
type SnapshotTrigger string

const (
	SnapshotManualRefresh    SnapshotTrigger = "manual_refresh"
	SnapshotScheduledRefresh SnapshotTrigger = "scheduled_refresh"
	SnapshotInitialAdd       SnapshotTrigger = "initial_add"
)

// Snapshot is an append-only capture of a video's metrics at one point in time.
type Snapshot struct {
	ID         string          `json:"id"`
	VideoID    string          `json:"video_id"` // composite video id
	AccountID  string          `json:"account_id"`
	Views      int64           `json:"views"`
	Likes      int64           `json:"likes"`
	Comments   int64           `json:"comments"`
	Shares     int64           `json:"shares"`
	Saves      int64           `json:"saves"`
	CapturedAt time.Time       `json:"captured_at"`
	CapturedBy SnapshotTrigger `json:"captured_by"`
}

// NewSnapshot captures the current metrics of v.
func NewSnapshot(id string, v Video, by SnapshotTrigger, at time.Time) Snapshot {
	return Snapshot{
		ID:         id,
		VideoID:    v.DocID(),
		AccountID:  v.AccountID,
		Views:      v.Views,
		Likes:      v.Likes,
		Comments:   v.Comments,
		Shares:     v.Shares,
		Saves:      v.Saves,
		CapturedAt: at,
		CapturedBy: by,
	}
}
