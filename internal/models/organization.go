package models

import (
	"context"
	"time"
)

// Organization is the billing tenant. Its usage counters gate plan limits.
type Organization struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	TrackedAccounts int64     `json:"tracked_accounts"`
	TrackedVideos   int64     `json:"tracked_videos"`
	CreatedAt       time.Time `json:"created_at"`
}

// Project groups tracked accounts inside an organization.
type Project struct {
	ID           string    `json:"id"`
	OrgID        string    `json:"org_id"`
	Name         string    `json:"name"`
	AccountCount int64     `json:"account_count"`
	VideoCount   int64     `json:"video_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// UsageDelta adjusts usage counters. Negative values decrement; results are clamped at zero.
type UsageDelta struct {
	Accounts int64
	Videos   int64
}

// Zero reports whether the delta changes nothing.
func (d UsageDelta) Zero() bool {
	return d.Accounts == 0 && d.Videos == 0
}

// ClampAdd applies delta to current without going below zero.
func ClampAdd(current, delta int64) int64 {
	if current+delta < 0 {
		return 0
	}
	return current + delta
}

// UsageRepository stores organizations, projects and their counters.
type UsageRepository interface {
	// CreateOrganization stores a new organization
	CreateOrganization(ctx context.Context, org *Organization) error

	// CreateProject stores a new project
	CreateProject(ctx context.Context, project *Project) error

	// GetOrganization returns nil when missing
	GetOrganization(ctx context.Context, id string) (*Organization, error)

	// GetProject returns nil when missing
	GetProject(ctx context.Context, id string) (*Project, error)

	// AdjustUsage applies delta to the organization and, when projectID is set, the project
	AdjustUsage(ctx context.Context, orgID, projectID string, delta UsageDelta) error

	// DeleteProject removes the project document
	DeleteProject(ctx context.Context, id string) error
}
