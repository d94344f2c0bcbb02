package models

import (
	"context"
	"time"
)

// Lease is the leasehold mutex stored on a TrackedAccount: the owner id and
// the time the owner last acquired or refreshed it.
type Lease struct {
	ID        string
	Timestamp *time.Time
}

// Held reports whether any owner holds the lease.
func (l Lease) Held() bool {
	return l.ID != ""
}

// Age returns how long ago the lease was taken. A held lease without a
// timestamp has no meaningful age and reports ok=false.
func (l Lease) Age(now time.Time) (time.Duration, bool) {
	if l.Timestamp == nil {
		return 0, false
	}
	return now.Sub(*l.Timestamp), true
}

// LeaseRepository exposes the conditional field updates the lock relies on.
type LeaseRepository interface {
	// GetLease returns the current lock fields; ErrNotFound if the account is gone.
	GetLease(ctx context.Context, accountID string) (Lease, error)

	// SwapLease writes next only if the stored lease still equals expected.
	SwapLease(ctx context.Context, accountID string, expected, next Lease) (bool, error)

	// ClearLease removes the lock fields only if lockID still owns them.
	ClearLease(ctx context.Context, accountID, lockID string) (bool, error)
}
