// Package lock implements the per-account sync lease stored on the account
// document itself, so independently dispatched sync cycles can serialize on it
// without sharing memory.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reelpulse/reelpulse/internal/models"
)

// DefaultTTL is how long a lease stays valid without being refreshed.
const DefaultTTL = 5 * time.Minute

// ReasonLocked is reported when another owner holds a fresh lease.
const ReasonLocked = "locked by another sync job"

// maxSwapAttempts bounds re-reads after losing a compare-and-set race.
const maxSwapAttempts = 3

// Result describes the outcome of an Acquire call. Contention is a normal
// outcome, not an error.
type Result struct {
	Acquired bool          `json:"acquired"`
	Reason   string        `json:"reason,omitempty"`
	LockAge  time.Duration `json:"lock_age,omitempty"`
	// Stale is set when an expired lease of another owner was overwritten.
	Stale bool `json:"stale,omitempty"`
}

// Service acquires and releases account leases.
type Service struct {
	repo   models.LeaseRepository
	clock  models.Clock
	ttl    time.Duration
	logger *slog.Logger
}

// NewService creates a lock service. A non-positive ttl selects DefaultTTL.
func NewService(repo models.LeaseRepository, clock models.Clock, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = models.RealClock{}
	}
	return &Service{repo: repo, clock: clock, ttl: ttl, logger: logger}
}

// TTL returns the lease lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// IsLockValid reports whether a lease taken at timestamp is still fresh at now.
func IsLockValid(timestamp, now time.Time, maxAge time.Duration) bool {
	return now.Sub(timestamp) < maxAge
}

// Acquire takes the lease on accountID for lockID. Rules, in order: a free
// lease is taken; a lease already owned by lockID is refreshed; a fresh lease
// of another owner is reported as contention with its age; an expired one is
// overwritten.
func (s *Service) Acquire(ctx context.Context, accountID, lockID string) (Result, error) {
	if lockID == "" {
		return Result{}, errors.New("lock id is required")
	}

	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		current, err := s.repo.GetLease(ctx, accountID)
		if err != nil {
			return Result{}, fmt.Errorf("failed to read lease for account %s: %w", accountID, err)
		}

		now := models.StoreTime(s.clock.Now())
		next := models.Lease{ID: lockID, Timestamp: &now}
		result := Result{Acquired: true}

		if current.Held() && current.ID != lockID {
			age, hasAge := current.Age(now)
			if hasAge && IsLockValid(*current.Timestamp, now, s.ttl) {
				s.logger.Info("account locked by another sync job",
					"account_id", accountID,
					"lock_id", current.ID,
					"lock_age", age.String())
				return Result{Reason: ReasonLocked, LockAge: age}, nil
			}
			// expired, or held without a timestamp
			result.Stale = true
			result.LockAge = age
		}

		swapped, err := s.repo.SwapLease(ctx, accountID, current, next)
		if err != nil {
			return Result{}, fmt.Errorf("failed to write lease for account %s: %w", accountID, err)
		}
		if swapped {
			if result.Stale {
				s.logger.Warn("overriding stale sync lock",
					"account_id", accountID,
					"previous_lock_id", current.ID,
					"lock_age", result.LockAge.String())
			}
			return result, nil
		}
	}

	// Lost every race; whoever won holds a fresh lease.
	current, err := s.repo.GetLease(ctx, accountID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read lease for account %s: %w", accountID, err)
	}
	age, _ := current.Age(models.StoreTime(s.clock.Now()))
	return Result{Reason: ReasonLocked, LockAge: age}, nil
}

// Release clears the lease only if lockID still owns it. A mismatch means the
// lease expired and was reclaimed; it is logged and ignored.
func (s *Service) Release(ctx context.Context, accountID, lockID string) error {
	cleared, err := s.repo.ClearLease(ctx, accountID, lockID)
	if errors.Is(err, models.ErrNotFound) {
		s.logger.Debug("lock release skipped, account no longer exists", "account_id", accountID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to release lease for account %s: %w", accountID, err)
	}
	if !cleared {
		s.logger.Warn("lock release skipped, lease owned by another job",
			"account_id", accountID,
			"lock_id", lockID)
	}
	return nil
}
