package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/reelpulse/reelpulse/internal/database"
	"github.com/reelpulse/reelpulse/internal/models"
	"github.com/reelpulse/reelpulse/internal/testutil"
)

func newTestService(t *testing.T) (*Service, *database.MemoryStore, *testutil.StubClock) {
	t.Helper()
	store := database.NewMemoryStore()
	err := store.Accounts().Create(context.Background(), &models.TrackedAccount{
		ID: "acc1", OrgID: "org1", ProjectID: "proj1", Username: "creator",
		Platform: models.PlatformInstagram, IsActive: true,
	})
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	clock := testutil.FixedClock()
	return NewService(store.Accounts(), clock, DefaultTTL, testutil.DiscardLogger()), store, clock
}

func TestAcquire_FreeLease(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()

	res, err := svc.Acquire(ctx, "acc1", "job-a")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !res.Acquired {
		t.Fatalf("expected acquired, got %+v", res)
	}

	lease, _ := store.Accounts().GetLease(ctx, "acc1")
	if lease.ID != "job-a" || !lease.Timestamp.Equal(clock.Now()) {
		t.Errorf("lease = %+v, want job-a at %v", lease, clock.Now())
	}
}

func TestAcquire_ReentrantRefreshesTimestamp(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()

	if res, _ := svc.Acquire(ctx, "acc1", "job-a"); !res.Acquired {
		t.Fatal("first acquire failed")
	}
	clock.Advance(4 * time.Minute)
	res, err := svc.Acquire(ctx, "acc1", "job-a")
	if err != nil || !res.Acquired {
		t.Fatalf("re-entrant acquire = %+v, %v", res, err)
	}

	lease, _ := store.Accounts().GetLease(ctx, "acc1")
	if !lease.Timestamp.Equal(clock.Now()) {
		t.Errorf("timestamp = %v, want refreshed %v", lease.Timestamp, clock.Now())
	}
}

func TestAcquire_ContentionReportsAge(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	svc.Acquire(ctx, "acc1", "job-a")
	clock.Advance(90 * time.Second)

	res, err := svc.Acquire(ctx, "acc1", "job-b")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if res.Acquired {
		t.Fatal("second owner acquired a fresh lease")
	}
	if res.Reason != ReasonLocked {
		t.Errorf("reason = %q, want %q", res.Reason, ReasonLocked)
	}
	if res.LockAge != 90*time.Second {
		t.Errorf("lock age = %v, want 90s", res.LockAge)
	}
}

func TestAcquire_StaleOverride(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()

	svc.Acquire(ctx, "acc1", "job-a")
	clock.Advance(5 * time.Minute)

	res, err := svc.Acquire(ctx, "acc1", "job-b")
	if err != nil || !res.Acquired || !res.Stale {
		t.Fatalf("stale override = %+v, %v", res, err)
	}
	lease, _ := store.Accounts().GetLease(ctx, "acc1")
	if lease.ID != "job-b" {
		t.Errorf("owner = %q, want job-b", lease.ID)
	}
}

func TestAcquire_HeldWithoutTimestampIsStale(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	store.Accounts().SwapLease(ctx, "acc1", models.Lease{}, models.Lease{ID: "orphan"})

	res, err := svc.Acquire(ctx, "acc1", "job-a")
	if err != nil || !res.Acquired {
		t.Fatalf("Acquire over orphan lease = %+v, %v", res, err)
	}
}

func TestAcquire_ConcurrentMutualExclusion(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	const owners = 8
	results := make([]Result, owners)
	var wg sync.WaitGroup
	for i := 0; i < owners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Acquire(ctx, "acc1", string(rune('a'+i)))
			if err != nil {
				t.Errorf("Acquire: %v", err)
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	acquired := 0
	for _, res := range results {
		if res.Acquired {
			acquired++
		} else if res.Reason != ReasonLocked {
			t.Errorf("loser reason = %q", res.Reason)
		}
	}
	if acquired != 1 {
		t.Errorf("%d owners acquired the lease, want exactly 1", acquired)
	}
}

func TestRelease(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	svc.Acquire(ctx, "acc1", "job-a")

	if err := svc.Release(ctx, "acc1", "job-b"); err != nil {
		t.Fatalf("mismatched release returned error: %v", err)
	}
	lease, _ := store.Accounts().GetLease(ctx, "acc1")
	if lease.ID != "job-a" {
		t.Fatal("mismatched release cleared the lease")
	}

	if err := svc.Release(ctx, "acc1", "job-a"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	lease, _ = store.Accounts().GetLease(ctx, "acc1")
	if lease.Held() || lease.Timestamp != nil {
		t.Errorf("lease still held after release: %+v", lease)
	}

	if err := svc.Release(ctx, "missing", "job-a"); err != nil {
		t.Errorf("release on deleted account: %v", err)
	}
}

func TestIsLockValid(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		age  time.Duration
		want bool
	}{
		{name: "fresh", age: time.Minute, want: true},
		{name: "just under ttl", age: 5*time.Minute - time.Millisecond, want: true},
		{name: "exactly ttl", age: 5 * time.Minute, want: false},
		{name: "expired", age: 10 * time.Minute, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsLockValid(now.Add(-tt.age), now, DefaultTTL); got != tt.want {
				t.Errorf("IsLockValid(age=%v) = %v, want %v", tt.age, got, tt.want)
			}
		})
	}
}
