package database

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/reelpulse/reelpulse/internal/models"
	"github.com/reelpulse/reelpulse/migrations"
)

// openTestDB connects to TEST_DATABASE_URL and applies migrations, skipping
// the test when no database is available.
func openTestDB(t *testing.T) Repositories {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.URL = url
	db, err := Connect(ctx, cfg)
	if err != nil {
		t.Skipf("database unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := RunMigrations(ctx, db, migrations.FS, logger); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	return NewPostgresRepositories(db)
}

func TestPostgresLease_CompareAndSet(t *testing.T) {
	repos := openTestDB(t)
	ctx := context.Background()

	account := &models.TrackedAccount{
		OrgID:     "org-" + uuid.NewString(),
		ProjectID: "proj-" + uuid.NewString(),
		Username:  "creator",
		Platform:  models.PlatformInstagram,
		IsActive:  true,
	}
	if err := repos.Accounts.Create(ctx, account); err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer repos.Accounts.Delete(ctx, account.ID)

	now := models.StoreTime(time.Now())
	ok, err := repos.Accounts.SwapLease(ctx, account.ID, models.Lease{}, models.Lease{ID: "job-a", Timestamp: &now})
	if err != nil || !ok {
		t.Fatalf("SwapLease = %v, %v", ok, err)
	}
	ok, err = repos.Accounts.SwapLease(ctx, account.ID, models.Lease{}, models.Lease{ID: "job-b", Timestamp: &now})
	if err != nil || ok {
		t.Fatalf("second SwapLease = %v, %v; want false", ok, err)
	}

	lease, err := repos.Accounts.GetLease(ctx, account.ID)
	if err != nil {
		t.Fatalf("GetLease: %v", err)
	}
	if lease.ID != "job-a" || lease.Timestamp == nil || !lease.Timestamp.Equal(now) {
		t.Errorf("lease = %+v, want job-a at %v", lease, now)
	}

	if ok, _ := repos.Accounts.ClearLease(ctx, account.ID, "job-a"); !ok {
		t.Error("ClearLease by owner failed")
	}
}

func TestPostgresJobs_ClaimAndGuardedComplete(t *testing.T) {
	repos := openTestDB(t)
	ctx := context.Background()

	accountID := "acc-" + uuid.NewString()
	job := &models.SyncJob{AccountID: accountID, Priority: models.PriorityUser, MaxAttempts: 3, Trigger: models.JobTriggerManual}
	if err := repos.Jobs.Create(ctx, job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer repos.Jobs.DeleteActiveForAccount(ctx, accountID)
	defer repos.Jobs.Delete(ctx, job.ID)

	claimedAt := models.StoreTime(time.Now())
	claimed, err := repos.Jobs.ClaimPending(ctx, 100, claimedAt)
	if err != nil {
		t.Fatalf("ClaimPending: %v", err)
	}
	found := false
	for _, c := range claimed {
		if c.ID == job.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("created job was not claimed")
	}

	if ok, _ := repos.Jobs.Complete(ctx, job.ID, claimedAt.Add(-time.Second), claimedAt); ok {
		t.Error("complete with wrong claim succeeded")
	}
	if ok, err := repos.Jobs.Complete(ctx, job.ID, claimedAt, claimedAt); err != nil || !ok {
		t.Errorf("Complete = %v, %v", ok, err)
	}
}

func TestPostgresActivity_LogListTrim(t *testing.T) {
	repos := openTestDB(t)
	ctx := context.Background()

	platform := "p-" + uuid.NewString()[:8]
	old := models.StoreTime(time.Now().Add(-48 * time.Hour))
	count := 7
	entries := []models.ActivityLog{
		{Timestamp: old, ActivityType: models.ActivityTypeSyncCycle, Platform: platform, Message: "old"},
		{ActivityType: models.ActivityTypeSyncCycle, Platform: platform, Message: "new", ItemCount: &count,
			Details: map[string]interface{}{"new_videos": float64(3)}},
		{ActivityType: models.ActivityTypeDeletion, Platform: platform, Message: "gone"},
	}
	for _, e := range entries {
		if err := repos.Activity.Log(ctx, e); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	got, err := repos.Activity.List(ctx, 10, string(models.ActivityTypeSyncCycle), platform)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].Message != "new" {
		t.Fatalf("List = %+v, want newest sync_cycle first", got)
	}
	if got[0].ItemCount == nil || *got[0].ItemCount != 7 || got[0].Details["new_videos"] != float64(3) {
		t.Errorf("round trip lost fields: %+v", got[0])
	}

	if _, err := repos.Activity.DeleteBefore(ctx, old.Add(time.Hour)); err != nil {
		t.Fatalf("DeleteBefore: %v", err)
	}
	got, err = repos.Activity.List(ctx, 10, "", platform)
	if err != nil || len(got) != 2 {
		t.Errorf("after trim List = %d entries, %v; want 2", len(got), err)
	}
}
