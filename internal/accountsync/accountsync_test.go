package accountsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/reelpulse/reelpulse/internal/database"
	"github.com/reelpulse/reelpulse/internal/lock"
	"github.com/reelpulse/reelpulse/internal/models"
	"github.com/reelpulse/reelpulse/internal/platform"
	"github.com/reelpulse/reelpulse/internal/testutil"
	"github.com/reelpulse/reelpulse/internal/validation"
)

// remoteAdapter simulates a platform whose current state is a newest-first
// list of videos.
type remoteAdapter struct {
	mu        sync.Mutex
	videos    []models.Video
	err       error
	noRefresh bool
	fetches   []int
}

func (a *remoteAdapter) Platform() models.Platform { return models.PlatformTikTok }

func (a *remoteAdapter) bind(account *models.TrackedAccount, v models.Video) models.Video {
	v.Platform = models.PlatformTikTok
	v.AccountID = account.ID
	v.OrgID = account.OrgID
	v.ProjectID = account.ProjectID
	v.URL = "https://www.tiktok.com/@creator/video/" + v.VideoID
	v.ID = v.DocID()
	v.Status = models.VideoStatusActive
	return v
}

func (a *remoteAdapter) FetchRecent(ctx context.Context, account *models.TrackedAccount, limit int) (platform.FetchResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetches = append(a.fetches, limit)
	if a.err != nil {
		return platform.FetchResult{}, a.err
	}
	n := min(limit, len(a.videos))
	out := make([]models.Video, n)
	for i := range out {
		out[i] = a.bind(account, a.videos[i])
	}
	followers := int64(1200)
	return platform.FetchResult{
		Videos:    out,
		Profile:   models.AccountProfile{DisplayName: "The Creator", FollowerCount: &followers},
		Exhausted: n < limit,
	}, nil
}

func (a *remoteAdapter) Refresh(ctx context.Context, account *models.TrackedAccount, existing []models.Video) ([]models.Video, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	if a.noRefresh {
		return nil, nil
	}
	byID := make(map[string]models.Video, len(a.videos))
	for _, v := range a.videos {
		byID[v.VideoID] = v
	}
	var out []models.Video
	for _, v := range existing {
		if remote, ok := byID[v.VideoID]; ok {
			out = append(out, a.bind(account, remote))
		}
	}
	return out, nil
}

func (a *remoteAdapter) PersistThumbnails(ctx context.Context, account *models.TrackedAccount, videos []models.Video) {}

func (a *remoteAdapter) setViews(videoID string, views int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.videos {
		if a.videos[i].VideoID == videoID {
			a.videos[i].Views = views
		}
	}
}

type fixture struct {
	store   *database.MemoryStore
	clock   *testutil.StubClock
	locks   *lock.Service
	remote  *remoteAdapter
	svc     *Service
	account *models.TrackedAccount
}

func newFixture(t *testing.T, remote []models.Video) *fixture {
	t.Helper()
	ctx := context.Background()
	store := database.NewMemoryStore()
	clock := testutil.FixedClock()
	logger := testutil.DiscardLogger()

	if err := store.Usage().CreateOrganization(ctx, &models.Organization{ID: "org1", Name: "Org"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Usage().CreateProject(ctx, &models.Project{ID: "proj1", OrgID: "org1", Name: "Launch"}); err != nil {
		t.Fatal(err)
	}
	account := &models.TrackedAccount{
		ID:        "acc1",
		OrgID:     "org1",
		ProjectID: "proj1",
		Username:  "creator",
		Platform:  models.PlatformTikTok,
		IsActive:  true,
	}
	if err := store.Accounts().Create(ctx, account); err != nil {
		t.Fatal(err)
	}

	adapter := &remoteAdapter{videos: remote}
	locks := lock.NewService(store.Accounts(), clock, 0, logger)
	svc := NewService(Deps{
		Accounts: store.Accounts(),
		Videos:   store.Videos(),
		Jobs:     store.Jobs(),
		Usage:    store.Usage(),
		Activity: store.Activity(),
		Locks:    locks,
		Adapters: platform.NewRegistry(adapter),
		Clock:    clock,
		IDs:      testutil.NewStubIDGenerator("snap"),
		Logger:   logger,
	}, Config{DiscoveryLimit: 10, DiscoveryMaxLimit: 100})

	return &fixture{store: store, clock: clock, locks: locks, remote: adapter, svc: svc, account: account}
}

// remoteVideos returns n videos newest first, one hour apart.
func remoteVideos(now time.Time, n int) []models.Video {
	out := make([]models.Video, n)
	for i := range out {
		out[i] = models.Video{
			VideoID:    fmt.Sprintf("v%03d", i),
			Views:      int64(100 * (i + 1)),
			Likes:      int64(i),
			UploadDate: now.Add(-time.Duration(i+1) * time.Hour),
		}
	}
	return out
}

func (f *fixture) claim(t *testing.T, trigger models.JobTrigger, attempts int) models.SyncJob {
	t.Helper()
	ctx := context.Background()
	job := &models.SyncJob{
		AccountID:   f.account.ID,
		OrgID:       f.account.OrgID,
		ProjectID:   f.account.ProjectID,
		Trigger:     trigger,
		Priority:    models.PriorityScheduled,
		Attempts:    attempts,
		MaxAttempts: models.DefaultMaxAttempts,
		CreatedAt:   models.StoreTime(f.clock.Now()),
	}
	if err := f.store.Jobs().Create(ctx, job); err != nil {
		t.Fatal(err)
	}
	claimed, err := f.store.Jobs().ClaimPending(ctx, 1, models.StoreTime(f.clock.Now()))
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimPending = %v, %v", claimed, err)
	}
	return claimed[0]
}

func (f *fixture) job(t *testing.T, id string) *models.SyncJob {
	t.Helper()
	job, err := f.store.Jobs().GetByID(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return job
}

func (f *fixture) storedAccount(t *testing.T) *models.TrackedAccount {
	t.Helper()
	a, err := f.store.Accounts().GetByID(context.Background(), f.account.ID)
	if err != nil || a == nil {
		t.Fatalf("GetByID = %v, %v", a, err)
	}
	return a
}

func TestRunJob_FirstSync(t *testing.T) {
	clock := testutil.FixedClock()
	f := newFixture(t, remoteVideos(clock.Now(), 3))
	ctx := context.Background()

	job := f.claim(t, models.JobTriggerInitial, 0)
	result, err := f.svc.RunJob(ctx, job)
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if result.Outcome != OutcomeCompleted || result.Created != 3 || result.Snapshots != 3 {
		t.Fatalf("result = %+v", result)
	}

	if got := f.job(t, job.ID); got.Status != models.JobStatusCompleted {
		t.Errorf("job status = %s, want completed", got.Status)
	}
	account := f.storedAccount(t)
	if account.SyncStatus != models.AccountSyncCompleted || account.LastSynced == nil {
		t.Errorf("account sync state = %s, last synced %v", account.SyncStatus, account.LastSynced)
	}
	if account.Totals.Videos != 3 || account.Totals.Views != 600 {
		t.Errorf("totals = %+v", account.Totals)
	}
	if account.DisplayName != "The Creator" || account.FollowerCount != 1200 {
		t.Errorf("profile not applied: %+v", account)
	}
	if account.SyncLockID != "" {
		t.Errorf("lock still held by %q", account.SyncLockID)
	}

	org, _ := f.store.Usage().GetOrganization(ctx, "org1")
	project, _ := f.store.Usage().GetProject(ctx, "proj1")
	if org.TrackedVideos != 3 || project.VideoCount != 3 {
		t.Errorf("usage org=%d project=%d, want 3", org.TrackedVideos, project.VideoCount)
	}

	snaps, err := f.store.Videos().ListSnapshots(ctx, models.VideoDocID(models.PlatformTikTok, "acc1", "v000"))
	if err != nil || len(snaps) != 1 || snaps[0].CapturedBy != models.SnapshotInitialAdd {
		t.Errorf("snapshots of v000 = %+v, %v", snaps, err)
	}

	entries, _ := f.store.Activity().List(ctx, 10, string(models.ActivityTypeSyncCycle), "")
	if len(entries) != 1 || entries[0].AccountID != "acc1" {
		t.Errorf("activity = %+v", entries)
	}
}

func TestRunJob_IdempotentOnUnchangedSource(t *testing.T) {
	clock := testutil.FixedClock()
	f := newFixture(t, remoteVideos(clock.Now(), 5))
	ctx := context.Background()

	if _, err := f.svc.RunJob(ctx, f.claim(t, models.JobTriggerInitial, 0)); err != nil {
		t.Fatal(err)
	}
	before, _ := f.store.Videos().ListByAccount(ctx, "acc1")
	snapshotsBefore := f.store.SnapshotCount()

	f.clock.Advance(time.Hour)
	result, err := f.svc.RunJob(ctx, f.claim(t, models.JobTriggerScheduled, 0))
	if err != nil {
		t.Fatal(err)
	}
	if result.Created != 0 || result.Snapshots != 0 || !result.FoundDuplicate {
		t.Errorf("second run = %+v", result)
	}
	after, _ := f.store.Videos().ListByAccount(ctx, "acc1")
	if len(after) != len(before) {
		t.Fatalf("video count %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i].ID != after[i].ID || before[i].Metrics() != after[i].Metrics() || before[i].Caption != after[i].Caption {
			t.Errorf("video %s changed: %+v -> %+v", before[i].ID, before[i], after[i])
		}
	}
	if f.store.SnapshotCount() != snapshotsBefore {
		t.Errorf("snapshots %d -> %d", snapshotsBefore, f.store.SnapshotCount())
	}
	org, _ := f.store.Usage().GetOrganization(ctx, "org1")
	if org.TrackedVideos != 5 {
		t.Errorf("usage = %d, want 5", org.TrackedVideos)
	}
}

func TestRunJob_SnapshotsChangedMetricsOnce(t *testing.T) {
	clock := testutil.FixedClock()
	f := newFixture(t, remoteVideos(clock.Now(), 4))
	ctx := context.Background()

	if _, err := f.svc.RunJob(ctx, f.claim(t, models.JobTriggerInitial, 0)); err != nil {
		t.Fatal(err)
	}
	f.remote.setViews("v002", 9999)
	f.clock.Advance(time.Hour)

	result, err := f.svc.RunJob(ctx, f.claim(t, models.JobTriggerManual, 0))
	if err != nil {
		t.Fatal(err)
	}
	if result.Snapshots != 1 || result.Refreshed != 4 {
		t.Errorf("result = %+v", result)
	}
	snaps, _ := f.store.Videos().ListSnapshots(ctx, models.VideoDocID(models.PlatformTikTok, "acc1", "v002"))
	if len(snaps) != 2 || snaps[1].CapturedBy != models.SnapshotManualRefresh || snaps[1].Views != 9999 {
		t.Errorf("snapshots = %+v", snaps)
	}
}

func TestRunJob_OneSnapshotPerCycleAcrossBatches(t *testing.T) {
	clock := testutil.FixedClock()
	remote := remoteVideos(clock.Now(), 40)
	f := newFixture(t, remote)
	ctx := context.Background()

	// the five oldest videos are already stored with current metrics
	for _, v := range remote[35:] {
		if _, err := f.store.Videos().Upsert(ctx, f.remote.bind(f.account, v)); err != nil {
			t.Fatal(err)
		}
	}

	result, err := f.svc.RunJob(ctx, f.claim(t, models.JobTriggerScheduled, 0))
	if err != nil {
		t.Fatal(err)
	}
	if result.Batches != 3 {
		t.Errorf("batches = %d, want 3 (fetches %v)", result.Batches, f.remote.fetches)
	}
	if result.Created != 35 || result.Snapshots != 35 {
		t.Errorf("created %d snapshots %d, want 35 each", result.Created, result.Snapshots)
	}
	if f.store.SnapshotCount() != 35 {
		t.Errorf("stored snapshots = %d, want 35", f.store.SnapshotCount())
	}
	if f.store.VideoCount() != 40 {
		t.Errorf("stored videos = %d, want 40", f.store.VideoCount())
	}
}

func TestRunJob_DiscoveryOverlapRefreshesMetrics(t *testing.T) {
	clock := testutil.FixedClock()
	remote := remoteVideos(clock.Now(), 2)
	f := newFixture(t, remote)
	f.remote.noRefresh = true
	ctx := context.Background()

	stale := remote[1]
	stale.Views = 10
	if _, err := f.store.Videos().Upsert(ctx, f.remote.bind(f.account, stale)); err != nil {
		t.Fatal(err)
	}

	result, err := f.svc.RunJob(ctx, f.claim(t, models.JobTriggerScheduled, 0))
	if err != nil {
		t.Fatal(err)
	}
	if result.Created != 1 || result.Refreshed != 1 || result.Snapshots != 2 {
		t.Errorf("result = %+v", result)
	}
	v, _ := f.store.Videos().GetByID(ctx, models.VideoDocID(models.PlatformTikTok, "acc1", "v001"))
	if v == nil || v.Views != remote[1].Views {
		t.Errorf("v001 = %+v, want views %d", v, remote[1].Views)
	}
}

func TestRunJob_OverlapWithoutDateKeepsStoredUploadDate(t *testing.T) {
	clock := testutil.FixedClock()
	remote := remoteVideos(clock.Now(), 2)
	f := newFixture(t, remote)
	f.remote.noRefresh = true
	ctx := context.Background()

	if _, err := f.svc.RunJob(ctx, f.claim(t, models.JobTriggerManual, 0)); err != nil {
		t.Fatal(err)
	}
	id := models.VideoDocID(models.PlatformTikTok, "acc1", "v001")
	before, _ := f.store.Videos().GetByID(ctx, id)
	if before == nil {
		t.Fatal("v001 was not stored")
	}

	// Two days later the platform returns v001 without a date, so the
	// adapter falls back to the sync time.
	f.clock.Advance(48 * time.Hour)
	f.remote.mu.Lock()
	f.remote.videos[1].UploadDate = models.StoreTime(f.clock.Now())
	f.remote.videos[1].UploadDateEstimated = true
	f.remote.videos[1].Views += 50
	wantViews := f.remote.videos[1].Views
	f.remote.mu.Unlock()

	if _, err := f.svc.RunJob(ctx, f.claim(t, models.JobTriggerScheduled, 0)); err != nil {
		t.Fatal(err)
	}
	after, _ := f.store.Videos().GetByID(ctx, id)
	if after == nil {
		t.Fatal("v001 disappeared")
	}
	if !after.UploadDate.Equal(before.UploadDate) {
		t.Errorf("upload date = %v, want stored %v", after.UploadDate, before.UploadDate)
	}
	if after.Views != wantViews {
		t.Errorf("views = %d, want %d", after.Views, wantViews)
	}
	all, _ := f.store.Videos().ListByAccount(ctx, "acc1")
	if oldest := validation.FindOldestUploadDate(all); oldest == nil || !oldest.Equal(before.UploadDate) {
		t.Errorf("oldest upload date = %v, want %v", oldest, before.UploadDate)
	}
}

func TestRunJob_SkipsVideosOlderThanStoredHistory(t *testing.T) {
	clock := testutil.FixedClock()
	now := clock.Now()
	remote := []models.Video{
		{VideoID: "old", Views: 5, UploadDate: now.AddDate(0, 0, -30)},
		{VideoID: "known", Views: 7, UploadDate: now.AddDate(0, 0, -2)},
	}
	f := newFixture(t, remote)
	ctx := context.Background()
	if _, err := f.store.Videos().Upsert(ctx, f.remote.bind(f.account, remote[1])); err != nil {
		t.Fatal(err)
	}

	result, err := f.svc.RunJob(ctx, f.claim(t, models.JobTriggerScheduled, 0))
	if err != nil {
		t.Fatal(err)
	}
	if result.SkippedByDate != 1 || result.Created != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestRunJob_LockContentionRequeuesWithoutAttempt(t *testing.T) {
	f := newFixture(t, remoteVideos(testutil.FixedClock().Now(), 3))
	ctx := context.Background()

	if res, err := f.locks.Acquire(ctx, "acc1", "other-job"); err != nil || !res.Acquired {
		t.Fatalf("pre-acquire = %+v, %v", res, err)
	}
	f.clock.Advance(90 * time.Second)

	job := f.claim(t, models.JobTriggerScheduled, 1)
	result, err := f.svc.RunJob(ctx, job)
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcome != OutcomeContended || result.Error != lock.ReasonLocked {
		t.Errorf("result = %+v", result)
	}
	got := f.job(t, job.ID)
	if got.Status != models.JobStatusPending || got.Attempts != 1 || got.StartedAt != nil {
		t.Errorf("job = %+v", got)
	}
	if f.store.VideoCount() != 0 {
		t.Error("contended cycle must not touch videos")
	}
	if f.storedAccount(t).SyncLockID != "other-job" {
		t.Error("contended cycle released a lock it does not own")
	}
}

func TestRunJob_Failure(t *testing.T) {
	tests := []struct {
		name         string
		attempts     int
		wantStatus   models.JobStatus
		wantAttempts int
		wantOutcome  Outcome
	}{
		{name: "retries remaining", attempts: 0, wantStatus: models.JobStatusPending, wantAttempts: 1, wantOutcome: OutcomeRetrying},
		{name: "attempts exhausted", attempts: 3, wantStatus: models.JobStatusFailed, wantAttempts: 3, wantOutcome: OutcomeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.remote.err = errors.New("gateway unavailable")
			ctx := context.Background()

			job := f.claim(t, models.JobTriggerScheduled, tt.attempts)
			result, err := f.svc.RunJob(ctx, job)
			if err != nil {
				t.Fatalf("RunJob returned %v; cycle failures must become job state", err)
			}
			if result.Outcome != tt.wantOutcome {
				t.Errorf("outcome = %s, want %s", result.Outcome, tt.wantOutcome)
			}
			got := f.job(t, job.ID)
			if got.Status != tt.wantStatus || got.Attempts != tt.wantAttempts || got.Error == "" {
				t.Errorf("job = %+v", got)
			}
			account := f.storedAccount(t)
			if account.SyncStatus != models.AccountSyncError || account.SyncError == "" {
				t.Errorf("account sync state = %s %q", account.SyncStatus, account.SyncError)
			}
			if account.SyncLockID != "" {
				t.Error("lock not released after failure")
			}
		})
	}
}

func TestRunJob_AccountGone(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	job := f.claim(t, models.JobTriggerScheduled, 0)
	if err := f.store.Accounts().Delete(ctx, "acc1"); err != nil {
		t.Fatal(err)
	}

	result, err := f.svc.RunJob(ctx, job)
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcome != OutcomeCancelled {
		t.Errorf("outcome = %s, want cancelled", result.Outcome)
	}
	if f.job(t, job.ID) != nil {
		t.Error("job of a deleted account should be removed")
	}
}

func TestRunJob_RequiresClaim(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.svc.RunJob(context.Background(), models.SyncJob{ID: "j1", AccountID: "acc1"}); err == nil {
		t.Error("expected error for an unclaimed job")
	}
}
