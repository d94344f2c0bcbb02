package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/reelpulse/reelpulse/internal/accountsync"
	"github.com/reelpulse/reelpulse/internal/database"
	"github.com/reelpulse/reelpulse/internal/models"
	"github.com/reelpulse/reelpulse/internal/testutil"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []models.SyncJob
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, jobs []models.SyncJob) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, jobs...)
}

type fixture struct {
	store      *database.MemoryStore
	clock      *testutil.StubClock
	dispatcher *recordingDispatcher
	svc        *Service
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store := database.NewMemoryStore()
	clock := testutil.FixedClock()
	dispatcher := &recordingDispatcher{}
	svc := NewService(Deps{
		Jobs:       store.Jobs(),
		Accounts:   store.Accounts(),
		Activity:   store.Activity(),
		Dispatcher: dispatcher,
		Clock:      clock,
		IDs:        testutil.NewStubIDGenerator("job"),
		Logger:     testutil.DiscardLogger(),
	}, cfg)
	return &fixture{store: store, clock: clock, dispatcher: dispatcher, svc: svc}
}

func (f *fixture) account(t *testing.T, id string) *models.TrackedAccount {
	t.Helper()
	a := &models.TrackedAccount{
		ID:        id,
		OrgID:     "org1",
		ProjectID: "proj1",
		Username:  "user_" + id,
		Platform:  models.PlatformInstagram,
		IsActive:  true,
	}
	if err := f.store.Accounts().Create(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	return a
}

// insert stores a job in the given state, creating its account.
func (f *fixture) insert(t *testing.T, id string, status models.JobStatus, priority int, age time.Duration, attempts int) models.SyncJob {
	t.Helper()
	accountID := "acc-" + id
	f.account(t, accountID)
	now := models.StoreTime(f.clock.Now())
	job := models.SyncJob{
		ID:          id,
		Status:      status,
		AccountID:   accountID,
		OrgID:       "org1",
		ProjectID:   "proj1",
		Trigger:     models.JobTriggerScheduled,
		Priority:    priority,
		Attempts:    attempts,
		MaxAttempts: 3,
		CreatedAt:   now.Add(-age),
	}
	if status == models.JobStatusRunning {
		started := now.Add(-age)
		job.StartedAt = &started
	}
	if status == models.JobStatusCompleted || status == models.JobStatusFailed {
		done := now.Add(-age)
		job.CompletedAt = &done
	}
	if err := f.store.Jobs().Create(context.Background(), &job); err != nil {
		t.Fatal(err)
	}
	return job
}

func (f *fixture) get(t *testing.T, id string) *models.SyncJob {
	t.Helper()
	job, err := f.store.Jobs().GetByID(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return job
}

func TestTick_SelfCleansWhenIdle(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	for i := 0; i < 3; i++ {
		f.insert(t, fmt.Sprintf("done%d", i), models.JobStatusCompleted, 10, time.Hour, 0)
	}
	f.insert(t, "broken", models.JobStatusFailed, 10, time.Hour, 3)

	result, err := f.svc.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if !result.Idle || result.CleanedUp != 3 || result.Dispatched != 0 {
		t.Errorf("result = %+v", result)
	}
	if f.get(t, "done0") != nil {
		t.Error("completed job survived the idle sweep")
	}
	if f.get(t, "broken") == nil {
		t.Error("failed jobs are kept for inspection")
	}
}

func TestTick_RespectsConcurrencyLimit(t *testing.T) {
	f := newFixture(t, Config{ConcurrencyLimit: 6})
	for i := 0; i < 4; i++ {
		f.insert(t, fmt.Sprintf("run%d", i), models.JobStatusRunning, 10, time.Minute, 0)
	}
	for i := 0; i < 10; i++ {
		f.insert(t, fmt.Sprintf("pend%02d", i), models.JobStatusPending, 10, time.Duration(10-i)*time.Second, 0)
	}

	result, err := f.svc.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if result.Dispatched != 2 || len(f.dispatcher.jobs) != 2 {
		t.Fatalf("dispatched = %d (%d handed over), want 2", result.Dispatched, len(f.dispatcher.jobs))
	}
	if result.Validated != 4 || result.PendingRemaining != 8 {
		t.Errorf("result = %+v", result)
	}
	for _, job := range f.dispatcher.jobs {
		stored := f.get(t, job.ID)
		if stored.Status != models.JobStatusRunning || stored.StartedAt == nil {
			t.Errorf("dispatched job %s not claimed: %+v", job.ID, stored)
		}
	}
	if f.dispatcher.jobs[0].ID != "pend00" || f.dispatcher.jobs[1].ID != "pend01" {
		t.Errorf("claimed %s, %s; want oldest first", f.dispatcher.jobs[0].ID, f.dispatcher.jobs[1].ID)
	}
}

func TestTick_TimeoutReclassification(t *testing.T) {
	tests := []struct {
		name         string
		attempts     int
		wantStatus   models.JobStatus
		wantAttempts int
	}{
		{name: "retries remaining", attempts: 2, wantStatus: models.JobStatusPending, wantAttempts: 3},
		{name: "attempts exhausted", attempts: 3, wantStatus: models.JobStatusFailed, wantAttempts: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// one fresh running job fills the single slot so nothing is re-claimed
			f := newFixture(t, Config{ConcurrencyLimit: 1, JobTimeout: 10 * time.Minute})
			f.insert(t, "fresh", models.JobStatusRunning, 10, time.Minute, 0)
			f.insert(t, "stuck", models.JobStatusRunning, 10, 11*time.Minute, tt.attempts)

			result, err := f.svc.Tick(context.Background())
			if err != nil {
				t.Fatalf("Tick: %v", err)
			}
			got := f.get(t, "stuck")
			if got.Status != tt.wantStatus || got.Attempts != tt.wantAttempts {
				t.Errorf("job = status %s attempts %d, want %s %d", got.Status, got.Attempts, tt.wantStatus, tt.wantAttempts)
			}
			if got.Error == "" {
				t.Error("timeout reason not recorded")
			}
			if tt.wantStatus == models.JobStatusPending && result.Requeued != 1 {
				t.Errorf("requeued = %d, want 1", result.Requeued)
			}
			if tt.wantStatus == models.JobStatusFailed && result.MarkedFailed != 1 {
				t.Errorf("marked failed = %d, want 1", result.MarkedFailed)
			}
			if result.Dispatched != 0 {
				t.Errorf("dispatched = %d with no free slot", result.Dispatched)
			}
		})
	}
}

func TestTick_JobAtExactTimeoutKeepsRunning(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.insert(t, "edge", models.JobStatusRunning, 10, 10*time.Minute, 0)

	if _, err := f.svc.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := f.get(t, "edge"); got.Status != models.JobStatusRunning {
		t.Errorf("status = %s, want running", got.Status)
	}
}

func TestTick_ClaimsByPriorityThenAge(t *testing.T) {
	f := newFixture(t, Config{ConcurrencyLimit: 2})
	f.insert(t, "sched-old", models.JobStatusPending, models.PriorityScheduled, 3*time.Minute, 0)
	f.insert(t, "sched-new", models.JobStatusPending, models.PriorityScheduled, time.Minute, 0)
	f.insert(t, "user", models.JobStatusPending, models.PriorityUser, 0, 0)

	if _, err := f.svc.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(f.dispatcher.jobs) != 2 || f.dispatcher.jobs[0].ID != "user" || f.dispatcher.jobs[1].ID != "sched-old" {
		t.Errorf("dispatched %v", f.dispatcher.jobs)
	}
	if got := f.get(t, "sched-new"); got.Status != models.JobStatusPending {
		t.Errorf("sched-new = %s, want pending", got.Status)
	}
}

func TestTick_SettlesRunningJobs(t *testing.T) {
	f := newFixture(t, Config{ConcurrencyLimit: 1})
	ctx := context.Background()

	orphan := f.insert(t, "orphan", models.JobStatusRunning, 10, time.Minute, 0)
	if err := f.store.Accounts().Delete(ctx, orphan.AccountID); err != nil {
		t.Fatal(err)
	}
	reported := f.insert(t, "reported", models.JobStatusRunning, 10, 2*time.Minute, 0)
	if err := f.store.Accounts().MarkSynced(ctx, reported.AccountID, models.StoreTime(f.clock.Now().Add(-time.Minute))); err != nil {
		t.Fatal(err)
	}
	f.insert(t, "next", models.JobStatusPending, 10, 0, 0)

	result, err := f.svc.Tick(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result.Cancelled != 1 || result.MarkedCompleted != 1 || result.Dispatched != 1 {
		t.Errorf("result = %+v", result)
	}
	if f.get(t, "orphan") != nil {
		t.Error("running job of deleted account should be removed")
	}
	if got := f.get(t, "reported"); got.Status != models.JobStatusCompleted {
		t.Errorf("reported = %s, want completed", got.Status)
	}
}

func TestTick_RequeuesRunningJobWithoutStartTime(t *testing.T) {
	f := newFixture(t, Config{ConcurrencyLimit: 1, JobTimeout: 10 * time.Minute})
	ctx := context.Background()
	f.account(t, "acc-bare")
	bare := &models.SyncJob{
		ID:          "bare",
		Status:      models.JobStatusRunning,
		AccountID:   "acc-bare",
		OrgID:       "org1",
		ProjectID:   "proj1",
		Trigger:     models.JobTriggerScheduled,
		Priority:    models.PriorityScheduled,
		Attempts:    1,
		MaxAttempts: 3,
		CreatedAt:   models.StoreTime(f.clock.Now().Add(-time.Hour)),
	}
	if err := f.store.Jobs().Create(ctx, bare); err != nil {
		t.Fatal(err)
	}

	result, err := f.svc.Tick(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result.Requeued != 1 || result.Dispatched != 1 {
		t.Errorf("result = %+v, want the job requeued and its slot reused", result)
	}
	got := f.get(t, "bare")
	if got.Status != models.JobStatusRunning || got.StartedAt == nil {
		t.Fatalf("job = %+v, want re-claimed with a start time", got)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
}

func TestEnqueue(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.account(t, "acc1")

	job, created, err := f.svc.Enqueue(ctx, EnqueueRequest{AccountID: "acc1", Trigger: models.JobTriggerScheduled})
	if err != nil || !created {
		t.Fatalf("Enqueue = %v, %v, %v", job, created, err)
	}
	if job.Priority != models.PriorityScheduled || job.MaxAttempts != models.DefaultMaxAttempts || job.OrgID != "org1" {
		t.Errorf("job = %+v", job)
	}

	again, created, err := f.svc.Enqueue(ctx, EnqueueRequest{AccountID: "acc1", Trigger: models.JobTriggerManual})
	if err != nil || created {
		t.Fatalf("second Enqueue created=%v err=%v", created, err)
	}
	if again.ID != job.ID || again.Priority != models.PriorityUser {
		t.Errorf("deduplicated job = %+v", again)
	}
	if stored := f.get(t, job.ID); stored.Priority != models.PriorityUser {
		t.Errorf("stored priority = %d, want raised to %d", stored.Priority, models.PriorityUser)
	}

	lower, _, err := f.svc.Enqueue(ctx, EnqueueRequest{AccountID: "acc1", Trigger: models.JobTriggerScheduled})
	if err != nil || lower.Priority != models.PriorityUser {
		t.Errorf("lower priority request changed job: %+v, %v", lower, err)
	}
}

func TestEnqueue_Errors(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.account(t, "acc1")
	if err := f.store.Accounts().RequestDeletion(ctx, "acc1", f.clock.Now()); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		req  EnqueueRequest
		want error
	}{
		{name: "missing account", req: EnqueueRequest{AccountID: "nope"}, want: ErrAccountNotFound},
		{name: "pending deletion", req: EnqueueRequest{AccountID: "acc1"}, want: ErrAccountNotFound},
		{name: "negative priority", req: EnqueueRequest{AccountID: "acc1", Priority: -1}, want: ErrInvalidPriority},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := f.svc.Enqueue(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t, Config{ConcurrencyLimit: 6})
	for i := 0; i < 3; i++ {
		f.insert(t, fmt.Sprintf("run%d", i), models.JobStatusRunning, 10, time.Minute, 0)
	}
	f.insert(t, "pend", models.JobStatusPending, 10, 0, 0)
	f.insert(t, "done-recent", models.JobStatusCompleted, 10, 10*time.Minute, 0)
	f.insert(t, "done-old", models.JobStatusCompleted, 10, 2*time.Hour, 0)
	f.insert(t, "failed", models.JobStatusFailed, 10, 5*time.Minute, 3)

	st, err := f.svc.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Running != 3 || st.Pending != 1 || st.Completed != 2 || st.Failed != 1 {
		t.Errorf("counts = %+v", st)
	}
	if st.AvailableSlots != 3 || st.Utilization != 0.5 {
		t.Errorf("capacity = %d slots, %.2f utilization", st.AvailableSlots, st.Utilization)
	}
	if st.CompletedLastHour != 1 || st.FailedLastHour != 1 {
		t.Errorf("throughput = %d completed, %d failed", st.CompletedLastHour, st.FailedLastHour)
	}
	if len(st.Next) != 1 || st.Next[0].ID != "pend" {
		t.Errorf("next = %v", st.Next)
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.insert(t, "a", models.JobStatusPending, 10, 0, 0)
	f.insert(t, "b", models.JobStatusRunning, 10, 0, 0)
	f.insert(t, "c", models.JobStatusCompleted, 10, 0, 0)

	n, err := f.svc.CancelAccount(ctx, "acc-a")
	if err != nil || n != 1 {
		t.Errorf("CancelAccount = %d, %v", n, err)
	}
	n, err = f.svc.CancelProject(ctx, "proj1")
	if err != nil || n != 1 {
		t.Errorf("CancelProject = %d, %v; only the running job should remain active", n, err)
	}
	if f.get(t, "c") == nil {
		t.Error("completed job should not be cancelled")
	}
}

type fakeJobRunner struct {
	mu       sync.Mutex
	ran      []string
	deadline bool
}

func (r *fakeJobRunner) RunJob(ctx context.Context, job models.SyncJob) (accountsync.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ran = append(r.ran, job.ID)
	_, r.deadline = ctx.Deadline()
	if job.ID == "boom" {
		panic("adapter bug")
	}
	return accountsync.Result{JobID: job.ID, Outcome: accountsync.OutcomeCompleted}, nil
}

func TestAsyncDispatcher(t *testing.T) {
	runner := &fakeJobRunner{}
	d := NewAsyncDispatcher(runner, time.Minute, testutil.DiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	d.Dispatch(ctx, []models.SyncJob{{ID: "j1"}, {ID: "boom"}, {ID: "j2"}})
	cancel()
	d.Wait()

	if len(runner.ran) != 3 {
		t.Errorf("ran %v, want all three jobs despite the panic and cancelled tick context", runner.ran)
	}
	if !runner.deadline {
		t.Error("job context should carry the job timeout")
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{raw: "", want: 0},
		{raw: "user", want: models.PriorityUser},
		{raw: " Scheduled ", want: models.PriorityScheduled},
		{raw: "42", want: 42},
		{raw: "-1", wantErr: true},
		{raw: "urgent", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParsePriority(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPriority) {
					t.Errorf("ParsePriority(%q) error = %v, want ErrInvalidPriority", tt.raw, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParsePriority(%q) = %d, %v; want %d", tt.raw, got, err, tt.want)
			}
		})
	}
}
