package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/reelpulse/reelpulse/internal/models"
)

// MemoryStore is an in-memory document store for tests and local development.
// Every repository view shares one mutex so conditional updates are atomic
// across views, mirroring the row locks of the Postgres implementation.
type MemoryStore struct {
	mu        sync.Mutex
	accounts  map[string]models.TrackedAccount
	videos    map[string]models.Video
	snapshots map[string]models.Snapshot
	jobs      map[string]models.SyncJob
	orgs      map[string]models.Organization
	projects  map[string]models.Project
	activity  []models.ActivityLog
	failures  map[string]error
	batches   []int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]models.TrackedAccount),
		videos:    make(map[string]models.Video),
		snapshots: make(map[string]models.Snapshot),
		jobs:      make(map[string]models.SyncJob),
		orgs:      make(map[string]models.Organization),
		projects:  make(map[string]models.Project),
		failures:  make(map[string]error),
	}
}

// InjectError makes the named operation fail with err until cleared with a nil error.
// Operation names are "<collection>.<verb>", e.g. "videos.delete".
func (s *MemoryStore) InjectError(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// BatchSizes returns the sizes of every batched delete committed so far.
func (s *MemoryStore) BatchSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.batches...)
}

// SnapshotCount returns the number of stored snapshots.
func (s *MemoryStore) SnapshotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

// VideoCount returns the number of stored videos.
func (s *MemoryStore) VideoCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.videos)
}

// Accounts returns the account and lease repository view.
func (s *MemoryStore) Accounts() *MemoryAccountRepository { return &MemoryAccountRepository{s: s} }

// Videos returns the video and snapshot repository view.
func (s *MemoryStore) Videos() *MemoryVideoRepository { return &MemoryVideoRepository{s: s} }

// Jobs returns the sync job queue view.
func (s *MemoryStore) Jobs() *MemoryJobRepository { return &MemoryJobRepository{s: s} }

// Usage returns the organization/project view.
func (s *MemoryStore) Usage() *MemoryUsageRepository { return &MemoryUsageRepository{s: s} }

// Activity returns the activity log view.
func (s *MemoryStore) Activity() *MemoryActivityLogRepository {
	return &MemoryActivityLogRepository{s: s}
}

// failure must be called with s.mu held.
func (s *MemoryStore) failure(op string) error {
	return s.failures[op]
}

// chunk splits ids into batches of at most MaxBatchSize and records each size.
// Must be called with s.mu held.
func (s *MemoryStore) chunk(ids []string) [][]string {
	batches := chunkIDs(ids)
	for _, batch := range batches {
		s.batches = append(s.batches, len(batch))
	}
	return batches
}

// MemoryAccountRepository implements models.TrackedAccountRepository and models.LeaseRepository.
type MemoryAccountRepository struct {
	s *MemoryStore
}

func (r *MemoryAccountRepository) Create(ctx context.Context, account *models.TrackedAccount) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("accounts.create"); err != nil {
		return err
	}
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if _, exists := r.s.accounts[account.ID]; exists {
		return fmt.Errorf("account %s already exists", account.ID)
	}
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	if account.SyncStatus == "" {
		account.SyncStatus = models.AccountSyncIdle
	}
	r.s.accounts[account.ID] = *account
	return nil
}

func (r *MemoryAccountRepository) GetByID(ctx context.Context, id string) (*models.TrackedAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("accounts.get"); err != nil {
		return nil, err
	}
	account, ok := r.s.accounts[id]
	if !ok {
		return nil, nil
	}
	return &account, nil
}

func (r *MemoryAccountRepository) ListActive(ctx context.Context) ([]*models.TrackedAccount, error) {
	return r.list(func(a models.TrackedAccount) bool {
		return a.IsActive && a.DeletionRequestedAt == nil
	}), nil
}

func (r *MemoryAccountRepository) ListByProject(ctx context.Context, projectID string) ([]*models.TrackedAccount, error) {
	return r.list(func(a models.TrackedAccount) bool { return a.ProjectID == projectID }), nil
}

func (r *MemoryAccountRepository) ListPendingDeletion(ctx context.Context, maxAttempts, limit int) ([]*models.TrackedAccount, error) {
	accounts := r.list(func(a models.TrackedAccount) bool {
		return a.DeletionRequestedAt != nil && a.DeletionAttempts < maxAttempts
	})
	if limit > 0 && len(accounts) > limit {
		accounts = accounts[:limit]
	}
	return accounts, nil
}

func (r *MemoryAccountRepository) list(keep func(models.TrackedAccount) bool) []*models.TrackedAccount {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.TrackedAccount
	for _, a := range r.s.accounts {
		if keep(a) {
			account := a
			out = append(out, &account)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *MemoryAccountRepository) update(id string, fn func(*models.TrackedAccount)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("accounts.update"); err != nil {
		return err
	}
	account, ok := r.s.accounts[id]
	if !ok {
		return models.ErrNotFound
	}
	fn(&account)
	account.UpdatedAt = time.Now().UTC()
	r.s.accounts[id] = account
	return nil
}

func (r *MemoryAccountRepository) UpdateSyncStatus(ctx context.Context, id string, status models.AccountSyncStatus, syncErr string) error {
	return r.update(id, func(a *models.TrackedAccount) {
		a.SyncStatus = status
		a.SyncError = syncErr
	})
}

func (r *MemoryAccountRepository) MarkSynced(ctx context.Context, id string, at time.Time) error {
	return r.update(id, func(a *models.TrackedAccount) {
		synced := at
		a.LastSynced = &synced
		a.SyncStatus = models.AccountSyncCompleted
		a.SyncError = ""
	})
}

func (r *MemoryAccountRepository) UpdateProfile(ctx context.Context, id string, profile models.AccountProfile) error {
	return r.update(id, func(a *models.TrackedAccount) {
		if profile.PlatformUserID != "" {
			a.PlatformUserID = profile.PlatformUserID
		}
		if profile.DisplayName != "" {
			a.DisplayName = profile.DisplayName
		}
		if profile.FollowerCount != nil {
			a.FollowerCount = *profile.FollowerCount
		}
		if profile.ProfilePicURL != "" {
			a.ProfilePicURL = profile.ProfilePicURL
		}
	})
}

func (r *MemoryAccountRepository) UpdateTotals(ctx context.Context, id string, totals models.AccountTotals) error {
	return r.update(id, func(a *models.TrackedAccount) { a.Totals = totals })
}

func (r *MemoryAccountRepository) RequestDeletion(ctx context.Context, id string, at time.Time) error {
	return r.update(id, func(a *models.TrackedAccount) {
		requested := at
		a.IsActive = false
		a.DeletionRequestedAt = &requested
	})
}

func (r *MemoryAccountRepository) RecordDeletionFailure(ctx context.Context, id string, msg string) error {
	return r.update(id, func(a *models.TrackedAccount) {
		a.DeletionAttempts++
		a.DeletionError = msg
	})
}

func (r *MemoryAccountRepository) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("accounts.delete"); err != nil {
		return err
	}
	delete(r.s.accounts, id)
	return nil
}

func (r *MemoryAccountRepository) GetLease(ctx context.Context, accountID string) (models.Lease, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	account, ok := r.s.accounts[accountID]
	if !ok {
		return models.Lease{}, models.ErrNotFound
	}
	return account.Lease(), nil
}

func (r *MemoryAccountRepository) SwapLease(ctx context.Context, accountID string, expected, next models.Lease) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	account, ok := r.s.accounts[accountID]
	if !ok {
		return false, models.ErrNotFound
	}
	if !leaseEqual(account.Lease(), expected) {
		return false, nil
	}
	account.SyncLockID = next.ID
	account.SyncLockTimestamp = copyTime(next.Timestamp)
	r.s.accounts[accountID] = account
	return true, nil
}

func (r *MemoryAccountRepository) ClearLease(ctx context.Context, accountID, lockID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	account, ok := r.s.accounts[accountID]
	if !ok {
		return false, models.ErrNotFound
	}
	if account.SyncLockID != lockID {
		return false, nil
	}
	account.SyncLockID = ""
	account.SyncLockTimestamp = nil
	r.s.accounts[accountID] = account
	return true, nil
}

func leaseEqual(a, b models.Lease) bool {
	if a.ID != b.ID {
		return false
	}
	if a.Timestamp == nil || b.Timestamp == nil {
		return a.Timestamp == nil && b.Timestamp == nil
	}
	return a.Timestamp.Equal(*b.Timestamp)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// MemoryVideoRepository implements models.VideoRepository.
type MemoryVideoRepository struct {
	s *MemoryStore
}

func (r *MemoryVideoRepository) ListByAccount(ctx context.Context, accountID string) ([]models.Video, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("videos.list"); err != nil {
		return nil, err
	}
	var out []models.Video
	for _, v := range r.s.videos {
		if v.AccountID == accountID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UploadDate.Equal(out[j].UploadDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].UploadDate.After(out[j].UploadDate)
	})
	return out, nil
}

func (r *MemoryVideoRepository) GetByID(ctx context.Context, id string) (*models.Video, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.videos[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (r *MemoryVideoRepository) Upsert(ctx context.Context, video models.Video) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("videos.upsert"); err != nil {
		return false, err
	}
	video.ID = video.DocID()
	now := time.Now().UTC()
	existing, ok := r.s.videos[video.ID]
	if !ok {
		if video.CreatedAt.IsZero() {
			video.CreatedAt = now
		}
		if video.Status == "" {
			video.Status = models.VideoStatusActive
		}
		video.UpdatedAt = now
		video.OwnerID, video.OwnerUsername = "", ""
		r.s.videos[video.ID] = video
		return true, nil
	}
	r.s.videos[video.ID] = mergeVideo(existing, video, now)
	return false, nil
}

// mergeVideo applies an incoming record onto the stored one, keeping stored
// values where the incoming record has none.
func mergeVideo(existing, incoming models.Video, now time.Time) models.Video {
	merged := existing
	merged.Views = incoming.Views
	merged.Likes = incoming.Likes
	merged.Comments = incoming.Comments
	merged.Shares = incoming.Shares
	merged.Saves = incoming.Saves
	merged.LastRefreshedAt = incoming.LastRefreshedAt
	if incoming.URL != "" {
		merged.URL = incoming.URL
	}
	if incoming.Caption != "" {
		merged.Caption = incoming.Caption
	}
	if incoming.ThumbnailURL != "" {
		merged.ThumbnailURL = incoming.ThumbnailURL
	}
	if !incoming.UploadDate.IsZero() && incoming.UploadDate.Unix() > 0 {
		merged.UploadDate = incoming.UploadDate
	}
	merged.UpdatedAt = now
	return merged
}

func (r *MemoryVideoRepository) CreateSnapshot(ctx context.Context, snapshot models.Snapshot) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("snapshots.create"); err != nil {
		return err
	}
	if snapshot.ID == "" {
		snapshot.ID = uuid.New().String()
	}
	if _, exists := r.s.snapshots[snapshot.ID]; exists {
		return fmt.Errorf("snapshot %s already exists", snapshot.ID)
	}
	r.s.snapshots[snapshot.ID] = snapshot
	return nil
}

func (r *MemoryVideoRepository) ListSnapshots(ctx context.Context, videoID string) ([]models.Snapshot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Snapshot
	for _, snap := range r.s.snapshots {
		if snap.VideoID == videoID {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CapturedAt.Before(out[j].CapturedAt) })
	return out, nil
}

func (r *MemoryVideoRepository) DeleteSnapshots(ctx context.Context, videoIDs []string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("snapshots.delete"); err != nil {
		return 0, err
	}
	wanted := make(map[string]struct{}, len(videoIDs))
	for _, id := range videoIDs {
		wanted[id] = struct{}{}
	}
	var ids []string
	for id, snap := range r.s.snapshots {
		if _, ok := wanted[snap.VideoID]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	deleted := 0
	for _, batch := range r.s.chunk(ids) {
		for _, id := range batch {
			delete(r.s.snapshots, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *MemoryVideoRepository) DeleteVideos(ctx context.Context, videoIDs []string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("videos.delete"); err != nil {
		return 0, err
	}
	deleted := 0
	for _, batch := range r.s.chunk(videoIDs) {
		for _, id := range batch {
			if _, ok := r.s.videos[id]; ok {
				delete(r.s.videos, id)
				deleted++
			}
		}
	}
	return deleted, nil
}

// MemoryJobRepository implements models.SyncJobRepository.
type MemoryJobRepository struct {
	s *MemoryStore
}

func (r *MemoryJobRepository) Create(ctx context.Context, job *models.SyncJob) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("jobs.create"); err != nil {
		return err
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = models.StoreTime(time.Now())
	}
	r.s.jobs[job.ID] = *job
	return nil
}

func (r *MemoryJobRepository) GetByID(ctx context.Context, id string) (*models.SyncJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	job, ok := r.s.jobs[id]
	if !ok {
		return nil, nil
	}
	return &job, nil
}

func (r *MemoryJobRepository) FindActiveForAccount(ctx context.Context, accountID string) (*models.SyncJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var found *models.SyncJob
	for _, job := range r.s.jobs {
		if job.AccountID != accountID {
			continue
		}
		if job.Status != models.JobStatusPending && job.Status != models.JobStatusRunning {
			continue
		}
		j := job
		// prefer the running job when both exist
		if found == nil || j.Status == models.JobStatusRunning {
			found = &j
		}
	}
	return found, nil
}

func (r *MemoryJobRepository) UpdatePriority(ctx context.Context, id string, priority int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	job, ok := r.s.jobs[id]
	if !ok || job.Status != models.JobStatusPending {
		return nil
	}
	job.Priority = priority
	r.s.jobs[id] = job
	return nil
}

func (r *MemoryJobRepository) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("jobs.count"); err != nil {
		return nil, err
	}
	counts := make(map[models.JobStatus]int)
	for _, job := range r.s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

func (r *MemoryJobRepository) ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]models.SyncJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.sorted(status, limit), nil
}

// sorted must be called with r.s.mu held.
func (r *MemoryJobRepository) sorted(status models.JobStatus, limit int) []models.SyncJob {
	var out []models.SyncJob
	for _, job := range r.s.jobs {
		if job.Status == status {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *MemoryJobRepository) ClaimPending(ctx context.Context, limit int, at time.Time) ([]models.SyncJob, error) {
	if limit <= 0 {
		return nil, nil
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("jobs.claim"); err != nil {
		return nil, err
	}
	claimed := r.sorted(models.JobStatusPending, limit)
	for i := range claimed {
		started := at
		claimed[i].Status = models.JobStatusRunning
		claimed[i].StartedAt = &started
		r.s.jobs[claimed[i].ID] = claimed[i]
	}
	return claimed, nil
}

// transition applies fn to a running job still owned by the claim at
// claimedAt. A zero claimedAt matches a running job without a start time.
func (r *MemoryJobRepository) transition(id string, claimedAt time.Time, fn func(*models.SyncJob)) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("jobs.update"); err != nil {
		return false, err
	}
	job, ok := r.s.jobs[id]
	if !ok || job.Status != models.JobStatusRunning {
		return false, nil
	}
	if job.StartedAt == nil {
		if !claimedAt.IsZero() {
			return false, nil
		}
	} else if !job.StartedAt.Equal(claimedAt) {
		return false, nil
	}
	fn(&job)
	r.s.jobs[id] = job
	return true, nil
}

func (r *MemoryJobRepository) Complete(ctx context.Context, id string, claimedAt time.Time, at time.Time) (bool, error) {
	return r.transition(id, claimedAt, func(j *models.SyncJob) {
		completed := at
		j.Status = models.JobStatusCompleted
		j.CompletedAt = &completed
		j.Error = ""
	})
}

func (r *MemoryJobRepository) Fail(ctx context.Context, id string, claimedAt time.Time, msg string, at time.Time) (bool, error) {
	return r.transition(id, claimedAt, func(j *models.SyncJob) {
		completed := at
		j.Status = models.JobStatusFailed
		j.CompletedAt = &completed
		j.Error = msg
	})
}

func (r *MemoryJobRepository) Requeue(ctx context.Context, id string, claimedAt time.Time, attempts int, msg string) (bool, error) {
	return r.transition(id, claimedAt, func(j *models.SyncJob) {
		j.Status = models.JobStatusPending
		j.StartedAt = nil
		j.Attempts = attempts
		j.Error = msg
	})
}

func (r *MemoryJobRepository) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.jobs, id)
	return nil
}

func (r *MemoryJobRepository) DeleteByStatus(ctx context.Context, status models.JobStatus) (int, error) {
	return r.deleteWhere(func(j models.SyncJob) bool { return j.Status == status })
}

func (r *MemoryJobRepository) DeleteActiveForAccount(ctx context.Context, accountID string) (int, error) {
	return r.deleteWhere(func(j models.SyncJob) bool { return j.AccountID == accountID && isActive(j) })
}

func (r *MemoryJobRepository) DeleteActiveForProject(ctx context.Context, projectID string) (int, error) {
	return r.deleteWhere(func(j models.SyncJob) bool { return j.ProjectID == projectID && isActive(j) })
}

func (r *MemoryJobRepository) deleteWhere(match func(models.SyncJob) bool) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("jobs.delete"); err != nil {
		return 0, err
	}
	deleted := 0
	for id, job := range r.s.jobs {
		if match(job) {
			delete(r.s.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *MemoryJobRepository) CountFinishedSince(ctx context.Context, since time.Time) (map[models.JobStatus]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := make(map[models.JobStatus]int)
	for _, job := range r.s.jobs {
		if job.CompletedAt != nil && !job.CompletedAt.Before(since) {
			counts[job.Status]++
		}
	}
	return counts, nil
}

func isActive(j models.SyncJob) bool {
	return j.Status == models.JobStatusPending || j.Status == models.JobStatusRunning
}

// MemoryUsageRepository implements models.UsageRepository.
type MemoryUsageRepository struct {
	s *MemoryStore
}

func (r *MemoryUsageRepository) CreateOrganization(ctx context.Context, org *models.Organization) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if org.ID == "" {
		org.ID = uuid.New().String()
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	r.s.orgs[org.ID] = *org
	return nil
}

func (r *MemoryUsageRepository) CreateProject(ctx context.Context, project *models.Project) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if project.ID == "" {
		project.ID = uuid.New().String()
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now().UTC()
	}
	r.s.projects[project.ID] = *project
	return nil
}

func (r *MemoryUsageRepository) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	org, ok := r.s.orgs[id]
	if !ok {
		return nil, nil
	}
	return &org, nil
}

func (r *MemoryUsageRepository) GetProject(ctx context.Context, id string) (*models.Project, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	project, ok := r.s.projects[id]
	if !ok {
		return nil, nil
	}
	return &project, nil
}

func (r *MemoryUsageRepository) AdjustUsage(ctx context.Context, orgID, projectID string, delta models.UsageDelta) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("usage.adjust"); err != nil {
		return err
	}
	if org, ok := r.s.orgs[orgID]; ok {
		org.TrackedAccounts = models.ClampAdd(org.TrackedAccounts, delta.Accounts)
		org.TrackedVideos = models.ClampAdd(org.TrackedVideos, delta.Videos)
		r.s.orgs[orgID] = org
	}
	if projectID == "" {
		return nil
	}
	if project, ok := r.s.projects[projectID]; ok {
		project.AccountCount = models.ClampAdd(project.AccountCount, delta.Accounts)
		project.VideoCount = models.ClampAdd(project.VideoCount, delta.Videos)
		r.s.projects[projectID] = project
	}
	return nil
}

func (r *MemoryUsageRepository) DeleteProject(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failure("projects.delete"); err != nil {
		return err
	}
	delete(r.s.projects, id)
	return nil
}

// MemoryActivityLogRepository implements models.ActivityLogRepository.
type MemoryActivityLogRepository struct {
	s *MemoryStore
}

func (r *MemoryActivityLogRepository) Log(ctx context.Context, log models.ActivityLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now().UTC()
	}
	r.s.activity = append(r.s.activity, log)
	return nil
}

func (r *MemoryActivityLogRepository) List(ctx context.Context, limit int, activityType string, platform string) ([]models.ActivityLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.ActivityLog
	for i := len(r.s.activity) - 1; i >= 0; i-- {
		entry := r.s.activity[i]
		if activityType != "" && string(entry.ActivityType) != activityType {
			continue
		}
		if platform != "" && !strings.EqualFold(entry.Platform, platform) {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryActivityLogRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	kept := r.s.activity[:0]
	for _, entry := range r.s.activity {
		if entry.Timestamp.Before(cutoff) {
			continue
		}
		kept = append(kept, entry)
	}
	deleted := len(r.s.activity) - len(kept)
	r.s.activity = kept
	return deleted, nil
}
