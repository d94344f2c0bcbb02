// Package platform adapts the Scrape Gateway to each supported social
// network. Adapters fetch raw items, map their aliased field names onto
// models.Video and drop items that belong to a different account.
package platform

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/reelpulse/reelpulse/internal/gateway"
	"github.com/reelpulse/reelpulse/internal/models"
	"github.com/reelpulse/reelpulse/internal/storage"
	"github.com/tidwall/gjson"
)

// DefaultDiscoveryLimit is the size of the first discovery fetch.
const DefaultDiscoveryLimit = 10

// refreshChunk bounds the number of ids sent to the gateway per refresh run.
const refreshChunk = 50

// FetchResult is one discovery fetch, ordered newest first.
type FetchResult struct {
	Videos  []models.Video
	Profile models.AccountProfile
	// Exhausted is set when the platform returned fewer items than asked for.
	Exhausted bool
}

// Adapter is implemented once per platform.
type Adapter interface {
	Platform() models.Platform

	// FetchRecent returns up to limit of the account's most recent videos.
	FetchRecent(ctx context.Context, account *models.TrackedAccount, limit int) (FetchResult, error)

	// Refresh re-fetches current metrics for stored videos. Platforms
	// without lookup by id return nil.
	Refresh(ctx context.Context, account *models.TrackedAccount, existing []models.Video) ([]models.Video, error)

	// PersistThumbnails re-hosts the thumbnails of videos in place.
	PersistThumbnails(ctx context.Context, account *models.TrackedAccount, videos []models.Video)
}

// Tasks names the gateway task used per platform.
type Tasks struct {
	Instagram string
	TikTok    string
	YouTube   string
	Twitter   string
}

// DefaultTasks returns the public Apify actors for each platform.
func DefaultTasks() Tasks {
	return Tasks{
		Instagram: "apify/instagram-scraper",
		TikTok:    "clockworks/tiktok-scraper",
		YouTube:   "streamers/youtube-scraper",
		Twitter:   "apidojo/tweet-scraper",
	}
}

// Deps are the collaborators shared by all adapters.
type Deps struct {
	Runner    gateway.Runner
	Persister *storage.Persister // nil keeps CDN urls
	YouTube   *gateway.YouTubeClient
	Tasks     Tasks
	Clock     models.Clock
	Logger    *slog.Logger
}

// base carries what every adapter does the same way.
type base struct {
	platform  models.Platform
	taskID    string
	runner    gateway.Runner
	persister *storage.Persister
	clock     models.Clock
	logger    *slog.Logger
}

func newBase(p models.Platform, taskID string, deps Deps) base {
	clock := deps.Clock
	if clock == nil {
		clock = models.RealClock{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return base{
		platform:  p,
		taskID:    taskID,
		runner:    deps.Runner,
		persister: deps.Persister,
		clock:     clock,
		logger:    logger.With("platform", string(p)),
	}
}

func (b base) Platform() models.Platform { return b.platform }

func (b base) run(ctx context.Context, input map[string]any) ([]gjson.Result, error) {
	result, err := b.runner.Run(ctx, gateway.JobSpec{TaskID: b.taskID, Input: input})
	if err != nil {
		return nil, fmt.Errorf("%s gateway run: %w", b.platform, err)
	}
	return result.Items, nil
}

// phase selects the upload date used when an item carries none.
type phase int

const (
	phaseDiscovery phase = iota
	phaseRefresh
)

type normalizeFunc func(item gjson.Result, account *models.TrackedAccount) (models.Video, bool)

// collect normalizes items, skipping unusable and foreign ones and filling
// in missing upload dates.
func (b base) collect(account *models.TrackedAccount, items []gjson.Result, normalize normalizeFunc, ph phase) []models.Video {
	now := models.StoreTime(b.clock.Now())
	videos := make([]models.Video, 0, len(items))
	for _, item := range items {
		v, ok := normalize(item, account)
		if !ok {
			b.logger.Warn("skipping item without id", "account_id", account.ID)
			continue
		}
		if !owned(account, v) {
			b.logger.Warn("dropping item owned by another account",
				"account_id", account.ID,
				"video_id", v.VideoID,
				"owner_id", v.OwnerID,
				"owner_username", v.OwnerUsername)
			continue
		}
		if v.UploadDate.IsZero() {
			fallback := now
			if ph == phaseRefresh {
				fallback = time.Unix(0, 0).UTC()
			}
			b.logger.Warn("item has no upload date",
				"account_id", account.ID,
				"video_id", v.VideoID,
				"fallback", fallback)
			v.UploadDate = fallback
			v.UploadDateEstimated = true
		}
		v.ID = v.DocID()
		v.Status = models.VideoStatusActive
		v.LastRefreshedAt = now
		videos = append(videos, v)
	}
	return videos
}

// newVideo fills the account-derived fields of a normalized video.
func newVideo(p models.Platform, account *models.TrackedAccount, videoID string) models.Video {
	return models.Video{
		VideoID:   videoID,
		Platform:  p,
		AccountID: account.ID,
		OrgID:     account.OrgID,
		ProjectID: account.ProjectID,
	}
}

// owned reports whether v belongs to account. The platform id is compared
// when both sides have one, otherwise the username; items without any
// ownership data are kept.
func owned(account *models.TrackedAccount, v models.Video) bool {
	if v.OwnerID != "" && account.PlatformUserID != "" {
		return v.OwnerID == account.PlatformUserID
	}
	if v.OwnerUsername != "" {
		return strings.EqualFold(normalizeHandle(v.OwnerUsername), normalizeHandle(account.Username))
	}
	return true
}

func normalizeHandle(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "@")
}

func (b base) PersistThumbnails(ctx context.Context, account *models.TrackedAccount, videos []models.Video) {
	if b.persister == nil {
		return
	}
	for i := range videos {
		videos[i].ThumbnailURL = b.persister.PersistThumbnail(ctx, b.platform, account.ID, videos[i].VideoID, videos[i].ThumbnailURL)
	}
}

// keepStoredThumbnails clears incoming thumbnails of videos that already have
// one, so a refresh does not replace a durable url with a CDN link. Videos
// still without a thumbnail are re-hosted.
func (b base) keepStoredThumbnails(ctx context.Context, account *models.TrackedAccount, refreshed, existing []models.Video) {
	stored := make(map[string]string, len(existing))
	for _, v := range existing {
		stored[v.VideoID] = v.ThumbnailURL
	}
	var missing []int
	for i := range refreshed {
		if stored[refreshed[i].VideoID] != "" {
			refreshed[i].ThumbnailURL = ""
			continue
		}
		missing = append(missing, i)
	}
	if b.persister == nil {
		return
	}
	for _, i := range missing {
		refreshed[i].ThumbnailURL = b.persister.PersistThumbnail(ctx, b.platform, account.ID, refreshed[i].VideoID, refreshed[i].ThumbnailURL)
	}
}

// refreshChunks runs one gateway job per chunk of existing videos.
func (b base) refreshChunks(ctx context.Context, account *models.TrackedAccount, existing []models.Video, input func(urls []string) map[string]any, normalize normalizeFunc) ([]models.Video, error) {
	var refreshed []models.Video
	for start := 0; start < len(existing); start += refreshChunk {
		chunk := existing[start:min(start+refreshChunk, len(existing))]
		urls := make([]string, 0, len(chunk))
		for _, v := range chunk {
			if v.URL != "" {
				urls = append(urls, v.URL)
			}
		}
		if len(urls) == 0 {
			continue
		}
		items, err := b.run(ctx, input(urls))
		if err != nil {
			return nil, err
		}
		refreshed = append(refreshed, b.collect(account, items, normalize, phaseRefresh)...)
	}
	b.keepStoredThumbnails(ctx, account, refreshed, existing)
	return refreshed, nil
}

// Registry resolves the adapter of a platform.
type Registry struct {
	adapters map[models.Platform]Adapter
}

// NewRegistry indexes adapters by platform.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.Platform]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Platform()] = a
	}
	return r
}

// DefaultRegistry builds the four gateway-backed adapters.
func DefaultRegistry(deps Deps) *Registry {
	tasks := deps.Tasks
	defaults := DefaultTasks()
	if tasks.Instagram == "" {
		tasks.Instagram = defaults.Instagram
	}
	if tasks.TikTok == "" {
		tasks.TikTok = defaults.TikTok
	}
	if tasks.YouTube == "" {
		tasks.YouTube = defaults.YouTube
	}
	if tasks.Twitter == "" {
		tasks.Twitter = defaults.Twitter
	}
	deps.Tasks = tasks
	return NewRegistry(
		NewInstagram(deps),
		NewTikTok(deps),
		NewYouTube(deps),
		NewTwitter(deps),
	)
}

// Get returns the adapter for p.
func (r *Registry) Get(p models.Platform) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("no adapter for platform %q", p)
	}
	return a, nil
}
