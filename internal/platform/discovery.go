package platform

import (
	"context"

	"github.com/reelpulse/reelpulse/internal/models"
)

// growthFactor multiplies the fetch size between progressive batches.
const growthFactor = 3

// ScanNew walks items newest first and returns the prefix not yet in known.
// The first known item stops the scan; nothing at or after it is returned,
// even items whose ids are new.
func ScanNew(items []models.Video, known map[string]struct{}) ([]models.Video, bool) {
	seen := make(map[string]struct{}, len(items))
	var fresh []models.Video
	for _, v := range items {
		if _, ok := known[v.VideoID]; ok {
			return fresh, true
		}
		if _, ok := seen[v.VideoID]; ok {
			continue
		}
		seen[v.VideoID] = struct{}{}
		fresh = append(fresh, v)
	}
	return fresh, false
}

// DiscoverOptions bound discovery.
type DiscoverOptions struct {
	Limit    int
	MaxLimit int
}

// DiscoverResult is the outcome of one discovery phase.
type DiscoverResult struct {
	NewVideos      []models.Video
	FoundDuplicate bool
	// Seen holds the already stored videos present in the last batch, with
	// their current metrics.
	Seen    []models.Video
	Profile models.AccountProfile
	Batches int
}

// Discover finds the account's videos that are not in known. When the first
// batch ends without reaching a known video, supply is not exhausted and
// the account already has videos, the fetch grows until it reaches one or
// hits MaxLimit. Every batch is rescanned from the newest item. Thumbnails
// are re-hosted only for the final set of new videos.
func Discover(ctx context.Context, a Adapter, account *models.TrackedAccount, known map[string]struct{}, opts DiscoverOptions) (DiscoverResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultDiscoveryLimit
	}
	maxLimit := max(opts.MaxLimit, limit)

	var result DiscoverResult
	for {
		fetched, err := a.FetchRecent(ctx, account, limit)
		if err != nil {
			return DiscoverResult{}, err
		}
		result.Batches++
		result.NewVideos, result.FoundDuplicate = ScanNew(fetched.Videos, known)
		if !fetched.Profile.Empty() {
			result.Profile = fetched.Profile
		}

		if result.FoundDuplicate || fetched.Exhausted || len(known) == 0 || limit >= maxLimit {
			result.Seen = storedIn(fetched.Videos, known)
			break
		}
		limit = min(limit*growthFactor, maxLimit)
	}

	a.PersistThumbnails(ctx, account, result.NewVideos)
	return result, nil
}

func storedIn(items []models.Video, known map[string]struct{}) []models.Video {
	var out []models.Video
	for _, v := range items {
		if _, ok := known[v.VideoID]; ok {
			out = append(out, v)
		}
	}
	return out
}
