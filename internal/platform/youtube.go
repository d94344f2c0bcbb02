package platform

import (
	"context"
	"fmt"
	"strings"

	"github.com/reelpulse/reelpulse/internal/gateway"
	"github.com/reelpulse/reelpulse/internal/models"
	"github.com/tidwall/gjson"
)

// YouTube discovers uploads of a channel. Refresh goes through the Data API
// when a key is configured.
type YouTube struct {
	base
	api *gateway.YouTubeClient
}

func NewYouTube(deps Deps) *YouTube {
	return &YouTube{
		base: newBase(models.PlatformYouTube, deps.Tasks.YouTube, deps),
		api:  deps.YouTube,
	}
}

func channelURL(account *models.TrackedAccount) string {
	if strings.HasPrefix(account.PlatformUserID, "UC") {
		return "https://www.youtube.com/channel/" + account.PlatformUserID + "/videos"
	}
	return "https://www.youtube.com/@" + normalizeHandle(account.Username) + "/videos"
}

func (a *YouTube) FetchRecent(ctx context.Context, account *models.TrackedAccount, limit int) (FetchResult, error) {
	items, err := a.run(ctx, map[string]any{
		"startUrls":    []map[string]string{{"url": channelURL(account)}},
		"maxResults":   limit,
		"sortVideosBy": "NEWEST",
	})
	if err != nil {
		return FetchResult{}, err
	}
	return FetchResult{
		Videos:    a.collect(account, items, a.normalize, phaseDiscovery),
		Profile:   youtubeProfile(items),
		Exhausted: len(items) < limit,
	}, nil
}

func (a *YouTube) Refresh(ctx context.Context, account *models.TrackedAccount, existing []models.Video) ([]models.Video, error) {
	if len(existing) == 0 {
		return nil, nil
	}
	if !a.api.Enabled() {
		return a.refreshChunks(ctx, account, existing, func(urls []string) map[string]any {
			start := make([]map[string]string, len(urls))
			for i, u := range urls {
				start[i] = map[string]string{"url": u}
			}
			return map[string]any{"startUrls": start, "maxResults": len(urls)}
		}, a.normalize)
	}

	ids := make([]string, len(existing))
	for i, v := range existing {
		ids[i] = v.VideoID
	}
	items, err := a.api.Videos(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("youtube refresh: %w", err)
	}
	refreshed := a.collect(account, items, a.normalize, phaseRefresh)
	a.keepStoredThumbnails(ctx, account, refreshed, existing)
	return refreshed, nil
}

// normalize accepts both gateway items and Data API videos.list resources.
func (a *YouTube) normalize(item gjson.Result, account *models.TrackedAccount) (models.Video, bool) {
	id := firstString(item, "id", "videoId", "contentDetails.videoId")
	if id == "" {
		return models.Video{}, false
	}
	v := newVideo(models.PlatformYouTube, account, id)
	v.URL = firstString(item, "url")
	if v.URL == "" {
		v.URL = "https://www.youtube.com/watch?v=" + id
	}
	v.Caption = firstString(item, "title", "snippet.title")
	v.ThumbnailURL = firstString(item,
		"thumbnailUrl",
		"snippet.thumbnails.maxres.url",
		"snippet.thumbnails.high.url",
		"snippet.thumbnails.default.url")
	v.Views = count(item, "viewCount", "statistics.viewCount", "views")
	v.Likes = count(item, "likes", "likeCount", "statistics.likeCount")
	v.Comments = count(item, "commentsCount", "commentCount", "statistics.commentCount")
	v.UploadDate, _ = firstTime(item, "date", "uploadDate", "publishedAt", "snippet.publishedAt")
	v.OwnerID = firstString(item, "channelId", "snippet.channelId")
	if v.OwnerID == "" {
		v.OwnerUsername = firstString(item, "channelUsername")
	}
	return v, true
}

func youtubeProfile(items []gjson.Result) models.AccountProfile {
	for _, item := range items {
		p := models.AccountProfile{
			PlatformUserID: firstString(item, "channelId"),
			DisplayName:    firstString(item, "channelName"),
			ProfilePicURL:  firstString(item, "channelAvatarUrl", "aboutChannelInfo.channelAvatarUrl"),
		}
		if n, ok := firstInt(item, "numberOfSubscribers", "aboutChannelInfo.numberOfSubscribers"); ok {
			p.FollowerCount = &n
		}
		if !p.Empty() {
			return p
		}
	}
	return models.AccountProfile{}
}
