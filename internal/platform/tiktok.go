package platform

import (
	"context"
	"fmt"

	"github.com/reelpulse/reelpulse/internal/models"
	"github.com/tidwall/gjson"
)

// TikTok discovers videos of a creator profile.
type TikTok struct {
	base
}

func NewTikTok(deps Deps) *TikTok {
	return &TikTok{base: newBase(models.PlatformTikTok, deps.Tasks.TikTok, deps)}
}

func (a *TikTok) FetchRecent(ctx context.Context, account *models.TrackedAccount, limit int) (FetchResult, error) {
	items, err := a.run(ctx, map[string]any{
		"profiles":             []string{normalizeHandle(account.Username)},
		"resultsPerPage":       limit,
		"profileSorting":       "latest",
		"shouldDownloadVideos": false,
		"shouldDownloadCovers": false,
	})
	if err != nil {
		return FetchResult{}, err
	}
	return FetchResult{
		Videos:    a.collect(account, items, a.normalize, phaseDiscovery),
		Profile:   tiktokProfile(items),
		Exhausted: len(items) < limit,
	}, nil
}

func (a *TikTok) Refresh(ctx context.Context, account *models.TrackedAccount, existing []models.Video) ([]models.Video, error) {
	return a.refreshChunks(ctx, account, existing, func(urls []string) map[string]any {
		return map[string]any{
			"postURLs":             urls,
			"shouldDownloadVideos": false,
			"shouldDownloadCovers": false,
		}
	}, a.normalize)
}

func (a *TikTok) normalize(item gjson.Result, account *models.TrackedAccount) (models.Video, bool) {
	id := firstString(item, "id", "aweme_id", "videoId")
	if id == "" {
		return models.Video{}, false
	}
	v := newVideo(models.PlatformTikTok, account, id)
	v.OwnerID = firstString(item, "authorMeta.id", "author.id", "authorId")
	v.OwnerUsername = firstString(item, "authorMeta.name", "author.uniqueId", "author.unique_id")
	v.URL = firstString(item, "webVideoUrl", "url", "shareUrl")
	if v.URL == "" {
		v.URL = fmt.Sprintf("https://www.tiktok.com/@%s/video/%s", normalizeHandle(account.Username), id)
	}
	v.Caption = firstString(item, "text", "desc", "description")
	v.ThumbnailURL = firstString(item, "videoMeta.coverUrl", "videoMeta.originalCoverUrl", "covers.0", "video.cover")
	v.Views = count(item, "playCount", "stats.playCount", "statistics.play_count", "viewCount")
	v.Likes = count(item, "diggCount", "stats.diggCount", "statistics.digg_count", "likes")
	v.Comments = count(item, "commentCount", "stats.commentCount", "statistics.comment_count")
	v.Shares = count(item, "shareCount", "stats.shareCount", "statistics.share_count")
	v.Saves = count(item, "collectCount", "stats.collectCount", "statistics.collect_count")
	v.UploadDate, _ = firstTime(item, "createTimeISO", "createTime", "create_time")
	return v, true
}

func tiktokProfile(items []gjson.Result) models.AccountProfile {
	for _, item := range items {
		p := models.AccountProfile{
			PlatformUserID: firstString(item, "authorMeta.id", "author.id"),
			DisplayName:    firstString(item, "authorMeta.nickName", "author.nickname"),
			ProfilePicURL:  firstString(item, "authorMeta.avatar", "author.avatarLarger"),
		}
		if n, ok := firstInt(item, "authorMeta.fans", "authorStats.followerCount"); ok {
			p.FollowerCount = &n
		}
		if !p.Empty() {
			return p
		}
	}
	return models.AccountProfile{}
}
