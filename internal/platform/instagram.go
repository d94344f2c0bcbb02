package platform

import (
	"context"
	"fmt"

	"github.com/reelpulse/reelpulse/internal/models"
	"github.com/tidwall/gjson"
)

// Instagram discovers posts and reels of a profile.
type Instagram struct {
	base
}

func NewInstagram(deps Deps) *Instagram {
	return &Instagram{base: newBase(models.PlatformInstagram, deps.Tasks.Instagram, deps)}
}

func (a *Instagram) FetchRecent(ctx context.Context, account *models.TrackedAccount, limit int) (FetchResult, error) {
	items, err := a.run(ctx, map[string]any{
		"directUrls":    []string{fmt.Sprintf("https://www.instagram.com/%s/", normalizeHandle(account.Username))},
		"resultsType":   "posts",
		"resultsLimit":  limit,
		"addParentData": true,
	})
	if err != nil {
		return FetchResult{}, err
	}
	return FetchResult{
		Videos:    a.collect(account, items, a.normalize, phaseDiscovery),
		Profile:   instagramProfile(items),
		Exhausted: len(items) < limit,
	}, nil
}

func (a *Instagram) Refresh(ctx context.Context, account *models.TrackedAccount, existing []models.Video) ([]models.Video, error) {
	return a.refreshChunks(ctx, account, existing, func(urls []string) map[string]any {
		return map[string]any{
			"directUrls":   urls,
			"resultsType":  "posts",
			"resultsLimit": len(urls),
		}
	}, a.normalize)
}

func (a *Instagram) normalize(item gjson.Result, account *models.TrackedAccount) (models.Video, bool) {
	code := firstString(item, "shortCode", "shortcode", "code")
	if code == "" {
		return models.Video{}, false
	}
	v := newVideo(models.PlatformInstagram, account, code)
	v.URL = firstString(item, "url", "postUrl")
	if v.URL == "" {
		v.URL = fmt.Sprintf("https://www.instagram.com/p/%s/", code)
	}
	v.Caption = firstString(item, "caption", "text", "edge_media_to_caption.edges.0.node.text")
	v.ThumbnailURL = firstString(item, "displayUrl", "thumbnailUrl", "thumbnail_src", "images.0")
	v.Views = count(item, "videoPlayCount", "videoViewCount", "playCount", "viewCount", "video_view_count")
	v.Likes = count(item, "likesCount", "likeCount", "like_count", "edge_liked_by.count")
	v.Comments = count(item, "commentsCount", "commentCount", "comment_count")
	v.Shares = count(item, "sharesCount", "shareCount", "reshareCount")
	v.Saves = count(item, "savesCount", "saveCount")
	v.UploadDate, _ = firstTime(item, "timestamp", "takenAtTimestamp", "taken_at_timestamp", "taken_at")
	v.OwnerID = firstString(item, "ownerId", "owner.id")
	v.OwnerUsername = firstString(item, "ownerUsername", "owner.username")
	return v, true
}

func instagramProfile(items []gjson.Result) models.AccountProfile {
	for _, item := range items {
		p := models.AccountProfile{
			PlatformUserID: firstString(item, "ownerId", "owner.id"),
			DisplayName:    firstString(item, "ownerFullName", "owner.full_name"),
			ProfilePicURL:  firstString(item, "ownerProfilePicUrl", "owner.profile_pic_url"),
		}
		if n, ok := firstInt(item, "ownerFollowersCount", "owner.followers_count"); ok {
			p.FollowerCount = &n
		}
		if !p.Empty() {
			return p
		}
	}
	return models.AccountProfile{}
}
