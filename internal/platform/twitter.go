package platform

import (
	"context"
	"fmt"

	"github.com/reelpulse/reelpulse/internal/models"
	"github.com/tidwall/gjson"
)

// Twitter discovers posts of a handle. The gateway has no reliable lookup by
// id, so metrics of stored posts are only updated when discovery sees them
// again.
type Twitter struct {
	base
}

func NewTwitter(deps Deps) *Twitter {
	return &Twitter{base: newBase(models.PlatformTwitter, deps.Tasks.Twitter, deps)}
}

func (a *Twitter) FetchRecent(ctx context.Context, account *models.TrackedAccount, limit int) (FetchResult, error) {
	items, err := a.run(ctx, map[string]any{
		"twitterHandles": []string{normalizeHandle(account.Username)},
		"maxItems":       limit,
		"sort":           "Latest",
	})
	if err != nil {
		return FetchResult{}, err
	}
	// the scraper pads short timelines with {"noResults": true}
	posts := items[:0:0]
	for _, item := range items {
		if !item.Get("noResults").Bool() {
			posts = append(posts, item)
		}
	}
	return FetchResult{
		Videos:    a.collect(account, posts, a.normalize, phaseDiscovery),
		Profile:   twitterProfile(posts),
		Exhausted: len(posts) < limit,
	}, nil
}

func (a *Twitter) Refresh(ctx context.Context, account *models.TrackedAccount, existing []models.Video) ([]models.Video, error) {
	a.logger.Debug("refresh not supported, relying on discovery overlap", "account_id", account.ID, "stored", len(existing))
	return nil, nil
}

func (a *Twitter) normalize(item gjson.Result, account *models.TrackedAccount) (models.Video, bool) {
	id := firstString(item, "id", "id_str", "tweetId", "rest_id")
	if id == "" {
		return models.Video{}, false
	}
	v := newVideo(models.PlatformTwitter, account, id)
	v.OwnerID = firstString(item, "author.id", "user.id_str", "authorId")
	v.OwnerUsername = firstString(item, "author.userName", "user.screen_name", "username")
	v.URL = firstString(item, "url", "twitterUrl")
	if v.URL == "" {
		v.URL = fmt.Sprintf("https://x.com/%s/status/%s", normalizeHandle(account.Username), id)
	}
	v.Caption = firstString(item, "fullText", "full_text", "text")
	v.ThumbnailURL = firstString(item,
		"extendedEntities.media.0.media_url_https",
		"extended_entities.media.0.media_url_https",
		"media.0.media_url_https",
		"media.0.url")
	v.Views = count(item, "viewCount", "views", "view_count")
	v.Likes = count(item, "likeCount", "favorite_count", "likes")
	v.Comments = count(item, "replyCount", "reply_count")
	v.Shares = count(item, "retweetCount", "retweet_count") + count(item, "quoteCount", "quote_count")
	v.Saves = count(item, "bookmarkCount", "bookmark_count")
	v.UploadDate, _ = firstTime(item, "createdAt", "created_at")
	return v, true
}

func twitterProfile(items []gjson.Result) models.AccountProfile {
	for _, item := range items {
		p := models.AccountProfile{
			PlatformUserID: firstString(item, "author.id", "user.id_str"),
			DisplayName:    firstString(item, "author.name", "user.name"),
			ProfilePicURL:  firstString(item, "author.profilePicture", "user.profile_image_url_https"),
		}
		if n, ok := firstInt(item, "author.followers", "user.followers_count"); ok {
			p.FollowerCount = &n
		}
		if !p.Empty() {
			return p
		}
	}
	return models.AccountProfile{}
}
