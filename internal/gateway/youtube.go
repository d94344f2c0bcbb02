package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// YouTubeMaxIDs is the largest id list videos.list accepts per request.
const YouTubeMaxIDs = 50

const defaultYouTubeBaseURL = "https://www.googleapis.com/youtube/v3"

// YouTubeClient looks up videos by id through the YouTube Data API.
type YouTubeClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      RetryPolicy
	logger     *slog.Logger
}

// NewYouTubeClient creates a Data API client. An empty apiKey disables it.
func NewYouTubeClient(baseURL, apiKey string, logger *slog.Logger) *YouTubeClient {
	if baseURL == "" {
		baseURL = defaultYouTubeBaseURL
	}
	return &YouTubeClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(10), 2),
		retry:      DefaultRetryPolicy(),
		logger:     logger,
	}
}

// Enabled reports whether an API key is configured.
func (c *YouTubeClient) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Videos fetches snippet and statistics for ids, YouTubeMaxIDs per request.
// Ids the API does not return (deleted or private videos) are simply absent.
func (c *YouTubeClient) Videos(ctx context.Context, ids []string) ([]gjson.Result, error) {
	var items []gjson.Result
	for start := 0; start < len(ids); start += YouTubeMaxIDs {
		chunk := ids[start:min(start+YouTubeMaxIDs, len(ids))]

		var body []byte
		err := Retry(ctx, c.retry, func(ctx context.Context) error {
			var err error
			body, err = c.get(ctx, chunk)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("videos.list failed for chunk at %d: %w", start, err)
		}
		items = append(items, gjson.GetBytes(body, "items").Array()...)
	}

	c.logger.Debug("youtube videos fetched", "requested", len(ids), "returned", len(items))
	return items, nil
}

func (c *YouTubeClient) get(ctx context.Context, ids []string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("part", "snippet,statistics")
	params.Set("id", strings.Join(ids, ","))
	params.Set("key", c.apiKey)
	params.Set("maxResults", fmt.Sprint(YouTubeMaxIDs))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/videos?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewRetryableError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxResponseBytes)+1))
	if err != nil {
		return nil, NewRetryableError(err)
	}
	if len(body) > maxResponseBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, maxResponseBytes)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, body)
	}
	return body, nil
}
