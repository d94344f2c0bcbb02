// Package storage keeps durable copies of thumbnails and profile pictures.
// Platform CDN links expire, so images are downloaded once and re-hosted
// under deterministic keys that the deletion cascade can derive later.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/reelpulse/reelpulse/internal/models"
)

// ErrObjectNotFound is returned by Delete when the object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore is a bucket of public objects.
type ObjectStore interface {
	// Put stores body under key and returns its public URL.
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
	// Delete removes key, returning ErrObjectNotFound when absent.
	Delete(ctx context.Context, key string) error
	// PublicURL returns the URL an object under key is served from.
	PublicURL(key string) string
}

// ThumbnailKey is the object key of a video thumbnail.
func ThumbnailKey(platform models.Platform, accountID, videoID string) string {
	return fmt.Sprintf("thumbnails/%s/%s/%s.jpg", platform, accountID, videoID)
}

// ProfilePictureKey is the object key of an account avatar.
func ProfilePictureKey(platform models.Platform, accountID string) string {
	return fmt.Sprintf("profiles/%s/%s.jpg", platform, accountID)
}

const maxImageBytes = 10 << 20

// Persister downloads CDN images and re-hosts them in an ObjectStore.
type Persister struct {
	store      ObjectStore
	httpClient *http.Client
	logger     *slog.Logger
}

// NewPersister creates a persister backed by store.
func NewPersister(store ObjectStore, logger *slog.Logger) *Persister {
	return &Persister{
		store:      store,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		logger:     logger,
	}
}

// PersistThumbnail re-hosts a video thumbnail. On any failure the CDN URL is
// returned unchanged so the video still has an image.
func (p *Persister) PersistThumbnail(ctx context.Context, platform models.Platform, accountID, videoID, cdnURL string) string {
	return p.persist(ctx, ThumbnailKey(platform, accountID, videoID), cdnURL)
}

// PersistProfilePicture re-hosts an account avatar with the same fallback.
func (p *Persister) PersistProfilePicture(ctx context.Context, platform models.Platform, accountID, cdnURL string) string {
	return p.persist(ctx, ProfilePictureKey(platform, accountID), cdnURL)
}

func (p *Persister) persist(ctx context.Context, key, cdnURL string) string {
	if cdnURL == "" {
		return ""
	}
	if strings.HasPrefix(cdnURL, p.store.PublicURL("")) {
		return cdnURL
	}

	body, contentType, err := p.download(ctx, cdnURL)
	if err != nil {
		p.logger.Warn("image download failed, keeping CDN url", "key", key, "error", err)
		return cdnURL
	}

	durable, err := p.store.Put(ctx, key, body, contentType)
	if err != nil {
		p.logger.Warn("image upload failed, keeping CDN url", "key", key, "error", err)
		return cdnURL
	}
	return durable
}

func (p *Persister) download(ctx context.Context, src string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("cdn returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", err
	}
	if len(body) > maxImageBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(body)
	}
	return body, contentType, nil
}

// Delete removes an object. A missing object is not an error.
func (p *Persister) Delete(ctx context.Context, key string) error {
	err := p.store.Delete(ctx, key)
	if errors.Is(err, ErrObjectNotFound) {
		return nil
	}
	return err
}
