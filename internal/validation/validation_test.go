package validation

import (
	"strings"
	"testing"
	"time"

	"github.com/reelpulse/reelpulse/internal/models"
)

func validAccount() *models.TrackedAccount {
	return &models.TrackedAccount{
		ID:        "acc1",
		OrgID:     "org1",
		ProjectID: "proj1",
		Username:  "creator",
		Platform:  models.PlatformTikTok,
	}
}

func TestValidateAccount(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(a *models.TrackedAccount)
		wantErr  string
		wantPass bool
	}{
		{name: "valid", mutate: func(a *models.TrackedAccount) {}, wantPass: true},
		{name: "missing username", mutate: func(a *models.TrackedAccount) { a.Username = "" }, wantErr: "username is required"},
		{name: "unknown platform", mutate: func(a *models.TrackedAccount) { a.Platform = "myspace" }, wantErr: "platform must be one of"},
		{name: "negative followers", mutate: func(a *models.TrackedAccount) { a.FollowerCount = -1 }, wantErr: "follower_count must be at least 0"},
		{name: "bad avatar url", mutate: func(a *models.TrackedAccount) { a.ProfilePicURL = "not a url" }, wantErr: "profile_pic_url must be a valid URL"},
		{name: "whitespace username", mutate: func(a *models.TrackedAccount) { a.Username = "two words" }, wantErr: "whitespace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account := validAccount()
			tt.mutate(account)
			result := ValidateAccount(account)

			if result.Valid != tt.wantPass {
				t.Fatalf("Valid = %v, want %v (errors: %v)", result.Valid, tt.wantPass, result.Errors)
			}
			if tt.wantErr != "" && !strings.Contains(result.Error(), tt.wantErr) {
				t.Errorf("errors %q do not mention %q", result.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateAccount_Nil(t *testing.T) {
	if ValidateAccount(nil).Valid {
		t.Error("nil account must be invalid")
	}
}

func TestValidateVideo(t *testing.T) {
	video := &models.Video{VideoID: "v1", Platform: models.PlatformYouTube, AccountID: "acc1", Views: 10}
	if result := ValidateVideo(video); !result.Valid {
		t.Fatalf("expected valid video, got %v", result.Errors)
	}

	video.Views = -5
	video.ID = "wrong"
	result := ValidateVideo(video)
	if result.Valid {
		t.Fatal("expected invalid video")
	}
	if len(result.Errors) != 2 {
		t.Errorf("errors = %v, want 2 entries", result.Errors)
	}
}

func TestShouldSkipVideoByDate(t *testing.T) {
	oldest := time.Date(2026, 2, 10, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		upload time.Time
		oldest *time.Time
		want   bool
	}{
		{name: "no existing data", upload: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), oldest: nil, want: false},
		{name: "missing date", upload: time.Time{}, oldest: &oldest, want: true},
		{name: "epoch placeholder", upload: time.Unix(0, 0), oldest: &oldest, want: true},
		{name: "same day earlier hour", upload: time.Date(2026, 2, 10, 1, 0, 0, 0, time.UTC), oldest: &oldest, want: false},
		{name: "day before", upload: time.Date(2026, 2, 9, 23, 59, 0, 0, time.UTC), oldest: &oldest, want: true},
		{name: "newer", upload: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), oldest: &oldest, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldSkipVideoByDate(tt.upload, tt.oldest); got != tt.want {
				t.Errorf("ShouldSkipVideoByDate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFindOldestUploadDate(t *testing.T) {
	videos := []models.Video{
		{UploadDate: time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC)},
		{UploadDate: time.Unix(0, 0)},
		{UploadDate: time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)},
		{},
	}

	oldest := FindOldestUploadDate(videos)
	if oldest == nil || !oldest.Equal(time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("FindOldestUploadDate() = %v, want 2026-01-20", oldest)
	}
	if FindOldestUploadDate(nil) != nil {
		t.Error("expected nil for no videos")
	}
}
