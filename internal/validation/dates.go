package validation

import (
	"time"

	"github.com/reelpulse/reelpulse/internal/models"
)

// HasDate reports whether t carries a real upload date. Zero and epoch
// values are placeholders written when a platform omitted the date.
func HasDate(t time.Time) bool {
	return !t.IsZero() && t.Unix() > 0
}

// ShouldSkipVideoByDate bounds discovery backfill: a video without a date is
// skipped, as is one uploaded on a day strictly before the oldest day already
// stored. With no stored date nothing is skipped.
func ShouldSkipVideoByDate(uploadDate time.Time, oldestExisting *time.Time) bool {
	if oldestExisting == nil {
		return false
	}
	if !HasDate(uploadDate) {
		return true
	}
	return day(uploadDate).Before(day(*oldestExisting))
}

// FindOldestUploadDate returns the earliest real upload date among videos.
func FindOldestUploadDate(videos []models.Video) *time.Time {
	var oldest *time.Time
	for i := range videos {
		d := videos[i].UploadDate
		if !HasDate(d) {
			continue
		}
		if oldest == nil || d.Before(*oldest) {
			v := d
			oldest = &v
		}
	}
	return oldest
}

func day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
