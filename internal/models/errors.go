package models

import (
	"errors"
	"time"
)

// ErrNotFound is returned by conditional operations whose target document does not exist.
var ErrNotFound = errors.New("not found")

// StoreTime normalizes a timestamp to the precision the store keeps (UTC,
// microseconds) so values written and read back compare equal.
func StoreTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
