package platform

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// firstString returns the first non-empty string found under paths.
func firstString(item gjson.Result, paths ...string) string {
	for _, p := range paths {
		v := item.Get(p)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		if s := strings.TrimSpace(v.String()); s != "" {
			return s
		}
	}
	return ""
}

// firstInt returns the first count found under paths. Numeric strings are
// accepted, including "1,204" and abbreviated forms like "12.5K".
func firstInt(item gjson.Result, paths ...string) (int64, bool) {
	for _, p := range paths {
		v := item.Get(p)
		switch v.Type {
		case gjson.Number:
			if v.Num < 0 {
				return 0, true
			}
			return v.Int(), true
		case gjson.String:
			if n, ok := parseCount(v.Str); ok {
				return n, true
			}
		}
	}
	return 0, false
}

func count(item gjson.Result, paths ...string) int64 {
	n, _ := firstInt(item, paths...)
	return n
}

func parseCount(raw string) (int64, bool) {
	s := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), ",", ""))
	if s == "" {
		return 0, false
	}
	mult := 1.0
	switch s[len(s)-1] {
	case 'K':
		mult, s = 1e3, s[:len(s)-1]
	case 'M':
		mult, s = 1e6, s[:len(s)-1]
	case 'B':
		mult, s = 1e9, s[:len(s)-1]
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || math.IsNaN(f) {
		return 0, false
	}
	// float64(MaxInt64) rounds up to 2^63, which int64 cannot hold
	if v := f * mult; v < float64(math.MaxInt64) {
		return int64(v), true
	}
	return math.MaxInt64, true
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RubyDate, // Twitter created_at
}

// firstTime returns the first parseable timestamp under paths. Numbers are
// unix seconds, or milliseconds when too large to be seconds.
func firstTime(item gjson.Result, paths ...string) (time.Time, bool) {
	for _, p := range paths {
		v := item.Get(p)
		switch v.Type {
		case gjson.Number:
			if t, ok := unixTime(v.Int()); ok {
				return t, true
			}
		case gjson.String:
			if t, ok := parseTime(v.Str); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func unixTime(n int64) (time.Time, bool) {
	if n <= 0 {
		return time.Time{}, false
	}
	if n > 1e12 {
		return time.UnixMilli(n).UTC(), true
	}
	return time.Unix(n, 0).UTC(), true
}

func parseTime(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return unixTime(n)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
