// Package timestamp normalizes the timestamp shapes seen on earthquake feeds
// (epoch seconds, epoch milliseconds, numeric strings and date strings) into
// a single canonical instant.
//
// The canonical text form is ISO-8601 in UTC with millisecond precision,
// e.g. "2024-01-01T00:00:00.000Z", so two normalized timestamps can be
// compared with plain string equality.
package timestamp

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// Layout is the canonical text form of a normalized instant.
	Layout = "2006-01-02T15:04:05.000Z"

	// secondsThreshold separates epoch seconds from epoch milliseconds.
	// Values below it are treated as seconds.
	secondsThreshold = 1e12

	// maxEpochMillis is the largest representable instant (JavaScript Date range).
	maxEpochMillis = 8.64e15
)

// dateLayouts are tried in order for non-numeric strings.
// Layouts without a zone are interpreted as UTC.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC850,
	time.ANSIC,
}

// Normalize converts raw into an instant.
// It returns false when raw is nil, non-finite, outside the representable
// range, or a string that is neither numeric nor a recognised date.
func Normalize(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case nil:
		return time.Time{}, false
	case float64:
		return fromNumber(v)
	case float32:
		return fromNumber(float64(v))
	case int:
		return fromNumber(float64(v))
	case int32:
		return fromNumber(float64(v))
	case int64:
		return fromNumber(float64(v))
	case uint32:
		return fromNumber(float64(v))
	case uint64:
		return fromNumber(float64(v))
	case json.Number:
		return fromString(v.String())
	case string:
		return fromString(v)
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false
		}
		return fromMillis(float64(v.UnixMilli()))
	default:
		return time.Time{}, false
	}
}

// Canonical normalizes raw and renders it in the canonical text form.
func Canonical(raw any) (string, bool) {
	t, ok := Normalize(raw)
	if !ok {
		return "", false
	}
	return Format(t), true
}

// Format renders t in the canonical text form.
func Format(t time.Time) string {
	return t.UTC().Format(Layout)
}

// Parse reads a canonical (or any accepted) timestamp string back into an instant.
func Parse(s string) (time.Time, bool) {
	return fromString(s)
}

func fromNumber(n float64) (time.Time, bool) {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return time.Time{}, false
	}
	if n < secondsThreshold {
		n *= 1000
	}
	return fromMillis(n)
}

func fromMillis(ms float64) (time.Time, bool) {
	ms = math.Trunc(ms)
	if math.IsNaN(ms) || math.Abs(ms) > maxEpochMillis {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(ms)).UTC(), true
}

func fromString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return fromNumber(n)
	}
	for _, layout := range dateLayouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err != nil {
			continue
		}
		return fromMillis(float64(t.UnixMilli()))
	}
	return time.Time{}, false
}
