// Package timeutil normalizes the timestamp representations found in vendor
// payloads. Vendors disagree on units (epoch seconds vs milliseconds) and
// encoding (number, numeric string, ISO-8601 string), and frequently omit
// timestamps entirely, so every lookup funnels through Millis.
package timeutil

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Values below this are treated as epoch seconds. It corresponds to
// 2001-09-09 in milliseconds, so any plausible millisecond timestamp from a
// live security platform sits above it.
const secondsCutoffMs = 1_000_000_000_000

// Millis converts an arbitrary vendor timestamp value to epoch milliseconds.
// The second return value is false when the input is absent or unparseable;
// Millis never panics.
func Millis(v any) (int64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case int64:
		return fromEpoch(t)
	case int:
		return fromEpoch(int64(t))
	case float64:
		return fromEpoch(int64(t))
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return fromEpoch(int64(f))
		}
		return 0, false
	case string:
		return parseString(t)
	case time.Time:
		if t.IsZero() {
			return 0, false
		}
		return t.UnixMilli(), true
	case *time.Time:
		if t == nil || t.IsZero() {
			return 0, false
		}
		return t.UnixMilli(), true
	default:
		return 0, false
	}
}

// MillisPtr is Millis for optional fields, returning nil instead of a
// sentinel.
func MillisPtr(v any) *int64 {
	ms, ok := Millis(v)
	if !ok {
		return nil
	}
	return &ms
}

func parseString(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UnixMilli(), true
		}
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(int64(f))
	}

	return 0, false
}

// fromEpoch applies the seconds/milliseconds heuristic. A zero epoch is an
// unset field in every vendor payload observed, not a real 1970 timestamp.
func fromEpoch(n int64) (int64, bool) {
	if n == 0 {
		return 0, false
	}
	if n < secondsCutoffMs {
		return n * 1000, true
	}
	return n, true
}
