// Package timespec parses user-supplied time bounds for event filtering.
package timespec

import (
	"fmt"
	"time"
)

// Parse parses a time specification into a Unix timestamp (milliseconds).
// Supports two formats:
//   - Go duration format: "1h", "30m", "1h30m" (relative to now, in the past)
//   - RFC3339 timestamps: "2026-08-28T13:00:00Z"
//
// For example, "1h" means "1 hour ago".
func Parse(spec string) (int64, error) {
	if spec == "" {
		return 0, fmt.Errorf("empty time specification")
	}

	// Try parsing as RFC3339 first
	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t.UnixMilli(), nil
	}

	// Try parsing as Go duration
	if d, err := time.ParseDuration(spec); err == nil {
		return time.Now().Add(-d).UnixMilli(), nil
	}

	return 0, fmt.Errorf("invalid time specification: %s (use duration like '1h30m' or RFC3339 like '2026-08-28T13:00:00Z')", spec)
}

// Range bounds a time window in Unix milliseconds. A zero value means
// that end of the window is unbounded.
type Range struct {
	SinceMs int64
	UntilMs int64
}

// ParseRange parses --since and --until flags into a Range.
// Validates that since < until when both are given.
func ParseRange(since, until string) (Range, error) {
	var r Range
	var err error

	if since != "" {
		r.SinceMs, err = Parse(since)
		if err != nil {
			return Range{}, fmt.Errorf("invalid --since: %w", err)
		}
	}

	if until != "" {
		r.UntilMs, err = Parse(until)
		if err != nil {
			return Range{}, fmt.Errorf("invalid --until: %w", err)
		}
	}

	if r.SinceMs > 0 && r.UntilMs > 0 && r.SinceMs >= r.UntilMs {
		return Range{}, fmt.Errorf("--since must be earlier than --until")
	}

	return r, nil
}

// Contains reports whether the timestamp falls inside the range.
func (r Range) Contains(tsMs int64) bool {
	if r.SinceMs > 0 && tsMs < r.SinceMs {
		return false
	}
	if r.UntilMs > 0 && tsMs > r.UntilMs {
		return false
	}
	return true
}

// IsZero reports whether the range is unbounded on both ends.
func (r Range) IsZero() bool {
	return r.SinceMs == 0 && r.UntilMs == 0
}
