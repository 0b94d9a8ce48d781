package util

import (
	"strconv"
	"time"
)

// ParseTime tries RFC3339, RFC3339Nano, and unix seconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}

// UntilNextBoundary returns how long until t reaches the next multiple of d
// (measured from the Unix epoch). A t already on a boundary returns 0.
func UntilNextBoundary(t time.Time, d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	rem := time.Duration(t.UnixNano() % int64(d))
	if rem == 0 {
		return 0
	}
	return d - rem
}
