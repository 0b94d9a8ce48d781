package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}
}

func TestUntilNextBoundary(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		at   time.Time
		d    time.Duration
		want time.Duration
	}{
		{base, 5 * time.Minute, 0},
		{base.Add(time.Minute), 5 * time.Minute, 4 * time.Minute},
		{base.Add(59 * time.Minute), time.Hour, time.Minute},
		{base, 0, 0},
	}
	for _, c := range cases {
		if got := UntilNextBoundary(c.at, c.d); got != c.want {
			t.Fatalf("UntilNextBoundary(%v, %v) = %v, want %v", c.at, c.d, got, c.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("EUR/USD flipped to buy", 10); got != "EUR/USD..." {
		t.Fatalf("unexpected %q", got)
	}
	if got := Truncate("short", 10); got != "short" {
		t.Fatalf("unexpected %q", got)
	}
}
