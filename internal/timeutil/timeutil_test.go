package timeutil

import (
	"testing"
	"time"
)

func TestDaysBefore(t *testing.T) {
	t.Parallel()

	if got := DaysBefore("2026-08-20", 0); got != "2026-08-20" {
		t.Fatalf("expected same day, got %s", got)
	}
	if got := DaysBefore("2026-08-20", 1); got != "2026-08-19" {
		t.Fatalf("expected 2026-08-19, got %s", got)
	}
	if got := DaysBefore("2026-03-01", 1); got != "2026-02-28" {
		t.Fatalf("expected month rollover, got %s", got)
	}
	if got := DaysBefore("garbage", 3); got != "garbage" {
		t.Fatalf("unparseable input must pass through, got %s", got)
	}
}

func TestNormalizeDate(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.August, 20, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		raw  string
		want string
	}{
		{"2026-08-19", "2026-08-19"},
		{"  2026-08-19 ", "2026-08-19"},
		{"[2026-08-19]", "2026-08-19"},
		{"2026/08/19", "2026-08-19"},
		{"08-19", "2026-08-19"},
		{"[08-19]", "2026-08-19"},
		{"", ""},
		{"发布时间", ""},
		{"2026-8-1", ""},
	}
	for _, tc := range cases {
		if got := NormalizeDate(tc.raw, now); got != tc.want {
			t.Fatalf("NormalizeDate(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}
