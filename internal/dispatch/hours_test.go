package dispatch

import (
	"testing"
	"time"
)

func TestMinuteOfDay(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"00:00", 0, true},
		{"09:30", 570, true},
		{"23:59", 1439, true},
		{"24:00", 0, false},
		{"09:60", 0, false},
		{"9:30", 0, false},
		{"", 0, false},
		{"ab:cd", 0, false},
	}
	for _, c := range cases {
		got, ok := minuteOfDay(c.in)
		if ok != c.ok || (ok && got != c.want) {
			t.Errorf("minuteOfDay(%q) = %d,%v", c.in, got, ok)
		}
	}
}

func TestWithinWindow(t *testing.T) {
	at := func(h, m int) time.Time {
		return time.Date(2026, 8, 28, h, m, 0, 0, time.UTC)
	}
	cases := []struct {
		t          time.Time
		start, end string
		want       bool
	}{
		{at(9, 0), "09:00", "18:00", true},
		{at(12, 30), "09:00", "18:00", true},
		{at(17, 59), "09:00", "18:00", true},
		{at(18, 0), "09:00", "18:00", false}, // end is exclusive
		{at(8, 59), "09:00", "18:00", false},
		{at(22, 0), "09:00", "18:00", false},
		// malformed window disables gating instead of blocking sends
		{at(3, 0), "bogus", "18:00", true},
		{at(3, 0), "", "", true},
	}
	for _, c := range cases {
		if got := withinWindow(c.t, c.start, c.end); got != c.want {
			t.Errorf("withinWindow(%v, %q, %q) = %v", c.t, c.start, c.end, got)
		}
	}
}
