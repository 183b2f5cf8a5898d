package dispatch

import "time"

// minuteOfDay parses "HH:MM"; malformed input reports ok=false and the
// caller skips gating rather than blocking sends on a bad window.
func minuteOfDay(hhmm string) (int, bool) {
	if len(hhmm) != 5 || hhmm[2] != ':' {
		return 0, false
	}
	h := int(hhmm[0]-'0')*10 + int(hhmm[1]-'0')
	m := int(hhmm[3]-'0')*10 + int(hhmm[4]-'0')
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// withinWindow reports whether t falls inside the [start, end) daily
// business-hours window.
func withinWindow(t time.Time, start, end string) bool {
	s, okS := minuteOfDay(start)
	e, okE := minuteOfDay(end)
	if !okS || !okE {
		return true
	}
	now := t.Hour()*60 + t.Minute()
	return now >= s && now < e
}
