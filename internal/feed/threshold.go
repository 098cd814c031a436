package feed

import "time"

// Thresholds are the remaining-time marks announced to participants, descending.
var Thresholds = []time.Duration{
	2 * time.Hour,
	time.Hour,
	30 * time.Minute,
	15 * time.Minute,
	5 * time.Minute,
}

// Crossings returns the thresholds T with newRemaining < T <= oldRemaining,
// where remaining is measured against prevPoll and now. Nothing fires once the
// window has ended. With a non-zero window, a gap between polls longer than
// the window or an old remaining time not inside the window (a participant who
// just started) suppresses every crossing.
func Crossings(windowEnd, prevPoll, now time.Time, window time.Duration) []time.Duration {
	if windowEnd.IsZero() || prevPoll.IsZero() || !now.After(prevPoll) {
		return nil
	}
	newRem := windowEnd.Sub(now)
	oldRem := windowEnd.Sub(prevPoll)
	if newRem <= 0 {
		return nil
	}
	if window > 0 && (now.Sub(prevPoll) > window || oldRem >= window) {
		return nil
	}

	var out []time.Duration
	for _, t := range Thresholds {
		if newRem < t && t <= oldRem {
			out = append(out, t)
		}
	}
	return out
}
