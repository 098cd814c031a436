package app

import (
	"fmt"
	"time"

	"contestfeed/internal/feed"
)

const minStaleAfter = 2 * time.Minute

type pollStatus interface {
	Stats() feed.Stats
	Interval() time.Duration
}

// healthCheck fails once the poller has gone max(5 intervals, 2m) without a
// successful cycle.
func healthCheck(p pollStatus, started time.Time, now func() time.Time) func() error {
	return func() error {
		st := p.Stats()
		limit := max(5*p.Interval(), minStaleAfter)
		t := now()
		if st.LastSuccess.IsZero() {
			if t.Sub(started) > limit {
				return fmt.Errorf("no successful poll since start (%s ago): %s", t.Sub(started).Round(time.Second), st.LastError)
			}
			return nil
		}
		if age := t.Sub(st.LastSuccess); age > limit {
			return fmt.Errorf("last successful poll %s ago: %s", age.Round(time.Second), st.LastError)
		}
		return nil
	}
}
