package feed

import (
	"contestfeed/internal/contest"
)

// Defaults for Gates.
const (
	DefaultNotableRating = 2400
	DefaultPingRating    = 2600
	DefaultLateProblem   = 4
)

// Gates decide which events are emitted and which are urgent.
type Gates struct {
	NotableRating int
	PingRating    int
	// LateProblem is the 1-based problem number from which attempts are
	// reported and solves are urgent.
	LateProblem int
}

// DefaultGates returns the stock thresholds.
func DefaultGates() Gates {
	return Gates{NotableRating: DefaultNotableRating, PingRating: DefaultPingRating, LateProblem: DefaultLateProblem}
}

func (g Gates) withDefaults() Gates {
	if g.NotableRating <= 0 {
		g.NotableRating = DefaultNotableRating
	}
	if g.PingRating <= 0 {
		g.PingRating = DefaultPingRating
	}
	if g.LateProblem <= 0 {
		g.LateProblem = DefaultLateProblem
	}
	return g
}

type DiffOptions struct {
	Gates Gates
	// Tracked is true when the participant is submission-tracked; partial
	// solves then omit the point fraction.
	Tracked bool
}

// Diff compares a participant's previous and current records and returns the
// events in problem order. old is nil for a participant not seen before.
// Point decreases are ignored.
func Diff(old *contest.Participant, cur contest.Participant, c *contest.Contest, opts DiffOptions) []Event {
	g := opts.Gates.withDefaults()

	if old == nil {
		e := newEvent(KindJoined, cur)
		e.Urgent = cur.RatingAtLeast(g.NotableRating)
		return []Event{e}
	}

	var (
		events   []Event
		improved bool
	)
	for j, pr := range c.Problems {
		oldPts, newPts := old.ProblemPoints(j), cur.ProblemPoints(j)
		n := j + 1
		switch {
		case newPts > oldPts && !contest.SamePoints(newPts, oldPts):
			improved = true
			if contest.SamePoints(newPts, pr.Points) {
				e := problemEvent(KindSolved, cur, pr, n)
				e.Urgent = cur.RatingAtLeast(g.PingRating) || n >= g.LateProblem
				events = append(events, e)
				continue
			}
			e := problemEvent(KindPartialSolve, cur, pr, n)
			e.Points = newPts
			e.MaxPoints = pr.Points
			e.ShowPoints = !opts.Tracked
			e.Urgent = cur.RatingAtLeast(g.PingRating)
			events = append(events, e)
		case contest.SamePoints(newPts, oldPts):
			if !old.Attempted(j) && cur.Attempted(j) && n >= g.LateProblem {
				events = append(events, problemEvent(KindAttempted, cur, pr, n))
			}
		}
	}

	if improved && c.MaxScore() > 0 && contest.SamePoints(cur.TotalPoints(), c.MaxScore()) {
		kept := events[:0]
		for _, e := range events {
			if e.Kind != KindSolved && e.Kind != KindPartialSolve {
				kept = append(kept, e)
			}
		}
		full := newEvent(KindFullClear, cur)
		full.Urgent = true
		events = append(kept, full)
	}

	switch {
	case cur.Disqualified && !old.Disqualified:
		e := newEvent(KindDisqualified, cur)
		e.Urgent = true
		events = append(events, e)
	case !cur.Disqualified && old.Disqualified:
		e := newEvent(KindRequalified, cur)
		e.Urgent = true
		events = append(events, e)
	}
	return events
}

func problemEvent(kind Kind, p contest.Participant, pr contest.Problem, n int) Event {
	e := newEvent(kind, p)
	e.Problem = n
	e.ProblemCode = pr.Code
	return e
}
