// Package feed turns successive contest snapshots into feed events.
//
// A Poller drives the loop: each cycle fetches a snapshot, compares every
// participant against the Store's last seen record (Diff), checks remaining
// time thresholds (Crossings) and tracked submissions (Tracker), commits the
// new state and only then hands the events to a Notifier.
package feed

import (
	"time"

	"contestfeed/internal/contest"
)

type Kind string

const (
	KindJoined           Kind = "joined"
	KindSolved           Kind = "solved"
	KindPartialSolve     Kind = "partial_solve"
	KindFullClear        Kind = "full_clear"
	KindAttempted        Kind = "attempted"
	KindDisqualified     Kind = "disqualified"
	KindRequalified      Kind = "requalified"
	KindTimeRemaining    Kind = "time_remaining"
	KindWindowClosed     Kind = "window_closed"
	KindSubmissionGraded Kind = "submission_graded"
)

// Event is one feed notification. Fields irrelevant to Kind are zero.
type Event struct {
	Kind    Kind      `json:"kind"`
	Cycle   string    `json:"cycle,omitempty"`
	Contest string    `json:"contest,omitempty"`
	At      time.Time `json:"at"`
	Urgent  bool      `json:"urgent"`

	User   string  `json:"user"`
	Rating *int    `json:"rating,omitempty"`
	Rank   int     `json:"rank,omitempty"`
	Score  float64 `json:"score"`

	// Problem is the 1-based problem number; 0 when the event has none.
	Problem     int     `json:"problem,omitempty"`
	ProblemCode string  `json:"problem_code,omitempty"`
	Points      float64 `json:"points,omitempty"`
	MaxPoints   float64 `json:"max_points,omitempty"`
	// ShowPoints asks the renderer to print Points/MaxPoints on a partial solve.
	ShowPoints bool `json:"show_points,omitempty"`

	Remaining time.Duration `json:"remaining,omitempty"`

	Submission *GradedSubmission `json:"submission,omitempty"`

	// Participant is the record the event was derived from, for rendering rows.
	Participant contest.Participant `json:"-"`
}

// GradedSubmission summarises a fully graded tracked submission.
type GradedSubmission struct {
	ID         int64   `json:"id"`
	Verdict    string  `json:"verdict"`
	FailBatch  int     `json:"fail_batch,omitempty"` // 0 for an unbatched case
	FailCase   int     `json:"fail_case,omitempty"`
	FailStatus string  `json:"fail_status,omitempty"`
	CasePoints float64 `json:"case_points"`
	CaseTotal  float64 `json:"case_total"`
}

// Accepted reports whether the verdict was AC.
func (g GradedSubmission) Accepted() bool { return g.Verdict == "AC" }

func newEvent(kind Kind, p contest.Participant) Event {
	return Event{
		Kind:        kind,
		User:        p.User,
		Rating:      p.Rating,
		Score:       p.TotalPoints(),
		Participant: p,
	}
}
