package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"contestfeed/internal/contest"
)

var (
	ErrAlreadyTracked = errors.New("feed: user already tracked")
	ErrNotTracked     = errors.New("feed: user not tracked")
)

// SubmissionSource is the part of Fetcher the tracker needs.
type SubmissionSource interface {
	LatestSubmission(ctx context.Context, user string) (contest.SubmissionSummary, error)
	SubmissionDetail(ctx context.Context, id int64) (contest.SubmissionDetail, error)
}

// ignoredResults never advance the tracked id.
var ignoredResults = map[string]bool{"CE": true, "IE": true, "AB": true}

// Tracker holds the last graded submission id of each tracked user. Chat
// commands and the poll cycle use it concurrently.
type Tracker struct {
	src SubmissionSource

	mu  sync.RWMutex
	ids map[string]int64
}

func NewTracker(src SubmissionSource) *Tracker {
	return &Tracker{src: src, ids: map[string]int64{}}
}

// Track seeds user with their latest submission id. Errors from the source
// are wrapped, so errors.Is works against the fetcher's sentinels.
func (t *Tracker) Track(ctx context.Context, user string) error {
	if t.IsTracked(user) {
		return ErrAlreadyTracked
	}
	sub, err := t.src.LatestSubmission(ctx, user)
	if err != nil {
		return fmt.Errorf("track %s: %w", user, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.ids[user]; ok {
		return ErrAlreadyTracked
	}
	t.ids[user] = sub.ID
	return nil
}

func (t *Tracker) Untrack(user string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.ids[user]; !ok {
		return ErrNotTracked
	}
	delete(t.ids, user)
	return nil
}

func (t *Tracker) IsTracked(user string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.ids[user]
	return ok
}

// TrackedID returns the last graded submission id for user.
func (t *Tracker) TrackedID(user string) (int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.ids[user]
	return id, ok
}

// Users returns tracked users sorted by name.
func (t *Tracker) Users() []string {
	t.mu.RLock()
	out := make([]string, 0, len(t.ids))
	for u := range t.ids {
		out = append(out, u)
	}
	t.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ids)
}

// Check looks for a newly graded submission of a tracked participant. It
// never mutates the tracker: a non-nil event comes with the id to stage via
// apply.
func (t *Tracker) Check(ctx context.Context, c *contest.Contest, p contest.Participant) (*Event, int64, error) {
	current, ok := t.TrackedID(p.User)
	if !ok {
		return nil, 0, nil
	}
	sub, err := t.src.LatestSubmission(ctx, p.User)
	if err != nil {
		return nil, 0, fmt.Errorf("latest submission of %s: %w", p.User, err)
	}
	if sub.ID <= current {
		return nil, 0, nil
	}
	if !c.HasProblem(sub.Problem) || ignoredResults[sub.Result] {
		return nil, 0, nil
	}

	d, err := t.src.SubmissionDetail(ctx, sub.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("submission %d: %w", sub.ID, err)
	}
	if !d.Done() {
		return nil, 0, nil
	}

	e := newEvent(KindSubmissionGraded, p)
	e.ProblemCode = d.Problem
	g := gradedFrom(d)
	e.Submission = &g
	return &e, d.ID, nil
}

// gradedFrom finds the first non-AC case, scanning groups in order.
func gradedFrom(d contest.SubmissionDetail) GradedSubmission {
	g := GradedSubmission{
		ID:         d.ID,
		Verdict:    d.Result,
		CasePoints: d.CasePoints,
		CaseTotal:  d.CaseTotal,
	}
	if g.Accepted() {
		return g
	}
	for i, grp := range d.Cases {
		for k, cs := range grp.Cases {
			if cs.Status == "AC" {
				continue
			}
			g.FailStatus = cs.Status
			if grp.Batch {
				g.FailBatch, g.FailCase = i+1, k+1
			} else {
				g.FailCase = i + 1
			}
			return g
		}
	}
	return g
}

// apply commits a cycle's staged changes: advances move forward only and
// only for users still tracked; untracks remove.
func (t *Tracker) apply(advances map[string]int64, untracks []string) {
	if len(advances) == 0 && len(untracks) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for u, id := range advances {
		if cur, ok := t.ids[u]; ok && id > cur {
			t.ids[u] = id
		}
	}
	for _, u := range untracks {
		delete(t.ids, u)
	}
}
