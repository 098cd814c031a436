// Package contest holds the immutable contest standings model produced by one poll.
package contest

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// Problem is one entry of the contest problem set.
type Problem struct {
	Code    string
	Label   string
	Name    string
	Points  float64
	Partial bool
}

// Solution is the best result a participant has on one problem.
type Solution struct {
	Points  float64
	Time    float64
	Penalty float64
}

// Participant is one entrant's standing record.
//
// Solutions is index-aligned with Contest.Problems; a nil entry means unattempted.
type Participant struct {
	User           string
	Rating         *int
	Disqualified   bool
	StartTime      time.Time
	EndTime        time.Time
	Score          float64
	CumulativeTime float64
	Solutions      []*Solution
}

// Contest is one poll's view of a contest. Treat values as read-only once built.
type Contest struct {
	Key       string
	Name      string
	StartTime time.Time
	EndTime   time.Time
	TimeLimit time.Duration // per-participant window; 0 when the contest has none
	IsRated   bool
	Problems  []Problem
	Rankings  []Participant
	byUser    map[string]int
	byProblem map[string]int
}

// Snapshot is a fetched contest plus the raw payload it was decoded from.
type Snapshot struct {
	Contest   *Contest
	Raw       json.RawMessage
	FetchedAt time.Time
}

// SubmissionSummary is an entry of a user's submission list.
type SubmissionSummary struct {
	ID       int64
	Problem  string
	User     string
	Date     time.Time
	Language string
	Points   float64
	Result   string
}

// Submission grading status reported by the judge.
const (
	StatusDone = "D"
)

// SubmissionDetail is a fully expanded submission.
type SubmissionDetail struct {
	ID         int64
	Problem    string
	User       string
	Status     string
	Result     string
	CasePoints float64
	CaseTotal  float64
	Cases      []CaseGroup
}

// CaseGroup is either a batch of cases or a single unbatched case.
type CaseGroup struct {
	Batch bool
	Cases []Case
}

// Case is one judged test case.
type Case struct {
	ID     int
	Status string
	Points float64
	Total  float64
}

// Done reports whether grading has completed.
func (d SubmissionDetail) Done() bool { return d.Status == StatusDone }

// New builds a Contest and its lookup indexes. Duplicate users keep the first
// record; the duplicates are returned so the caller can report them.
func New(c Contest) (*Contest, []string) {
	out := c
	out.byUser = make(map[string]int, len(c.Rankings))
	out.byProblem = make(map[string]int, len(c.Problems))
	rankings := make([]Participant, 0, len(c.Rankings))
	var dups []string
	for _, p := range c.Rankings {
		if _, ok := out.byUser[p.User]; ok {
			dups = append(dups, p.User)
			continue
		}
		out.byUser[p.User] = len(rankings)
		rankings = append(rankings, p)
	}
	out.Rankings = rankings
	for i, pr := range c.Problems {
		out.byProblem[pr.Code] = i
	}
	return &out, dups
}

// MaxScore is the sum of all problem point values.
func (c *Contest) MaxScore() float64 {
	if c == nil {
		return 0
	}
	var total float64
	for _, p := range c.Problems {
		total += p.Points
	}
	return total
}

// Lookup returns the participant and its 1-based rank.
func (c *Contest) Lookup(user string) (Participant, int, bool) {
	if c == nil {
		return Participant{}, 0, false
	}
	if c.byUser != nil {
		i, ok := c.byUser[user]
		if !ok {
			return Participant{}, 0, false
		}
		return c.Rankings[i], i + 1, true
	}
	for i, p := range c.Rankings {
		if p.User == user {
			return p, i + 1, true
		}
	}
	return Participant{}, 0, false
}

// HasProblem reports whether a problem code belongs to this contest.
func (c *Contest) HasProblem(code string) bool {
	if c == nil {
		return false
	}
	if c.byProblem != nil {
		_, ok := c.byProblem[code]
		return ok
	}
	for _, p := range c.Problems {
		if p.Code == code {
			return true
		}
	}
	return false
}

// Active reports whether the participant's window is still open at now.
func (p Participant) Active(now time.Time) bool {
	return !p.EndTime.IsZero() && now.Before(p.EndTime)
}

// WindowOver reports whether windowEnd <= now has been reached.
func (p Participant) WindowOver(now time.Time) bool {
	return !p.EndTime.IsZero() && !p.EndTime.After(now)
}

// ProblemPoints returns the points on problem j, 0 if unattempted or out of range.
func (p Participant) ProblemPoints(j int) float64 {
	if j < 0 || j >= len(p.Solutions) || p.Solutions[j] == nil {
		return 0
	}
	return p.Solutions[j].Points
}

// Attempted reports whether problem j has a solution entry.
func (p Participant) Attempted(j int) bool {
	return j >= 0 && j < len(p.Solutions) && p.Solutions[j] != nil
}

// TotalPoints sums points across all non-nil solutions.
func (p Participant) TotalPoints() float64 {
	var total float64
	for _, s := range p.Solutions {
		if s != nil {
			total += s.Points
		}
	}
	return total
}

// RatingAtLeast reports whether the participant has a rating >= cutoff.
// Unrated participants never qualify.
func (p Participant) RatingAtLeast(cutoff int) bool {
	return p.Rating != nil && *p.Rating >= cutoff
}

// SamePoints compares point values tolerating float noise from the API.
func SamePoints(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

// ProblemSuffix returns the short label used in feed messages for a problem
// code: its last two characters upper-cased (e.g. "dmopc24c1p3" -> "P3").
func ProblemSuffix(code string) string {
	code = strings.TrimSpace(code)
	if len(code) > 2 {
		code = code[len(code)-2:]
	}
	return strings.ToUpper(code)
}
