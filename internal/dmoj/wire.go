package dmoj

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"contestfeed/internal/contest"
)

// envelope is the common API v2 response wrapper.
type envelope struct {
	APIVersion string          `json:"api_version"`
	Data       json.RawMessage `json:"data"`
	Error      *apiError       `json:"error"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type objectData[T any] struct {
	Object T `json:"object"`
}

type listData[T any] struct {
	CurrentObjectCount int `json:"current_object_count"`
	Objects            []T `json:"objects"`
}

type wireContest struct {
	Key       string           `json:"key"`
	Name      string           `json:"name"`
	StartTime string           `json:"start_time"`
	EndTime   string           `json:"end_time"`
	TimeLimit *float64         `json:"time_limit"`
	IsRated   bool             `json:"is_rated"`
	Problems  []wireProblem    `json:"problems"`
	Rankings  []wireRankingRow `json:"rankings"`
}

type wireProblem struct {
	Code    string  `json:"code"`
	Label   string  `json:"label"`
	Name    string  `json:"name"`
	Points  float64 `json:"points"`
	Partial bool    `json:"partial"`
}

type wireRankingRow struct {
	User           string          `json:"user"`
	StartTime      string          `json:"start_time"`
	EndTime        string          `json:"end_time"`
	Score          float64         `json:"score"`
	CumulativeTime float64         `json:"cumulative_time"`
	IsDisqualified bool            `json:"is_disqualified"`
	OldRating      *int            `json:"old_rating"`
	Solutions      []*wireSolution `json:"solutions"`
}

type wireSolution struct {
	Time    float64 `json:"time"`
	Points  float64 `json:"points"`
	Penalty float64 `json:"penalty"`
}

type wireSubmission struct {
	ID       int64    `json:"id"`
	Problem  string   `json:"problem"`
	User     string   `json:"user"`
	Date     string   `json:"date"`
	Language string   `json:"language"`
	Points   *float64 `json:"points"`
	Result   *string  `json:"result"`
}

type wireSubmissionDetail struct {
	ID         int64      `json:"id"`
	Problem    string     `json:"problem"`
	User       string     `json:"user"`
	Status     string     `json:"status"`
	Result     *string    `json:"result"`
	CasePoints float64    `json:"case_points"`
	CaseTotal  float64    `json:"case_total"`
	Cases      []wireCase `json:"cases"`
}

// wireCase is either {"type":"batch","cases":[...]} or a bare {"type":"case",...}.
type wireCase struct {
	Type    string     `json:"type"`
	CaseID  int        `json:"case_id"`
	BatchID int        `json:"batch_id"`
	Status  string     `json:"status"`
	Points  float64    `json:"points"`
	Total   float64    `json:"total"`
	Cases   []wireCase `json:"cases"`
}

func parseTime(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", field, err)
	}
	return t, nil
}

func (w wireContest) toContest() (*contest.Contest, []string, error) {
	start, err := parseTime("start_time", w.StartTime)
	if err != nil {
		return nil, nil, err
	}
	end, err := parseTime("end_time", w.EndTime)
	if err != nil {
		return nil, nil, err
	}

	c := contest.Contest{
		Key:       w.Key,
		Name:      w.Name,
		StartTime: start,
		EndTime:   end,
		IsRated:   w.IsRated,
		Problems:  make([]contest.Problem, len(w.Problems)),
		Rankings:  make([]contest.Participant, 0, len(w.Rankings)),
	}
	if w.TimeLimit != nil && *w.TimeLimit > 0 {
		c.TimeLimit = time.Duration(*w.TimeLimit * float64(time.Second))
	}
	for i, p := range w.Problems {
		c.Problems[i] = contest.Problem(p)
	}

	for _, r := range w.Rankings {
		p := contest.Participant{
			User:           r.User,
			Rating:         r.OldRating,
			Disqualified:   r.IsDisqualified,
			Score:          r.Score,
			CumulativeTime: r.CumulativeTime,
			Solutions:      make([]*contest.Solution, len(c.Problems)),
		}
		if p.StartTime, err = parseTime(r.User+".start_time", r.StartTime); err != nil {
			return nil, nil, err
		}
		if p.EndTime, err = parseTime(r.User+".end_time", r.EndTime); err != nil {
			return nil, nil, err
		}
		for j, s := range r.Solutions {
			if j >= len(p.Solutions) {
				break
			}
			if s != nil {
				p.Solutions[j] = &contest.Solution{Points: s.Points, Time: s.Time, Penalty: s.Penalty}
			}
		}
		c.Rankings = append(c.Rankings, p)
	}

	out, dups := contest.New(c)
	return out, dups, nil
}

func (w wireSubmission) toSummary() contest.SubmissionSummary {
	s := contest.SubmissionSummary{
		ID:       w.ID,
		Problem:  w.Problem,
		User:     w.User,
		Language: w.Language,
	}
	s.Date, _ = parseTime("date", w.Date)
	if w.Points != nil {
		s.Points = *w.Points
	}
	if w.Result != nil {
		s.Result = *w.Result
	}
	return s
}

func (w wireSubmissionDetail) toDetail() contest.SubmissionDetail {
	d := contest.SubmissionDetail{
		ID:         w.ID,
		Problem:    w.Problem,
		User:       w.User,
		Status:     w.Status,
		CasePoints: w.CasePoints,
		CaseTotal:  w.CaseTotal,
		Cases:      make([]contest.CaseGroup, 0, len(w.Cases)),
	}
	if w.Result != nil {
		d.Result = *w.Result
	}
	for _, wc := range w.Cases {
		if wc.Type == "batch" {
			g := contest.CaseGroup{Batch: true, Cases: make([]contest.Case, 0, len(wc.Cases))}
			for _, inner := range wc.Cases {
				g.Cases = append(g.Cases, inner.toCase())
			}
			d.Cases = append(d.Cases, g)
			continue
		}
		d.Cases = append(d.Cases, contest.CaseGroup{Cases: []contest.Case{wc.toCase()}})
	}
	return d
}

func (w wireCase) toCase() contest.Case {
	return contest.Case{ID: w.CaseID, Status: w.Status, Points: w.Points, Total: w.Total}
}
