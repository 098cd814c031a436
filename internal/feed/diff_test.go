package feed

import (
	"testing"
	"time"

	"contestfeed/internal/contest"
)

func rating(v int) *int { return &v }

func sol(points float64) *contest.Solution { return &contest.Solution{Points: points} }

func testContest(points ...float64) *contest.Contest {
	c := contest.Contest{Key: "c1", TimeLimit: 3 * time.Hour}
	for i, p := range points {
		c.Problems = append(c.Problems, contest.Problem{Code: "c1p" + string(rune('1'+i)), Label: string(rune('1' + i)), Points: p, Partial: true})
	}
	out, _ := contest.New(c)
	return out
}

func participant(user string, r *int, sols ...*contest.Solution) contest.Participant {
	return contest.Participant{User: user, Rating: r, Solutions: sols}
}

func kinds(events []Event) []Kind {
	out := make([]Kind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func sameKinds(a, b []Kind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDiffJoinSolveFullClear(t *testing.T) {
	t.Parallel()
	c := testContest(100)
	opts := DiffOptions{Gates: DefaultGates()}

	joined := participant("p", rating(2500), nil)
	evs := Diff(nil, joined, c, opts)
	if len(evs) != 1 || evs[0].Kind != KindJoined || !evs[0].Urgent {
		t.Fatalf("join events = %+v", evs)
	}

	solved := participant("p", rating(2500), sol(100))
	evs = Diff(&joined, solved, c, opts)
	if !sameKinds(kinds(evs), []Kind{KindFullClear}) || !evs[0].Urgent {
		t.Fatalf("events = %v, want a single urgent full clear", kinds(evs))
	}
}

func TestDiffTable(t *testing.T) {
	t.Parallel()
	c := testContest(100, 100, 100, 100)
	tests := []struct {
		name    string
		old     contest.Participant
		cur     contest.Participant
		tracked bool
		want    []Kind
		urgent  []bool
	}{
		{
			name: "full solve",
			old:  participant("u", rating(1500), nil, nil, nil, nil),
			cur:  participant("u", rating(1500), sol(100), nil, nil, nil),
			want: []Kind{KindSolved}, urgent: []bool{false},
		},
		{
			name: "late problem solve is urgent",
			old:  participant("u", rating(1500), nil, nil, nil, nil),
			cur:  participant("u", rating(1500), nil, nil, nil, sol(100)),
			want: []Kind{KindSolved}, urgent: []bool{true},
		},
		{
			name: "partial",
			old:  participant("u", rating(2700), nil, nil, nil, nil),
			cur:  participant("u", rating(2700), sol(40), nil, nil, nil),
			want: []Kind{KindPartialSolve}, urgent: []bool{true},
		},
		{
			name: "partial then full",
			old:  participant("u", nil, sol(40), nil, nil, nil),
			cur:  participant("u", nil, sol(100), nil, nil, nil),
			want: []Kind{KindSolved}, urgent: []bool{false},
		},
		{
			name: "unchanged full solve does not repeat",
			old:  participant("u", nil, sol(100), nil, nil, nil),
			cur:  participant("u", nil, sol(100), nil, nil, nil),
		},
		{
			name: "score decrease ignored",
			old:  participant("u", nil, sol(100), nil, nil, nil),
			cur:  participant("u", nil, sol(50), nil, nil, nil),
		},
		{
			name: "early attempt is silent",
			old:  participant("u", nil, nil, nil, nil, nil),
			cur:  participant("u", nil, sol(0), nil, nil, nil),
		},
		{
			name: "late attempt",
			old:  participant("u", nil, nil, nil, nil, nil),
			cur:  participant("u", nil, nil, nil, nil, sol(0)),
			want: []Kind{KindAttempted}, urgent: []bool{false},
		},
		{
			name: "several events in problem order",
			old:  participant("u", nil, nil, nil, nil, nil),
			cur:  participant("u", nil, sol(100), sol(30), nil, sol(0)),
			want: []Kind{KindSolved, KindPartialSolve, KindAttempted}, urgent: []bool{false, false, false},
		},
		{
			name: "full clear supersedes solves",
			old:  participant("u", nil, sol(100), sol(100), sol(100), nil),
			cur:  participant("u", nil, sol(100), sol(100), sol(100), sol(100)),
			want: []Kind{KindFullClear}, urgent: []bool{true},
		},
		{
			name: "disqualified",
			old:  participant("u", nil, nil, nil, nil, nil),
			cur:  contest.Participant{User: "u", Disqualified: true, Solutions: make([]*contest.Solution, 4)},
			want: []Kind{KindDisqualified}, urgent: []bool{true},
		},
		{
			name: "requalified",
			old:  contest.Participant{User: "u", Disqualified: true, Solutions: make([]*contest.Solution, 4)},
			cur:  participant("u", nil, nil, nil, nil, nil),
			want: []Kind{KindRequalified}, urgent: []bool{true},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			evs := Diff(&tt.old, tt.cur, c, DiffOptions{Gates: DefaultGates(), Tracked: tt.tracked})
			if got := kinds(evs); !sameKinds(got, tt.want) {
				t.Fatalf("kinds = %v, want %v", got, tt.want)
			}
			for i, e := range evs {
				if e.Urgent != tt.urgent[i] {
					t.Fatalf("event %d (%s) urgent = %v, want %v", i, e.Kind, e.Urgent, tt.urgent[i])
				}
			}
		})
	}
}

func TestDiffPartialPointsHiddenWhenTracked(t *testing.T) {
	t.Parallel()
	c := testContest(100)
	old := participant("u", nil, nil)
	cur := participant("u", nil, sol(40))

	evs := Diff(&old, cur, c, DiffOptions{})
	if len(evs) != 1 || !evs[0].ShowPoints || evs[0].Points != 40 || evs[0].MaxPoints != 100 || evs[0].Problem != 1 {
		t.Fatalf("untracked partial = %+v", evs)
	}
	evs = Diff(&old, cur, c, DiffOptions{Tracked: true})
	if len(evs) != 1 || evs[0].ShowPoints {
		t.Fatalf("tracked partial = %+v", evs)
	}
}

func TestDiffJoinNotability(t *testing.T) {
	t.Parallel()
	c := testContest(100)
	for _, tt := range []struct {
		rating *int
		urgent bool
	}{
		{nil, false},
		{rating(2399), false},
		{rating(2400), true},
	} {
		evs := Diff(nil, participant("u", tt.rating, nil), c, DiffOptions{})
		if evs[0].Urgent != tt.urgent {
			t.Fatalf("rating %v: urgent = %v", tt.rating, evs[0].Urgent)
		}
	}
}
