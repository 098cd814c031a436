package feed

import (
	"strings"
	"testing"
	"time"

	"contestfeed/internal/contest"
)

func TestSetW(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in    string
		align Align
		width int
		want  string
	}{
		{"ab", AlignLeft, 5, "ab   "},
		{"ab", AlignRight, 5, "   ab"},
		{"ab", AlignCenter, 5, " ab  "},
		{"abcdef", AlignLeft, 3, "abcdef"},
		{"é", AlignLeft, 3, "é  "},
	}
	for _, tt := range tests {
		if got := SetW(tt.in, tt.align, tt.width); got != tt.want {
			t.Errorf("SetW(%q, %d, %d) = %q, want %q", tt.in, tt.align, tt.width, got, tt.want)
		}
	}
}

func TestColourTiers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		rating *int
		want   string
	}{
		{nil, "black"},
		{rating(0), "white"},
		{rating(999), "white"},
		{rating(1000), "green"},
		{rating(1599), "blue"},
		{rating(1899), "purple"},
		{rating(2399), "yellow"},
		{rating(2400), "red"},
		{rating(2999), "red"},
		{rating(3000), "target"},
	}
	for _, tt := range tests {
		if got := Colour(tt.rating); got != tt.want {
			t.Errorf("Colour(%v) = %s, want %s", tt.rating, got, tt.want)
		}
	}
}

func TestParticipantRowAndHeader(t *testing.T) {
	t.Parallel()
	p := contest.Participant{User: "alice", Score: 107.5, Solutions: []*contest.Solution{sol(100), nil, sol(7.5)}}
	want := "3.   alice                100  -    7.5  107.5\n"
	if got := ParticipantRow(p, 3); got != want {
		t.Fatalf("row = %q\nwant  %q", got, want)
	}
	h := ScoreboardHeader([]contest.Problem{{Label: "1"}, {Label: "2"}, {Label: "3"}})
	if h != "Rank Username             1    2    3    Points\n" {
		t.Fatalf("header = %q", h)
	}
}

func TestRender(t *testing.T) {
	t.Parallel()
	p := contest.Participant{User: "chris", Rating: rating(2450), Score: 5, Solutions: []*contest.Solution{sol(5)}}
	base := Event{User: "chris", Rating: p.Rating, Rank: 2, Participant: p}
	with := func(mut func(*Event)) Event {
		e := base
		mut(&e)
		return e
	}

	tests := []struct {
		name string
		e    Event
		want []string
	}{
		{"joined", with(func(e *Event) { e.Kind = KindJoined }), []string{"🔴 <code>2450</code>   chris has joined the contest!"}},
		{"solved", with(func(e *Event) { e.Kind = KindSolved; e.Problem = 3 }), []string{"has solved P3!"}},
		{"partial shown", with(func(e *Event) {
			e.Kind, e.Problem, e.Points, e.MaxPoints, e.ShowPoints = KindPartialSolve, 2, 40, 100, true
		}), []string{"has solved P2 partials (40/100 points)!"}},
		{"partial hidden", with(func(e *Event) { e.Kind, e.Problem = KindPartialSolve, 2 }), []string{"has solved P2 partials!"}},
		{"full clear", with(func(e *Event) { e.Kind = KindFullClear }), []string{"has AKed the contest!"}},
		{"attempted", with(func(e *Event) { e.Kind, e.Problem = KindAttempted, 5 }), []string{"has attempted P5!"}},
		{"dq", with(func(e *Event) { e.Kind = KindDisqualified }), []string{"has been disqualified!"}},
		{"undq", with(func(e *Event) { e.Kind = KindRequalified }), []string{"has been un-disqualified!"}},
		{"time", with(func(e *Event) { e.Kind, e.Remaining = KindTimeRemaining, 90*time.Minute }), []string{
			"has 1 hour 30 minutes left!\n<pre>2.   chris",
		}},
		{"window", with(func(e *Event) { e.Kind = KindWindowClosed }), []string{"chris&#39; window is over.\n<pre>"}},
		{"graded ac", with(func(e *Event) {
			e.Kind, e.ProblemCode = KindSubmissionGraded, "dmopc24c1p4"
			e.Submission = &GradedSubmission{Verdict: "AC", CasePoints: 10, CaseTotal: 10}
		}), []string{"has submitted to P4:\n✅ <b>AC</b>, received 10/10 points"}},
		{"graded wa", with(func(e *Event) {
			e.Kind, e.ProblemCode = KindSubmissionGraded, "dmopc24c1p4"
			e.Submission = &GradedSubmission{Verdict: "WA", FailBatch: 2, FailCase: 3, FailStatus: "TLE", CasePoints: 4, CaseTotal: 10}
		}), []string{"❌ <b>TLE</b> on Batch 2, Case 3, received 4/10 points"}},
	}
	for _, tt := range tests {
		got := Render(tt.e)
		for _, w := range tt.want {
			if !strings.Contains(got, w) {
				t.Errorf("%s: Render = %q, missing %q", tt.name, got, w)
			}
		}
	}
}

func TestTimeLeftPhrase(t *testing.T) {
	t.Parallel()
	for d, want := range map[time.Duration]string{
		2 * time.Hour:    "2 hours",
		time.Hour:        "1 hour",
		30 * time.Minute: "30 minutes",
		5 * time.Minute:  "5 minutes",
		61 * time.Minute: "1 hour 1 minute",
	} {
		if got := TimeLeftPhrase(d); got != want {
			t.Errorf("TimeLeftPhrase(%v) = %q, want %q", d, got, want)
		}
	}
	if got := Remaining(3*time.Hour + 2*time.Minute + 5*time.Second); got != "3 hour(s), 2 minute(s) and 5 second(s)" {
		t.Fatalf("Remaining = %q", got)
	}
}

func TestPossessive(t *testing.T) {
	t.Parallel()
	if Possessive("alex") != "'s" || Possessive("james") != "'" {
		t.Fatal("possessive mismatch")
	}
}
