package feed

import (
	"fmt"
	"html"
	"strings"
	"time"

	"contestfeed/internal/contest"
)

// Render formats e as Telegram HTML.
func Render(e Event) string {
	label := UserLabel(e.User, e.Rating)
	switch e.Kind {
	case KindJoined:
		return label + " has joined the contest!"
	case KindSolved:
		return fmt.Sprintf("%s has solved P%d!", label, e.Problem)
	case KindPartialSolve:
		s := fmt.Sprintf("%s has solved P%d partials", label, e.Problem)
		if e.ShowPoints {
			s += fmt.Sprintf(" (%s/%s points)", FormatPoints(e.Points), FormatPoints(e.MaxPoints))
		}
		return s + "!"
	case KindFullClear:
		return label + " has AKed the contest!"
	case KindAttempted:
		return fmt.Sprintf("%s has attempted P%d!", label, e.Problem)
	case KindDisqualified:
		return label + " has been disqualified!"
	case KindRequalified:
		return label + " has been un-disqualified!"
	case KindTimeRemaining:
		return label + " has " + TimeLeftPhrase(e.Remaining) + " left!\n" + Pre(ParticipantRow(e.Participant, e.Rank))
	case KindWindowClosed:
		return label + html.EscapeString(Possessive(e.User)) + " window is over.\n" + Pre(ParticipantRow(e.Participant, e.Rank))
	case KindSubmissionGraded:
		return renderGraded(label, e)
	default:
		return label + " " + html.EscapeString(string(e.Kind))
	}
}

func renderGraded(label string, e Event) string {
	var b strings.Builder
	b.WriteString(label)
	b.WriteString(" has submitted to ")
	b.WriteString(html.EscapeString(contest.ProblemSuffix(e.ProblemCode)))
	b.WriteString(":\n")

	g := e.Submission
	if g == nil {
		return strings.TrimSuffix(b.String(), "\n")
	}
	if g.Accepted() {
		b.WriteString("✅ <b>AC</b>")
	} else {
		status := g.FailStatus
		if status == "" {
			status = g.Verdict
		}
		b.WriteString("❌ <b>" + html.EscapeString(status) + "</b>")
		switch {
		case g.FailCase > 0 && g.FailBatch > 0:
			fmt.Fprintf(&b, " on Batch %d, Case %d", g.FailBatch, g.FailCase)
		case g.FailCase > 0:
			fmt.Fprintf(&b, " on Case %d", g.FailCase)
		}
	}
	fmt.Fprintf(&b, ", received %s/%s points", FormatPoints(g.CasePoints), FormatPoints(g.CaseTotal))
	return b.String()
}

// TimeLeftPhrase renders a threshold as "2 hours", "1 hour 30 minutes" or "5 minutes".
func TimeLeftPhrase(d time.Duration) string {
	secs := int(d / time.Second)
	h, m := secs/3600, (secs%3600)/60
	var parts []string
	if h > 0 {
		parts = append(parts, plural(h, "hour"))
	}
	if m > 0 {
		parts = append(parts, plural(m, "minute"))
	}
	if len(parts) == 0 {
		return plural(secs, "second")
	}
	return strings.Join(parts, " ")
}

// Remaining renders d as "H hour(s), M minute(s) and S second(s)".
func Remaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%d hour(s), %d minute(s) and %d second(s)", secs/3600, (secs/60)%60, secs%60)
}
