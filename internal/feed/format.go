package feed

import (
	"html"
	"strconv"
	"strings"
	"unicode/utf8"

	"contestfeed/internal/contest"
)

type Align int

const (
	AlignLeft Align = iota
	AlignRight
	AlignCenter
)

// Column widths of the fixed-width scoreboard.
const (
	rankWidth    = 5
	userWidth    = 21
	problemWidth = 5
)

// SetW pads s with spaces to width. Longer strings are returned unchanged.
func SetW(s string, align Align, width int) string {
	n := utf8.RuneCountInString(s)
	if n >= width {
		return s
	}
	gap := width - n
	switch align {
	case AlignRight:
		return strings.Repeat(" ", gap) + s
	case AlignCenter:
		return strings.Repeat(" ", gap/2) + s + strings.Repeat(" ", gap-gap/2)
	default:
		return s + strings.Repeat(" ", gap)
	}
}

type tier struct {
	max   int
	name  string
	emoji string
}

var tiers = []tier{
	{999, "white", "⚪"},
	{1299, "green", "🟢"},
	{1599, "blue", "🔵"},
	{1899, "purple", "🟣"},
	{2399, "yellow", "🟡"},
	{2999, "red", "🔴"},
}

var targetTier = tier{name: "target", emoji: "🎯"}
var unratedTier = tier{name: "black", emoji: "⚫"}

func tierFor(rating *int) tier {
	if rating == nil {
		return unratedTier
	}
	for _, t := range tiers {
		if *rating <= t.max {
			return t
		}
	}
	return targetTier
}

// Colour returns the rating colour name: white, green, blue, purple, yellow,
// red, target, or black for unrated.
func Colour(rating *int) string { return tierFor(rating).name }

// UserLabel renders "<emoji> <code>rating</code>   user" as Telegram HTML.
func UserLabel(user string, rating *int) string {
	r := ""
	if rating != nil {
		r = strconv.Itoa(*rating)
	}
	return tierFor(rating).emoji + " <code>" + html.EscapeString(SetW(r, AlignLeft, 4)) + "</code>   " + html.EscapeString(user)
}

// Possessive returns "'" for names ending in s and "'s" otherwise.
func Possessive(name string) string {
	if strings.HasSuffix(name, "s") {
		return "'"
	}
	return "'s"
}

// FormatPoints prints a point value without trailing zeros.
func FormatPoints(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ParticipantRow is one plain-text scoreboard line, newline terminated.
func ParticipantRow(p contest.Participant, rank int) string {
	var b strings.Builder
	b.WriteString(SetW(strconv.Itoa(rank)+".", AlignLeft, rankWidth))
	b.WriteString(SetW(p.User, AlignLeft, userWidth))
	for _, s := range p.Solutions {
		if s == nil {
			b.WriteString(SetW("-", AlignLeft, problemWidth))
			continue
		}
		b.WriteString(SetW(FormatPoints(s.Points), AlignLeft, problemWidth))
	}
	b.WriteString(FormatPoints(p.Score))
	b.WriteByte('\n')
	return b.String()
}

// ScoreboardHeader is the plain-text header matching ParticipantRow.
func ScoreboardHeader(problems []contest.Problem) string {
	var b strings.Builder
	b.WriteString(SetW("Rank", AlignLeft, rankWidth))
	b.WriteString(SetW("Username", AlignLeft, userWidth))
	for _, p := range problems {
		b.WriteString(SetW(p.Label, AlignLeft, problemWidth))
	}
	b.WriteString("Points\n")
	return b.String()
}

// Pre wraps plain text in an HTML <pre> block.
func Pre(s string) string {
	return "<pre>" + html.EscapeString(s) + "</pre>"
}

// plural returns "n unit" or "n units".
func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
