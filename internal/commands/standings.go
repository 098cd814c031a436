package commands

import (
	"context"
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"
	"time"

	"contestfeed/internal/contest"
	"contestfeed/internal/feed"
	"contestfeed/internal/transport/telegram/router"
)

func (h *Handler) handleCheck(ctx context.Context, req *router.Request) error {
	st := h.feed.Stats()
	last := st.LastSuccess
	v := h.feed.Store().Load()
	if last.IsZero() && v != nil {
		last = v.FetchedAt
	}

	var b strings.Builder
	if last.IsZero() {
		b.WriteString("No successful update yet.")
	} else {
		b.WriteString("Last update at " + last.Format(time.RFC1123))
	}
	fmt.Fprintf(&b, "\nCycles: %d (failures: %d)", st.Cycles, st.Failures)
	participants := 0
	if v != nil && v.Contest != nil {
		participants = len(v.Contest.Rankings)
	}
	fmt.Fprintf(&b, "\nParticipants: %d, tracked: %d", participants, h.feed.Tracker().Len())
	if st.LastError != "" {
		b.WriteString("\nLast error: " + html.EscapeString(st.LastError))
	}
	return req.Reply(ctx, b.String())
}

func (h *Handler) handleInfo(ctx context.Context, req *router.Request) error {
	v, err := h.view()
	if err != nil {
		return err
	}
	c, now := v.Contest, h.now()
	active := 0
	for _, p := range c.Rankings {
		if p.Active(now) {
			active++
		}
	}
	rated := "No"
	if c.IsRated {
		rated = "Yes"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", html.EscapeString(c.Name))
	fmt.Fprintf(&b, "Contest key: %s\n", html.EscapeString(c.Key))
	fmt.Fprintf(&b, "Number of problems: %d\n", len(c.Problems))
	fmt.Fprintf(&b, "Window length: %s hours\n", feed.FormatPoints(c.TimeLimit.Hours()))
	fmt.Fprintf(&b, "Is rated: %s\n", rated)
	fmt.Fprintf(&b, "Number of participants: %d\n", len(c.Rankings))
	fmt.Fprintf(&b, "Number of active participants: %d", active)
	return req.Reply(ctx, b.String())
}

var errBadRange = router.Replyf("Invalid range. Try <code>/scoreboard 10</code> or <code>/scoreboard 11-20</code>.")

// parseRange reads "N" (1..N) or "A-B" as 1-based inclusive bounds clamped
// to [1, n]. An empty arg means the first page.
func parseRange(arg string, n int) (lo, hi int, err error) {
	lo, hi = 1, rowsPerMessage
	if arg != "" {
		a, b, isPair := strings.Cut(arg, "-")
		if !isPair {
			a, b = "1", a
		}
		if lo, err = strconv.Atoi(strings.TrimSpace(a)); err != nil {
			return 0, 0, errBadRange
		}
		if hi, err = strconv.Atoi(strings.TrimSpace(b)); err != nil {
			return 0, 0, errBadRange
		}
	}
	return max(lo, 1), min(hi, n), nil
}

func (h *Handler) handleScoreboard(ctx context.Context, req *router.Request) error {
	v, err := h.view()
	if err != nil {
		return err
	}
	c := v.Contest

	var idx []int
	if req.Flag("active") {
		now := h.now()
		for i, p := range c.Rankings {
			if p.Active(now) {
				idx = append(idx, i)
			}
		}
	} else {
		arg := ""
		if len(req.Args) > 0 {
			arg = req.Args[0]
		}
		lo, hi, err := parseRange(arg, len(c.Rankings))
		if err != nil {
			return err
		}
		for i := lo - 1; i < hi; i++ {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return router.Replyf("No participants to show.")
	}

	for i, chunk := range scoreboardChunks(c, idx) {
		if err := req.Reply(ctx, feed.Pre(chunk)); err != nil {
			return fmt.Errorf("scoreboard chunk %d: %w", i, err)
		}
	}
	return nil
}

// scoreboardChunks renders the selected rankings rowsPerMessage at a time.
// Only the first chunk carries the header.
func scoreboardChunks(c *contest.Contest, idx []int) []string {
	var out []string
	for start := 0; start < len(idx); start += rowsPerMessage {
		var b strings.Builder
		if start == 0 {
			b.WriteString(feed.ScoreboardHeader(c.Problems))
		}
		for _, i := range idx[start:min(start+rowsPerMessage, len(idx))] {
			b.WriteString(feed.ParticipantRow(c.Rankings[i], i+1))
		}
		out = append(out, b.String())
	}
	return out
}

func (h *Handler) handleDistribution(ctx context.Context, req *router.Request) error {
	v, err := h.view()
	if err != nil {
		return err
	}
	if len(v.Contest.Problems) == 0 {
		return router.Replyf("This contest has no problems.")
	}
	return req.Reply(ctx, distribution(v.Contest))
}

// distribution draws one bar per problem: 🟩 for full solves then 🟨 for
// partials, scaled so the longest bar fits in chartCells.
func distribution(c *contest.Contest) string {
	type counts struct{ full, partial int }
	rows := make([]counts, len(c.Problems))
	longest := 0
	for j, pr := range c.Problems {
		scored := 0
		for _, p := range c.Rankings {
			if !p.Attempted(j) {
				continue
			}
			pts := p.ProblemPoints(j)
			if pts > 0 {
				scored++
			}
			switch {
			case contest.SamePoints(pts, pr.Points):
				rows[j].full++
			case pts > 0:
				rows[j].partial++
			}
		}
		longest = max(longest, scored)
	}
	scale := max(float64(longest)/chartCells, 1)

	lines := make([]string, len(rows))
	for j, r := range rows {
		label := feed.SetW("P"+strconv.Itoa(j+1), feed.AlignLeft, 3)
		lines[j] = "<code>" + html.EscapeString(label) + "</code>" +
			strings.Repeat("🟩", int(math.Ceil(float64(r.full)/scale))) +
			strings.Repeat("🟨", int(math.Ceil(float64(r.partial)/scale)))
	}
	return strings.Join(lines, "\n")
}

func (h *Handler) handleUser(ctx context.Context, req *router.Request) error {
	user, err := userArg(req)
	if err != nil {
		return err
	}
	v, err := h.view()
	if err != nil {
		return err
	}
	p, rank, ok := v.Contest.Lookup(user)
	if !ok {
		return router.Replyf(html.EscapeString(user) + " has not joined the contest.")
	}
	return req.Reply(ctx, userStatus(v, p, rank, h.now()))
}

func userStatus(v *feed.View, p contest.Participant, rank int, now time.Time) string {
	label := feed.UserLabel(p.User, p.Rating)
	row := feed.Pre(feed.ParticipantRow(p, rank))
	switch {
	case v.WindowClosed(p.User) || p.WindowOver(now):
		return label + html.EscapeString(feed.Possessive(p.User)) + " window is over.\n" + row
	case p.EndTime.IsZero():
		return label + " has no time window.\n" + row
	default:
		return label + " has " + feed.Remaining(p.EndTime.Sub(now)) + " remaining.\n" + row
	}
}

func (h *Handler) handleTracking(ctx context.Context, req *router.Request) error {
	users := h.feed.Tracker().Users()
	var c *contest.Contest
	if v := h.feed.Store().Load(); v != nil {
		c = v.Contest
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Currently tracking %d users:", len(users))
	for _, u := range users {
		var rating *int
		if p, _, ok := c.Lookup(u); ok {
			rating = p.Rating
		}
		b.WriteString("\n" + feed.UserLabel(u, rating))
	}
	return req.Reply(ctx, b.String())
}
