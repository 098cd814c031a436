package app

import (
	"context"
	"errors"
	"html"
	"strings"
	"sync"
	"time"

	"contestfeed/internal/eventbus"
	"contestfeed/internal/feed"
	kit "contestfeed/internal/transport"
)

var errNoSnapshot = errors.New("digest: no contest snapshot yet")

// DigestResult is the Data of TypeDigestSent bus events.
type DigestResult struct {
	Contest string
	Rows    int
	At      time.Time
}

// digest posts the top of the scoreboard to the feed chat on a schedule.
type digest struct {
	store *feed.Store
	notif enqueuer
	bus   eventbus.Bus

	mu     sync.RWMutex
	target kit.ChatTarget
	size   int
}

func (g *digest) set(to kit.ChatTarget, size int) {
	g.mu.Lock()
	g.target, g.size = to, size
	g.mu.Unlock()
}

// Run is the schedule.Job.
func (g *digest) Run(ctx context.Context) error {
	v := g.store.Load()
	if v == nil || v.Contest == nil {
		return errNoSnapshot
	}
	g.mu.RLock()
	to, size := g.target, g.size
	g.mu.RUnlock()

	text, rows := digestText(v, size)
	err := g.notif.Notify(ctx, kit.Notification{
		Channel:  "telegram",
		Priority: priorityDigest,
		Target:   to,
		Text:     text,
		Options:  &kit.SendOptions{ParseMode: "HTML", DisablePreview: true},
	})
	if err != nil {
		return err
	}
	if g.bus != nil {
		now := time.Now()
		g.bus.Publish(eventbus.Event{
			Type: eventbus.TypeDigestSent,
			Time: now,
			Data: DigestResult{Contest: v.Contest.Key, Rows: rows, At: now},
		})
	}
	return nil
}

func digestText(v *feed.View, size int) (string, int) {
	c := v.Contest
	n := min(size, len(c.Rankings))

	var b strings.Builder
	b.WriteString("<b>" + html.EscapeString(c.Name) + "</b> standings as of ")
	b.WriteString(v.FetchedAt.UTC().Format("15:04 MST"))
	b.WriteByte('\n')
	if n == 0 {
		b.WriteString("No participants yet.")
		return b.String(), 0
	}
	var rows strings.Builder
	rows.WriteString(feed.ScoreboardHeader(c.Problems))
	for i := range n {
		rows.WriteString(feed.ParticipantRow(c.Rankings[i], i+1))
	}
	b.WriteString(feed.Pre(rows.String()))
	return b.String(), n
}
