// Package commands implements the chat commands over the feed read model.
package commands

import (
	"context"
	"errors"
	"html"
	"time"

	"contestfeed/internal/dmoj"
	"contestfeed/internal/eventbus"
	"contestfeed/internal/feed"
	"contestfeed/internal/storage"
	"contestfeed/internal/transport/telegram/router"
	logx "contestfeed/pkg/logx"
)

const (
	rowsPerMessage = 25
	chartCells     = 25
)

var errNoData = router.Replyf("No contest data yet.")

// Feed is the read side of the poller.
type Feed interface {
	Store() *feed.Store
	Tracker() *feed.Tracker
	Stats() feed.Stats
}

// Auditor records tracker mutations.
type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// TrackerChange is the Data of TypeTrackerChanged bus events.
type TrackerChange struct {
	User    string
	Tracked bool
	ActorID int64
}

type Deps struct {
	Feed   Feed
	Audit  Auditor      // optional
	Bus    eventbus.Bus // optional
	Recent Recent       // optional; enables /recent
	Logger logx.Logger
	Now    func() time.Time
}

type Handler struct {
	feed   Feed
	audit  Auditor
	bus    eventbus.Bus
	recent Recent
	log    logx.Logger
	now    func() time.Time
}

func New(d Deps) *Handler {
	h := &Handler{feed: d.Feed, audit: d.Audit, bus: d.Bus, recent: d.Recent, log: d.Logger, now: d.Now}
	if h.log.IsZero() {
		h.log = logx.Nop()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Commands returns the command table for the router. /help is added by the
// router itself.
func (h *Handler) Commands() []router.Command {
	cmds := []router.Command{
		{
			Name:        "check",
			Aliases:     []string{"status"},
			Description: "Check the status of the bot",
			Usage:       "/check",
			Handle:      h.handleCheck,
		},
		{
			Name:        "info",
			Description: "General contest info",
			Usage:       "/info",
			Handle:      h.handleInfo,
		},
		{
			Name:        "scoreboard",
			Aliases:     []string{"sb"},
			Description: "Displays the contest scoreboard",
			Usage:       "/scoreboard [N | A-B] [-active]",
			BoolFlags:   []string{"active"},
			Handle:      h.handleScoreboard,
		},
		{
			Name:        "distribution",
			Aliases:     []string{"dist"},
			Description: "Displays the problem solve distribution of the contest",
			Usage:       "/distribution",
			Handle:      h.handleDistribution,
		},
		{
			Name:        "user",
			Description: "Displays relevant contest info about a user",
			Usage:       "/user <name>",
			Handle:      h.handleUser,
		},
		{
			Name:        "track",
			Description: "Tracks a user",
			Usage:       "/track <name>",
			Access:      router.AccessOwnerOnly,
			Timeout:     20 * time.Second,
			Handle:      h.handleTrack,
		},
		{
			Name:        "untrack",
			Description: "Untracks a user",
			Usage:       "/untrack <name>",
			Access:      router.AccessOwnerOnly,
			Handle:      h.handleUntrack,
		},
		{
			Name:        "tracking",
			Description: "Displays list of tracked users",
			Usage:       "/tracking",
			Handle:      h.handleTracking,
		},
	}
	if h.recent != nil {
		cmds = append(cmds, router.Command{
			Name:        "recent",
			Description: "Shows the latest feed messages",
			Usage:       "/recent [N]",
			Handle:      h.handleRecent,
		})
	}
	return cmds
}

func (h *Handler) view() (*feed.View, error) {
	v := h.feed.Store().Load()
	if v == nil || v.Contest == nil {
		return nil, errNoData
	}
	return v, nil
}

func (h *Handler) handleTrack(ctx context.Context, req *router.Request) error {
	user, err := userArg(req)
	if err != nil {
		return err
	}
	start := h.now()
	err = h.feed.Tracker().Track(ctx, user)
	h.record(ctx, req, user, start, err)

	name := html.EscapeString(user)
	switch {
	case err == nil:
		h.publish(user, true, req.FromID)
		return req.Reply(ctx, "Now tracking "+name+".")
	case errors.Is(err, feed.ErrAlreadyTracked):
		return router.Replyf(name + " is already being tracked.")
	case errors.Is(err, dmoj.ErrUnknownUser):
		return router.Replyf(name + " is not a user.")
	default:
		return err
	}
}

func (h *Handler) handleUntrack(ctx context.Context, req *router.Request) error {
	user, err := userArg(req)
	if err != nil {
		return err
	}
	start := h.now()
	err = h.feed.Tracker().Untrack(user)
	h.record(ctx, req, user, start, err)

	name := html.EscapeString(user)
	if errors.Is(err, feed.ErrNotTracked) {
		return router.Replyf(name + " has not been tracked.")
	}
	if err != nil {
		return err
	}
	h.publish(user, false, req.FromID)
	return req.Reply(ctx, name+" is no longer being tracked.")
}

func (h *Handler) record(ctx context.Context, req *router.Request, target string, start time.Time, err error) {
	if h.audit == nil {
		return
	}
	e := storage.AuditEntry{
		At:            start,
		ActorID:       req.FromID,
		ActorUsername: req.FromUsername,
		ChatID:        req.Chat.ChatID,
		ThreadID:      req.Chat.ThreadID,
		Command:       req.Command,
		Target:        target,
		OK:            err == nil,
		TookMS:        h.now().Sub(start).Milliseconds(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if aerr := h.audit.AppendAudit(cctx, e); aerr != nil {
		h.log.Warn("audit append failed", logx.Err(aerr), logx.String("command", req.Command))
	}
}

func (h *Handler) publish(user string, tracked bool, actor int64) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(eventbus.Event{
		Type: eventbus.TypeTrackerChanged,
		Time: h.now(),
		Data: TrackerChange{User: user, Tracked: tracked, ActorID: actor},
	})
}

func userArg(req *router.Request) (string, error) {
	if len(req.Args) == 0 || req.Args[0] == "" {
		return "", router.Replyf("Usage: <code>/" + req.Command + " &lt;name&gt;</code>")
	}
	return req.Args[0], nil
}
