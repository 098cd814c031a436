package commands

import (
	"context"
	"strconv"
	"strings"
	"time"

	"contestfeed/internal/notifier"
	"contestfeed/internal/transport/telegram/router"
)

const (
	defaultRecent = 5
	maxRecent     = 20
)

// Recent is the notifier's delivery history.
type Recent interface {
	History() []notifier.HistoryItem
}

func (h *Handler) handleRecent(ctx context.Context, req *router.Request) error {
	n := defaultRecent
	if len(req.Args) > 0 {
		v, err := strconv.Atoi(req.Args[0])
		if err != nil || v < 1 {
			return router.Replyf("Usage: <code>/recent [N]</code>")
		}
		n = min(v, maxRecent)
	}

	items := h.recent.History()
	if len(items) == 0 {
		return req.Reply(ctx, "Nothing has been posted yet.")
	}
	if len(items) > n {
		items = items[len(items)-n:]
	}

	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, "<i>"+it.At.In(time.UTC).Format("15:04:05 MST")+"</i>\n"+it.Text)
	}
	return req.Reply(ctx, strings.Join(parts, "\n\n"))
}
