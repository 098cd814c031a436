package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"contestfeed/internal/feed"
	"contestfeed/internal/notifier"
	"contestfeed/internal/sink"
	kit "contestfeed/internal/transport"
	logx "contestfeed/pkg/logx"
)

const (
	priorityUrgent = 9
	priorityNormal = 3
	priorityDigest = 5

	sinkQueueSize    = 256
	sinkPublishLimit = 15 * time.Second
)

// enqueuer is the notifier intake.
type enqueuer interface {
	Notify(ctx context.Context, n kit.Notification) error
}

// eventObserver is satisfied by *metrics.Metrics.
type eventObserver interface {
	ObserveEvent(e feed.Event)
	ObserveSink(name string, err error)
}

// Dispatcher turns committed feed events into chat messages and sink
// envelopes. It implements feed.Notifier.
type Dispatcher struct {
	notif enqueuer
	sinks sink.Multi
	obs   eventObserver
	log   logx.Logger

	mu       sync.RWMutex
	target   kit.ChatTarget
	pingText string

	queue chan sink.Envelope
}

func NewDispatcher(notif enqueuer, sinks sink.Multi, obs eventObserver, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{notif: notif, sinks: sinks, obs: obs, log: log}
	if len(sinks) > 0 {
		d.queue = make(chan sink.Envelope, sinkQueueSize)
	}
	return d
}

// SetTarget is safe during hot reload.
func (d *Dispatcher) SetTarget(to kit.ChatTarget, pingText string) {
	d.mu.Lock()
	d.target, d.pingText = to, pingText
	d.mu.Unlock()
}

func (d *Dispatcher) Notify(ctx context.Context, e feed.Event, urgent bool) {
	d.mu.RLock()
	to, ping := d.target, d.pingText
	d.mu.RUnlock()

	text := feed.Render(e)
	if d.obs != nil {
		d.obs.ObserveEvent(e)
	}

	msg := text
	if urgent && ping != "" {
		msg = ping + "\n" + text
	}
	prio := priorityNormal
	if urgent {
		prio = priorityUrgent
	}
	err := d.notif.Notify(ctx, kit.Notification{
		Channel:  "telegram",
		Priority: prio,
		Target:   to,
		Text:     msg,
		Options:  &kit.SendOptions{ParseMode: "HTML", DisablePreview: true},
		DedupKey: eventKey(e),
	})
	if err != nil && !errors.Is(err, notifier.ErrDisabled) {
		d.log.Warn("feed event not queued", logx.Err(err), logx.String("kind", string(e.Kind)), logx.String("user", e.User))
	}

	if d.queue == nil {
		return
	}
	select {
	case d.queue <- sink.NewEnvelope(e, text):
	default:
		d.log.Warn("sink queue full, envelope dropped", logx.String("kind", string(e.Kind)))
		for _, s := range d.sinks {
			d.observeSink(s.Name(), errSinkQueueFull)
		}
	}
}

// eventKey identifies e for notifier dedup. Two distinct events never share a
// key even when they render to the same text.
func eventKey(e feed.Event) string {
	var sub int64
	if e.Submission != nil {
		sub = e.Submission.ID
	}
	return fmt.Sprintf("%s|%s|%s|%s|%d|%g|%d|%d", e.Contest, e.Cycle, e.Kind, e.User, e.Problem, e.Points, sub, e.Remaining)
}

var errSinkQueueFull = errors.New("sink queue full")

// Run publishes queued envelopes to every sink until ctx is done. A failing
// sink does not hold back the others.
func (d *Dispatcher) Run(ctx context.Context) {
	if d.queue == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-d.queue:
			for _, s := range d.sinks {
				pctx, cancel := context.WithTimeout(ctx, sinkPublishLimit)
				err := s.Publish(pctx, env)
				cancel()
				if err != nil {
					d.log.Warn("sink publish failed", logx.String("sink", s.Name()), logx.String("id", env.ID), logx.Err(err))
				}
				d.observeSink(s.Name(), err)
			}
		}
	}
}

func (d *Dispatcher) observeSink(name string, err error) {
	if d.obs != nil {
		d.obs.ObserveSink(name, err)
	}
}

// Close closes every sink.
func (d *Dispatcher) Close() error {
	return d.sinks.Close()
}
