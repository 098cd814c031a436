package feed

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"contestfeed/internal/contest"
	"contestfeed/internal/eventbus"
	logx "contestfeed/pkg/logx"

	"github.com/google/uuid"
)

const (
	DefaultPollInterval = 10 * time.Second
	DefaultRetryDelay   = 15 * time.Second
	persistTimeout      = 30 * time.Second
)

// Fetcher is the upstream judge API.
type Fetcher interface {
	FetchSnapshot(ctx context.Context) (*contest.Snapshot, error)
	SubmissionSource
}

// Notifier receives committed events. Notify must not block for long.
type Notifier interface {
	Notify(ctx context.Context, e Event, urgent bool)
}

// SnapshotSink archives raw snapshots. Failures are logged only.
type SnapshotSink interface {
	PersistRawSnapshot(ctx context.Context, key string, at time.Time, raw []byte) error
}

// CycleRecorder observes every finished cycle (metrics).
type CycleRecorder interface {
	RecordCycle(r CycleResult)
}

// CycleResult describes one poll cycle. It is also the Data of TypeFeedCycle
// bus events.
type CycleResult struct {
	ID           string
	Started      time.Time
	Duration     time.Duration
	Events       int
	Participants int
	Tracked      int
	Err          error
}

// Stats are counters for status commands.
type Stats struct {
	Cycles      uint64
	Failures    uint64
	LastSuccess time.Time
	LastError   string
}

type Options struct {
	Fetcher  Fetcher
	Notifier Notifier
	Store    *Store
	Tracker  *Tracker

	Sink     SnapshotSink
	Recorder CycleRecorder
	Bus      eventbus.Bus
	// Watchdog is called after every successful cycle.
	Watchdog func()

	Interval   time.Duration
	RetryDelay time.Duration
	Gates      Gates
	Logger     logx.Logger
}

// Poller runs the fetch, diff, commit, dispatch loop.
type Poller struct {
	fetch    Fetcher
	notify   Notifier
	store    *Store
	tracker  *Tracker
	sink     SnapshotSink
	recorder CycleRecorder
	bus      eventbus.Bus
	watchdog func()
	log      logx.Logger

	interval   atomic.Int64
	retryDelay time.Duration
	gates      atomic.Pointer[Gates]

	statsMu sync.Mutex
	stats   Stats

	persistQ chan *contest.Snapshot
}

func NewPoller(opts Options) (*Poller, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("feed: fetcher is required")
	}
	if opts.Notifier == nil {
		return nil, errors.New("feed: notifier is required")
	}
	p := &Poller{
		fetch:      opts.Fetcher,
		notify:     opts.Notifier,
		store:      opts.Store,
		tracker:    opts.Tracker,
		sink:       opts.Sink,
		recorder:   opts.Recorder,
		bus:        opts.Bus,
		watchdog:   opts.Watchdog,
		log:        opts.Logger,
		retryDelay: opts.RetryDelay,
		persistQ:   make(chan *contest.Snapshot, 1),
	}
	if p.store == nil {
		p.store = NewStore()
	}
	if p.tracker == nil {
		p.tracker = NewTracker(opts.Fetcher)
	}
	if p.log.IsZero() {
		p.log = logx.Nop()
	}
	if p.retryDelay <= 0 {
		p.retryDelay = DefaultRetryDelay
	}
	p.SetInterval(opts.Interval)
	p.SetGates(opts.Gates)
	return p, nil
}

func (p *Poller) Store() *Store     { return p.store }
func (p *Poller) Tracker() *Tracker { return p.tracker }

// SetInterval changes the delay between cycles; it applies from the next sleep.
func (p *Poller) SetInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultPollInterval
	}
	p.interval.Store(int64(d))
}

func (p *Poller) Interval() time.Duration { return time.Duration(p.interval.Load()) }

// SetGates swaps notability thresholds; zero fields take defaults.
func (p *Poller) SetGates(g Gates) {
	g = g.withDefaults()
	p.gates.Store(&g)
}

func (p *Poller) Gates() Gates { return *p.gates.Load() }

func (p *Poller) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

// Run initialises the store, retrying every RetryDelay, then cycles until ctx
// is done. It returns nil on cancellation.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.initLoop(ctx); err != nil {
		return nil
	}

	var wg sync.WaitGroup
	if p.sink != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.persistLoop(ctx)
		}()
	}
	defer wg.Wait()

	for {
		_, _ = p.Cycle(ctx)

		t := time.NewTimer(p.Interval())
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (p *Poller) initLoop(ctx context.Context) error {
	for {
		err := p.Init(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.log.Warn("contest init failed; retrying", logx.Duration("retry_in", p.retryDelay), logx.Err(err))
		t := time.NewTimer(p.retryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Init fetches once and rebuilds the store from scratch.
func (p *Poller) Init(ctx context.Context) error {
	snap, err := p.fetch.FetchSnapshot(ctx)
	if err != nil {
		return err
	}
	p.store.Reset(snap)
	p.enqueuePersist(snap)
	p.log.Info("contest loaded",
		logx.String("contest", snap.Contest.Key),
		logx.Int("participants", len(snap.Contest.Rankings)),
		logx.Int("problems", len(snap.Contest.Problems)),
	)
	return nil
}

// Cycle runs one poll. On error or panic nothing is committed and no event is
// dispatched. The returned events are the ones handed to the notifier; a
// notifier panic loses only the event it was handling.
func (p *Poller) Cycle(ctx context.Context) (events []Event, err error) {
	res := CycleResult{ID: uuid.New().String()[:8], Started: time.Now()}
	log := p.log.With(logx.String("cycle", res.ID))

	defer func() {
		if r := recover(); r != nil {
			log.Error("poll cycle panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			events, err = nil, fmt.Errorf("panic: %v", r)
		}
		res.Duration = time.Since(res.Started)
		res.Events = len(events)
		res.Tracked = p.tracker.Len()
		res.Err = err
		p.finish(log, res)
	}()

	if !p.store.Ready() {
		if err := p.Init(ctx); err != nil {
			return nil, fmt.Errorf("init: %w", err)
		}
	}

	snap, err := p.fetch.FetchSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	res.Participants = len(snap.Contest.Rankings)

	st, events := p.detect(ctx, log, snap, res.ID)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.store.commit(st, snap)
	p.tracker.apply(st.advances, st.untracks)
	p.enqueuePersist(snap)

	for _, e := range events {
		p.dispatch(ctx, log, e)
	}
	return events, nil
}

func (p *Poller) dispatch(ctx context.Context, log logx.Logger, e Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("notifier panicked",
				logx.String("kind", string(e.Kind)),
				logx.String("user", e.User),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()
	p.notify.Notify(ctx, e, e.Urgent)
}

// detect compares snap with the store and stages every mutation.
func (p *Poller) detect(ctx context.Context, log logx.Logger, snap *contest.Snapshot, cycleID string) (*stage, []Event) {
	c := snap.Contest
	now := snap.FetchedAt
	prev := p.store.PrevPoll()
	g := p.Gates()
	st := p.store.begin()

	var events []Event
	emit := func(rank int, evs ...Event) {
		for _, e := range evs {
			e.Cycle = cycleID
			e.Contest = c.Key
			e.At = now
			e.Rank = rank
			events = append(events, e)
		}
	}

	for i, cur := range c.Rankings {
		rank := i + 1
		old, seen := p.store.lookup(cur.User)
		tracked := p.tracker.IsTracked(cur.User)

		var oldPtr *contest.Participant
		if seen {
			oldPtr = &old
		}
		emit(rank, Diff(oldPtr, cur, c, DiffOptions{Gates: g, Tracked: tracked})...)

		if tracked {
			ev, id, err := p.tracker.Check(ctx, c, cur)
			switch {
			case err != nil:
				log.Warn("tracker check failed", logx.String("user", cur.User), logx.Err(err))
			case ev != nil:
				st.advances[cur.User] = id
				emit(rank, *ev)
			}
		}

		if seen && (cur.RatingAtLeast(g.NotableRating) || tracked) {
			for _, t := range Crossings(cur.EndTime, prev, now, c.TimeLimit) {
				e := newEvent(KindTimeRemaining, cur)
				e.Remaining = t
				e.Urgent = cur.RatingAtLeast(g.PingRating)
				emit(rank, e)
			}
		}

		if cur.WindowOver(now) {
			if !st.closed[cur.User] {
				st.closed[cur.User] = true
				e := newEvent(KindWindowClosed, cur)
				e.Urgent = cur.RatingAtLeast(g.PingRating)
				emit(rank, e)
			}
			if tracked {
				st.untracks = append(st.untracks, cur.User)
			}
		}

		st.lastSeen[cur.User] = cur
	}
	return st, events
}

func (p *Poller) finish(log logx.Logger, res CycleResult) {
	p.statsMu.Lock()
	p.stats.Cycles++
	if res.Err != nil {
		p.stats.Failures++
		p.stats.LastError = res.Err.Error()
	} else {
		p.stats.LastSuccess = res.Started
		p.stats.LastError = ""
	}
	p.statsMu.Unlock()

	if res.Err != nil {
		log.Warn("poll cycle failed", logx.Duration("took", res.Duration), logx.Err(res.Err))
	} else {
		log.Debug("poll cycle done",
			logx.Duration("took", res.Duration),
			logx.Int("events", res.Events),
			logx.Int("participants", res.Participants),
		)
	}

	if p.recorder != nil {
		p.recorder.RecordCycle(res)
	}
	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Type: eventbus.TypeFeedCycle, Data: res})
	}
	if res.Err == nil && p.watchdog != nil {
		p.watchdog()
	}
}

// enqueuePersist keeps only the newest pending snapshot.
func (p *Poller) enqueuePersist(snap *contest.Snapshot) {
	if p.sink == nil || len(snap.Raw) == 0 {
		return
	}
	for {
		select {
		case p.persistQ <- snap:
			return
		default:
		}
		select {
		case <-p.persistQ:
		default:
		}
	}
}

func (p *Poller) persistLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-p.persistQ:
			pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
			err := p.sink.PersistRawSnapshot(pctx, snap.Contest.Key, snap.FetchedAt, snap.Raw)
			cancel()
			if err != nil {
				p.log.Warn("snapshot persist failed", logx.String("contest", snap.Contest.Key), logx.Err(err))
			}
		}
	}
}
