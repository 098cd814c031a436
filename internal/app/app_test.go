package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"contestfeed/internal/config"
	"contestfeed/internal/contest"
	"contestfeed/internal/eventbus"
	"contestfeed/internal/feed"
	"contestfeed/internal/notifier"
	"contestfeed/internal/sink"
	kit "contestfeed/internal/transport"
	logx "contestfeed/pkg/logx"
)

type recordingQueue struct {
	mu  sync.Mutex
	got []kit.Notification
	err error
}

func (q *recordingQueue) Notify(_ context.Context, n kit.Notification) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.got = append(q.got, n)
	return q.err
}

func (q *recordingQueue) all() []kit.Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]kit.Notification(nil), q.got...)
}

type memSink struct {
	name string
	err  error

	mu   sync.Mutex
	envs []sink.Envelope
}

func (s *memSink) Name() string { return s.name }

func (s *memSink) Publish(_ context.Context, env sink.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envs = append(s.envs, env)
	return s.err
}

func (s *memSink) Close() error { return nil }

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.envs)
}

type countingObserver struct {
	mu     sync.Mutex
	events int
	sinks  map[string]int
	failed map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{sinks: map[string]int{}, failed: map[string]int{}}
}

func (o *countingObserver) ObserveEvent(feed.Event) {
	o.mu.Lock()
	o.events++
	o.mu.Unlock()
}

func (o *countingObserver) ObserveSink(name string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.failed[name]++
		return
	}
	o.sinks[name]++
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func rating(v int) *int { return &v }

func TestDispatcherPriorityPingAndSinks(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := &recordingQueue{}
	good := &memSink{name: "redis"}
	bad := &memSink{name: "kafka", err: errors.New("broker down")}
	obs := newCountingObserver()
	d := NewDispatcher(q, sink.Multi{bad, good}, obs, logx.Nop())
	d.SetTarget(kit.ChatTarget{ChatID: -100, ThreadID: 4}, "@contest_fans")
	go d.Run(ctx)

	e := feed.Event{Kind: feed.KindJoined, User: "alice", Rating: rating(2700), Contest: "c1"}
	d.Notify(ctx, e, true)
	e.Kind, e.Problem = feed.KindSolved, 2
	d.Notify(ctx, e, false)

	got := q.all()
	if len(got) != 2 {
		t.Fatalf("queued %d notifications, want 2", len(got))
	}
	if got[0].Priority != priorityUrgent || !strings.HasPrefix(got[0].Text, "@contest_fans\n") {
		t.Fatalf("urgent notification = %+v", got[0])
	}
	if got[1].Priority != priorityNormal || strings.Contains(got[1].Text, "@contest_fans") {
		t.Fatalf("normal notification = %+v", got[1])
	}
	if got[0].Target != (kit.ChatTarget{ChatID: -100, ThreadID: 4}) || got[0].Options == nil || got[0].Options.ParseMode != "HTML" {
		t.Fatalf("target/options = %+v %+v", got[0].Target, got[0].Options)
	}

	waitFor(t, "both sinks", func() bool { return good.count() == 2 && bad.count() == 2 })
	good.mu.Lock()
	env := good.envs[0]
	good.mu.Unlock()
	if env.ID == "" || env.Key() != "alice" || strings.Contains(env.Text, "@contest_fans") {
		t.Fatalf("envelope = %+v", env)
	}

	waitFor(t, "sink observations", func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return obs.sinks["redis"] == 2 && obs.failed["kafka"] == 2
	})
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.events != 2 {
		t.Fatalf("observed events = %d", obs.events)
	}
}

func TestDispatcherWithoutSinks(t *testing.T) {
	t.Parallel()
	q := &recordingQueue{err: errors.New("queue full")}
	d := NewDispatcher(q, nil, nil, logx.Nop())
	d.Notify(context.Background(), feed.Event{Kind: feed.KindDisqualified, User: "bob"}, true)
	if len(q.all()) != 1 {
		t.Fatal("notification not attempted")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

type chatLog struct {
	mu    sync.Mutex
	texts []string
}

func (c *chatLog) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(c.texts)}, nil
}

func (c *chatLog) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

func TestDispatcherDeliversIdenticalTextEvents(t *testing.T) {
	t.Parallel()
	cfg := mapNotifier(&config.Config{})
	if cfg.DedupWindow == 0 {
		t.Fatal("default dedup window should be on")
	}
	cfg.RatePerSec = 1000

	chat := &chatLog{}
	n := notifier.New(cfg, chat, logx.Nop(), nil, nil)
	n.Start(context.Background())
	d := NewDispatcher(n, nil, nil, logx.Nop())
	d.SetTarget(kit.ChatTarget{ChatID: -100}, "")

	graded := func(id int64, cycle string) feed.Event {
		return feed.Event{
			Kind: feed.KindSubmissionGraded, Cycle: cycle, Contest: "c1", User: "alice", Problem: 3,
			Submission: &feed.GradedSubmission{ID: id, Verdict: "WA", FailBatch: 1, FailCase: 1, FailStatus: "WA", CaseTotal: 100},
		}
	}
	partial := func(cycle string) feed.Event {
		return feed.Event{Kind: feed.KindPartialSolve, Cycle: cycle, Contest: "c1", User: "alice", Problem: 2}
	}

	ctx := context.Background()
	d.Notify(ctx, graded(43, "a"), true)
	d.Notify(ctx, graded(44, "b"), true)
	d.Notify(ctx, partial("a"), false)
	d.Notify(ctx, partial("b"), false)
	d.Notify(ctx, partial("b"), false) // same event handed over twice

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	n.Stop(stopCtx)

	got := chat.sent()
	if len(got) != 4 {
		t.Fatalf("delivered %d messages, want 4: %q", len(got), got)
	}
	if got[0] != got[1] || got[2] != got[3] {
		t.Fatalf("expected identical renderings for distinct events: %q", got)
	}
}

func digestStore(t *testing.T) *feed.Store {
	t.Helper()
	c, _ := contest.New(contest.Contest{
		Key:      "c1",
		Name:     "Contest <One>",
		Problems: []contest.Problem{{Code: "c1p1", Label: "1", Points: 100}},
		Rankings: []contest.Participant{
			{User: "alice", Score: 100, Solutions: []*contest.Solution{{Points: 100}}},
			{User: "bob", Score: 50, Solutions: []*contest.Solution{{Points: 50}}},
			{User: "carol"},
		},
	})
	s := feed.NewStore()
	s.Reset(&contest.Snapshot{Contest: c, FetchedAt: time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC)})
	return s
}

func TestDigestPostsTopRows(t *testing.T) {
	t.Parallel()
	q := &recordingQueue{}
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	g := &digest{store: digestStore(t), notif: q, bus: bus}
	g.set(kit.ChatTarget{ChatID: 42}, 2)
	if err := g.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := q.all()
	if len(got) != 1 || got[0].Priority != priorityDigest || got[0].Target.ChatID != 42 {
		t.Fatalf("digest notifications = %+v", got)
	}
	text := got[0].Text
	for _, w := range []string{"<b>Contest &lt;One&gt;</b> standings as of 15:04 UTC", "<pre>Rank", "1.   alice", "2.   bob"} {
		if !strings.Contains(text, w) {
			t.Errorf("digest = %q, missing %q", text, w)
		}
	}
	if strings.Contains(text, "carol") {
		t.Errorf("digest exceeds size: %q", text)
	}

	select {
	case ev := <-ch:
		r, ok := ev.Data.(DigestResult)
		if ev.Type != eventbus.TypeDigestSent || !ok || r.Rows != 2 || r.Contest != "c1" {
			t.Fatalf("bus event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no digest.sent event")
	}
}

func TestDigestWithoutSnapshot(t *testing.T) {
	t.Parallel()
	g := &digest{store: feed.NewStore(), notif: &recordingQueue{}}
	if err := g.Run(context.Background()); !errors.Is(err, errNoSnapshot) {
		t.Fatalf("err = %v, want errNoSnapshot", err)
	}
}

type fakePoll struct {
	stats    feed.Stats
	interval time.Duration
}

func (f fakePoll) Stats() feed.Stats        { return f.stats }
func (f fakePoll) Interval() time.Duration { return f.interval }

func TestHealthCheck(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		poll    fakePoll
		now     time.Time
		healthy bool
	}{
		{"starting", fakePoll{interval: 10 * time.Second}, start.Add(time.Minute), true},
		{"never succeeded", fakePoll{interval: 10 * time.Second, stats: feed.Stats{LastError: "dial tcp"}}, start.Add(3 * time.Minute), false},
		{"fresh", fakePoll{interval: 10 * time.Second, stats: feed.Stats{LastSuccess: start.Add(5 * time.Minute)}}, start.Add(6 * time.Minute), true},
		{"stale", fakePoll{interval: 10 * time.Second, stats: feed.Stats{LastSuccess: start}}, start.Add(5 * time.Minute), false},
		{"long interval", fakePoll{interval: time.Minute, stats: feed.Stats{LastSuccess: start}}, start.Add(4 * time.Minute), true},
	}
	for _, tt := range tests {
		check := healthCheck(tt.poll, start, func() time.Time { return tt.now })
		if err := check(); (err == nil) != tt.healthy {
			t.Errorf("%s: err = %v, healthy want %v", tt.name, err, tt.healthy)
		}
	}
}

func validConfig() *config.Config {
	return &config.Config{
		Telegram: config.TelegramConfig{Token: "t"},
		DMOJ:     config.DMOJConfig{ContestKey: "c1"},
		Feed:     config.FeedConfig{ChatID: -1},
	}
}

func TestMapNotifierDefaults(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	if n := mapNotifier(cfg); !n.Enabled || n.DedupWindow != 30*time.Second {
		t.Fatalf("omitted notifier = %+v", n)
	}
	cfg.Notifier = &config.NotifierConfig{Enabled: false, RetryBase: "2s"}
	if n := mapNotifier(cfg); n.Enabled || n.RetryBase != 2*time.Second || n.DedupWindow != 0 {
		t.Fatalf("explicit notifier = %+v", n)
	}
}

func TestMapDigestAndLogTarget(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	if digestSize(cfg) != defaultDigestSize {
		t.Fatalf("default digest size = %d", digestSize(cfg))
	}
	cfg.Feed.Digest.Size = 500
	if digestSize(cfg) != maxDigestSize {
		t.Fatalf("capped digest size = %d", digestSize(cfg))
	}
	cfg.Telegram.GroupLog = " -100123 "
	if logTarget(cfg) != -100123 {
		t.Fatalf("log target = %d", logTarget(cfg))
	}
	cfg.Telegram.GroupLog = "@logs"
	if logTarget(cfg) != 0 {
		t.Fatal("non-numeric group_log should disable chat logging")
	}
}

func TestValidateReload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := validConfig()
	if err := validateReload(ctx, cfg); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg.Feed.Digest = config.DigestConfig{Enabled: true, Schedule: "not a schedule"}
	if err := validateReload(ctx, cfg); err == nil || !strings.Contains(err.Error(), "feed.digest.schedule") {
		t.Fatalf("bad schedule err = %v", err)
	}

	cfg.Feed.Digest = config.DigestConfig{Enabled: true, Schedule: "@hourly", Timezone: "Mars/Olympus"}
	if err := validateReload(ctx, cfg); err == nil || !strings.Contains(err.Error(), "feed.digest.timezone") {
		t.Fatalf("bad timezone err = %v", err)
	}

	cfg = validConfig()
	cfg.Telegram.Token = ""
	if err := validateReload(ctx, cfg); err == nil {
		t.Fatal("missing token accepted")
	}
}
