package commands

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"contestfeed/internal/contest"
	"contestfeed/internal/dmoj"
	"contestfeed/internal/eventbus"
	"contestfeed/internal/feed"
	"contestfeed/internal/notifier"
	"contestfeed/internal/storage"
	kit "contestfeed/internal/transport"
	"contestfeed/internal/transport/telegram/router"
	logx "contestfeed/pkg/logx"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSender struct {
	mu  sync.Mutex
	out []string
}

func (f *fakeSender) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, text)
	return kit.MessageRef{}, nil
}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.out...)
}

type fakeSubmissions struct{}

func (fakeSubmissions) LatestSubmission(_ context.Context, user string) (contest.SubmissionSummary, error) {
	if user == "ghost" {
		return contest.SubmissionSummary{}, fmt.Errorf("%w: %s", dmoj.ErrUnknownUser, user)
	}
	if user == "flaky" {
		return contest.SubmissionSummary{}, fmt.Errorf("judge returned 502")
	}
	return contest.SubmissionSummary{ID: 1, User: user}, nil
}

func (fakeSubmissions) SubmissionDetail(_ context.Context, id int64) (contest.SubmissionDetail, error) {
	return contest.SubmissionDetail{ID: id}, nil
}

type fakeFeed struct {
	store   *feed.Store
	tracker *feed.Tracker
	stats   feed.Stats
}

func (f *fakeFeed) Store() *feed.Store     { return f.store }
func (f *fakeFeed) Tracker() *feed.Tracker { return f.tracker }
func (f *fakeFeed) Stats() feed.Stats      { return f.stats }

type memAudit struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (a *memAudit) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

type fakeRecent struct{ items []notifier.HistoryItem }

func (f *fakeRecent) History() []notifier.HistoryItem { return f.items }

type env struct {
	recent *fakeRecent
	feed   *fakeFeed
	audit  *memAudit
	bus    eventbus.Bus
	sender *fakeSender
	m      *router.Manager
}

func rating(v int) *int { return &v }

func sol(points float64) *contest.Solution { return &contest.Solution{Points: points} }

func testContest() *contest.Contest {
	c, _ := contest.New(contest.Contest{
		Key:       "dmopc26c1",
		Name:      "DMOPC '26 Contest 1",
		TimeLimit: 3 * time.Hour,
		IsRated:   true,
		Problems: []contest.Problem{
			{Code: "dmopc26c1p1", Label: "1", Points: 100},
			{Code: "dmopc26c1p2", Label: "2", Points: 50},
		},
		Rankings: []contest.Participant{
			{User: "alice", Rating: rating(2450), Score: 150, EndTime: now.Add(time.Hour + 2*time.Minute + 3*time.Second),
				Solutions: []*contest.Solution{sol(100), sol(50)}},
			{User: "bob", Score: 40, EndTime: now.Add(-time.Minute),
				Solutions: []*contest.Solution{sol(40), nil}},
			{User: "carol", Rating: rating(1200), EndTime: now.Add(10 * time.Minute),
				Solutions: []*contest.Solution{sol(0), nil}},
		},
	})
	return c
}

func newEnv(t *testing.T, c *contest.Contest) *env {
	t.Helper()
	e := &env{
		feed:   &fakeFeed{store: feed.NewStore(), tracker: feed.NewTracker(fakeSubmissions{})},
		audit:  &memAudit{},
		bus:    eventbus.New(),
		sender: &fakeSender{},
		recent: &fakeRecent{},
	}
	if c != nil {
		e.feed.store.Reset(&contest.Snapshot{Contest: c, FetchedAt: now})
	}
	h := New(Deps{Feed: e.feed, Audit: e.audit, Bus: e.bus, Recent: e.recent, Logger: logx.Nop(), Now: func() time.Time { return now }})
	e.m = router.New(logx.Nop(), e.sender, nil)
	e.m.SetCommands(context.Background(), h.Commands())
	return e
}

// run dispatches text synchronously and returns the replies it produced.
func (e *env) run(t *testing.T, text string) []string {
	t.Helper()
	req, cmd, ok := e.m.Parse(kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChatID: -100, FromID: 7, FromUsername: "op", Text: text,
	}})
	if !ok || cmd == nil {
		t.Fatalf("%q did not resolve to a command", text)
	}
	before := len(e.sender.sent())
	_ = router.Chain(cmd.Handle, router.MWReplyOnError())(context.Background(), req)
	return e.sender.sent()[before:]
}

func (e *env) one(t *testing.T, text string) string {
	t.Helper()
	out := e.run(t, text)
	if len(out) != 1 {
		t.Fatalf("%q produced %d replies: %q", text, len(out), out)
	}
	return out[0]
}

func TestInfo(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testContest())
	got := e.one(t, "/info")
	want := "Name: DMOPC &#39;26 Contest 1\n" +
		"Contest key: dmopc26c1\n" +
		"Number of problems: 2\n" +
		"Window length: 3 hours\n" +
		"Is rated: Yes\n" +
		"Number of participants: 3\n" +
		"Number of active participants: 2"
	if got != want {
		t.Fatalf("info =\n%s\nwant\n%s", got, want)
	}
}

func TestNoDataYet(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	for _, cmd := range []string{"/info", "/scoreboard", "/distribution", "/user alice"} {
		if got := e.one(t, cmd); got != "No contest data yet." {
			t.Errorf("%s = %q", cmd, got)
		}
	}
	if got := e.one(t, "/check"); !strings.HasPrefix(got, "No successful update yet.") {
		t.Errorf("check = %q", got)
	}
}

func TestCheck(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testContest())
	e.feed.stats = feed.Stats{Cycles: 5, Failures: 1, LastSuccess: now, LastError: "fetch: 503"}
	got := e.one(t, "/status")
	for _, w := range []string{
		"Last update at " + now.Format(time.RFC1123),
		"Cycles: 5 (failures: 1)",
		"Participants: 3, tracked: 0",
		"Last error: fetch: 503",
	} {
		if !strings.Contains(got, w) {
			t.Errorf("check = %q, missing %q", got, w)
		}
	}
}

func TestScoreboard(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testContest())

	tests := []struct {
		cmd     string
		want    []string
		notWant []string
	}{
		{"/scoreboard", []string{"Rank Username", "1.   alice", "2.   bob", "3.   carol"}, nil},
		{"/scoreboard 2-3", []string{"2.   bob", "3.   carol"}, []string{"alice"}},
		{"/scoreboard 1", []string{"1.   alice"}, []string{"bob"}},
		{"/scoreboard -active", []string{"1.   alice", "3.   carol"}, []string{"bob"}},
		{"/sb --active", []string{"1.   alice"}, []string{"bob"}},
	}
	for _, tt := range tests {
		got := e.one(t, tt.cmd)
		if !strings.HasPrefix(got, "<pre>") {
			t.Errorf("%s: not preformatted: %q", tt.cmd, got)
		}
		for _, w := range tt.want {
			if !strings.Contains(got, w) {
				t.Errorf("%s = %q, missing %q", tt.cmd, got, w)
			}
		}
		for _, w := range tt.notWant {
			if strings.Contains(got, w) {
				t.Errorf("%s = %q, should not contain %q", tt.cmd, got, w)
			}
		}
	}

	if got := e.one(t, "/scoreboard x-y"); !strings.HasPrefix(got, "Invalid range.") {
		t.Fatalf("bad range reply = %q", got)
	}
	if got := e.one(t, "/scoreboard 5-9"); got != "No participants to show." {
		t.Fatalf("empty range reply = %q", got)
	}
}

func TestScoreboardChunksLargeRange(t *testing.T) {
	t.Parallel()
	raw := contest.Contest{Key: "big", Problems: []contest.Problem{{Code: "bigp1", Label: "1", Points: 10}}}
	for i := range 60 {
		raw.Rankings = append(raw.Rankings, contest.Participant{User: fmt.Sprintf("u%02d", i)})
	}
	c, _ := contest.New(raw)
	e := newEnv(t, c)

	out := e.run(t, "/scoreboard 1-60")
	if len(out) != 3 {
		t.Fatalf("chunks = %d, want 3", len(out))
	}
	if !strings.Contains(out[0], "Rank Username") || strings.Contains(out[1], "Rank") || strings.Contains(out[2], "Rank") {
		t.Fatal("header should appear only in the first chunk")
	}
	if !strings.Contains(out[1], "26.  u25") || !strings.Contains(out[2], "60.  u59") {
		t.Fatalf("chunk rows misplaced: %q / %q", out[1], out[2])
	}
}

func TestParseRange(t *testing.T) {
	t.Parallel()
	tests := []struct {
		arg    string
		n      int
		lo, hi int
		bad    bool
	}{
		{"", 30, 1, 25, false},
		{"", 3, 1, 3, false},
		{"10", 30, 1, 10, false},
		{"5-40", 30, 5, 30, false},
		{"0-3", 30, 1, 3, false},
		{"a", 30, 0, 0, true},
		{"3-", 30, 0, 0, true},
	}
	for _, tt := range tests {
		lo, hi, err := parseRange(tt.arg, tt.n)
		if (err != nil) != tt.bad {
			t.Errorf("parseRange(%q) err = %v", tt.arg, err)
			continue
		}
		if !tt.bad && (lo != tt.lo || hi != tt.hi) {
			t.Errorf("parseRange(%q, %d) = %d-%d, want %d-%d", tt.arg, tt.n, lo, hi, tt.lo, tt.hi)
		}
	}
}

func TestDistribution(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testContest())
	want := "<code>P1 </code>🟩🟨\n<code>P2 </code>🟩"
	if got := e.one(t, "/distribution"); got != want {
		t.Fatalf("distribution = %q, want %q", got, want)
	}
}

func TestDistributionScales(t *testing.T) {
	t.Parallel()
	raw := contest.Contest{Problems: []contest.Problem{{Code: "p1", Label: "1", Points: 10}}}
	for i := range 100 {
		pts := 10.0
		if i%2 == 1 {
			pts = 5
		}
		raw.Rankings = append(raw.Rankings, contest.Participant{User: fmt.Sprint(i), Solutions: []*contest.Solution{sol(pts)}})
	}
	c, _ := contest.New(raw)
	got := distribution(c)
	// 50 full and 50 partial over a scale of 4.
	if strings.Count(got, "🟩") != 13 || strings.Count(got, "🟨") != 13 {
		t.Fatalf("distribution = %q", got)
	}
}

func TestUser(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testContest())

	got := e.one(t, "/user alice")
	want := "🔴 <code>2450</code>   alice has 1 hour(s), 2 minute(s) and 3 second(s) remaining.\n<pre>1.   alice"
	if !strings.HasPrefix(got, want) {
		t.Fatalf("user alice = %q", got)
	}
	if got := e.one(t, "/user bob"); !strings.Contains(got, "bob&#39;s window is over.\n<pre>2.   bob") {
		t.Fatalf("user bob = %q", got)
	}
	if got := e.one(t, "/user ghost"); got != "ghost has not joined the contest." {
		t.Fatalf("user ghost = %q", got)
	}
	if got := e.one(t, "/user"); !strings.HasPrefix(got, "Usage:") {
		t.Fatalf("user without name = %q", got)
	}
}

func TestTrackUntrackAudited(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testContest())
	ch, unsub := e.bus.Subscribe(8)
	defer unsub()

	steps := []struct{ cmd, want string }{
		{"/track alice", "Now tracking alice."},
		{"/track alice", "alice is already being tracked."},
		{"/track ghost", "ghost is not a user."},
		{"/track flaky", router.FailureReply},
		{"/tracking", "Currently tracking 1 users:\n🔴 <code>2450</code>   alice"},
		{"/untrack bob", "bob has not been tracked."},
		{"/untrack alice", "alice is no longer being tracked."},
		{"/tracking", "Currently tracking 0 users:"},
	}
	for _, s := range steps {
		if got := e.one(t, s.cmd); got != s.want {
			t.Fatalf("%s = %q, want %q", s.cmd, got, s.want)
		}
	}

	e.audit.mu.Lock()
	entries := append([]storage.AuditEntry(nil), e.audit.entries...)
	e.audit.mu.Unlock()
	if len(entries) != 6 {
		t.Fatalf("audit entries = %d, want 6", len(entries))
	}
	wantOK := []bool{true, false, false, false, false, true}
	for i, a := range entries {
		if a.OK != wantOK[i] || a.ActorID != 7 || a.ChatID != -100 {
			t.Errorf("audit[%d] = %+v", i, a)
		}
	}
	if entries[0].Command != "track" || entries[0].Target != "alice" || entries[5].Command != "untrack" {
		t.Fatalf("audit commands = %+v", entries)
	}

	var changes []TrackerChange
	for len(changes) < 2 {
		select {
		case ev := <-ch:
			if ev.Type == eventbus.TypeTrackerChanged {
				changes = append(changes, ev.Data.(TrackerChange))
			}
		case <-time.After(time.Second):
			t.Fatalf("tracker events = %+v", changes)
		}
	}
	if !changes[0].Tracked || changes[1].Tracked || changes[1].User != "alice" {
		t.Fatalf("tracker events = %+v", changes)
	}
}

func TestRecent(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	if got := e.one(t, "/recent"); got != "Nothing has been posted yet." {
		t.Fatalf("empty recent = %q", got)
	}

	for i := 1; i <= 7; i++ {
		e.recent.items = append(e.recent.items, notifier.HistoryItem{
			At:   now.Add(time.Duration(i) * time.Minute),
			Text: fmt.Sprintf("msg %d", i),
		})
	}
	got := e.one(t, "/recent")
	if strings.Contains(got, "msg 2") || !strings.Contains(got, "msg 3") || !strings.HasSuffix(got, "msg 7") {
		t.Fatalf("default recent = %q", got)
	}
	if !strings.HasPrefix(got, "<i>12:03:00 UTC</i>\nmsg 3") {
		t.Fatalf("recent layout = %q", got)
	}
	if got := e.one(t, "/recent 2"); strings.Contains(got, "msg 5") || !strings.Contains(got, "msg 6") {
		t.Fatalf("recent 2 = %q", got)
	}
	if got := e.one(t, "/recent 0"); !strings.HasPrefix(got, "Usage:") {
		t.Fatalf("bad arg reply = %q", got)
	}
}
