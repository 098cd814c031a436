package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "contestfeed/pkg/logx"
)

func TestParseVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw    string
		kind   Kind
		source string
		every  time.Duration
	}{
		{"0 */2 * * *", KindCron, "cron", 0},
		{"cron:0 9 * * *", KindCron, "cron", 0},
		{"@hourly", KindCron, "cron", 0},
		{"@every 15m", KindCron, "cron", 0},
		{"10m", KindInterval, "duration", 10 * time.Minute},
		{"interval:45s", KindInterval, "duration", 45 * time.Second},
		{"every:01:00", KindInterval, "hhmm", time.Hour},
		{"01:30", KindInterval, "hhmm", 90 * time.Minute},
	}
	for _, tt := range tests {
		got, err := Parse(tt.raw)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.raw, err)
		}
		if got.Kind != tt.kind || got.Source != tt.source || got.Every != tt.every {
			t.Errorf("Parse(%q) = %+v", tt.raw, got)
		}
		if _, err := got.Schedule(); err != nil {
			t.Errorf("Parse(%q).Schedule: %v", tt.raw, err)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "0m", "-5m", "00:00", "01:75", "cron:", "61 * * * *", "@weekday"} {
		if _, err := Parse(raw); err == nil {
			t.Errorf("Parse(%q) succeeded", raw)
		}
	}
}

func TestRunnerRunNowSkipsOverlap(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32
	r := NewRunner("digest", func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return nil
	}, logx.Nop())

	done := make(chan error, 1)
	go func() { done <- r.RunNow(context.Background()) }()
	<-started
	if err := r.RunNow(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("overlapping RunNow err = %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if r.Runs() != 1 || calls.Load() != 1 {
		t.Fatalf("runs = %d calls = %d", r.Runs(), calls.Load())
	}
}

func TestRunnerStartStop(t *testing.T) {
	t.Parallel()
	fired := make(chan struct{}, 4)
	r := NewRunner("digest", func(context.Context) error {
		fired <- struct{}{}
		return nil
	}, logx.Nop())

	if err := r.Start(context.Background(), Config{Enabled: true, Schedule: "bogus"}); err == nil {
		t.Fatal("bad schedule accepted")
	}
	if err := r.Start(context.Background(), Config{Enabled: true, Schedule: "every:1s", Timezone: "UTC"}); err != nil {
		t.Fatal(err)
	}
	if r.Next().IsZero() {
		t.Fatal("no next run")
	}
	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("job never fired")
	}
	r.Stop()
	if !r.Next().IsZero() {
		t.Fatal("next run after Stop")
	}
}
