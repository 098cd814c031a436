// Package schedule runs one recurring job (the scoreboard digest) on a cron
// or interval schedule.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	logx "contestfeed/pkg/logx"

	"github.com/robfig/cron/v3"
)

// ErrBusy is returned when a run is already in progress.
var ErrBusy = errors.New("job already running")

type Config struct {
	Enabled  bool
	Schedule string
	Timezone string
	Timeout  time.Duration
}

type Job func(ctx context.Context) error

// Runner owns a cron instance with at most one entry. Overlapping runs are
// skipped.
type Runner struct {
	name string
	job  Job
	log  logx.Logger

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	ctx     context.Context
	entry   cron.EntryID
	running atomic.Bool
	runs    atomic.Uint64
}

func NewRunner(name string, job Job, log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{name: name, job: job, log: log}
}

// Start validates cfg and begins scheduling. A disabled cfg stops the runner.
func (r *Runner) Start(ctx context.Context, cfg Config) error {
	var (
		sched cron.Schedule
		spec  Spec
		loc   = time.Local
	)
	if cfg.Enabled {
		var err error
		if spec, err = Parse(cfg.Schedule); err != nil {
			return err
		}
		if sched, err = spec.Schedule(); err != nil {
			return err
		}
		if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
			if loc, err = time.LoadLocation(tz); err != nil {
				return fmt.Errorf("timezone %q: %w", tz, err)
			}
		}
	}

	r.mu.Lock()
	old := r.detachLocked()
	r.cfg = cfg
	if cfg.Enabled {
		r.ctx = ctx
		r.c = cron.New(cron.WithParser(cronParser), cron.WithLocation(loc))
		r.entry = r.c.Schedule(sched, cron.FuncJob(r.fire))
		r.c.Start()
	}
	r.mu.Unlock()

	wait(old)
	if cfg.Enabled {
		r.log.Info("schedule started", logx.String("job", r.name), logx.String("spec", spec.String()), logx.String("tz", loc.String()))
	}
	return nil
}

// Stop waits for a running job to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	old := r.detachLocked()
	r.mu.Unlock()
	wait(old)
}

func (r *Runner) detachLocked() *cron.Cron {
	c := r.c
	r.c, r.entry = nil, 0
	return c
}

func wait(c *cron.Cron) {
	if c != nil {
		<-c.Stop().Done()
	}
}

// Next is the next planned run; zero when stopped.
func (r *Runner) Next() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c == nil {
		return time.Time{}
	}
	return r.c.Entry(r.entry).Next
}

// Runs counts completed job runs.
func (r *Runner) Runs() uint64 { return r.runs.Load() }

// RunNow runs the job synchronously, subject to the overlap guard.
func (r *Runner) RunNow(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer r.running.Store(false)

	r.mu.Lock()
	timeout := r.cfg.Timeout
	r.mu.Unlock()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := r.job(ctx)
	r.runs.Add(1)
	if err != nil {
		r.log.Warn("scheduled job failed", logx.String("job", r.name), logx.Err(err), logx.Duration("took", time.Since(start)))
		return err
	}
	r.log.Debug("scheduled job done", logx.String("job", r.name), logx.Duration("took", time.Since(start)))
	return nil
}

func (r *Runner) fire() {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if err := r.RunNow(ctx); errors.Is(err, ErrBusy) {
		r.log.Debug("scheduled job skipped, still running", logx.String("job", r.name))
	}
}
