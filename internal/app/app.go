// Package app wires the feed, the chat surface and the ambient services into
// one process and applies config hot reloads to them.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"contestfeed/internal/commands"
	"contestfeed/internal/config"
	"contestfeed/internal/dmoj"
	"contestfeed/internal/eventbus"
	"contestfeed/internal/feed"
	"contestfeed/internal/metrics"
	"contestfeed/internal/notifier"
	"contestfeed/internal/observability/httpserver"
	rtsup "contestfeed/internal/runtime/supervisor"
	"contestfeed/internal/schedule"
	"contestfeed/internal/storage"
	kit "contestfeed/internal/transport"
	telegram "contestfeed/internal/transport/telegram/adapter"
	"contestfeed/internal/transport/telegram/router"
	logx "contestfeed/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter  *telegram.Adapter
	notif    *notifier.Service
	metrics  *metrics.Metrics
	poller   *feed.Poller
	dispatch *Dispatcher
	handler  *commands.Handler
	router   *router.Manager
	digest   *digest
	digestRn *schedule.Runner
	obs      *httpserver.Server
	sd       *sdNotifier

	updates chan kit.Update
}

// New loads the config and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.DurationOr(cfg.Telegram.PollTimeout, 10*time.Second),
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Telegram logging stays off until its target is set, so Apply does not
	// warn about a missing chat.
	logCfg := mapLogging(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	logSvc.SetTelegramTarget(logTarget(cfg), cfg.Logging.Telegram.ThreadID)
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	store, err := storage.Open(mapStorage(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", cfg.Storage.Driver))
	}
	closeStore := func() {
		if store != nil {
			_ = store.Close()
		}
	}

	m := metrics.New()
	notif := notifier.New(mapNotifier(cfg), ad, log.With(logx.String("comp", "notifier")), bus, store)

	sinks, err := openSinks(ctx, cfg)
	if err != nil {
		closeStore()
		return nil, err
	}
	dispatch := NewDispatcher(notif, sinks, m, log.With(logx.String("comp", "dispatch")))
	dispatch.SetTarget(mapTarget(cfg), cfg.Feed.PingText)

	client, err := dmoj.New(mapDMOJ(cfg, log.With(logx.String("comp", "dmoj"))))
	if err != nil {
		_ = dispatch.Close()
		closeStore()
		return nil, err
	}

	sd := newSDNotifier(log.With(logx.String("comp", "systemd")))
	var archive feed.SnapshotSink
	if store != nil {
		archive = storage.Archive{Store: store}
	}
	poller, err := feed.NewPoller(feed.Options{
		Fetcher:    client,
		Notifier:   dispatch,
		Sink:       archive,
		Recorder:   m,
		Bus:        bus,
		Watchdog:   sd.Watchdog,
		Interval:   config.DurationOr(cfg.Feed.PollInterval, feed.DefaultPollInterval),
		RetryDelay: config.DurationOr(cfg.Feed.RetryDelay, feed.DefaultRetryDelay),
		Gates:      mapGates(cfg),
		Logger:     log.With(logx.String("comp", "feed")),
	})
	if err != nil {
		_ = dispatch.Close()
		closeStore()
		return nil, err
	}

	var audit commands.Auditor
	if store != nil {
		audit = store
	}
	handler := commands.New(commands.Deps{
		Feed:   poller,
		Audit:  audit,
		Bus:    bus,
		Recent: notif,
		Logger: log.With(logx.String("comp", "commands")),
	})
	rt := router.New(log.With(logx.String("comp", "router")), ad, cfg.Telegram.OwnerUserIDs)

	dg := &digest{store: poller.Store(), notif: notif, bus: bus}
	dg.set(mapTarget(cfg), digestSize(cfg))

	obs := httpserver.New(mapObservability(cfg), m.Handler(),
		healthCheck(poller, time.Now(), time.Now),
		log.With(logx.String("comp", "observability")))

	return &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  ad,
		notif:    notif,
		metrics:  m,
		poller:   poller,
		dispatch: dispatch,
		handler:  handler,
		router:   rt,
		digest:   dg,
		digestRn: schedule.NewRunner("digest", dg.Run, log.With(logx.String("comp", "digest"))),
		obs:      obs,
		sd:       sd,
		updates:  make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()
	cfg := a.cfgm.Get()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validateReload)

	if err := a.adapter.Start(c, a.updates); err != nil {
		return err
	}
	a.notif.Start(c)

	a.sup.Go0("metrics.bus", func(c context.Context) { a.metrics.Consume(c, a.bus) })
	a.sup.Go0("sinks.publish", a.dispatch.Run)

	a.router.SetCommands(c, a.handler.Commands())
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	a.sup.Go("feed.poll", a.poller.Run)

	if err := a.digestRn.Start(c, mapDigest(cfg)); err != nil {
		a.log.Warn("digest not scheduled", logx.Err(err))
	}
	a.obs.Start(c)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sd.Ready()
	a.log.Info("app started",
		logx.String("contest", cfg.DMOJ.ContestKey),
		logx.Int64("chat_id", cfg.Feed.ChatID),
		logx.Duration("interval", a.poller.Interval()))
	return nil
}

// reloadLoop applies published configs, coalescing bursts to the newest one.
func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			if next == nil {
				continue
			}
			a.apply(c, last, next)
			last = next
		}
	}
}

func (a *App) apply(c context.Context, prev, cfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if fields := config.RestartRequired(prev, cfg); len(fields) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.Strings("fields", fields))
	}

	a.logs.SetTelegramTarget(logTarget(cfg), cfg.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogging(cfg))

	a.router.SetOwners(cfg.Telegram.OwnerUserIDs)

	a.poller.SetGates(mapGates(cfg))
	a.poller.SetInterval(config.DurationOr(cfg.Feed.PollInterval, feed.DefaultPollInterval))
	a.dispatch.SetTarget(mapTarget(cfg), cfg.Feed.PingText)

	prevEnabled := a.notif.Enabled()
	ncfg := mapNotifier(cfg)
	a.notif.Apply(ncfg)
	switch {
	case prevEnabled && !ncfg.Enabled:
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !prevEnabled && ncfg.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(c)
	}

	a.digest.set(mapTarget(cfg), digestSize(cfg))
	if prev.Feed.Digest != cfg.Feed.Digest {
		if err := a.digestRn.Start(c, mapDigest(cfg)); err != nil {
			a.log.Warn("invalid digest config; digest stopped", logx.Err(err))
		}
	}

	a.obs.Reconfigure(c, mapObservability(cfg))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in dependency order. Each step is bounded so
// one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason string) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", reason))
	a.sd.Stopping()
	a.sup.Cancel()

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, time.Until(dl))
		}
		var cancel context.CancelFunc = func() {}
		if limit > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, limit)
		}
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("digest", time.Second, func(context.Context) error { a.digestRn.Stop(); return nil })
	step("observability", time.Second, func(c context.Context) error { a.obs.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("sinks", 2*time.Second, func(context.Context) error { return a.dispatch.Close() })
	step("storage", time.Second, func(context.Context) error {
		if a.store == nil {
			return nil
		}
		return a.store.Close()
	})
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}
