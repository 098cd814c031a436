package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"contestfeed/internal/config"
	"contestfeed/internal/dmoj"
	"contestfeed/internal/feed"
	"contestfeed/internal/notifier"
	"contestfeed/internal/observability/httpserver"
	"contestfeed/internal/schedule"
	"contestfeed/internal/sink"
	"contestfeed/internal/storage"
	kit "contestfeed/internal/transport"
	logx "contestfeed/pkg/logx"
)

const (
	defaultDigestSize = 10
	maxDigestSize     = 25
	digestTimeout     = 30 * time.Second
)

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

// logTarget parses telegram.group_log. Zero disables chat logging.
func logTarget(cfg *config.Config) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.GroupLog), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func mapDMOJ(cfg *config.Config, log logx.Logger) dmoj.Options {
	d := cfg.DMOJ
	return dmoj.Options{
		BaseURL:    d.BaseURL,
		Token:      d.Token,
		ContestKey: d.ContestKey,
		Timeout:    config.DurationOr(d.Timeout, 20*time.Second),
		RatePerSec: d.RatePerSec,
		Burst:      d.Burst,
		Logger:     log,
	}
}

func mapGates(cfg *config.Config) feed.Gates {
	f := cfg.Feed
	return feed.Gates{NotableRating: f.NotableRating, PingRating: f.PingRating, LateProblem: f.LateProblem}
}

func mapTarget(cfg *config.Config) kit.ChatTarget {
	return kit.ChatTarget{ChatID: cfg.Feed.ChatID, ThreadID: cfg.Feed.ThreadID}
}

// mapNotifier follows the rule that an omitted section means enabled with
// defaults.
func mapNotifier(cfg *config.Config) notifier.Config {
	n := cfg.Notifier
	if n == nil {
		return notifier.Config{
			Enabled:       true,
			Workers:       1,
			QueueSize:     512,
			RatePerSec:    1,
			RetryMax:      3,
			RetryBase:     500 * time.Millisecond,
			RetryMaxDelay: 10 * time.Second,
			DedupWindow:   30 * time.Second,
		}
	}
	return notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       config.DurationOr(n.RetryBase, 500*time.Millisecond),
		RetryMaxDelay:   config.DurationOr(n.RetryMaxDelay, 10*time.Second),
		DedupWindow:     config.DurationOr(n.DedupWindow, 0),
		DedupMaxEntries: n.DedupMaxEntries,
		PersistDedup:    n.PersistDedup,
	}
}

func mapStorage(cfg *config.Config) storage.Config {
	s := cfg.Storage
	if s == nil {
		return storage.Config{}
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(s.Driver)),
		Path:        strings.TrimSpace(s.Path),
		BusyTimeout: config.DurationOr(s.BusyTimeout, time.Second),
		Compress:    s.Compress,
	}
}

func mapObservability(cfg *config.Config) httpserver.Config {
	o := cfg.Observability
	return httpserver.Config{
		Enabled:       o.Enabled,
		Addr:          o.Addr,
		MetricsPath:   o.MetricsPath,
		Pprof:         o.Pprof,
		PprofPrefix:   o.PprofPrefix,
		Token:         o.Token,
		AllowInsecure: o.AllowInsecure,
		ReadTimeout:   config.DurationOr(o.ReadTimeout, 10*time.Second),
		IdleTimeout:   config.DurationOr(o.IdleTimeout, 60*time.Second),
	}
}

func mapDigest(cfg *config.Config) schedule.Config {
	d := cfg.Feed.Digest
	return schedule.Config{
		Enabled:  d.Enabled,
		Schedule: d.Schedule,
		Timezone: d.Timezone,
		Timeout:  digestTimeout,
	}
}

func digestSize(cfg *config.Config) int {
	n := cfg.Feed.Digest.Size
	if n <= 0 {
		n = defaultDigestSize
	}
	return min(n, maxDigestSize)
}

// openSinks connects every enabled sink. On error the ones already opened
// are closed.
func openSinks(ctx context.Context, cfg *config.Config) (sink.Multi, error) {
	var out sink.Multi
	if r := cfg.Sinks.Redis; r != nil && r.Enabled {
		s, err := sink.NewRedis(ctx, sink.RedisOptions{
			Addr:        r.Addr,
			Password:    r.Password,
			DB:          r.DB,
			Channel:     r.Channel,
			HistoryKey:  r.HistoryKey,
			HistorySize: r.HistorySize,
		})
		if err != nil {
			return nil, fmt.Errorf("redis sink: %w", err)
		}
		out = append(out, s)
	}
	if k := cfg.Sinks.Kafka; k != nil && k.Enabled {
		s, err := sink.NewKafka(sink.KafkaOptions{
			Brokers:      k.Brokers,
			Topic:        k.Topic,
			WriteTimeout: config.DurationOr(k.WriteTimeout, 10*time.Second),
		})
		if err != nil {
			_ = out.Close()
			return nil, fmt.Errorf("kafka sink: %w", err)
		}
		out = append(out, s)
	}
	return out, nil
}

// validateReload rejects configs the running process could not apply.
func validateReload(_ context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	d := cfg.Feed.Digest
	if d.Enabled {
		if _, err := schedule.Parse(d.Schedule); err != nil {
			return fmt.Errorf("feed.digest.schedule: %w", err)
		}
	}
	if tz := strings.TrimSpace(d.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("feed.digest.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}
