package config

import (
	"reflect"
	"strings"

	logx "contestfeed/pkg/logx"
)

// SummarizeConfigChange lists the sections that differ between two configs
// and returns log-safe attrs describing the new values. Secrets are reported
// only as *_set booleans.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		attrs   []logx.Field
	)
	section := func(name string, differs bool, fields ...logx.Field) {
		if !differs {
			return
		}
		changed = append(changed, name)
		attrs = append(attrs, fields...)
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	section("telegram",
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
			!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
			strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
			ot.Token != nt.Token,
		logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
		logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
		logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
		logx.Bool("telegram.token_changed", ot.Token != nt.Token),
	)

	section("logging", oldCfg.Logging != newCfg.Logging,
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.console", newCfg.Logging.Console),
		logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
	)

	od, nd := oldCfg.DMOJ, newCfg.DMOJ
	section("dmoj", od != nd,
		logx.String("dmoj.base_url", nd.BaseURL),
		logx.String("dmoj.contest_key", nd.ContestKey),
		logx.Bool("dmoj.token_set", nd.Token != ""),
		logx.Bool("dmoj.contest_changed", od.ContestKey != nd.ContestKey),
	)

	of, nf := oldCfg.Feed, newCfg.Feed
	section("feed", of != nf,
		logx.Int64("feed.chat_id", nf.ChatID),
		logx.String("feed.poll_interval", nf.PollInterval),
		logx.Int("feed.notable_rating", nf.NotableRating),
		logx.Int("feed.ping_rating", nf.PingRating),
		logx.Bool("feed.digest", nf.Digest.Enabled),
		logx.String("feed.digest_schedule", nf.Digest.Schedule),
	)

	var nn NotifierConfig
	if newCfg.Notifier != nil {
		nn = *newCfg.Notifier
	}
	section("notifier", !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier),
		logx.Bool("notifier.present", newCfg.Notifier != nil),
		logx.Bool("notifier.enabled", nn.Enabled),
		logx.Int("notifier.workers", nn.Workers),
		logx.Int("notifier.rate_per_sec", nn.RatePerSec),
	)

	section("storage", !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage),
		logx.String("storage.driver", storageDriver(newCfg.Storage)),
	)

	section("sinks", !reflect.DeepEqual(oldCfg.Sinks, newCfg.Sinks),
		logx.Bool("sinks.redis", newCfg.Sinks.Redis != nil && newCfg.Sinks.Redis.Enabled),
		logx.Bool("sinks.kafka", newCfg.Sinks.Kafka != nil && newCfg.Sinks.Kafka.Enabled),
	)

	oo, no := oldCfg.Observability, newCfg.Observability
	section("observability", oo != no,
		logx.Bool("observability.enabled", no.Enabled),
		logx.String("observability.addr", no.Addr),
		logx.Bool("observability.pprof", no.Pprof),
		logx.Bool("observability.token_set", no.Token != ""),
	)

	return changed, attrs
}

func storageDriver(sc *StorageConfig) string {
	if sc == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(sc.Driver))
}

// RestartRequired reports changes that a running process cannot apply.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Telegram.Token != newCfg.Telegram.Token {
		out = append(out, "telegram.token")
	}
	if oldCfg.DMOJ.ContestKey != newCfg.DMOJ.ContestKey {
		out = append(out, "dmoj.contest_key")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		out = append(out, "storage")
	}
	if !reflect.DeepEqual(oldCfg.Sinks, newCfg.Sinks) {
		out = append(out, "sinks")
	}
	return out
}
