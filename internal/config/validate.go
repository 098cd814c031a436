package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks required fields and that every duration string parses.
// It reports all problems at once.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(c.Telegram.Token) == "" {
		add("telegram.token is required (or set %s)", EnvTelegramToken)
	}
	if strings.TrimSpace(c.DMOJ.ContestKey) == "" {
		add("dmoj.contest_key is required (or set %s)", EnvContestKey)
	}
	if c.Feed.ChatID == 0 {
		add("feed.chat_id is required (or set %s)", EnvFeedChatID)
	}
	if u := strings.TrimSpace(c.DMOJ.BaseURL); u != "" {
		if p, err := url.Parse(u); err != nil || p.Scheme == "" || p.Host == "" {
			add("dmoj.base_url: invalid url %q", u)
		}
	}
	if c.DMOJ.RatePerSec < 0 {
		add("dmoj.rate_per_sec must be >= 0")
	}

	durations := map[string]string{
		"telegram.poll_timeout":      c.Telegram.PollTimeout,
		"dmoj.timeout":               c.DMOJ.Timeout,
		"feed.poll_interval":         c.Feed.PollInterval,
		"feed.retry_delay":           c.Feed.RetryDelay,
		"observability.read_timeout": c.Observability.ReadTimeout,
		"observability.idle_timeout": c.Observability.IdleTimeout,
	}
	if n := c.Notifier; n != nil {
		durations["notifier.retry_base"] = n.RetryBase
		durations["notifier.retry_max_delay"] = n.RetryMaxDelay
		durations["notifier.dedup_window"] = n.DedupWindow
	}
	if s := c.Storage; s != nil {
		durations["storage.busy_timeout"] = s.BusyTimeout
	}
	if k := c.Sinks.Kafka; k != nil {
		durations["sinks.kafka.write_timeout"] = k.WriteTimeout
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if s := c.Storage; s != nil {
		switch storageDriver(s) {
		case "", "none", "file", "sqlite":
		default:
			add("storage.driver: unknown driver %q", s.Driver)
		}
	}
	if r := c.Sinks.Redis; r != nil && r.Enabled && strings.TrimSpace(r.Addr) == "" {
		add("sinks.redis.addr is required when enabled")
	}
	if k := c.Sinks.Kafka; k != nil && k.Enabled {
		if len(k.Brokers) == 0 {
			add("sinks.kafka.brokers is required when enabled")
		}
		if strings.TrimSpace(k.Topic) == "" {
			add("sinks.kafka.topic is required when enabled")
		}
	}
	return errors.Join(errs...)
}
