package config

// Config is the on-disk configuration. Durations are Go duration strings.
type Config struct {
	Telegram      TelegramConfig      `json:"telegram"`
	Logging       LoggingConfig       `json:"logging"`
	DMOJ          DMOJConfig          `json:"dmoj"`
	Feed          FeedConfig          `json:"feed"`
	Observability ObservabilityConfig `json:"observability,omitempty"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Sinks    SinksConfig     `json:"sinks,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// DMOJConfig points the fetcher at a judge and a contest.
//
// Defaults: base_url "https://dmoj.ca", timeout "20s", rate_per_sec 2, burst 4.
type DMOJConfig struct {
	BaseURL    string  `json:"base_url,omitempty"`
	Token      string  `json:"token"`
	ContestKey string  `json:"contest_key"`
	Timeout    string  `json:"timeout,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
}

// FeedConfig controls where events go and how they are gated.
//
// Defaults: poll_interval "10s", retry_delay "15s", notable_rating 2400,
// ping_rating 2600, late_problem 4.
type FeedConfig struct {
	ChatID        int64        `json:"chat_id"`
	ThreadID      int          `json:"thread_id,omitempty"`
	PollInterval  string       `json:"poll_interval,omitempty"`
	RetryDelay    string       `json:"retry_delay,omitempty"`
	NotableRating int          `json:"notable_rating,omitempty"`
	PingRating    int          `json:"ping_rating,omitempty"`
	LateProblem   int          `json:"late_problem,omitempty"`
	PingText      string       `json:"ping_text,omitempty"`
	Digest        DigestConfig `json:"digest,omitempty"`
}

// DigestConfig schedules a periodic scoreboard post.
//
// Schedule accepts a cron expression ("0 * * * *", "@hourly"), a Go duration
// ("30m") or HH:MM ("01:30").
type DigestConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	Size     int    `json:"size,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
// If the whole section is omitted, the notifier is enabled with defaults.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// StorageConfig controls the archival layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/feed", "compress": true }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	Compress    bool   `json:"compress,omitempty"`     // file only: zstd snapshots
}

// SinksConfig lists optional event fan-out targets.
type SinksConfig struct {
	Redis *RedisSinkConfig `json:"redis,omitempty"`
	Kafka *KafkaSinkConfig `json:"kafka,omitempty"`
}

type RedisSinkConfig struct {
	Enabled     bool   `json:"enabled"`
	Addr        string `json:"addr"`
	Password    string `json:"password,omitempty"`
	DB          int    `json:"db,omitempty"`
	Channel     string `json:"channel,omitempty"`
	HistoryKey  string `json:"history_key,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
}

type KafkaSinkConfig struct {
	Enabled      bool     `json:"enabled"`
	Brokers      []string `json:"brokers"`
	Topic        string   `json:"topic"`
	WriteTimeout string   `json:"write_timeout,omitempty"`
}

// ObservabilityConfig controls the HTTP server exposing /metrics and pprof.
//
// Prefer a loopback Addr. A non-loopback Addr needs Token or AllowInsecure.
type ObservabilityConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`         // default "127.0.0.1:9090"
	MetricsPath   string `json:"metrics_path,omitempty"` // default "/metrics"
	Pprof         bool   `json:"pprof,omitempty"`
	PprofPrefix   string `json:"pprof_prefix,omitempty"` // default "/debug/pprof/"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}
