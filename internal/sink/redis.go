package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Channel receives every envelope through PUBLISH.
	Channel string
	// HistoryKey, when set, keeps the newest HistorySize envelopes in a list.
	HistoryKey  string
	HistorySize int
}

// Redis publishes envelopes on a pub/sub channel and keeps a capped history.
type Redis struct {
	rdb  *redis.Client
	opts RedisOptions
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	if opts.Channel == "" {
		opts.Channel = "contestfeed.events"
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = 200
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &Redis{rdb: rdb, opts: opts}, nil
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Publish(ctx context.Context, env Envelope) error {
	b, err := encode(env)
	if err != nil {
		return err
	}
	pipe := r.rdb.TxPipeline()
	pipe.Publish(ctx, r.opts.Channel, b)
	if r.opts.HistoryKey != "" {
		pipe.LPush(ctx, r.opts.HistoryKey, b)
		pipe.LTrim(ctx, r.opts.HistoryKey, 0, int64(r.opts.HistorySize-1))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
