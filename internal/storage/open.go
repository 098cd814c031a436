// Package storage archives raw contest snapshots, the command audit log and
// notifier dedup state. The feed never reads it back to make decisions.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "contestfeed/pkg/logx"
)

// Store is the persistence API used by the feed, the notifier and commands.
// Only the latest snapshot per contest key is kept.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	PutSnapshot(ctx context.Context, s Snapshot) error
	LatestSnapshot(ctx context.Context, key string) (Snapshot, bool, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// Archive adapts a Store to the poller's raw snapshot sink.
type Archive struct {
	Store Store
}

func (a Archive) PersistRawSnapshot(ctx context.Context, key string, at time.Time, raw []byte) error {
	if a.Store == nil {
		return ErrDisabled
	}
	return a.Store.PutSnapshot(ctx, Snapshot{Key: key, At: at, Raw: raw})
}
