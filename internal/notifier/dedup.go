package notifier

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	kit "contestfeed/internal/transport"
	logx "contestfeed/pkg/logx"
)

type dedupWrite struct {
	key   string
	until time.Time
}

// dedupKey hashes channel, target and n.DedupKey, or priority and text when
// n.DedupKey is empty. Empty channel opts out.
func dedupKey(n kit.Notification) string {
	if n.Channel == "" {
		return ""
	}
	h := fnv.New64a()
	if n.DedupKey != "" {
		fmt.Fprintf(h, "%s|%d:%d|id|%s", n.Channel, n.Target.ChatID, n.Target.ThreadID, n.DedupKey)
		return fmt.Sprintf("%x", h.Sum64())
	}
	fmt.Fprintf(h, "%s|%d:%d:%d|", n.Channel, n.Target.ChatID, n.Target.ThreadID, n.Priority)
	_, _ = h.Write([]byte(n.Text))
	return fmt.Sprintf("%x", h.Sum64())
}

// dedupAllow reports whether key may be sent now and, if so, opens a new
// suppression window for it.
func (s *Service) dedupAllow(ctx context.Context, key string, cfg Config, pch chan dedupWrite) bool {
	now := time.Now()

	s.dmu.Lock()
	until, ok := s.dedup[key]
	s.dmu.Unlock()
	if ok && now.Before(until) {
		return false
	}

	if cfg.PersistDedup && s.dedupS != nil {
		cctx, cancel := context.WithTimeout(ctx, 25*time.Millisecond)
		until, ok, err := s.dedupS.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			s.dmu.Lock()
			s.dedup[key] = until
			s.dmu.Unlock()
			return false
		}
	}

	until = now.Add(cfg.DedupWindow)
	s.dmu.Lock()
	s.dedup[key] = until
	s.pruneLocked(now, cfg.DedupMaxEntries)
	s.dmu.Unlock()

	if pch != nil {
		select {
		case pch <- dedupWrite{key: key, until: until}:
		default:
		}
	}
	return true
}

// pruneLocked drops expired keys, then the earliest-expiring ones over max.
func (s *Service) pruneLocked(now time.Time, limit int) {
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	for limit > 0 && len(s.dedup) > limit {
		var (
			oldest string
			at     time.Time
		)
		for k, t := range s.dedup {
			if oldest == "" || t.Before(at) {
				oldest, at = k, t
			}
		}
		delete(s.dedup, oldest)
	}
}

func (s *Service) persistLoop(ctx context.Context, ch <-chan dedupWrite) {
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-ch:
			if !ok {
				return
			}
			cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
			if err := s.dedupS.PutDedup(cctx, w.key, w.until); err != nil {
				s.log.Debug("dedup persist failed", logx.Err(err))
			}
			cancel()
		}
	}
}
