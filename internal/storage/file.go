package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "contestfeed/pkg/logx"

	"github.com/klauspost/compress/zstd"
)

// fileStore keeps everything next to cfg.Path.
//
// Files:
//   - <prefix>.audit.jsonl                 (append-only JSON Lines)
//   - <prefix>.dedup.snapshot.json         (periodic compaction)
//   - <prefix>.dedup.journal.jsonl         (append-only journal)
//   - <prefix>.snapshot.<key>.json[.zst]   (latest raw snapshot, header line + payload)
type fileStore struct {
	log    logx.Logger
	prefix string

	mu sync.Mutex

	auditFile *os.File

	dedupSnapshotPath string
	dedupJournalFile  *os.File
	dedup             map[string]int64 // unix milli
	dedupWrites       int

	snapMu sync.Mutex
	enc    *zstd.Encoder // nil when uncompressed
	dec    *zstd.Decoder
}

type dedupRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

type snapshotHeader struct {
	Key string    `json:"key"`
	At  time.Time `json:"at"`
}

const compactEvery = 1000

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".dedup.snapshot.json"
	journalPath := prefix + ".dedup.journal.jsonl"

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	dedup := map[string]int64{}
	_ = loadDedupSnapshot(snapPath, dedup)
	_ = replayDedupJournal(journalPath, dedup)
	pruneExpiredDedup(dedup)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = af.Close()
		_ = jf.Close()
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	st := &fileStore{
		log:               log,
		prefix:            prefix,
		auditFile:         af,
		dedupSnapshotPath: snapPath,
		dedupJournalFile:  jf,
		dedup:             dedup,
		dec:               dec,
	}
	if cfg.Compress {
		st.enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
	}
	return st, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.auditFile != nil {
		errs = append(errs, s.auditFile.Close())
		s.auditFile = nil
	}
	if s.dedupJournalFile != nil {
		errs = append(errs, s.dedupJournalFile.Close())
		s.dedupJournalFile = nil
	}

	s.snapMu.Lock()
	if s.enc != nil {
		errs = append(errs, s.enc.Close())
		s.enc = nil
	}
	if s.dec != nil {
		s.dec.Close()
		s.dec = nil
	}
	s.snapMu.Unlock()
	return errors.Join(errs...)
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) PutDedup(_ context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedupJournalFile == nil {
		return errors.New("dedup journal closed")
	}
	s.dedup[key] = ms

	if err := json.NewEncoder(s.dedupJournalFile).Encode(dedupRecord{Key: key, Until: ms}); err != nil {
		return err
	}
	s.dedupWrites++
	if s.dedupWrites%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

// PutSnapshot replaces the contest's snapshot file through a rename.
func (s *fileStore) PutSnapshot(_ context.Context, snap Snapshot) error {
	if strings.TrimSpace(snap.Key) == "" {
		return errors.New("snapshot key is required")
	}
	if snap.At.IsZero() {
		snap.At = time.Now()
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(snapshotHeader{Key: snap.Key, At: snap.At.UTC()}); err != nil {
		return err
	}
	buf.Write(snap.Raw)

	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	if s.dec == nil {
		return errors.New("store closed")
	}

	path := s.snapshotPath(snap.Key, s.enc != nil)
	payload := buf.Bytes()
	if s.enc != nil {
		payload = s.enc.EncodeAll(payload, nil)
	}
	if err := writeFileAtomic(path, payload); err != nil {
		return err
	}
	// Drop a leftover file from the other encoding.
	_ = os.Remove(s.snapshotPath(snap.Key, s.enc == nil))
	return nil
}

func (s *fileStore) LatestSnapshot(_ context.Context, key string) (Snapshot, bool, error) {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	if s.dec == nil {
		return Snapshot{}, false, errors.New("store closed")
	}

	for _, compressed := range []bool{s.enc != nil, s.enc == nil} {
		b, err := os.ReadFile(s.snapshotPath(key, compressed))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return Snapshot{}, false, err
		}
		if compressed {
			if b, err = s.dec.DecodeAll(b, nil); err != nil {
				return Snapshot{}, false, fmt.Errorf("decompress snapshot: %w", err)
			}
		}
		line, raw, ok := bytes.Cut(b, []byte("\n"))
		if !ok {
			return Snapshot{}, false, errors.New("snapshot file has no header")
		}
		var h snapshotHeader
		if err := json.Unmarshal(line, &h); err != nil {
			return Snapshot{}, false, fmt.Errorf("snapshot header: %w", err)
		}
		return Snapshot{Key: h.Key, At: h.At, Raw: raw}, true, nil
	}
	return Snapshot{}, false, nil
}

func (s *fileStore) snapshotPath(key string, compressed bool) string {
	p := s.prefix + ".snapshot." + safeName(key) + ".json"
	if compressed {
		p += ".zst"
	}
	return p
}

func (s *fileStore) compactLocked() error {
	pruneExpiredDedup(s.dedup)

	b, err := json.Marshal(s.dedup)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.dedupSnapshotPath, b); err != nil {
		return err
	}
	if err := s.dedupJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.dedupJournalFile.Seek(0, 2)
	return err
}

func writeFileAtomic(path string, b []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// safeName keeps contest keys usable as file name parts.
func safeName(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, key)
}

func loadDedupSnapshot(path string, out map[string]int64) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var m map[string]int64
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayDedupJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r dedupRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Key == "" {
			continue
		}
		out[r.Key] = r.Until
	}
	return sc.Err()
}

func pruneExpiredDedup(m map[string]int64) {
	now := time.Now().UnixMilli()
	for k, v := range m {
		if v < now {
			delete(m, k)
		}
	}
}
