package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "contestfeed/pkg/logx"
)

func openTest(t *testing.T, driver string, compress bool) (Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "feed.db")
	st, err := Open(Config{Driver: driver, Path: path, Compress: compress}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, path
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if st != nil || err != nil {
			t.Fatalf("Open(%q) = %v, %v", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("file driver without path accepted")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		driver   string
		compress bool
	}{
		{"file", false},
		{"file", true},
		{"sqlite", false},
	}
	for _, tt := range tests {
		st, _ := openTest(t, tt.driver, tt.compress)
		ctx := context.Background()

		if _, ok, err := st.LatestSnapshot(ctx, "dmopc24c1"); ok || err != nil {
			t.Fatalf("%s/%v: empty store ok=%v err=%v", tt.driver, tt.compress, ok, err)
		}

		arch := Archive{Store: st}
		if err := arch.PersistRawSnapshot(ctx, "dmopc24c1", at, []byte(`{"old":true}`)); err != nil {
			t.Fatalf("%s/%v: persist: %v", tt.driver, tt.compress, err)
		}
		raw := []byte(`{"data":{"object":{"key":"dmopc24c1"}}}`)
		if err := arch.PersistRawSnapshot(ctx, "dmopc24c1", at.Add(time.Minute), raw); err != nil {
			t.Fatalf("%s/%v: persist: %v", tt.driver, tt.compress, err)
		}

		got, ok, err := st.LatestSnapshot(ctx, "dmopc24c1")
		if err != nil || !ok {
			t.Fatalf("%s/%v: latest ok=%v err=%v", tt.driver, tt.compress, ok, err)
		}
		if string(got.Raw) != string(raw) || !got.At.Equal(at.Add(time.Minute)) || got.Key != "dmopc24c1" {
			t.Fatalf("%s/%v: latest = %+v", tt.driver, tt.compress, got)
		}
	}
}

func TestFileSnapshotCompressedOnDisk(t *testing.T) {
	t.Parallel()
	st, path := openTest(t, "file", true)
	if err := st.PutSnapshot(context.Background(), Snapshot{Key: "a/b", Raw: []byte("{}")}); err != nil {
		t.Fatal(err)
	}
	dir := filepath.Dir(path)
	b, err := os.ReadFile(filepath.Join(dir, "feed.snapshot.a_b.json.zst"))
	if err != nil {
		t.Fatalf("compressed snapshot missing: %v", err)
	}
	// zstd frame magic
	if len(b) < 4 || b[0] != 0x28 || b[1] != 0xB5 || b[2] != 0x2F || b[3] != 0xFD {
		t.Fatalf("not a zstd frame: % x", b[:min(4, len(b))])
	}
}

func TestDedupRoundTrip(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		st, _ := openTest(t, driver, false)
		ctx := context.Background()
		until := time.Now().Add(time.Hour).Truncate(time.Millisecond)

		if _, ok, _ := st.GetDedup(ctx, "k"); ok {
			t.Fatalf("%s: unexpected key", driver)
		}
		if err := st.PutDedup(ctx, "k", until); err != nil {
			t.Fatalf("%s: put: %v", driver, err)
		}
		if err := st.PutDedup(ctx, "", until); err != nil {
			t.Fatalf("%s: empty key: %v", driver, err)
		}
		got, ok, err := st.GetDedup(ctx, "k")
		if err != nil || !ok || !got.Equal(until) {
			t.Fatalf("%s: get = %v %v %v", driver, got, ok, err)
		}
	}
}

func TestFileDedupSurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "feed.json")
	until := time.Now().Add(time.Hour).Truncate(time.Millisecond)

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	_ = st.PutDedup(context.Background(), "live", until)
	_ = st.PutDedup(context.Background(), "expired", time.Now().Add(-time.Hour))
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if got, ok, _ := st.GetDedup(context.Background(), "live"); !ok || !got.Equal(until) {
		t.Fatalf("live = %v %v", got, ok)
	}
	if _, ok, _ := st.GetDedup(context.Background(), "expired"); ok {
		t.Fatal("expired key replayed")
	}
}

func TestFileAuditAppends(t *testing.T) {
	t.Parallel()
	st, path := openTest(t, "file", false)
	ctx := context.Background()
	for _, target := range []string{"alice", "bob"} {
		if err := st.AppendAudit(ctx, AuditEntry{ActorID: 7, Command: "track", Target: target, OK: true}); err != nil {
			t.Fatal(err)
		}
	}

	f, err := os.Open(filepath.Join(filepath.Dir(path), "feed.audit.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var got []AuditEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		got = append(got, e)
	}
	if len(got) != 2 || got[1].Target != "bob" || got[0].At.IsZero() || !got[0].OK {
		t.Fatalf("audit = %+v", got)
	}
}

func TestSQLiteAudit(t *testing.T) {
	t.Parallel()
	st, _ := openTest(t, "sqlite", false)
	err := st.AppendAudit(context.Background(), AuditEntry{ActorID: 1, ChatID: -100, Command: "untrack", Error: "not tracked"})
	if err != nil {
		t.Fatal(err)
	}
	var n int
	if err := st.(*sqliteStore).db.QueryRow(`SELECT COUNT(*) FROM audit WHERE command = 'untrack' AND ok = 0`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("count = %d err = %v", n, err)
	}
}
