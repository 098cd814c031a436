package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logx "contestfeed/pkg/logx"
)

func get(t *testing.T, h http.Handler, target string, hdr map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	b, _ := io.ReadAll(rec.Body)
	return rec.Code, string(b)
}

func TestHandlerRoutesAndAuth(t *testing.T) {
	t.Parallel()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("m 1")) })
	s := New(Config{}, metrics, nil, logx.Nop())
	h := s.Handler(Config{Token: "sekrit", MetricsPath: "stats", Pprof: true})

	tests := []struct {
		target string
		hdr    map[string]string
		code   int
		body   string
	}{
		{"/healthz", nil, http.StatusUnauthorized, "unauthorized"},
		{"/healthz?token=sekrit", nil, http.StatusOK, "ok"},
		{"/stats", map[string]string{"Authorization": "Bearer sekrit"}, http.StatusOK, "m 1"},
		{"/stats", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized, ""},
		{"/debug/pprof/?token=sekrit", nil, http.StatusOK, "goroutine"},
	}
	for _, tt := range tests {
		code, body := get(t, h, tt.target, tt.hdr)
		if code != tt.code || !strings.Contains(body, tt.body) {
			t.Errorf("GET %s = %d %q, want %d containing %q", tt.target, code, body, tt.code, tt.body)
		}
	}

	if code, _ := get(t, s.Handler(Config{}), "/debug/pprof/", nil); code != http.StatusNotFound {
		t.Fatalf("pprof served while disabled: %d", code)
	}
}

func TestHealthReportsError(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, func() error { return errors.New("no successful cycle") }, logx.Nop())
	code, body := get(t, s.Handler(Config{}), "/healthz", nil)
	if code != http.StatusServiceUnavailable || !strings.Contains(body, "no successful cycle") {
		t.Fatalf("healthz = %d %q", code, body)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	for addr, want := range map[string]bool{
		"127.0.0.1:9090": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":9090":          false,
		"0.0.0.0:9090":   false,
		"10.0.0.1:80":    false,
		"garbage":        false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v", addr, got)
		}
	}
}

func TestRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, nil, nil, logx.Nop())
	if err := s.serveOnce(context.Background()); !errors.Is(err, errInsecureBind) {
		t.Fatalf("serveOnce err = %v", err)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, nil, nil, logx.Nop())
	s.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		up := s.srv != nil
		s.mu.Unlock()
		if up {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("server never started")
		}
		time.Sleep(10 * time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || s.srv != nil {
		t.Fatal("server still running after Stop")
	}
}
