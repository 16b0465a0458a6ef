package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/54b3r/kbqa-go/internal/index"
)

// fakePinger reports err after an optional delay.
type fakePinger struct {
	name  string
	err   error
	delay time.Duration
}

func (f *fakePinger) Name() string { return f.name }

func (f *fakePinger) Ping(ctx context.Context) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func getReady(t *testing.T, pingers ...Pinger) (int, readyResponse) {
	t.Helper()
	s := newTestServer()
	s.pingers = pingers
	w := httptest.NewRecorder()
	s.handleReady(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var resp readyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return w.Code, resp
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	newTestServer().handleHealth(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["version"] == "" {
		t.Errorf("body = %v", body)
	}
}

func TestHandleReady(t *testing.T) {
	t.Parallel()

	down := errors.New("connection refused")
	tests := []struct {
		name      string
		pingers   []Pinger
		wantCode  int
		wantReady bool
		wantOK    []bool
	}{
		{name: "no pingers", wantCode: http.StatusOK, wantReady: true, wantOK: []bool{}},
		{
			name:      "all healthy",
			pingers:   []Pinger{&fakePinger{name: "index"}, &fakePinger{name: "qdrant"}},
			wantCode:  http.StatusOK,
			wantReady: true,
			wantOK:    []bool{true, true},
		},
		{
			name:      "one failing",
			pingers:   []Pinger{&fakePinger{name: "index"}, &fakePinger{name: "qdrant", err: down}},
			wantCode:  http.StatusServiceUnavailable,
			wantReady: false,
			wantOK:    []bool{true, false},
		},
		{
			name:      "all failing",
			pingers:   []Pinger{&fakePinger{name: "index", err: down}, &fakePinger{name: "qdrant", err: down}},
			wantCode:  http.StatusServiceUnavailable,
			wantReady: false,
			wantOK:    []bool{false, false},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			code, resp := getReady(t, tc.pingers...)
			if code != tc.wantCode || resp.Ready != tc.wantReady {
				t.Fatalf("got %d ready=%v, want %d ready=%v", code, resp.Ready, tc.wantCode, tc.wantReady)
			}
			if len(resp.Checks) != len(tc.wantOK) {
				t.Fatalf("checks = %d, want %d", len(resp.Checks), len(tc.wantOK))
			}
			for i, c := range resp.Checks {
				if c.OK != tc.wantOK[i] {
					t.Errorf("check %q ok = %v", c.Name, c.OK)
				}
				if c.OK == (c.Error != "") {
					t.Errorf("check %q: ok=%v but error=%q", c.Name, c.OK, c.Error)
				}
			}
		})
	}
}

func TestHandleReady_ProbesRunConcurrentlyInOrder(t *testing.T) {
	t.Parallel()

	const delay = 200 * time.Millisecond
	start := time.Now()
	_, resp := getReady(t,
		&fakePinger{name: "slow-a", delay: delay},
		&fakePinger{name: "slow-b", delay: delay},
		&fakePinger{name: "slow-c", delay: delay},
	)
	if elapsed := time.Since(start); elapsed >= 3*delay {
		t.Errorf("probes took %v, expected them to overlap", elapsed)
	}
	for i, want := range []string{"slow-a", "slow-b", "slow-c"} {
		if resp.Checks[i].Name != want {
			t.Errorf("check[%d] = %q, want %q", i, resp.Checks[i].Name, want)
		}
		if resp.Checks[i].DurationMS < 100 {
			t.Errorf("check[%d] duration_ms = %d", i, resp.Checks[i].DurationMS)
		}
	}
}

// ---------------------------------------------------------------------------
// Concrete pingers
// ---------------------------------------------------------------------------

func TestIndexPinger(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	chunks := filepath.Join(dir, "chunks.json")
	p := NewIndexPinger(dir, chunks)
	if p.Name() != "index" {
		t.Errorf("Name() = %q", p.Name())
	}
	if err := p.Ping(context.Background()); err == nil {
		t.Fatal("expected error when artifacts are missing")
	}

	if err := os.WriteFile(chunks, []byte("[]"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, index.EmbeddingsFile), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := p.Ping(context.Background()); err != nil {
		t.Errorf("Ping with artifacts present: %v", err)
	}
}

// fakeHealth implements healthChecker.
type fakeHealth struct{ err error }

func (f fakeHealth) Ping(context.Context) error { return f.err }

func TestQdrantPinger(t *testing.T) {
	t.Parallel()
	if err := NewQdrantPinger(fakeHealth{}).Ping(context.Background()); err != nil {
		t.Errorf("healthy: %v", err)
	}
	err := NewQdrantPinger(fakeHealth{err: errors.New("refused")}).Ping(context.Background())
	if err == nil || !strings.Contains(err.Error(), "refused") {
		t.Errorf("unhealthy: %v", err)
	}
}
