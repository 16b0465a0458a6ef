package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/54b3r/kbqa-go/internal/logging"
)

// logLines decodes every JSON log line written to buf.
func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("log line is not JSON: %q", line)
		}
		out = append(out, m)
	}
	return out
}

func TestRequestLogger_IDPropagation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "generated", incoming: "", keep: false},
		{name: "caller supplied", incoming: "trace-42.a_b", keep: true},
		{name: "rejected charset", incoming: "bad id\n", keep: false},
		{name: "rejected length", incoming: strings.Repeat("a", maxRequestIDLen+1), keep: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			base := logging.NewWriter(&buf, "debug", "json")

			var inner string
			h := requestLogger(base, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				logging.FromContext(r.Context()).Info("inside")
				inner = w.Header().Get(requestIDHeader)
				_, _ = w.Write([]byte("hello"))
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/ask", nil)
			if tc.incoming != "" {
				req.Header.Set(requestIDHeader, tc.incoming)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			id := w.Header().Get(requestIDHeader)
			if !validRequestID(id) {
				t.Fatalf("response id %q is not valid", id)
			}
			if tc.keep && id != tc.incoming {
				t.Errorf("id = %q, want caller's %q", id, tc.incoming)
			}
			if !tc.keep && id == tc.incoming {
				t.Errorf("invalid caller id %q was echoed", tc.incoming)
			}
			if inner != id {
				t.Errorf("handler saw id %q, response has %q", inner, id)
			}

			lines := logLines(t, &buf)
			if len(lines) != 2 {
				t.Fatalf("want 2 log lines, got %d", len(lines))
			}
			for _, l := range lines {
				if l["request_id"] != id {
					t.Errorf("log line %v missing request_id %q", l["msg"], id)
				}
			}
			summary := lines[1]
			if summary["status"] != float64(200) || summary["bytes"] != float64(5) {
				t.Errorf("summary = %v", summary)
			}
		})
	}
}

func TestRequestLogger_Levels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path   string
		status int
		want   string
	}{
		{"/api/ask", http.StatusOK, "INFO"},
		{"/api/health", http.StatusOK, "DEBUG"},
		{"/metrics", http.StatusOK, "DEBUG"},
		{"/api/ask", http.StatusBadGateway, "WARN"},
		{"/api/ready", http.StatusServiceUnavailable, "WARN"},
	}
	for _, tc := range tests {
		var buf bytes.Buffer
		base := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
		h := requestLogger(base, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tc.path, nil))

		lines := logLines(t, &buf)
		if len(lines) != 1 || lines[0]["level"] != tc.want {
			t.Errorf("%s %d: level = %v, want %s", tc.path, tc.status, lines, tc.want)
		}
	}
}

func TestStatusRecorder_FirstHeaderWins(t *testing.T) {
	t.Parallel()
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	rec.WriteHeader(http.StatusTeapot)
	rec.WriteHeader(http.StatusInternalServerError)
	if rec.status != http.StatusTeapot {
		t.Errorf("status = %d, want 418", rec.status)
	}
}
