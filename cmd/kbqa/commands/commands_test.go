package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/54b3r/kbqa-go/internal/index"
	"github.com/54b3r/kbqa-go/internal/qa"
	"github.com/54b3r/kbqa-go/internal/rag"
	"github.com/54b3r/kbqa-go/internal/version"
)

// fakeAnswer is the reply of the fake chat endpoint.
const fakeAnswer = "Invoices are kept for seven years."

// fakeOllama serves POST /api/embed with a fixed two-dimensional vector per
// input so every chunk and question embed identically, and POST /api/chat
// with a single non-streamed reply.
func fakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embed":
		case "/api/chat":
			w.Header().Set("Content-Type", "application/x-ndjson")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"model":   "llama3",
				"message": map[string]string{"role": "assistant", "content": fakeAnswer},
				"done":    true,
			})
			return
		default:
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		vecs := make([][]float32, len(req.Input))
		for i := range vecs {
			vecs[i] = []float32{1, 0}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": vecs})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// setupEnv points every provider at the fake Ollama and isolates config,
// dotenv and history from the developer machine.
func setupEnv(t *testing.T, endpoint string) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("KBQA_CONFIG", "")
	t.Setenv("MODEL_PROVIDER", "ollama")
	t.Setenv("OLLAMA_HOST", endpoint)
	t.Setenv("OLLAMA_MODEL", "llama3")
	t.Setenv("EMBEDDING_PROVIDER", "ollama")
	t.Setenv("EMBEDDING_ENDPOINT", endpoint)
	t.Setenv("EMBEDDING_MODEL", "nomic-embed-text")
	t.Setenv("KBQA_HISTORY_DB", "disabled")
	t.Setenv("KBQA_BACKEND", "")
	t.Setenv("LANGFUSE_PUBLIC_KEY", "")
	t.Setenv("LOG_LEVEL", "error")
}

// run executes the root command with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeKB(t *testing.T) string {
	t.Helper()
	kb := filepath.Join(t.TempDir(), "kb")
	if err := os.MkdirAll(filepath.Join(kb, "ops"), 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"intro.md":        "# Intro\nThe service stores invoices for seven years.\n\n# Owners\nBilling is owned by the payments team.",
		"ops/runbook.txt": "Rotate the signing key every ninety days.",
		"ignored.pdf":     "binary",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(kb, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return kb
}

func Test_IndexCommand_BuildsIndex(t *testing.T) {
	srv := fakeOllama(t)
	setupEnv(t, srv.URL)
	kb := writeKB(t)

	out, err := run(t, "index", "--kb", kb, "--batch-size", "2")
	if err != nil {
		t.Fatalf("index: %v", err)
	}

	var res struct {
		OK    bool `json:"ok"`
		Stats struct {
			Files  int `json:"files"`
			Chunks int `json:"chunks"`
			Dim    int `json:"dim"`
		} `json:"stats"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if !res.OK || res.Stats.Files != 2 || res.Stats.Chunks != 3 || res.Stats.Dim != 2 {
		t.Errorf("unexpected result: %+v", res)
	}
	if !strings.Contains(out, "\n  \"ok\": true") {
		t.Errorf("output is not two-space indented:\n%s", out)
	}

	m, err := index.ReadManifest(defaultIndexDir)
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if m.EmbeddingModel != "nomic-embed-text" {
		t.Errorf("manifest model = %q", m.EmbeddingModel)
	}
	if _, err := os.Stat(defaultChunksPath); err != nil {
		t.Errorf("chunk listing not written: %v", err)
	}
}

func Test_IndexCommand_MissingKB(t *testing.T) {
	srv := fakeOllama(t)
	setupEnv(t, srv.URL)

	if _, err := run(t, "index"); err == nil {
		t.Error("expected error when --kb is missing")
	}
	_, err := run(t, "index", "--kb", filepath.Join(t.TempDir(), "nope"))
	if err == nil {
		t.Fatal("expected error for a missing knowledge base")
	}
	if _, statErr := os.Stat(filepath.Join(defaultIndexDir, index.EmbeddingsFile)); statErr == nil {
		t.Error("failed build must not write an index")
	}
}

func Test_AskCommand_RefusesBelowThreshold(t *testing.T) {
	srv := fakeOllama(t)
	setupEnv(t, srv.URL)
	kb := writeKB(t)
	if _, err := run(t, "index", "--kb", kb); err != nil {
		t.Fatalf("index: %v", err)
	}

	// Every vector is identical so the best score is 1; a threshold above
	// that always refuses without calling the chat model.
	out, err := run(t, "ask", "--threshold", "1.5", "How", "long", "are", "invoices", "kept?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	var res qa.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if !res.Refused || res.Answer != qa.RefusalAnswer {
		t.Errorf("expected refusal, got %+v", res)
	}
	if res.Question != "How long are invoices kept?" {
		t.Errorf("question = %q", res.Question)
	}
	if len(res.NeedMoreInfo) != 3 {
		t.Errorf("need_more_info = %v", res.NeedMoreInfo)
	}
}

func Test_AskCommand_TopKCoercedToOne(t *testing.T) {
	srv := fakeOllama(t)
	setupEnv(t, srv.URL)
	kb := writeKB(t)
	if _, err := run(t, "index", "--kb", kb); err != nil {
		t.Fatalf("index: %v", err)
	}

	tests := []struct {
		name string
		env  string
		args []string
	}{
		{name: "flag zero", args: []string{"ask", "--topk", "0", "How long are invoices kept?"}},
		{name: "flag negative", args: []string{"ask", "--topk", "-3", "How long are invoices kept?"}},
		{name: "env zero", env: "0", args: []string{"ask", "How long are invoices kept?"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("KBQA_TOPK", tc.env)
			out, err := run(t, tc.args...)
			if err != nil {
				t.Fatalf("ask: %v", err)
			}
			var res qa.Result
			if err := json.Unmarshal([]byte(out), &res); err != nil {
				t.Fatalf("output is not JSON: %v\n%s", err, out)
			}
			if res.Refused || res.Answer != fakeAnswer {
				t.Errorf("expected an answer, got %+v", res)
			}
			if len(res.Citations) != 1 {
				t.Errorf("got %d citations, want 1", len(res.Citations))
			}
		})
	}
}

func Test_AskCommand_Errors(t *testing.T) {
	srv := fakeOllama(t)
	setupEnv(t, srv.URL)

	tests := []struct {
		name string
		args []string
		want error
	}{
		{name: "no question", args: []string{"ask"}, want: rag.ErrInvalidArgument},
		{name: "blank question", args: []string{"ask", "--question", "   "}, want: rag.ErrInvalidArgument},
		{name: "unknown backend", args: []string{"ask", "--backend", "faiss", "q"}, want: rag.ErrInvalidArgument},
		{name: "missing index", args: []string{"ask", "q"}, want: rag.ErrNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := run(t, tc.args...)
			if !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func Test_HistoryCommand(t *testing.T) {
	srv := fakeOllama(t)
	setupEnv(t, srv.URL)

	if _, err := run(t, "history"); !errors.Is(err, rag.ErrNotFound) {
		t.Errorf("disabled history: err = %v, want ErrNotFound", err)
	}

	t.Setenv("KBQA_HISTORY_DB", filepath.Join(t.TempDir(), "history.db"))
	out, err := run(t, "history", "-n", "5")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("empty history = %q, want []", out)
	}

	if _, err := run(t, "history", "-n", "0"); !errors.Is(err, rag.ErrInvalidArgument) {
		t.Errorf("zero limit: err = %v", err)
	}
}

func Test_VersionCommand(t *testing.T) {
	srv := fakeOllama(t)
	setupEnv(t, srv.URL)

	out, err := run(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "kbqa ") {
		t.Errorf("version output = %q", out)
	}

	out, err = run(t, "version", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var info version.Info
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("version --json: %v", err)
	}
	if info.Version != version.Version {
		t.Errorf("version = %q, want %q", info.Version, version.Version)
	}
}
