package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/54b3r/kbqa-go/internal/rag"
)

func testChunks() []rag.Chunk {
	return []rag.Chunk{
		{ChunkID: "chunk_000000", SourceFile: "faq.md", SectionID: 0, Text: "# FAQ"},
		{ChunkID: "chunk_000001", SourceFile: "faq.md", SectionID: 1, Text: "Q: What is X?\nA: X is Y."},
		{ChunkID: "chunk_000002", SourceFile: "docs/b.txt", SectionID: 0, Text: "other"},
	}
}

func writeTestIndex(t *testing.T, chunks []rag.Chunk, vectors [][]float32) (string, string) {
	t.Helper()
	dir := t.TempDir()
	indexDir := filepath.Join(dir, "index")
	chunksPath := filepath.Join(dir, "chunks.json")
	if err := Write(indexDir, chunksPath, chunks, vectors, &Manifest{EmbeddingModel: "test-embed"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return indexDir, chunksPath
}

func TestWriteLoad_RoundTrip(t *testing.T) {
	t.Parallel()
	chunks := testChunks()
	vectors := [][]float32{{1, 0}, {0.6, 0.8}, {0, 1}}
	indexDir, chunksPath := writeTestIndex(t, chunks, vectors)

	x, err := Load(context.Background(), indexDir, chunksPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if x.Len() != 3 {
		t.Fatalf("Len = %d, want 3", x.Len())
	}
	c, ok := x.Chunk("chunk_000001")
	if !ok || c != chunks[1] {
		t.Errorf("Chunk(chunk_000001) = %+v, %v", c, ok)
	}
	v, ok := x.Vector("chunk_000002")
	if !ok || len(v) != 2 || v[1] != 1 {
		t.Errorf("Vector(chunk_000002) = %v, %v", v, ok)
	}

	m := x.Manifest()
	if m == nil {
		t.Fatal("expected manifest")
	}
	if m.EmbeddingModel != "test-embed" || m.Dim != 2 || m.Chunks != 3 || m.IndexVersion != FormatVersion {
		t.Errorf("unexpected manifest %+v", m)
	}
	if m.CreatedAt.IsZero() {
		t.Error("manifest CreatedAt not set")
	}
}

func TestWrite_NoTempFilesLeft(t *testing.T) {
	t.Parallel()
	indexDir, _ := writeTestIndex(t, testChunks(), [][]float32{{1}, {1}, {1}})
	entries, err := os.ReadDir(indexDir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		switch e.Name() {
		case EmbeddingsFile, ManifestFile:
		default:
			t.Errorf("unexpected file in index dir: %s", e.Name())
		}
	}
}

func TestWrite_LengthMismatchLeavesPreviousIndex(t *testing.T) {
	t.Parallel()
	chunks := testChunks()
	indexDir, chunksPath := writeTestIndex(t, chunks, [][]float32{{1}, {1}, {1}})
	before, err := os.ReadFile(filepath.Join(indexDir, EmbeddingsFile))
	if err != nil {
		t.Fatal(err)
	}

	err = Write(indexDir, chunksPath, chunks[:1], [][]float32{{1}, {2}}, nil)
	if !errors.Is(err, rag.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	after, err := os.ReadFile(filepath.Join(indexDir, EmbeddingsFile))
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("previous embeddings file was modified by a failed write")
	}
}

// Not parallel: swaps the package-level rename.
func TestWrite_RenamesEmbeddingsFirst(t *testing.T) {
	chunks := testChunks()
	indexDir, chunksPath := writeTestIndex(t, chunks, [][]float32{{1}, {1}, {1}})
	listing, err := os.ReadFile(chunksPath)
	if err != nil {
		t.Fatal(err)
	}

	var moved []string
	rename = func(from, to string) error {
		if to == chunksPath {
			return errors.New("disk full")
		}
		moved = append(moved, filepath.Base(to))
		return os.Rename(from, to)
	}
	t.Cleanup(func() { rename = os.Rename })

	err = Write(indexDir, chunksPath, chunks[:2], [][]float32{{2}, {2}}, &Manifest{})
	if err == nil || !strings.Contains(err.Error(), "partially replaced") {
		t.Fatalf("expected a partial-replacement error, got %v", err)
	}
	if len(moved) != 1 || moved[0] != EmbeddingsFile {
		t.Errorf("renamed %v before the failure, want only %s", moved, EmbeddingsFile)
	}
	after, err := os.ReadFile(chunksPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(after) != string(listing) {
		t.Error("chunk listing changed despite the failed rename")
	}
	for _, dir := range []string{indexDir, filepath.Dir(chunksPath)} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range entries {
			if strings.Contains(e.Name(), ".tmp-") {
				t.Errorf("temp file left behind: %s", e.Name())
			}
		}
	}
}

func TestLoad_MissingArtifacts(t *testing.T) {
	t.Parallel()
	indexDir, chunksPath := writeTestIndex(t, testChunks(), [][]float32{{1}, {1}, {1}})

	if _, err := Load(context.Background(), indexDir, filepath.Join(t.TempDir(), "nope.json")); !errors.Is(err, rag.ErrNotFound) {
		t.Errorf("missing chunks: expected ErrNotFound, got %v", err)
	}
	if _, err := Load(context.Background(), t.TempDir(), chunksPath); !errors.Is(err, rag.ErrNotFound) {
		t.Errorf("missing embeddings: expected ErrNotFound, got %v", err)
	}
}

func TestLoad_WithoutManifest(t *testing.T) {
	t.Parallel()
	indexDir, chunksPath := writeTestIndex(t, testChunks(), [][]float32{{1}, {1}, {1}})
	if err := os.Remove(filepath.Join(indexDir, ManifestFile)); err != nil {
		t.Fatal(err)
	}
	x, err := Load(context.Background(), indexDir, chunksPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if x.Manifest() != nil {
		t.Error("expected nil manifest")
	}
}

func TestLoad_HandWrittenFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	chunksPath := filepath.Join(dir, "chunks.json")
	// section_id omitted on the second chunk; chunk_000009 has no embedding.
	chunksJSON := `[
  {"chunk_id": "chunk_000000", "source_file": "a.md", "section_id": 2, "text": "alpha"},
  {"chunk_id": "chunk_000001", "source_file": "a.md", "text": "beta"},
  {"chunk_id": "chunk_000009", "source_file": "z.md", "section_id": 0, "text": "unembedded"}
]`
	if err := os.WriteFile(chunksPath, []byte(chunksJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	// Blank lines, a duplicate id, and an orphan embedding.
	emb := `{"chunk_id": "chunk_000001", "embedding": [1, 0]}

{"chunk_id": "orphan", "embedding": [1, 0]}
{"chunk_id": "chunk_000000", "embedding": [1, 0]}
{"chunk_id": "chunk_000001", "embedding": [0, 1]}
`
	if err := os.WriteFile(filepath.Join(dir, EmbeddingsFile), []byte(emb), 0o644); err != nil {
		t.Fatal(err)
	}

	x, err := Load(context.Background(), dir, chunksPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if x.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (orphan and unembedded chunk excluded)", x.Len())
	}
	c, _ := x.Chunk("chunk_000001")
	if c.SectionID != 0 {
		t.Errorf("missing section_id should default to 0, got %d", c.SectionID)
	}
	v, _ := x.Vector("chunk_000001")
	if v[0] != 0 || v[1] != 1 {
		t.Errorf("duplicate id should keep last vector, got %v", v)
	}

	// chunk_000001 first appeared before chunk_000000, so it keeps the
	// earlier scan position even though its vector changed.
	got, err := x.Search(context.Background(), []float32{1, 1}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].ChunkID != "chunk_000001" || got[1].ChunkID != "chunk_000000" {
		t.Errorf("tie order = %s, %s; want chunk_000001, chunk_000000", got[0].ChunkID, got[1].ChunkID)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	chunksPath := filepath.Join(dir, "chunks.json")
	if err := os.WriteFile(chunksPath, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadChunks(chunksPath); err == nil || errors.Is(err, rag.ErrNotFound) {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestSearch_TieBreakScenario(t *testing.T) {
	t.Parallel()
	// Scores against {1, 0}: 0.9, 0.1, 0.5, 0.9, 0.3.
	scores := []float32{0.9, 0.1, 0.5, 0.9, 0.3}
	chunks := make([]rag.Chunk, len(scores))
	vectors := make([][]float32, len(scores))
	for i, s := range scores {
		chunks[i] = rag.Chunk{ChunkID: []string{"c1", "c2", "c3", "c4", "c5"}[i], SourceFile: "f.md", Text: "t"}
		vectors[i] = []float32{s, sqrt32(1 - s*s)}
	}
	indexDir, chunksPath := writeTestIndex(t, chunks, vectors)
	x, err := Load(context.Background(), indexDir, chunksPath)
	if err != nil {
		t.Fatal(err)
	}

	got, err := x.Search(context.Background(), []float32{1, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"c1", "c4", "c3"}
	for i := range want {
		if got[i].ChunkID != want[i] {
			t.Errorf("result[%d] = %s, want %s", i, got[i].ChunkID, want[i])
		}
	}
}

func TestSearch_DimensionMismatchScoresZero(t *testing.T) {
	t.Parallel()
	chunks := testChunks()
	indexDir, chunksPath := writeTestIndex(t, chunks, [][]float32{{1, 0, 0}, {1, 0}, {0, 1}})
	x, err := Load(context.Background(), indexDir, chunksPath)
	if err != nil {
		t.Fatal(err)
	}
	got, err := x.Search(context.Background(), []float32{1, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].ChunkID != "chunk_000001" {
		t.Errorf("top result = %s, want chunk_000001", got[0].ChunkID)
	}
	for _, r := range got {
		if r.ChunkID == "chunk_000000" && r.Score != 0 {
			t.Errorf("mismatched dimension scored %v, want 0", r.Score)
		}
	}
}

func TestLock_Exclusive(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "index")
	unlock, err := Lock(dir)
	if err != nil {
		t.Fatalf("first Lock: %v", err)
	}

	if _, err := Lock(dir); !errors.Is(err, ErrLocked) {
		t.Errorf("second Lock: expected ErrLocked, got %v", err)
	}

	unlock()
	unlock2, err := Lock(dir)
	if err != nil {
		t.Fatalf("Lock after release: %v", err)
	}
	unlock2()
}
