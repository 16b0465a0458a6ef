package index

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/54b3r/kbqa-go/internal/rag"
)

// Write persists a fully embedded build. vectors must be parallel to chunks.
// Every artifact is staged as a temp file beside its target and renamed into
// place only once all of them were written, so a failure while writing
// leaves any previous index untouched. The renames themselves run in order
// embeddings.jsonl, chunk listing, manifest.json; a rename failure after the
// first leaves a partially replaced index, reported as such. Load warns when
// the artifacts of such an index disagree.
//
// manifest may be nil; otherwise its Chunks, Dim, ChunksPath, IndexVersion
// and CreatedAt fields are filled in from the build.
func Write(indexDir, chunksPath string, chunks []rag.Chunk, vectors [][]float32, manifest *Manifest) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("index: %d chunks but %d vectors: %w", len(chunks), len(vectors), rag.ErrInvalidArgument)
	}

	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		return fmt.Errorf("index: cannot create index dir %s: %w", indexDir, err)
	}
	if dir := filepath.Dir(chunksPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("index: cannot create chunks dir %s: %w", dir, err)
		}
	}

	var staged []stagedFile
	defer func() {
		for _, s := range staged {
			_ = os.Remove(s.tmp)
		}
	}()

	stage := func(target string, write func(io.Writer) error) error {
		tmp, err := writeTemp(target, write)
		if err != nil {
			return err
		}
		staged = append(staged, stagedFile{tmp: tmp, target: target})
		return nil
	}

	if err := stage(filepath.Join(indexDir, EmbeddingsFile), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		for i, c := range chunks {
			if err := enc.Encode(embeddingRecord{ChunkID: c.ChunkID, Embedding: vectors[i]}); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if err := stage(chunksPath, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		out := chunks
		if out == nil {
			out = []rag.Chunk{}
		}
		return enc.Encode(out)
	}); err != nil {
		return err
	}

	if manifest != nil {
		m := *manifest
		m.IndexVersion = FormatVersion
		m.Chunks = len(chunks)
		m.ChunksPath = filepath.ToSlash(chunksPath)
		if len(vectors) > 0 {
			m.Dim = len(vectors[0])
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
		if err := stage(filepath.Join(indexDir, ManifestFile), func(w io.Writer) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(m)
		}); err != nil {
			return err
		}
	}

	for i, s := range staged {
		if err := rename(s.tmp, s.target); err != nil {
			staged = staged[i:]
			if i > 0 {
				return fmt.Errorf("index: cannot move %s into place, index partially replaced, rebuild it: %w", s.target, err)
			}
			return fmt.Errorf("index: cannot move %s into place: %w", s.target, err)
		}
	}
	staged = nil
	return nil
}

// rename is replaced in tests.
var rename = os.Rename

// stagedFile pairs a written temp file with its final destination.
type stagedFile struct {
	tmp    string
	target string
}

// writeTemp creates a temp file in target's directory, fills it via write,
// and fsyncs it. It returns the temp path; the caller renames or removes it.
func writeTemp(target string, write func(io.Writer) error) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("index: cannot create temp file for %s: %w", target, err)
	}
	tmp := f.Name()

	bw := bufio.NewWriter(f)
	if err := write(bw); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("index: cannot write %s: %w", target, err)
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("index: cannot write %s: %w", target, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("index: cannot sync %s: %w", target, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("index: cannot close %s: %w", target, err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("index: cannot chmod %s: %w", target, err)
	}
	return tmp, nil
}
