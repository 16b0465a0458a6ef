package index

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/54b3r/kbqa-go/internal/logging"
	"github.com/54b3r/kbqa-go/internal/rag"
)

// maxRecordBytes bounds a single embeddings.jsonl line. A 3072-dim vector
// serialises to roughly 70 KiB.
const maxRecordBytes = 16 << 20

// Load reads the chunk listing at chunksPath and the embedding records in
// indexDir. Either artifact missing yields an error wrapping
// [rag.ErrNotFound]. The manifest is optional.
//
// Vectors of inconsistent dimensionality are accepted (they score 0 against
// a mismatched query) but logged as a warning.
func Load(ctx context.Context, indexDir, chunksPath string) (*Index, error) {
	log := logging.FromContext(ctx)

	chunks, err := LoadChunks(chunksPath)
	if err != nil {
		return nil, err
	}

	embPath := filepath.Join(indexDir, EmbeddingsFile)
	vectors, order, err := loadEmbeddings(embPath)
	if err != nil {
		return nil, err
	}

	x := &Index{
		chunks:     make(map[string]rag.Chunk, len(chunks)),
		vectors:    vectors,
		order:      order,
		candidates: make([]rag.Candidate, 0, len(order)),
	}
	for _, c := range chunks {
		x.chunks[c.ChunkID] = c
	}

	dims := make(map[int]int)
	orphans := 0
	for _, id := range order {
		c, ok := x.chunks[id]
		if !ok {
			orphans++
			continue
		}
		v := vectors[id]
		dims[len(v)]++
		x.candidates = append(x.candidates, rag.Candidate{Chunk: c, Vector: v})
	}

	if m, err := ReadManifest(indexDir); err == nil {
		x.manifest = m
		if m.Chunks != len(chunks) {
			log.Warn("index: manifest chunk count differs from the chunk listing, rebuild the index",
				slog.Int("manifest_chunks", m.Chunks),
				slog.Int("listed_chunks", len(chunks)),
			)
		}
	} else if !errors.Is(err, rag.ErrNotFound) {
		log.Warn("index: ignoring unreadable manifest", slog.String("error", err.Error()))
	}

	if len(dims) > 1 {
		log.Warn("index: embeddings have inconsistent dimensionality",
			slog.Any("dims", dims),
			slog.String("path", embPath),
		)
	}
	if orphans > 0 {
		log.Warn("index: embeddings without a matching chunk were skipped",
			slog.Int("count", orphans),
		)
	}
	if missing := len(x.chunks) - len(x.candidates); missing > 0 {
		log.Warn("index: chunks without an embedding are not searchable",
			slog.Int("count", missing),
		)
	}
	log.Debug("index: loaded",
		slog.String("index_dir", indexDir),
		slog.String("chunks_path", chunksPath),
		slog.Int("chunks", len(chunks)),
		slog.Int("searchable", len(x.candidates)),
	)

	return x, nil
}

// LoadChunks reads the chunk listing JSON array. A chunk without a
// section_id gets section 0.
func LoadChunks(path string) ([]rag.Chunk, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("index: chunks file %s: %w", path, rag.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: cannot read chunks file %s: %w", path, err)
	}
	var chunks []rag.Chunk
	if err := json.Unmarshal(b, &chunks); err != nil {
		return nil, fmt.Errorf("index: invalid chunks JSON %s: %w", path, err)
	}
	return chunks, nil
}

// loadEmbeddings reads embeddings.jsonl. Blank lines are skipped. A repeated
// chunk id keeps its first position and takes the last vector.
func loadEmbeddings(path string) (map[string][]float32, []string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("index: embeddings file %s: %w", path, rag.ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("index: cannot open embeddings file %s: %w", path, err)
	}
	defer f.Close()

	vectors := make(map[string][]float32)
	var order []string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordBytes)
	line := 0
	for scanner.Scan() {
		line++
		b := scanner.Bytes()
		if len(bytes.TrimSpace(b)) == 0 {
			continue
		}
		var rec embeddingRecord
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, nil, fmt.Errorf("index: invalid embeddings JSONL %s line %d: %w", path, line, err)
		}
		if _, seen := vectors[rec.ChunkID]; !seen {
			order = append(order, rec.ChunkID)
		}
		vectors[rec.ChunkID] = rec.Embedding
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("index: cannot read embeddings file %s: %w", path, err)
	}
	return vectors, order, nil
}
