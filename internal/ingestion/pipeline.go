// Package ingestion implements the index build pipeline. It walks a
// knowledge-base directory, splits each document into sections and
// overlapping chunks, embeds the chunks in batches, and persists the
// flat-file index. Optionally the result is mirrored into a vector store.
// This pipeline is invoked by the `kbqa index` CLI command.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/kbqa-go/internal/index"
	"github.com/54b3r/kbqa-go/internal/logging"
	"github.com/54b3r/kbqa-go/internal/rag"
)

const (
	// DefaultMaxLen is the default sliding-window size in characters.
	DefaultMaxLen = 800
	// DefaultOverlap is the default sliding-window overlap in characters.
	DefaultOverlap = 120
	// DefaultBatchSize is the default number of chunks per embedding call.
	DefaultBatchSize = 16
	// DefaultWorkers is the default number of concurrent embedding calls.
	DefaultWorkers = 4
)

// Mirror receives a copy of every successful build. [rag.QdrantStore]
// satisfies it.
type Mirror interface {
	// Recreate drops and recreates the target with the given vector size.
	Recreate(ctx context.Context, dim int) error
	// Drop removes the target; used when a build produced no chunks.
	Drop(ctx context.Context) error
	// Upsert stores chunks with their parallel vectors.
	Upsert(ctx context.Context, chunks []rag.Chunk, vectors [][]float32) error
}

// Options configures one index build.
type Options struct {
	// KBDir is the knowledge-base root directory.
	KBDir string

	// IndexDir receives embeddings.jsonl and manifest.json.
	IndexDir string

	// ChunksPath is where the chunk listing is written.
	ChunksPath string

	// EmbeddingModel is recorded in the manifest.
	EmbeddingModel string

	// MaxLen is the window size in characters. Must be positive.
	MaxLen int

	// Overlap is the window overlap in characters, clamped to [0, MaxLen-1].
	Overlap int

	// BatchSize is the number of chunks per embedding call. Must be positive.
	BatchSize int

	// Workers bounds concurrent embedding calls. Defaults to DefaultWorkers.
	Workers int
}

// Summary reports what a build produced.
type Summary struct {
	Files   int `json:"files"`
	Chunks  int `json:"chunks"`
	Batches int `json:"batches"`
	Dim     int `json:"dim"`
}

// Pipeline orchestrates the load → chunk → embed → persist flow.
type Pipeline struct {
	// embedder converts chunk texts into dense vector embeddings.
	embedder rag.Embedder

	// mirror optionally receives the built chunks and vectors. May be nil.
	mirror Mirror
}

// NewPipeline constructs a Pipeline. mirror may be nil.
func NewPipeline(embedder rag.Embedder, mirror Mirror) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	return &Pipeline{embedder: embedder, mirror: mirror}, nil
}

// Build runs a full rebuild of the index described by opts. Nothing is
// written unless every batch embeds successfully; the first failing batch
// cancels the rest and its error is returned. Progress is reported via the
// optional progress callback, which is never called concurrently.
func (p *Pipeline) Build(ctx context.Context, opts Options, progress func(msg string)) (*Summary, error) {
	log := logging.FromContext(ctx)
	if progress == nil {
		progress = func(string) {}
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("ingestion: batch_size must be positive, got %d: %w", opts.BatchSize, rag.ErrInvalidArgument)
	}
	if opts.MaxLen <= 0 {
		return nil, fmt.Errorf("ingestion: max_len must be positive, got %d: %w", opts.MaxLen, rag.ErrInvalidArgument)
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}

	unlock, err := index.Lock(opts.IndexDir)
	if err != nil {
		return nil, err
	}
	defer unlock()

	docs, err := LoadKB(opts.KBDir)
	if err != nil {
		return nil, err
	}
	progress(fmt.Sprintf("loaded %d documents from %s", len(docs), opts.KBDir))

	chunks, err := BuildChunks(docs, opts.MaxLen, opts.Overlap)
	if err != nil {
		return nil, err
	}
	progress(fmt.Sprintf("split into %d chunks", len(chunks)))

	vectors, batches, err := p.embedAll(ctx, chunks, opts.BatchSize, opts.Workers, progress)
	if err != nil {
		return nil, err
	}

	manifest := &index.Manifest{
		EmbeddingModel: opts.EmbeddingModel,
		MaxLen:         opts.MaxLen,
		Overlap:        opts.Overlap,
	}
	if err := index.Write(opts.IndexDir, opts.ChunksPath, chunks, vectors, manifest); err != nil {
		return nil, err
	}

	summary := &Summary{Files: len(docs), Chunks: len(chunks), Batches: batches}
	if len(vectors) > 0 {
		summary.Dim = len(vectors[0])
	}
	log.Info("ingestion: index written",
		slog.String("index_dir", opts.IndexDir),
		slog.String("chunks_path", opts.ChunksPath),
		slog.Int("files", summary.Files),
		slog.Int("chunks", summary.Chunks),
		slog.Int("dim", summary.Dim),
	)

	if p.mirror != nil && len(chunks) == 0 {
		if err := p.mirror.Drop(ctx); err != nil {
			return nil, fmt.Errorf("ingestion: mirror: %w", err)
		}
		progress("mirror cleared, no chunks to store")
	}
	if p.mirror != nil && len(chunks) > 0 {
		if err := p.mirror.Recreate(ctx, summary.Dim); err != nil {
			return nil, fmt.Errorf("ingestion: mirror: %w", err)
		}
		if err := p.mirror.Upsert(ctx, chunks, vectors); err != nil {
			return nil, fmt.Errorf("ingestion: mirror: %w", err)
		}
		progress(fmt.Sprintf("mirrored %d chunks", len(chunks)))
	}

	return summary, nil
}

// embedAll embeds chunk texts in consecutive batches of batchSize, running at
// most workers calls at once. Vectors are placed by chunk position, so the
// result is independent of completion order.
func (p *Pipeline) embedAll(ctx context.Context, chunks []rag.Chunk, batchSize, workers int, progress func(string)) ([][]float32, int, error) {
	vectors := make([][]float32, len(chunks))
	batches := (len(chunks) + batchSize - 1) / batchSize

	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for b := range batches {
		start := b * batchSize
		end := min(start+batchSize, len(chunks))
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, c := range chunks[start:end] {
				texts = append(texts, c.Text)
			}
			vecs, err := p.embedder.Embed(gctx, texts)
			if err != nil {
				return fmt.Errorf("ingestion: embedding batch %d (%s..%s) failed: %w",
					b, chunks[start].ChunkID, chunks[end-1].ChunkID, err)
			}
			if len(vecs) != len(texts) {
				return fmt.Errorf("ingestion: embedding batch %d returned %d vectors for %d texts", b, len(vecs), len(texts))
			}
			copy(vectors[start:end], vecs)

			mu.Lock()
			done++
			progress(fmt.Sprintf("embedded batch %d/%d", done, batches))
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return vectors, batches, nil
}
