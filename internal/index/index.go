// Package index persists and loads the flat-file embedding index: the chunk
// listing (chunks.json), one embedding record per line
// (<index_dir>/embeddings.jsonl), and a build manifest
// (<index_dir>/manifest.json).
//
// A loaded [Index] is immutable and safe for concurrent readers. It
// implements [rag.Searcher] with an exhaustive cosine scan in embedding-file
// order, so equal scores always rank in the same order.
package index

import (
	"context"

	"github.com/54b3r/kbqa-go/internal/rag"
)

const (
	// EmbeddingsFile is the embedding record file name inside the index dir.
	EmbeddingsFile = "embeddings.jsonl"

	// ManifestFile is the build manifest file name inside the index dir.
	ManifestFile = "manifest.json"

	// lockFile is the advisory build lock inside the index dir.
	lockFile = ".kbqa.lock"
)

// embeddingRecord is one line of embeddings.jsonl.
type embeddingRecord struct {
	ChunkID   string    `json:"chunk_id"`
	Embedding []float32 `json:"embedding"`
}

// Index is a loaded, read-only embedding index.
type Index struct {
	// chunks maps chunk_id to its chunk.
	chunks map[string]rag.Chunk

	// vectors maps chunk_id to its embedding.
	vectors map[string][]float32

	// order lists chunk ids in first-seen embedding-file order.
	order []string

	// candidates is order joined against chunks, precomputed for Search.
	// Ids without a chunk are left out.
	candidates []rag.Candidate

	// manifest is the build manifest, nil when the index has none.
	manifest *Manifest
}

// Search scores every indexed chunk against query and returns the best topK.
func (x *Index) Search(_ context.Context, query []float32, topK int) ([]rag.RetrievedChunk, error) {
	return rag.Rank(query, x.candidates, topK), nil
}

// Len returns the number of searchable chunks.
func (x *Index) Len() int {
	return len(x.candidates)
}

// Chunk returns the chunk with the given id.
func (x *Index) Chunk(id string) (rag.Chunk, bool) {
	c, ok := x.chunks[id]
	return c, ok
}

// Vector returns the embedding stored for the given id.
func (x *Index) Vector(id string) ([]float32, bool) {
	v, ok := x.vectors[id]
	return v, ok
}

// Manifest returns the build manifest, or nil if the index was written
// without one.
func (x *Index) Manifest() *Manifest {
	return x.manifest
}
