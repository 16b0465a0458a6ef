// Package rag defines the retrieval-augmented generation core: the chunk
// model, the capability interfaces (embedding, search, completion), cosine
// ranking, the refusal gate, and evidence/citation formatting.
// Concrete backends (flat-file index, Qdrant, HTTP embedders, chat models)
// satisfy these interfaces so the question-answering layer never depends on
// a specific implementation.
package rag

import (
	"context"
)

// Chunk is the unit of retrieval: a bounded-length piece of one section of
// one source file.
type Chunk struct {
	// ChunkID is "chunk_" followed by a zero-padded six-digit sequence number,
	// assigned in file, section, piece order during a full build.
	ChunkID string `json:"chunk_id"`

	// SourceFile is the path of the originating file relative to the
	// knowledge-base root, using forward slashes.
	SourceFile string `json:"source_file"`

	// SectionID is the zero-based index of the section within the file.
	SectionID int `json:"section_id"`

	// Text is the chunk content. Never empty after trimming.
	Text string `json:"text"`
}

// RetrievedChunk is a chunk paired with its similarity to a query.
// It exists only for the duration of one query.
type RetrievedChunk struct {
	Chunk

	// Score is the cosine similarity to the query vector, in [-1, 1].
	Score float64
}

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Searcher scores stored chunk vectors against a query vector and returns
// the best matches in descending score order.
// Implementations must be safe to call from multiple goroutines.
type Searcher interface {
	// Search returns at most topK results. topK values below 1 are treated as 1.
	Search(ctx context.Context, query []float32, topK int) ([]RetrievedChunk, error)
}

// Completer turns a fully rendered prompt into a model completion.
// Implementations must be safe to call from multiple goroutines.
type Completer interface {
	// Complete sends prompt as a single user turn and returns the raw text.
	Complete(ctx context.Context, prompt string) (string, error)
}
