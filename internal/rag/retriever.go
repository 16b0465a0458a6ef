package rag

import (
	"context"
	"fmt"
)

// Retriever combines an Embedder and a Searcher. It embeds the question with
// exactly one call and delegates scoring to the searcher.
type Retriever struct {
	// embedder converts the question to a dense vector.
	embedder Embedder

	// searcher ranks stored chunks against the question vector.
	searcher Searcher
}

// NewRetriever constructs a Retriever from the given Embedder and Searcher.
func NewRetriever(embedder Embedder, searcher Searcher) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if searcher == nil {
		return nil, fmt.Errorf("rag: searcher must not be nil")
	}
	return &Retriever{embedder: embedder, searcher: searcher}, nil
}

// Retrieve embeds question and returns the top-k most similar chunks.
// topK values below 1 are coerced to 1.
func (r *Retriever) Retrieve(ctx context.Context, question string, topK int) ([]RetrievedChunk, error) {
	if topK < 1 {
		topK = 1
	}

	embeddings, err := r.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding question failed: %w", err)
	}
	if len(embeddings) != 1 {
		return nil, fmt.Errorf("rag: embedder returned %d vectors for one question", len(embeddings))
	}

	results, err := r.searcher.Search(ctx, embeddings[0], topK)
	if err != nil {
		return nil, fmt.Errorf("rag: search failed: %w", err)
	}
	return results, nil
}
