package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/54b3r/kbqa-go/internal/index"
)

// IndexPinger reports whether the index artifacts the server loaded at
// startup are still present on disk. It satisfies the Pinger interface.
type IndexPinger struct {
	// indexDir holds embeddings.jsonl.
	indexDir string
	// chunksPath is the chunk listing.
	chunksPath string
}

// NewIndexPinger constructs an IndexPinger for the given artifact locations.
func NewIndexPinger(indexDir, chunksPath string) *IndexPinger {
	return &IndexPinger{indexDir: indexDir, chunksPath: chunksPath}
}

// Name returns the dependency label used in readiness responses.
func (p *IndexPinger) Name() string { return "index" }

// Ping stats both artifacts.
func (p *IndexPinger) Ping(_ context.Context) error {
	for _, path := range []string{p.chunksPath, filepath.Join(p.indexDir, index.EmbeddingsFile)} {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("artifact %s unavailable: %w", path, err)
		}
	}
	return nil
}

// healthChecker is implemented by *rag.QdrantStore.
type healthChecker interface {
	Ping(ctx context.Context) error
}

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
// It satisfies the Pinger interface and is used by GET /api/ready.
type QdrantPinger struct {
	// store is the Qdrant-backed searcher to probe.
	store healthChecker
}

// NewQdrantPinger constructs a QdrantPinger for the given store.
func NewQdrantPinger(store healthChecker) *QdrantPinger {
	return &QdrantPinger{store: store}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if err := p.store.Ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
