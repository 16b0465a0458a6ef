package rag

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// qdrantUpsertBatch is the number of points sent per Upsert request.
const qdrantUpsertBatch = 256

// QdrantConfig holds connection parameters for a Qdrant instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore mirrors a built index into a Qdrant collection and serves as an
// alternative Searcher. The flat-file index stays authoritative; Qdrant does
// not guarantee the stable tie-break order of [Rank].
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantStore connects to Qdrant. It does not touch the collection; call
// [QdrantStore.Recreate] before mirroring a fresh build.
func NewQdrantStore(cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "kbqa"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	return &QdrantStore{client: client, cfg: cfg}, nil
}

// Collection returns the configured collection name.
func (s *QdrantStore) Collection() string {
	return s.cfg.Collection
}

// Recreate drops the collection if it exists and creates it empty with the
// given vector size and cosine distance. Builds are full rebuilds, so stale
// points from a previous build must not survive.
func (s *QdrantStore) Recreate(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("qdrant: vector size %d: %w", dim, ErrInvalidArgument)
	}

	if err := s.Drop(ctx); err != nil {
		return err
	}

	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}
	return nil
}

// Drop deletes the collection if it exists. An empty build drops it so no
// points from an earlier build stay searchable.
func (s *QdrantStore) Drop(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if !exists {
		return nil
	}
	if err := s.client.DeleteCollection(ctx, s.cfg.Collection); err != nil {
		return fmt.Errorf("qdrant: failed to drop collection %q: %w", s.cfg.Collection, err)
	}
	return nil
}

// Upsert stores chunks with their embeddings. vectors must be parallel to
// chunks. Point ids are the chunk positions, so the mirror keeps build order.
func (s *QdrantStore) Upsert(ctx context.Context, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("qdrant: %d chunks but %d vectors: %w", len(chunks), len(vectors), ErrInvalidArgument)
	}

	for start := 0; start < len(chunks); start += qdrantUpsertBatch {
		end := min(start+qdrantUpsertBatch, len(chunks))
		points := make([]*qdrant.PointStruct, 0, end-start)
		for i := start; i < end; i++ {
			c := chunks[i]
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDNum(uint64(i)),
				Vectors: qdrant.NewVectors(vectors[i]...),
				Payload: qdrant.NewValueMap(map[string]any{
					"chunk_id":    c.ChunkID,
					"source_file": c.SourceFile,
					"section_id":  int64(c.SectionID),
					"text":        c.Text,
				}),
			})
		}

		wait := true
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.cfg.Collection,
			Wait:           &wait,
			Points:         points,
		})
		if err != nil {
			return fmt.Errorf("qdrant: upsert of points %d-%d failed: %w", start, end-1, err)
		}
	}
	return nil
}

// Search performs a cosine similarity query and returns the top-k results.
func (s *QdrantStore) Search(ctx context.Context, query []float32, topK int) ([]RetrievedChunk, error) {
	if topK < 1 {
		topK = 1
	}
	limit := uint64(topK)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	results := make([]RetrievedChunk, 0, len(points))
	for _, p := range points {
		var c Chunk
		if payload := p.Payload; payload != nil {
			c.ChunkID = payload["chunk_id"].GetStringValue()
			c.SourceFile = payload["source_file"].GetStringValue()
			c.SectionID = int(payload["section_id"].GetIntegerValue())
			c.Text = payload["text"].GetStringValue()
		}
		results = append(results, RetrievedChunk{Chunk: c, Score: float64(p.Score)})
	}
	return results, nil
}

// Ping reports whether the Qdrant server answers a health check.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
