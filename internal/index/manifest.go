package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/54b3r/kbqa-go/internal/rag"
)

// FormatVersion is the on-disk layout version written to new manifests.
const FormatVersion = 1

// Manifest describes how an index was built.
type Manifest struct {
	// IndexVersion is the on-disk layout version.
	IndexVersion int `json:"index_version"`
	// CreatedAt is the UTC build completion time.
	CreatedAt time.Time `json:"created_at"`
	// EmbeddingModel is the model that produced the vectors.
	EmbeddingModel string `json:"embedding_model"`
	// Dim is the vector dimensionality of the first embedding.
	Dim int `json:"dim"`
	// Chunks is the number of chunks written.
	Chunks int `json:"chunks"`
	// ChunksPath is where the chunk listing was written.
	ChunksPath string `json:"chunks_path"`
	// MaxLen is the sliding-window size used for chunking.
	MaxLen int `json:"max_len"`
	// Overlap is the sliding-window overlap used for chunking.
	Overlap int `json:"overlap"`
}

// ReadManifest loads <indexDir>/manifest.json. A missing manifest yields an
// error wrapping [rag.ErrNotFound].
func ReadManifest(indexDir string) (*Manifest, error) {
	path := filepath.Join(indexDir, ManifestFile)
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("index: manifest %s: %w", path, rag.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: cannot read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("index: invalid manifest JSON %s: %w", path, err)
	}
	return &m, nil
}
