package ingestion

import (
	"fmt"

	"github.com/54b3r/kbqa-go/internal/rag"
)

// ChunkID formats the sequence number of a chunk within a build.
func ChunkID(seq int) string {
	return fmt.Sprintf("chunk_%06d", seq)
}

// BuildChunks splits every document into sections and every section into
// overlapping pieces, numbering chunks in document, section, piece order.
func BuildChunks(docs []Document, maxLen, overlap int) ([]rag.Chunk, error) {
	if maxLen <= 0 {
		return nil, fmt.Errorf("ingestion: max_len must be positive, got %d: %w", maxLen, rag.ErrInvalidArgument)
	}
	var chunks []rag.Chunk
	for _, doc := range docs {
		for sectionID, section := range SplitSections(doc.Text) {
			pieces, err := SplitWithOverlap(section, maxLen, overlap)
			if err != nil {
				return nil, err
			}
			for _, piece := range pieces {
				chunks = append(chunks, rag.Chunk{
					ChunkID:    ChunkID(len(chunks)),
					SourceFile: doc.Path,
					SectionID:  sectionID,
					Text:       piece,
				})
			}
		}
	}
	return chunks, nil
}
