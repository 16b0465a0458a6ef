package rag

import (
	"strings"
)

// DefaultPreviewLen is the citation preview length in characters.
const DefaultPreviewLen = 80

// Citation identifies one retrieved chunk in an answer payload.
type Citation struct {
	SourceFile   string `json:"source_file"`
	ChunkID      string `json:"chunk_id"`
	ChunkPreview string `json:"chunk_preview"`
}

// newlineReplacer collapses every line-break form to a single space.
var newlineReplacer = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// FormatCitations builds one citation per result, in rank order.
// The preview has its line breaks replaced by spaces, is trimmed, and is cut
// to at most previewLen characters. previewLen <= 0 uses DefaultPreviewLen.
func FormatCitations(results []RetrievedChunk, previewLen int) []Citation {
	if previewLen <= 0 {
		previewLen = DefaultPreviewLen
	}
	citations := make([]Citation, 0, len(results))
	for _, r := range results {
		citations = append(citations, Citation{
			SourceFile:   r.SourceFile,
			ChunkID:      r.ChunkID,
			ChunkPreview: preview(r.Text, previewLen),
		})
	}
	return citations
}

// preview flattens text to one line and truncates it to n runes.
func preview(text string, n int) string {
	flat := strings.TrimSpace(newlineReplacer.Replace(text))
	runes := []rune(flat)
	if len(runes) > n {
		return string(runes[:n])
	}
	return flat
}

// BuildEvidenceBlock renders the results as the evidence section of the
// answer prompt: a "---" separator, the chunk id, the source file, then the
// raw text, for each result in rank order.
func BuildEvidenceBlock(results []RetrievedChunk) string {
	lines := make([]string, 0, len(results)*4)
	for _, r := range results {
		lines = append(lines,
			"---",
			"chunk_id: "+r.ChunkID,
			"source_file: "+r.SourceFile,
			r.Text,
		)
	}
	return strings.Join(lines, "\n")
}
