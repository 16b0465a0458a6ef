package rag

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func Test_FormatCitations(t *testing.T) {
	t.Parallel()
	results := []RetrievedChunk{
		{Chunk: Chunk{ChunkID: "chunk_000001", SourceFile: "faq.md", Text: "Line one\r\nline two\nline three\rend"}},
		{Chunk: Chunk{ChunkID: "chunk_000000", SourceFile: "docs/setup.txt", Text: "  padded  "}},
	}
	got := FormatCitations(results, 0)
	if len(got) != 2 {
		t.Fatalf("got %d citations, want 2", len(got))
	}
	if got[0].ChunkID != "chunk_000001" || got[0].SourceFile != "faq.md" {
		t.Errorf("citation[0] identity = %+v", got[0])
	}
	if want := "Line one line two line three end"; got[0].ChunkPreview != want {
		t.Errorf("preview = %q, want %q", got[0].ChunkPreview, want)
	}
	if got[1].ChunkPreview != "padded" {
		t.Errorf("preview = %q, want %q", got[1].ChunkPreview, "padded")
	}
}

func Test_FormatCitations_PreviewBounds(t *testing.T) {
	t.Parallel()
	texts := []string{
		strings.Repeat("a", 200),
		strings.Repeat("知识库", 50),
		strings.Repeat("x\n", 100),
		"short",
	}
	for _, text := range texts {
		got := FormatCitations([]RetrievedChunk{{Chunk: Chunk{Text: text}}}, 80)
		p := got[0].ChunkPreview
		if n := utf8.RuneCountInString(p); n > 80 {
			t.Errorf("preview has %d characters, want <= 80", n)
		}
		if strings.ContainsAny(p, "\r\n") {
			t.Errorf("preview %q contains a line break", p)
		}
	}
}

func Test_FormatCitations_Empty(t *testing.T) {
	t.Parallel()
	got := FormatCitations(nil, 80)
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
}

func Test_BuildEvidenceBlock(t *testing.T) {
	t.Parallel()
	results := []RetrievedChunk{
		{Chunk: Chunk{ChunkID: "chunk_000003", SourceFile: "a.md", Text: "alpha\nbeta"}},
		{Chunk: Chunk{ChunkID: "chunk_000007", SourceFile: "b/c.txt", Text: "gamma"}},
	}
	want := strings.Join([]string{
		"---",
		"chunk_id: chunk_000003",
		"source_file: a.md",
		"alpha\nbeta",
		"---",
		"chunk_id: chunk_000007",
		"source_file: b/c.txt",
		"gamma",
	}, "\n")
	if got := BuildEvidenceBlock(results); got != want {
		t.Errorf("BuildEvidenceBlock =\n%s\nwant\n%s", got, want)
	}
}

func Test_BuildEvidenceBlock_Empty(t *testing.T) {
	t.Parallel()
	if got := BuildEvidenceBlock(nil); got != "" {
		t.Errorf("expected empty block, got %q", got)
	}
}
