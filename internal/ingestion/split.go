package ingestion

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/54b3r/kbqa-go/internal/rag"
)

// lineEndings normalises CRLF and lone CR to LF before section splitting.
var lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// SplitSections breaks text into coarse sections. A blank line ends the
// current section. A line starting with '#' (after leading whitespace) ends
// the current section and opens a new one beginning with that heading.
// Sections are trimmed; empty ones are dropped.
func SplitSections(text string) []string {
	var (
		sections []string
		buf      []string
	)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		if s := strings.TrimSpace(strings.Join(buf, "\n")); s != "" {
			sections = append(sections, s)
		}
		buf = buf[:0]
	}

	for _, line := range strings.Split(lineEndings.Replace(text), "\n") {
		switch {
		case strings.TrimSpace(line) == "":
			flush()
		case strings.HasPrefix(strings.TrimLeftFunc(line, unicode.IsSpace), "#"):
			flush()
			buf = append(buf, line)
		default:
			buf = append(buf, line)
		}
	}
	flush()
	return sections
}

// SplitWithOverlap cuts text into windows of at most maxLen characters
// (code points), each starting overlap characters before the previous
// window's end. Windows are trimmed and empty ones dropped.
//
// maxLen must be positive. overlap is clamped to [0, maxLen-1] so the
// window always advances.
func SplitWithOverlap(text string, maxLen, overlap int) ([]string, error) {
	if maxLen <= 0 {
		return nil, fmt.Errorf("ingestion: max_len must be positive, got %d: %w", maxLen, rag.ErrInvalidArgument)
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= maxLen {
		overlap = maxLen - 1
	}

	runes := []rune(text)
	var pieces []string
	for start := 0; start < len(runes); {
		end := min(start+maxLen, len(runes))
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			pieces = append(pieces, piece)
		}
		if end == len(runes) {
			break
		}
		start = end - overlap
	}
	return pieces, nil
}
