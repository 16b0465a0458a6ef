package ingestion

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"

	"github.com/54b3r/kbqa-go/internal/rag"
)

// allowedExtensions lists the lower-cased file extensions ingested from the
// knowledge base.
var allowedExtensions = map[string]bool{
	".md":  true,
	".txt": true,
}

// Document is one knowledge-base file read into memory.
type Document struct {
	// Path is relative to the knowledge-base root, with forward slashes.
	Path string

	// Text is the decoded file content with any UTF-8 BOM removed.
	Text string
}

// LoadKB walks root recursively and returns every .md and .txt file
// (case-insensitive), sorted by relative path. Symlinks are followed only
// when they resolve to a regular file; everything else is skipped.
func LoadKB(root string) ([]Document, error) {
	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("ingestion: knowledge base %s: %w", root, rag.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ingestion: cannot stat knowledge base %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("ingestion: knowledge base %s is not a directory: %w", root, rag.ErrInvalidArgument)
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !allowedExtensions[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}
		if !d.Type().IsRegular() {
			// Symlinks and other special files: keep only links to regular files.
			target, err := os.Stat(path)
			if err != nil || !target.Mode().IsRegular() {
				return nil
			}
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ingestion: walking %s: %w", root, err)
	}

	docs := make([]Document, 0, len(paths))
	for _, path := range paths {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil, fmt.Errorf("ingestion: relative path for %s: %w", path, err)
		}
		text, err := readUTF8(path)
		if err != nil {
			return nil, err
		}
		docs = append(docs, Document{Path: filepath.ToSlash(rel), Text: text})
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, nil
}

// readUTF8 reads path as UTF-8, dropping a leading byte order mark.
func readUTF8(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("ingestion: cannot read %s: %w", path, err)
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("ingestion: %s is not valid UTF-8: %w", path, rag.ErrInvalidArgument)
	}
	decoded, err := unicode.UTF8BOM.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("ingestion: cannot decode %s: %w", path, err)
	}
	return string(decoded), nil
}
