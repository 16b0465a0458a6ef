package index

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked is returned by [Lock] when another build holds the index lock.
var ErrLocked = errors.New("index: another build is in progress")

// Lock takes the exclusive build lock for indexDir, creating the directory if
// needed. It fails fast with [ErrLocked] instead of waiting. The returned
// func releases the lock.
func Lock(indexDir string) (func(), error) {
	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		return func() {}, fmt.Errorf("index: cannot create index dir %s: %w", indexDir, err)
	}
	path := filepath.Join(indexDir, lockFile)
	l := flock.New(path)
	locked, err := l.TryLock()
	if err != nil {
		return func() {}, fmt.Errorf("index: cannot acquire lock %s: %w", path, err)
	}
	if !locked {
		return func() {}, fmt.Errorf("%w (lock: %s)", ErrLocked, path)
	}
	return func() { _ = l.Unlock() }, nil
}
