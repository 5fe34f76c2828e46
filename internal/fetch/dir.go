// Package fetch provides chunk fetcher implementations: a local
// export directory, an HTTP recording-service client, and a SQLite
// caching wrapper.
package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/tapedeck-io/tapedeck/internal/assemble"
)

// Dir serves chunks from a local export directory, one file per
// locator. Useful for replaying sessions downloaded out of band.
type Dir struct {
	root string
}

// NewDir creates a directory fetcher rooted at path.
func NewDir(path string) *Dir {
	return &Dir{root: path}
}

// ListSources returns one locator per regular file in the directory,
// sorted by name. File-name ordering is the caller's contract for
// chunk ordering, matching how exports are written.
func (d *Dir) ListSources(ctx context.Context, sessionID string) ([]assemble.Locator, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("list chunk directory: %w", err)
	}

	var locators []assemble.Locator
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		locators = append(locators, assemble.Locator{Start: e.Name()})
	}
	sort.Slice(locators, func(i, j int) bool {
		return locators[i].Start < locators[j].Start
	})
	return locators, nil
}

// FetchChunk reads the file named by the locator's start key. The name
// is flattened to its base to keep lookups inside the root.
func (d *Dir) FetchChunk(ctx context.Context, loc assemble.Locator) ([]byte, error) {
	raw, err := os.ReadFile(filepath.Join(d.root, filepath.Base(loc.Start)))
	if err != nil {
		return nil, fmt.Errorf("read chunk %s: %w", loc.Key(), err)
	}
	return raw, nil
}
