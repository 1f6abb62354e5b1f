// Package progress records which items have completed so later runs can
// skip them.
package progress

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/jackzampolin/paperbatch/internal/item"
)

// Backends.
const (
	BackendFS     = "fs"
	BackendSQLite = "sqlite"
)

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown progress backend")

// Store answers whether an item has completed. Implementations must be safe
// for concurrent use.
type Store interface {
	IsComplete(ctx context.Context, itemID string) (bool, error)
	MarkComplete(ctx context.Context, itemID, artifactPath string) error
	Close() error
}

// Layout owns the artifact naming convention: <root>/<category>/<item_id><ext>.
type Layout struct {
	OutputRoot string
	Extension  string
}

// NewLayout returns a layout writing .json artifacts under root.
func NewLayout(root string) Layout {
	return Layout{OutputRoot: root, Extension: ".json"}
}

func (l Layout) ext() string {
	if l.Extension == "" {
		return ".json"
	}
	return l.Extension
}

// CategoryDir returns the output directory of a category.
func (l Layout) CategoryDir(category string) string {
	return filepath.Join(l.OutputRoot, category)
}

// ArtifactPath returns where the artifact of an item is written.
func (l Layout) ArtifactPath(category, itemID string) string {
	return filepath.Join(l.CategoryDir(category), itemID+l.ext())
}

// PathForID derives the artifact path from an item id alone.
func (l Layout) PathForID(itemID string) (string, error) {
	category, _, err := item.ParseID(itemID)
	if err != nil {
		return "", err
	}
	return l.ArtifactPath(category, itemID), nil
}

// Open returns the store for a backend.
func Open(backend string, layout Layout, dbPath string) (Store, error) {
	switch backend {
	case "", BackendFS:
		return NewFSStore(layout), nil
	case BackendSQLite:
		return OpenSQLite(dbPath, layout)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
