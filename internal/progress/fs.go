package progress

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// FSStore treats the finalized artifact itself as the completion marker.
// Artifacts are written by atomic rename, so a visible artifact is complete.
type FSStore struct {
	layout Layout
}

// NewFSStore creates a store over the given layout.
func NewFSStore(layout Layout) *FSStore {
	return &FSStore{layout: layout}
}

// IsComplete reports whether the artifact of itemID exists.
func (s *FSStore) IsComplete(ctx context.Context, itemID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path, err := s.layout.PathForID(itemID)
	if err != nil {
		return false, err
	}
	return artifactExists(path)
}

// MarkComplete verifies the artifact is in place. Nothing else is recorded.
func (s *FSStore) MarkComplete(ctx context.Context, itemID, artifactPath string) error {
	ok, err := artifactExists(artifactPath)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("artifact for %s missing at %s", itemID, artifactPath)
	}
	return nil
}

// Close is a no-op.
func (s *FSStore) Close() error {
	return nil
}

func artifactExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.Mode().IsRegular(), nil
}

var _ Store = (*FSStore)(nil)
