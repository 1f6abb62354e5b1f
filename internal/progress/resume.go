package progress

import (
	"context"
	"fmt"

	"github.com/jackzampolin/paperbatch/internal/ingest"
	"github.com/jackzampolin/paperbatch/internal/item"
)

// ResumePolicy decides which items of a manifest still need processing.
type ResumePolicy struct {
	// StartFrom skips every item with a lower sequence. Values <= 1 disable it.
	StartFrom int

	// Force reprocesses items even when the store reports them complete.
	Force bool
}

// Selection splits a manifest into items to process and items to skip, both
// in sequence order.
type Selection struct {
	Pending []item.WorkItem
	Skipped []item.WorkItem
}

// NextPending applies policy to a manifest.
func NextPending(ctx context.Context, store Store, m *ingest.Manifest, policy ResumePolicy) (Selection, error) {
	var sel Selection
	for _, it := range m.Items {
		if policy.StartFrom > 1 && it.Sequence < policy.StartFrom {
			sel.Skipped = append(sel.Skipped, it)
			continue
		}
		if !policy.Force {
			done, err := store.IsComplete(ctx, it.ID())
			if err != nil {
				return Selection{}, fmt.Errorf("check progress of %s: %w", it.ID(), err)
			}
			if done {
				sel.Skipped = append(sel.Skipped, it)
				continue
			}
		}
		sel.Pending = append(sel.Pending, it)
	}
	return sel, nil
}
