// Package item defines the unit of work processed by a batch run: one source
// document within a category, its lifecycle state and its final outcome.
package item

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// State is a position in the per-item lifecycle.
type State string

const (
	StateDiscovered State = "discovered"
	StateQueued     State = "queued"
	StateUploading  State = "uploading"
	StateAnalyzing  State = "analyzing"
	StateValidating State = "validating"
	StatePersisting State = "persisting"
	StateCleaningUp State = "cleaning_up"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// lifecycle lists the forward path. Each state may only advance to the next one.
var lifecycle = []State{
	StateDiscovered,
	StateQueued,
	StateUploading,
	StateAnalyzing,
	StateValidating,
	StatePersisting,
	StateCleaningUp,
	StateCompleted,
}

// Terminal reports whether no further forward transition exists.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

func (s State) index() int {
	for i, st := range lifecycle {
		if st == s {
			return i
		}
	}
	return -1
}

// WorkItem is one document within a category.
type WorkItem struct {
	Category   string     `json:"category"`
	Sequence   int        `json:"sequence"`
	SourcePath string     `json:"source_path"`
	State      State      `json:"state"`
	Err        *ItemError `json:"error,omitempty"`
	Attempts   int        `json:"attempts"`
}

// New returns a discovered work item.
func New(category string, sequence int, sourcePath string) WorkItem {
	return WorkItem{
		Category:   category,
		Sequence:   sequence,
		SourcePath: sourcePath,
		State:      StateDiscovered,
	}
}

// ID returns the item identifier, e.g. "ML-007".
func (w *WorkItem) ID() string {
	return FormatID(w.Category, w.Sequence)
}

// Transition advances the item to next. Forward moves must follow the
// lifecycle one step at a time; any non-terminal state may move to failed.
func (w *WorkItem) Transition(next State) error {
	if w.State.Terminal() {
		return fmt.Errorf("item %s: cannot leave terminal state %s", w.ID(), w.State)
	}
	if next == StateFailed {
		w.State = next
		return nil
	}
	cur, nxt := w.State.index(), next.index()
	if cur < 0 || nxt != cur+1 {
		return fmt.Errorf("item %s: invalid transition %s -> %s", w.ID(), w.State, next)
	}
	if next == StateUploading {
		w.Attempts++
	}
	w.State = next
	w.Err = nil
	return nil
}

// Fail moves the item to failed and records the cause.
func (w *WorkItem) Fail(err *ItemError) {
	w.State = StateFailed
	w.Err = err
}

// Retry resets a failed item to queued. It is the only backward edge.
func (w *WorkItem) Retry() error {
	if w.State != StateFailed {
		return fmt.Errorf("item %s: retry requires failed state, got %s", w.ID(), w.State)
	}
	w.State = StateQueued
	w.Err = nil
	return nil
}

// FormatID builds the identifier for a category and sequence number.
func FormatID(category string, sequence int) string {
	return fmt.Sprintf("%s-%03d", category, sequence)
}

// ParseID splits an identifier produced by FormatID. Categories may contain
// dashes, so the sequence is taken from the last segment.
func ParseID(id string) (category string, sequence int, err error) {
	i := strings.LastIndex(id, "-")
	if i <= 0 || i == len(id)-1 {
		return "", 0, fmt.Errorf("malformed item id %q", id)
	}
	seq, err := strconv.Atoi(id[i+1:])
	if err != nil || seq <= 0 {
		return "", 0, fmt.Errorf("malformed item id %q", id)
	}
	return id[:i], seq, nil
}

// Usage is the inference accounting attached to an outcome.
type Usage struct {
	PromptTokens     int64  `json:"prompt_tokens,omitempty"`
	CompletionTokens int64  `json:"completion_tokens,omitempty"`
	TotalTokens      int64  `json:"total_tokens,omitempty"`
	Model            string `json:"model,omitempty"`
}

// Outcome is the result of processing one item. State is either
// StateCompleted or StateFailed.
type Outcome struct {
	ItemID       string        `json:"item_id"`
	Category     string        `json:"category"`
	Sequence     int           `json:"sequence"`
	SourcePath   string        `json:"source_path"`
	State        State         `json:"state"`
	ArtifactPath string        `json:"artifact_path,omitempty"`
	Err          *ItemError    `json:"error,omitempty"`
	Warnings     []string      `json:"warnings,omitempty"`
	Attempts     int           `json:"attempts"`
	Duration     time.Duration `json:"duration"`
	Usage        Usage         `json:"usage,omitempty"`
}

// Succeeded reports whether the item completed.
func (o Outcome) Succeeded() bool {
	return o.State == StateCompleted
}
