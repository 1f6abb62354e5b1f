package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/moby/sys/atomicwriter"
)

// Ledger is the append-only filename to sequence mapping of one category.
// Numbers are never reused, including those of removed files.
type Ledger struct {
	Category  string         `json:"category"`
	Sequences map[string]int `json:"sequences"`
	UpdatedAt time.Time      `json:"updated_at"`

	path string
}

// LedgerPath returns where the ledger of a category is stored.
func LedgerPath(dir, category string) string {
	return filepath.Join(dir, category+".json")
}

// LoadLedger reads the ledger of a category. A missing ledger is empty.
func LoadLedger(dir, category string) (*Ledger, error) {
	l := &Ledger{
		Category:  category,
		Sequences: map[string]int{},
		path:      LedgerPath(dir, category),
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return l, nil
		}
		return nil, fmt.Errorf("failed to read ledger %s: %w", l.path, err)
	}
	if err := json.Unmarshal(data, l); err != nil {
		return nil, fmt.Errorf("failed to parse ledger %s: %w", l.path, err)
	}
	if l.Sequences == nil {
		l.Sequences = map[string]int{}
	}
	return l, nil
}

// Max returns the highest sequence ever assigned.
func (l *Ledger) Max() int {
	highest := 0
	for _, seq := range l.Sequences {
		if seq > highest {
			highest = seq
		}
	}
	return highest
}

// Assign returns sequences for names, which must already be in listing order.
// Unknown names get the next numbers after the current maximum.
func (l *Ledger) Assign(names []string) (map[string]int, int) {
	out := make(map[string]int, len(names))
	next := l.Max() + 1
	added := 0
	for _, n := range names {
		seq, ok := l.Sequences[n]
		if !ok {
			seq = next
			next++
			l.Sequences[n] = seq
			added++
		}
		out[n] = seq
	}
	return out, added
}

// Save writes the ledger atomically.
func (l *Ledger) Save() error {
	l.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create ledger dir: %w", err)
	}
	if err := atomicwriter.WriteFile(l.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write ledger %s: %w", l.path, err)
	}
	return nil
}
