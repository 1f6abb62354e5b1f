// Package ingest discovers categories and the documents inside them, and
// assigns every document a stable per-category sequence number.
package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackzampolin/paperbatch/internal/item"
)

// Sequence modes.
const (
	// SequenceListing recomputes sequences from the sorted listing on every scan.
	SequenceListing = "listing"

	// SequenceLedger keeps a per-category ledger so adding or removing files
	// never renumbers existing documents.
	SequenceLedger = "ledger"
)

// ErrCategoryNotFound is returned when a category directory does not exist.
var ErrCategoryNotFound = errors.New("category not found")

// DefaultExtensions are the eligible document extensions.
var DefaultExtensions = []string{".pdf"}

// CategoryInfo describes a discovered category.
type CategoryInfo struct {
	Name        string `json:"name"`
	Dir         string `json:"dir"`
	Description string `json:"description,omitempty"`
	Documents   int    `json:"documents"`
}

// CategoryError records a category that could not be scanned.
type CategoryError struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

func (e CategoryError) Error() string {
	return fmt.Sprintf("category %s: %s", e.Category, e.Message)
}

// Manifest is the ordered list of documents in one category.
type Manifest struct {
	Name  string          `json:"name"`
	Dir   string          `json:"dir"`
	Items []item.WorkItem `json:"items"`
}

// Discovery is the result of scanning several categories.
type Discovery struct {
	Root      string          `json:"root"`
	Manifests []*Manifest     `json:"manifests"`
	Errors    []CategoryError `json:"errors,omitempty"`
}

// Total returns the number of documents across all manifests.
func (d *Discovery) Total() int {
	n := 0
	for _, m := range d.Manifests {
		n += len(m.Items)
	}
	return n
}

// Scanner walks an input root laid out as <root>/<category>/<document>.
type Scanner struct {
	Root       string
	Extensions []string

	// Allowed restricts discovery to these categories, mapped to descriptions.
	// Empty means every sub-directory is a candidate.
	Allowed map[string]string

	SequenceMode string
	LedgerDir    string

	// ReadOnly previews ledger assignments for new files without saving them.
	// Only a scan made under the run lock may extend the ledger.
	ReadOnly bool

	Logger *slog.Logger
}

func (s *Scanner) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Scanner) extensions() []string {
	if len(s.Extensions) == 0 {
		return DefaultExtensions
	}
	return s.Extensions
}

// eligible reports whether a file name is a document we process.
func (s *Scanner) eligible(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range s.extensions() {
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

// ListCategories returns the categories holding at least one eligible document,
// sorted by name. Unreadable categories are reported, not fatal; an unreadable
// root is.
func (s *Scanner) ListCategories() ([]CategoryInfo, []CategoryError, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read input root %s: %w", s.Root, err)
	}

	var infos []CategoryInfo
	var catErrs []CategoryError
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || !isDir(s.Root, e) {
			continue
		}
		if len(s.Allowed) > 0 {
			if _, ok := s.Allowed[name]; !ok {
				continue
			}
		}

		files, err := s.listDocuments(filepath.Join(s.Root, name))
		if err != nil {
			catErrs = append(catErrs, CategoryError{Category: name, Message: err.Error()})
			continue
		}
		if len(files) == 0 {
			continue
		}
		infos = append(infos, CategoryInfo{
			Name:        name,
			Dir:         filepath.Join(s.Root, name),
			Description: s.Allowed[name],
			Documents:   len(files),
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, catErrs, nil
}

// isDir follows symlinks so linked category directories are discovered.
func isDir(root string, e os.DirEntry) bool {
	if e.IsDir() {
		return true
	}
	if e.Type()&os.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(filepath.Join(root, e.Name()))
	return err == nil && info.IsDir()
}

// listDocuments returns eligible file names in dir, in processing order.
func (s *Scanner) listDocuments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !s.eligible(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	SortNames(names)
	return names, nil
}

// SortNames orders file names case-insensitively, breaking ties on the exact
// name so the order is total.
func SortNames(names []string) {
	sort.Slice(names, func(i, j int) bool {
		a, b := strings.ToLower(names[i]), strings.ToLower(names[j])
		if a != b {
			return a < b
		}
		return names[i] < names[j]
	})
}

// ValidateCategoryName rejects names that are not a single visible directory.
func ValidateCategoryName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return errors.New("category name is empty")
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("category %q must not contain path separators", name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("category %q must not be hidden", name)
	}
	return nil
}

// ScanCategory builds the manifest for one category.
func (s *Scanner) ScanCategory(name string) (*Manifest, error) {
	if err := ValidateCategoryName(name); err != nil {
		return nil, err
	}
	if len(s.Allowed) > 0 {
		if _, ok := s.Allowed[name]; !ok {
			return nil, fmt.Errorf("%w: %q is not a configured category", ErrCategoryNotFound, name)
		}
	}

	dir := filepath.Join(s.Root, name)
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrCategoryNotFound, dir)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	names, err := s.listDocuments(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	sequences, err := s.assignSequences(name, names)
	if err != nil {
		return nil, err
	}

	m := &Manifest{Name: name, Dir: dir, Items: make([]item.WorkItem, 0, len(names))}
	for _, n := range names {
		m.Items = append(m.Items, item.New(name, sequences[n], filepath.Join(dir, n)))
	}
	sort.SliceStable(m.Items, func(i, j int) bool { return m.Items[i].Sequence < m.Items[j].Sequence })

	s.logger().Debug("scanned category", "category", name, "documents", len(m.Items), "mode", s.mode())
	return m, nil
}

func (s *Scanner) mode() string {
	if s.SequenceMode == "" {
		return SequenceListing
	}
	return s.SequenceMode
}

func (s *Scanner) assignSequences(category string, names []string) (map[string]int, error) {
	switch s.mode() {
	case SequenceListing:
		seq := make(map[string]int, len(names))
		for i, n := range names {
			seq[n] = i + 1
		}
		return seq, nil
	case SequenceLedger:
		if s.LedgerDir == "" {
			return nil, errors.New("ledger sequence mode requires a ledger directory")
		}
		ledger, err := LoadLedger(s.LedgerDir, category)
		if err != nil {
			return nil, err
		}
		seq, added := ledger.Assign(names)
		if added > 0 && !s.ReadOnly {
			if err := ledger.Save(); err != nil {
				return nil, err
			}
			s.logger().Info("assigned new sequence numbers", "category", category, "added", added)
		}
		return seq, nil
	default:
		return nil, fmt.Errorf("unknown sequence mode %q", s.SequenceMode)
	}
}

// Discover scans the named categories, or every category when names is empty.
// A category that cannot be scanned is recorded and skipped.
func (s *Scanner) Discover(names []string) (*Discovery, error) {
	d := &Discovery{Root: s.Root}

	if len(names) == 0 {
		infos, catErrs, err := s.ListCategories()
		if err != nil {
			return nil, err
		}
		d.Errors = append(d.Errors, catErrs...)
		for _, info := range infos {
			names = append(names, info.Name)
		}
	} else if _, err := os.Stat(s.Root); err != nil {
		return nil, fmt.Errorf("failed to read input root %s: %w", s.Root, err)
	}

	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true

		m, err := s.ScanCategory(name)
		if err != nil {
			s.logger().Warn("skipping category", "category", name, "error", err)
			d.Errors = append(d.Errors, CategoryError{Category: name, Message: err.Error()})
			continue
		}
		d.Manifests = append(d.Manifests, m)
	}

	return d, nil
}
