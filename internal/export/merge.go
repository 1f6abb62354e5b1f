// Package export combines per-item artifacts into merged JSON files and
// spreadsheets.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/moby/sys/atomicwriter"

	"github.com/jackzampolin/paperbatch/internal/ingest"
)

// MergedSuffix marks merged files so they are never merged again.
const MergedSuffix = "_merged.json"

// ErrNothingToMerge is returned when no category holds any artifact.
var ErrNothingToMerge = errors.New("no JSON artifacts found to merge")

// Record is one artifact.
type Record struct {
	ItemID string
	Data   json.RawMessage
}

// MergeResult describes one merged category.
type MergeResult struct {
	Category string `json:"category"`
	Path     string `json:"path"`
	Records  int    `json:"records"`
}

// MergedPath returns <dir>/<name>_merged.json.
func MergedPath(dir string) string {
	return filepath.Join(dir, filepath.Base(dir)+MergedSuffix)
}

// CollectArtifacts lists the artifact files of a category directory in
// case-folded name order. Merged files and dotfiles are excluded.
func CollectArtifacts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if !strings.EqualFold(filepath.Ext(name), ".json") || strings.HasSuffix(name, MergedSuffix) {
			continue
		}
		names = append(names, name)
	}
	ingest.SortNames(names)

	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
	}
	return paths, nil
}

// LoadCategory reads every artifact of a category directory.
func LoadCategory(dir string) ([]Record, error) {
	paths, err := CollectArtifacts(dir)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if !json.Valid(data) {
			return nil, fmt.Errorf("failed to parse %s: invalid JSON", path)
		}
		records = append(records, Record{
			ItemID: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			Data:   json.RawMessage(data),
		})
	}
	return records, nil
}

// MergeCategory writes the merged array of a category directory. It returns
// nil when the directory holds no artifacts.
func MergeCategory(dir string) (*MergeResult, error) {
	records, err := LoadCategory(dir)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	docs := make([]json.RawMessage, len(records))
	for i, r := range records {
		docs[i] = r.Data
	}
	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return nil, err
	}

	path := MergedPath(dir)
	if err := atomicwriter.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return &MergeResult{Category: filepath.Base(dir), Path: path, Records: len(records)}, nil
}

// CategoryDirs returns the visible sub-directories of root in name order.
func CategoryDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read output root %s: %w", root, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	ingest.SortNames(names)
	return names, nil
}

// MergeAll merges every category under root. A parse error aborts the merge.
func MergeAll(root string, logger *slog.Logger) ([]MergeResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	names, err := CategoryDirs(root)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no category directories found under %s", root)
	}

	var results []MergeResult
	for _, name := range names {
		res, err := MergeCategory(filepath.Join(root, name))
		if err != nil {
			return results, err
		}
		if res == nil {
			logger.Warn("no JSON files found", "category", name)
			continue
		}
		logger.Info("merged category", "category", name, "records", res.Records, "path", res.Path)
		results = append(results, *res)
	}
	if len(results) == 0 {
		return nil, ErrNothingToMerge
	}
	return results, nil
}
