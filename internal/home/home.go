package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// LockFileName guards an output root against concurrent runs.
	LockFileName = ".paperbatch.lock"

	// ProgressDBName is the SQLite progress database under the state dir.
	ProgressDBName = "progress.db"
)

// Paths are the configured locations, relative to the home dir unless absolute.
type Paths struct {
	Input  string
	Output string
	Logs   string
	State  string
}

// DefaultPaths mirrors the layout the tool has always used.
func DefaultPaths() Paths {
	return Paths{
		Input:  filepath.Join("data", "input"),
		Output: filepath.Join("data", "output"),
		Logs:   "logs",
		State:  ".paperbatch",
	}
}

// Dir represents a project working directory and the paths derived from it.
type Dir struct {
	path  string
	paths Paths
}

// New creates a new Dir with the given path.
// If path is empty, uses the current working directory.
func New(path string) (*Dir, error) {
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		path = wd
	}

	return &Dir{path: path, paths: DefaultPaths()}, nil
}

// WithPaths returns a copy of d using the given paths. Empty fields keep
// their defaults.
func (d *Dir) WithPaths(p Paths) *Dir {
	merged := d.paths
	if p.Input != "" {
		merged.Input = p.Input
	}
	if p.Output != "" {
		merged.Output = p.Output
	}
	if p.Logs != "" {
		merged.Logs = p.Logs
	}
	if p.State != "" {
		merged.State = p.State
	}
	return &Dir{path: d.path, paths: merged}
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// Resolve makes p absolute against the home dir. Absolute paths pass through.
func (d *Dir) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(d.path, p)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// InputDir is the root holding one sub-directory per category.
func (d *Dir) InputDir() string {
	return d.Resolve(d.paths.Input)
}

// OutputDir is the root receiving one sub-directory of artifacts per category.
func (d *Dir) OutputDir() string {
	return d.Resolve(d.paths.Output)
}

// CategoryInputDir returns the input directory of a category.
func (d *Dir) CategoryInputDir(category string) string {
	return filepath.Join(d.InputDir(), category)
}

// CategoryOutputDir returns the output directory of a category.
func (d *Dir) CategoryOutputDir(category string) string {
	return filepath.Join(d.OutputDir(), category)
}

// LogsDir holds per-run log files.
func (d *Dir) LogsDir() string {
	return d.Resolve(d.paths.Logs)
}

// SummariesDir holds the persisted report of every run.
func (d *Dir) SummariesDir() string {
	return filepath.Join(d.LogsDir(), "summaries")
}

// RejectedDir holds raw service responses that failed validation.
func (d *Dir) RejectedDir() string {
	return filepath.Join(d.LogsDir(), "rejected")
}

// StateDir holds tool state that is not an artifact.
func (d *Dir) StateDir() string {
	return d.Resolve(d.paths.State)
}

// LedgerDir holds per-category sequence ledgers.
func (d *Dir) LedgerDir() string {
	return filepath.Join(d.StateDir(), "sequences")
}

// ProgressDBPath is the SQLite progress database.
func (d *Dir) ProgressDBPath() string {
	return filepath.Join(d.StateDir(), ProgressDBName)
}

// LockPath is the run lock for the output root.
func (d *Dir) LockPath() string {
	return filepath.Join(d.OutputDir(), LockFileName)
}

// EnsureExists creates the output, logs and state directories.
func (d *Dir) EnsureExists() error {
	for _, dir := range []string{d.OutputDir(), d.SummariesDir(), d.StateDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}
