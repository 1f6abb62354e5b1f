// Package logging builds the process logger: a console handler plus an
// optional per-run log file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Options configure Setup.
type Options struct {
	Level   string
	Console io.Writer // Defaults to os.Stderr

	// Dir receives processing_<scope>_<timestamp>.log. Empty disables the file.
	Dir   string
	Scope string

	Now func() time.Time
}

// Runtime is a configured logger and the resources behind it.
type Runtime struct {
	Logger *slog.Logger

	// Level can be changed while running, e.g. on config reload.
	Level *slog.LevelVar

	// FilePath is the per-run log file, empty when disabled.
	FilePath string

	file *os.File
}

// Close flushes and closes the log file.
func (r *Runtime) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// ParseLevel maps a level name to a slog level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FileName returns the per-run log file name for a scope.
func FileName(scope string, at time.Time) string {
	if scope == "" {
		scope = "all"
	}
	return fmt.Sprintf("processing_%s_%s.log", scope, at.Format("20060102_150405"))
}

// Setup builds the logger described by opts.
func Setup(opts Options) (*Runtime, error) {
	level := new(slog.LevelVar)
	level.Set(ParseLevel(opts.Level))

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	rt := &Runtime{Level: level}
	handlers := []slog.Handler{slog.NewTextHandler(console, handlerOpts)}

	if opts.Dir != "" {
		now := time.Now
		if opts.Now != nil {
			now = opts.Now
		}
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		path := filepath.Join(opts.Dir, FileName(opts.Scope, now()))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		rt.file = f
		rt.FilePath = path
		handlers = append(handlers, slog.NewTextHandler(f, handlerOpts))
	}

	rt.Logger = slog.New(Tee(handlers...))
	return rt, nil
}
