// Package batch discovers work, dispatches it to a bounded worker pool and
// aggregates the outcomes into a report.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/moby/sys/atomicwriter"

	"github.com/jackzampolin/paperbatch/internal/ingest"
	"github.com/jackzampolin/paperbatch/internal/item"
	"github.com/jackzampolin/paperbatch/internal/progress"
)

// ErrLocked is returned when another run holds the output lock.
var ErrLocked = errors.New("another run is using this output directory")

// DefaultConcurrency is the pool size when none is configured.
const DefaultConcurrency = 3

// Config wires an Orchestrator.
type Config struct {
	Scanner   *ingest.Scanner
	Processor ItemProcessor
	Store     progress.Store

	// LockPath is the run lock file. Empty disables locking.
	LockPath string

	// SummariesDir receives summary_<scope>_<timestamp>.json. Empty disables it.
	SummariesDir string

	Concurrency int

	// Provenance recorded in the report.
	Service      string
	TemplateHash string

	Logger *slog.Logger
}

// Request selects what a run processes.
type Request struct {
	// Categories to process. Empty means every discovered category.
	Categories  []string
	Concurrency int // Overrides Config.Concurrency when positive
	Resume      progress.ResumePolicy
}

// Orchestrator runs batches.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Scanner == nil {
		return nil, errors.New("batch: scanner is required")
	}
	if cfg.Processor == nil {
		return nil, errors.New("batch: processor is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("batch: progress store is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{cfg: cfg, logger: logger}, nil
}

// ScopeName names a run in log and summary file names.
func ScopeName(categories []string) string {
	switch len(categories) {
	case 0:
		return "all"
	case 1:
		return categories[0]
	default:
		return strings.Join(categories, "+")
	}
}

// Run processes the requested categories. Item failures are reported, not
// returned; the error is reserved for setup failures. Cancelling ctx stops
// dispatch while items already in flight run to completion.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Report, error) {
	if req.Resume.StartFrom < 0 {
		return nil, fmt.Errorf("invalid start-from %d", req.Resume.StartFrom)
	}
	for _, name := range req.Categories {
		if err := ingest.ValidateCategoryName(name); err != nil {
			return nil, err
		}
	}
	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = o.cfg.Concurrency
	}

	unlock, err := o.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	rep := o.newReport(ScopeName(req.Categories), concurrency)
	logger := o.logger.With("run_id", rep.RunID)

	disc, err := o.cfg.Scanner.Discover(req.Categories)
	if err != nil {
		return nil, err
	}
	rep.CategoryErrors = append(rep.CategoryErrors, disc.Errors...)

	t := newTally(rep)
	var pending []*item.WorkItem
	for _, m := range disc.Manifests {
		t.category(m.Name)
		// Progress checks are local and short; a stop only affects dispatch.
		sel, err := progress.NextPending(context.WithoutCancel(ctx), o.cfg.Store, m, req.Resume)
		if err != nil {
			logger.Warn("skipping category", "category", m.Name, "error", err)
			rep.CategoryErrors = append(rep.CategoryErrors, ingest.CategoryError{Category: m.Name, Message: err.Error()})
			continue
		}
		for _, it := range sel.Skipped {
			t.skipped(it)
		}
		for i := range sel.Pending {
			it := sel.Pending[i]
			pending = append(pending, &it)
		}
		logger.Info("category ready",
			"category", m.Name,
			"documents", len(m.Items),
			"pending", len(sel.Pending),
			"skipped", len(sel.Skipped))
	}

	logger.Info("batch starting",
		"scope", rep.Scope,
		"categories", len(disc.Manifests),
		"pending", len(pending),
		"concurrency", concurrency)

	rep.Interrupted = o.dispatch(ctx, logger, pending, concurrency, t)
	o.finish(logger, rep, t)
	return rep, nil
}

// ProcessFile processes a single document outside a category scan. An empty
// category is taken from the parent directory name; sequence defaults to 1.
func (o *Orchestrator) ProcessFile(ctx context.Context, path, category string, sequence int) (*Report, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if category == "" {
		category = filepath.Base(filepath.Dir(abs))
	}
	if err := ingest.ValidateCategoryName(category); err != nil {
		return nil, err
	}
	if sequence <= 0 {
		sequence = 1
	}

	unlock, err := o.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	rep := o.newReport(category, 1)
	logger := o.logger.With("run_id", rep.RunID)
	it := item.New(category, sequence, abs)
	logger.Info("processing single document", "item", it.ID(), "path", abs)

	t := newTally(rep)
	rep.Interrupted = o.dispatch(ctx, logger, []*item.WorkItem{&it}, 1, t)
	o.finish(logger, rep, t)
	return rep, nil
}

func (o *Orchestrator) newReport(scope string, concurrency int) *Report {
	return &Report{
		RunID:        uuid.NewString(),
		Scope:        scope,
		StartedAt:    time.Now(),
		Concurrency:  concurrency,
		Service:      o.cfg.Service,
		TemplateHash: o.cfg.TemplateHash,
	}
}

// dispatch feeds items to the pool in order and collects every outcome.
// It reports whether the run was stopped before all items were dispatched.
func (o *Orchestrator) dispatch(ctx context.Context, logger *slog.Logger, items []*item.WorkItem, workers int, t *tally) bool {
	if len(items) == 0 {
		return ctx.Err() != nil
	}
	if workers > len(items) {
		workers = len(items)
	}

	p := newPool(workers, o.cfg.Processor, logger)
	p.start(context.WithoutCancel(ctx))

	total := len(items)
	done := make(chan struct{})
	go func() {
		defer close(done)
		finished := 0
		for out := range p.results {
			finished++
			t.outcome(out)
			logger.Info("item finished",
				"item", out.ItemID,
				"state", out.State,
				"progress", fmt.Sprintf("%d/%d", finished, total))
		}
	}()

	var rest []*item.WorkItem
	for i, it := range items {
		if !p.submit(ctx.Done(), it) {
			rest = items[i:]
			break
		}
	}
	if len(rest) > 0 {
		logger.Warn("run stopped, waiting for items in flight",
			"in_flight", p.InFlight(),
			"not_dispatched", len(rest))
	}
	p.close()
	<-done

	if peak := p.Peak(); peak > t.report.PeakConcurrency {
		t.report.PeakConcurrency = peak
	}
	for _, it := range rest {
		t.notDispatched(*it)
	}
	return len(rest) > 0
}

func (o *Orchestrator) finish(logger *slog.Logger, rep *Report, t *tally) {
	t.finish()
	rep.FinishedAt = time.Now()
	rep.Elapsed = rep.FinishedAt.Sub(rep.StartedAt)
	rep.ElapsedSeconds = rep.Elapsed.Seconds()

	if o.cfg.SummariesDir != "" {
		path, err := o.writeSummary(rep)
		if err != nil {
			logger.Warn("failed to write summary", "error", err)
		} else {
			logger.Info("summary saved", "path", path)
		}
	}

	logger.Info("batch finished",
		"completed", rep.Completed,
		"failed", rep.Failed,
		"skipped", rep.Skipped,
		"not_dispatched", rep.NotDispatched,
		"interrupted", rep.Interrupted,
		"elapsed", rep.Elapsed.Round(time.Millisecond))
}

func (o *Orchestrator) writeSummary(rep *Report) (string, error) {
	if err := os.MkdirAll(o.cfg.SummariesDir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("summary_%s_%s.json", rep.Scope, rep.StartedAt.Format("20060102_150405"))
	path := filepath.Join(o.cfg.SummariesDir, name)
	rep.SummaryPath = path

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", err
	}
	if err := atomicwriter.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// lock takes the run lock without waiting.
func (o *Orchestrator) lock() (func(), error) {
	if o.cfg.LockPath == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(o.cfg.LockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	l := flock.New(o.cfg.LockPath)
	ok, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (lock %s)", ErrLocked, o.cfg.LockPath)
	}
	return func() {
		if err := l.Unlock(); err != nil {
			o.logger.Warn("failed to release run lock", "error", err)
		}
	}, nil
}
