// Package pipeline drives a single work item through upload, analysis,
// validation, persistence and remote cleanup.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/moby/sys/atomicwriter"

	"github.com/jackzampolin/paperbatch/internal/ingest"
	"github.com/jackzampolin/paperbatch/internal/item"
	"github.com/jackzampolin/paperbatch/internal/progress"
	"github.com/jackzampolin/paperbatch/internal/prompts"
	"github.com/jackzampolin/paperbatch/internal/providers"
	"github.com/jackzampolin/paperbatch/internal/schema"
)

// Config configures a Processor.
type Config struct {
	Service   providers.InferenceService
	Template  prompts.Template
	Validator *schema.Validator
	Store     progress.Store
	Layout    progress.Layout

	// RejectedDir receives the raw response of items that fail validation.
	// Empty disables it.
	RejectedDir string

	MaxAttempts    int           // Total attempts per item (default: 2)
	RetryDelay     time.Duration // Base delay between attempts
	CallTimeout    time.Duration // Per remote call (default: 5m)
	CleanupTimeout time.Duration // Remote delete (default: 30s)
	MaxPages       int           // 0 disables the page guard

	Logger *slog.Logger
}

// Processor runs the per-item lifecycle. It is safe for concurrent use on
// distinct items.
type Processor struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a processor.
func New(cfg Config) (*Processor, error) {
	if cfg.Service == nil {
		return nil, errors.New("pipeline: inference service is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("pipeline: progress store is required")
	}
	if cfg.Layout.OutputRoot == "" {
		return nil, errors.New("pipeline: output root is required")
	}
	if cfg.Validator == nil {
		v, err := schema.NewValidator(schema.Options{})
		if err != nil {
			return nil, err
		}
		cfg.Validator = v
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Minute
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = 30 * time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Processor{
		cfg:    cfg,
		logger: logger.With("service", cfg.Service.Name()),
	}, nil
}

// Layout returns the artifact layout the processor writes to.
func (p *Processor) Layout() progress.Layout {
	return p.cfg.Layout
}

// run carries what accumulates across the attempts of one item.
type run struct {
	logger   *slog.Logger
	artifact string
	warnings []string
	usage    item.Usage
}

func (r *run) warn(w *item.ItemError) {
	r.warnings = append(r.warnings, w.Error())
	r.logger.Warn("item warning", "kind", w.Kind, "error", w.Message)
}

// Process runs the item to completed or failed. Every failure is captured in
// the returned outcome.
func (p *Processor) Process(ctx context.Context, it *item.WorkItem) (out item.Outcome) {
	start := time.Now()
	r := &run{logger: p.logger.With("item", it.ID(), "category", it.Category)}

	defer func() {
		if rec := recover(); rec != nil {
			it.Fail(&item.ItemError{Kind: item.KindIO, Message: fmt.Sprintf("panic: %v", rec)})
			r.logger.Error("item panicked", "panic", rec)
		}
		out = p.outcome(it, r, time.Since(start))
	}()

	if it.State == item.StateDiscovered {
		if err := it.Transition(item.StateQueued); err != nil {
			it.Fail(item.Errorf(item.KindIO, err, "queue item"))
			return
		}
	}

	_ = retry.Do(
		func() error {
			if it.State == item.StateFailed {
				if err := it.Retry(); err != nil {
					return retry.Unrecoverable(err)
				}
			}
			if ie := p.attempt(ctx, it, r); ie != nil {
				it.Fail(ie)
				return ie
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(p.cfg.MaxAttempts)),
		retry.Delay(p.cfg.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return item.AsItemError(err, item.KindIO).Retryable()
		}),
		retry.OnRetry(func(n uint, err error) {
			if int(n)+1 < p.cfg.MaxAttempts {
				r.logger.Warn("attempt failed, retrying", "attempt", n+1, "error", err)
			}
		}),
	)

	if !it.State.Terminal() {
		cause := ctx.Err()
		if cause == nil {
			cause = errors.New("processing stopped")
		}
		it.Fail(item.Errorf(item.KindAnalysis, cause, "item interrupted in %s", it.State))
	}
	return
}

func (p *Processor) outcome(it *item.WorkItem, r *run, elapsed time.Duration) item.Outcome {
	out := item.Outcome{
		ItemID:     it.ID(),
		Category:   it.Category,
		Sequence:   it.Sequence,
		SourcePath: it.SourcePath,
		State:      it.State,
		Err:        it.Err,
		Warnings:   r.warnings,
		Attempts:   it.Attempts,
		Duration:   elapsed,
		Usage:      r.usage,
	}
	if it.State == item.StateCompleted {
		out.ArtifactPath = r.artifact
		r.logger.Info("item completed", "attempts", it.Attempts, "duration", elapsed.Round(time.Millisecond))
	} else {
		out.State = item.StateFailed
		r.logger.Error("item failed", "attempts", it.Attempts, "error", it.Err)
	}
	return out
}

// attempt runs the lifecycle once. A handle uploaded during a failed attempt
// is still deleted.
func (p *Processor) attempt(ctx context.Context, it *item.WorkItem, r *run) *item.ItemError {
	if err := it.Transition(item.StateUploading); err != nil {
		return item.Errorf(item.KindIO, err, "lifecycle")
	}
	if ie := p.checkSource(it); ie != nil {
		return ie
	}

	handle, err := p.upload(ctx, it)
	if err != nil {
		ie := item.Errorf(item.KindUpload, err, "upload %s", filepath.Base(it.SourcePath))
		ie.Permanent = providers.IsPermanent(err)
		return ie
	}
	cleaned := false
	defer func() {
		if !cleaned {
			p.cleanup(ctx, handle, r)
		}
	}()

	if err := it.Transition(item.StateAnalyzing); err != nil {
		return item.Errorf(item.KindIO, err, "lifecycle")
	}
	res, err := p.analyze(ctx, handle, it)
	if err != nil {
		ie := item.Errorf(item.KindAnalysis, err, "analyze %s", it.ID())
		ie.Permanent = providers.IsPermanent(err)
		return ie
	}
	r.usage.PromptTokens += res.PromptTokens
	r.usage.CompletionTokens += res.CompletionTokens
	r.usage.TotalTokens += res.TotalTokens
	if res.ModelUsed != "" {
		r.usage.Model = res.ModelUsed
	}

	if err := it.Transition(item.StateValidating); err != nil {
		return item.Errorf(item.KindIO, err, "lifecycle")
	}
	doc, err := p.cfg.Validator.Check(res.Content)
	if err != nil {
		p.reject(it, res.Content, r)
		ie := item.Errorf(item.KindSchema, err, "invalid response")
		ie.Raw = res.Content
		return ie
	}

	if err := it.Transition(item.StatePersisting); err != nil {
		return item.Errorf(item.KindIO, err, "lifecycle")
	}
	path := p.cfg.Layout.ArtifactPath(it.Category, it.ID())
	if err := writeArtifact(path, doc); err != nil {
		return item.Errorf(item.KindIO, err, "persist %s", it.ID())
	}
	r.artifact = path
	if err := p.cfg.Store.MarkComplete(context.WithoutCancel(ctx), it.ID(), path); err != nil {
		r.warn(item.Errorf(item.KindIO, err, "record completion"))
	}

	if err := it.Transition(item.StateCleaningUp); err != nil {
		return item.Errorf(item.KindIO, err, "lifecycle")
	}
	cleaned = true
	p.cleanup(ctx, handle, r)

	if err := it.Transition(item.StateCompleted); err != nil {
		return item.Errorf(item.KindIO, err, "lifecycle")
	}
	return nil
}

// checkSource rejects missing documents and, when a page limit is set,
// documents over it. Neither can be fixed by retrying.
func (p *Processor) checkSource(it *item.WorkItem) *item.ItemError {
	if _, err := os.Stat(it.SourcePath); err != nil {
		ie := item.Errorf(item.KindUpload, err, "source unavailable")
		ie.Permanent = true
		return ie
	}
	if p.cfg.MaxPages <= 0 || !strings.EqualFold(filepath.Ext(it.SourcePath), ".pdf") {
		return nil
	}

	pages, err := ingest.PageCount(it.SourcePath)
	if err != nil {
		ie := item.Errorf(item.KindUpload, err, "read page count")
		ie.Permanent = true
		return ie
	}
	if pages > p.cfg.MaxPages {
		ie := item.Errorf(item.KindUpload, nil, "document has %d pages, limit is %d", pages, p.cfg.MaxPages)
		ie.Permanent = true
		return ie
	}
	return nil
}

func (p *Processor) upload(ctx context.Context, it *item.WorkItem) (providers.Handle, error) {
	cctx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()
	return p.cfg.Service.Upload(cctx, providers.Document{Path: it.SourcePath, ItemID: it.ID()})
}

func (p *Processor) analyze(ctx context.Context, h providers.Handle, it *item.WorkItem) (*providers.AnalyzeResult, error) {
	cctx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()
	return p.cfg.Service.Analyze(cctx, h, providers.AnalyzeRequest{
		Template: p.cfg.Template.Text,
		Category: it.Category,
		Sequence: it.Sequence,
		ItemID:   it.ID(),
	})
}

// cleanup deletes the remote copy on a context that outlives cancellation of
// the run.
func (p *Processor) cleanup(ctx context.Context, h providers.Handle, r *run) {
	if h.IsZero() {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.CleanupTimeout)
	defer cancel()

	if err := p.cfg.Service.Delete(cctx, h); err != nil {
		r.warn(item.Errorf(item.KindCleanup, err, "delete remote file %s", h.ID))
		return
	}
	r.logger.Debug("remote file deleted", "file_id", h.ID)
}

// reject keeps the raw response of an invalid result for inspection.
func (p *Processor) reject(it *item.WorkItem, raw string, r *run) {
	if p.cfg.RejectedDir == "" {
		return
	}
	path := filepath.Join(p.cfg.RejectedDir, it.ID()+".txt")
	if err := os.MkdirAll(p.cfg.RejectedDir, 0o755); err != nil {
		r.logger.Warn("failed to create rejected dir", "error", err)
		return
	}
	if err := atomicwriter.WriteFile(path, []byte(raw), 0o644); err != nil {
		r.logger.Warn("failed to save rejected response", "path", path, "error", err)
		return
	}
	r.logger.Info("saved rejected response", "path", path)
}

// writeArtifact writes the pretty-printed record by temp file and rename so
// readers never observe a partial artifact.
func writeArtifact(path string, doc []byte) error {
	data, err := schema.Pretty(doc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return atomicwriter.WriteFile(path, data, 0o644)
}
