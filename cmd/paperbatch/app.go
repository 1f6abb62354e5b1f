package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackzampolin/paperbatch/internal/batch"
	"github.com/jackzampolin/paperbatch/internal/config"
	"github.com/jackzampolin/paperbatch/internal/home"
	"github.com/jackzampolin/paperbatch/internal/ingest"
	"github.com/jackzampolin/paperbatch/internal/logging"
	"github.com/jackzampolin/paperbatch/internal/pipeline"
	"github.com/jackzampolin/paperbatch/internal/progress"
	"github.com/jackzampolin/paperbatch/internal/prompts"
	"github.com/jackzampolin/paperbatch/internal/providers"
	"github.com/jackzampolin/paperbatch/internal/schema"
)

// app holds everything a command needs. Fields beyond home and config are
// only populated by the loaders that need them.
type app struct {
	home   *home.Dir
	cfgMgr *config.Manager
	cfg    *config.Config

	logs     *logging.Runtime
	logger   *slog.Logger
	previous *slog.Logger

	scanner  *ingest.Scanner
	store    progress.Store
	template prompts.Template
	service  *providers.RateLimitedService
	orch     *batch.Orchestrator
}

// loadApp reads configuration and resolves the project layout.
func loadApp() (*app, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	cfgMgr, err := config.NewManager(cfgFile, h.Path())
	if err != nil {
		return nil, err
	}
	cfg := cfgMgr.Get()
	a := &app{
		home:   h.WithPaths(cfg.HomePaths()),
		cfgMgr: cfgMgr,
		cfg:    cfg,
		logger: slog.Default(),
	}
	return a, nil
}

// level is the effective log level: the flag wins over the config file.
func (a *app) level() string {
	if logLevel != "" {
		return logLevel
	}
	return a.cfg.Log.Level
}

// setupLogging installs the process logger. The per-run file is named after scope.
func (a *app) setupLogging(scope string) error {
	opts := logging.Options{Level: a.level(), Scope: scope}
	if a.cfg.Log.File {
		opts.Dir = a.home.LogsDir()
	}
	rt, err := logging.Setup(opts)
	if err != nil {
		return err
	}
	a.logs = rt
	a.logger = rt.Logger
	a.previous = slog.Default()
	slog.SetDefault(rt.Logger)
	a.cfgMgr.SetLogger(rt.Logger)
	return nil
}

func (a *app) newScanner() *ingest.Scanner {
	return &ingest.Scanner{
		Root:         a.home.InputDir(),
		Extensions:   a.cfg.Batch.Extensions,
		Allowed:      a.cfg.CategoryDescriptions(),
		SequenceMode: a.cfg.Batch.SequenceMode,
		LedgerDir:    a.home.LedgerDir(),
		Logger:       a.logger,
	}
}

func (a *app) layout() progress.Layout {
	return progress.NewLayout(a.home.OutputDir())
}

// openStore opens the configured progress backend.
func (a *app) openStore() error {
	store, err := progress.Open(a.cfg.Batch.ProgressBackend, a.layout(), a.home.ProgressDBPath())
	if err != nil {
		return fmt.Errorf("open progress store: %w", err)
	}
	a.store = store
	return nil
}

// loadRunner wires the full processing stack for a run over scope.
func (a *app) loadRunner(scope string) error {
	if err := a.setupLogging(scope); err != nil {
		return err
	}
	if err := a.home.EnsureExists(); err != nil {
		return err
	}

	a.scanner = a.newScanner()
	if err := a.openStore(); err != nil {
		return err
	}

	tmpl, fromFile, err := prompts.Load(a.home.Resolve(a.cfg.Paths.Template))
	if err != nil {
		return err
	}
	if !fromFile {
		a.logger.Warn("template file not found, using built-in template",
			"path", a.home.Resolve(a.cfg.Paths.Template))
	}
	a.template = tmpl

	validator, err := schema.LoadValidator(a.home.Resolve(a.cfg.Paths.Schema), a.cfg.Validation.RequiredFields)
	if err != nil {
		return err
	}

	reg := providers.NewRegistry()
	reg.SetLogger(a.logger)
	p := a.cfg.Provider
	svc, err := reg.New(providers.ServiceConfig{
		Type:        p.Type,
		Model:       p.Model,
		APIKey:      a.cfg.ResolvedAPIKey(),
		BaseURL:     p.BaseURL,
		Timeout:     p.Timeout,
		MaxRetries:  p.SDKRetries,
		Temperature: p.Temperature,
		JSONMode:    p.JSONMode,
	})
	if err != nil {
		return err
	}
	a.service = providers.WithRateLimit(svc, providers.NewRateLimiter(p.RateLimit))

	b := a.cfg.Batch
	proc, err := pipeline.New(pipeline.Config{
		Service:        a.service,
		Template:       tmpl,
		Validator:      validator,
		Store:          a.store,
		Layout:         a.layout(),
		RejectedDir:    a.home.RejectedDir(),
		MaxAttempts:    b.MaxAttempts,
		RetryDelay:     b.RetryDelay,
		CallTimeout:    b.CallTimeout,
		CleanupTimeout: b.CleanupTimeout,
		MaxPages:       b.MaxPages,
		Logger:         a.logger,
	})
	if err != nil {
		return err
	}

	a.orch, err = batch.New(batch.Config{
		Scanner:      a.scanner,
		Processor:    proc,
		Store:        a.store,
		LockPath:     a.home.LockPath(),
		SummariesDir: a.home.SummariesDir(),
		Concurrency:  b.Concurrency,
		Service:      svc.Name() + "/" + p.Model,
		TemplateHash: tmpl.ShortHash(),
		Logger:       a.logger,
	})
	if err != nil {
		return err
	}

	a.watch()
	a.logger.Info("paperbatch ready",
		"input", a.home.InputDir(),
		"output", a.home.OutputDir(),
		"service", p.Type,
		"model", p.Model,
		"template", tmpl.Source,
		"progress", b.ProgressBackend)
	return nil
}

// watch applies rate and log level edits to a running batch.
func (a *app) watch() {
	if a.cfgMgr.ConfigFile() == "" {
		return
	}
	a.cfgMgr.OnChange(func(cfg *config.Config) {
		if a.service != nil {
			a.service.Limiter().SetRate(cfg.Provider.RateLimit)
		}
		if a.logs != nil && logLevel == "" {
			a.logs.Level.Set(logging.ParseLevel(cfg.Log.Level))
		}
		a.logger.Info("applied config change",
			"rate_limit", cfg.Provider.RateLimit, "log_level", cfg.Log.Level)
	})
	a.cfgMgr.WatchConfig()
}

// logLimiter records how much the shared request budget throttled the run.
func (a *app) logLimiter() {
	if a.service == nil {
		return
	}
	st := a.service.Limiter().Status()
	attrs := []any{
		"requests", st.TotalConsumed,
		"waited", st.TotalWaited.Round(time.Millisecond),
		"requests_per_minute", st.RequestsPerMinute,
	}
	if !st.Last429Time.IsZero() {
		attrs = append(attrs, "last_429", st.Last429Time.Format(time.RFC3339))
	}
	a.logger.Info("rate limiter", attrs...)
}

// Close releases the store and the log file.
func (a *app) Close() {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.logs != nil {
		if a.previous != nil {
			slog.SetDefault(a.previous)
		}
		errs = append(errs, a.logs.Close())
	}
	if err := errors.Join(errs...); err != nil {
		fmt.Fprintln(os.Stderr, "close:", err)
	}
}
