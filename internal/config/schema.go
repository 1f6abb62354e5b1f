package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackzampolin/paperbatch/internal/home"
)

// Sequence modes.
const (
	SequenceListing = "listing"
	SequenceLedger  = "ledger"
)

// Progress backends.
const (
	BackendFS     = "fs"
	BackendSQLite = "sqlite"
)

// Config holds paperbatch configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Provider   ProviderCfg   `mapstructure:"provider" yaml:"provider" json:"provider"`
	Paths      PathsCfg      `mapstructure:"paths" yaml:"paths" json:"paths"`
	Batch      BatchCfg      `mapstructure:"batch" yaml:"batch" json:"batch"`
	Validation ValidationCfg `mapstructure:"validation" yaml:"validation" json:"validation"`
	Categories []CategoryCfg `mapstructure:"categories" yaml:"categories" json:"categories"`
	Log        LogCfg        `mapstructure:"log" yaml:"log" json:"log"`
}

// ProviderCfg configures the inference service.
type ProviderCfg struct {
	Type        string        `mapstructure:"type" yaml:"type" json:"type"`                   // "openai", "mock"
	Model       string        `mapstructure:"model" yaml:"model" json:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key" json:"api_key"`           // supports ${ENV_VAR} syntax
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url" json:"base_url"`
	RateLimit   float64       `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"` // requests per minute
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	SDKRetries  int           `mapstructure:"sdk_retries" yaml:"sdk_retries" json:"sdk_retries"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature" json:"temperature"`
	JSONMode    bool          `mapstructure:"json_mode" yaml:"json_mode" json:"json_mode"`
}

// PathsCfg locates inputs, outputs and state. Relative paths resolve against the home dir.
type PathsCfg struct {
	Input    string `mapstructure:"input" yaml:"input" json:"input"`
	Output   string `mapstructure:"output" yaml:"output" json:"output"`
	Logs     string `mapstructure:"logs" yaml:"logs" json:"logs"`
	State    string `mapstructure:"state" yaml:"state" json:"state"`
	Template string `mapstructure:"template" yaml:"template" json:"template"`
	Schema   string `mapstructure:"schema" yaml:"schema" json:"schema"`
}

// BatchCfg controls discovery and the processing pool.
type BatchCfg struct {
	Concurrency     int           `mapstructure:"concurrency" yaml:"concurrency" json:"concurrency"`
	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts" json:"max_attempts"`
	RetryDelay      time.Duration `mapstructure:"retry_delay" yaml:"retry_delay" json:"retry_delay"`
	CallTimeout     time.Duration `mapstructure:"call_timeout" yaml:"call_timeout" json:"call_timeout"`
	CleanupTimeout  time.Duration `mapstructure:"cleanup_timeout" yaml:"cleanup_timeout" json:"cleanup_timeout"`
	Extensions      []string      `mapstructure:"extensions" yaml:"extensions" json:"extensions"`
	SequenceMode    string        `mapstructure:"sequence_mode" yaml:"sequence_mode" json:"sequence_mode"`
	ProgressBackend string        `mapstructure:"progress_backend" yaml:"progress_backend" json:"progress_backend"`
	MaxPages        int           `mapstructure:"max_pages" yaml:"max_pages" json:"max_pages"`
}

// ValidationCfg lists structural checks applied to every response.
type ValidationCfg struct {
	RequiredFields []string `mapstructure:"required_fields" yaml:"required_fields" json:"required_fields"`
}

// CategoryCfg restricts discovery to known categories and describes them.
// A list keeps category names case-sensitive.
type CategoryCfg struct {
	Name        string `mapstructure:"name" yaml:"name" json:"name"`
	Description string `mapstructure:"description" yaml:"description" json:"description"`
}

// LogCfg configures logging.
type LogCfg struct {
	Level string `mapstructure:"level" yaml:"level" json:"level"`
	File  bool   `mapstructure:"file" yaml:"file" json:"file"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderCfg{
			Type:       "openai",
			Model:      "gpt-4o-mini",
			APIKey:     "${OPENAI_API_KEY}",
			RateLimit:  60,
			Timeout:    5 * time.Minute,
			SDKRetries: 2,
			JSONMode:   true,
		},
		Paths: PathsCfg{
			Input:    "data/input",
			Output:   "data/output",
			Logs:     "logs",
			State:    ".paperbatch",
			Template: "prompt.md",
		},
		Batch: BatchCfg{
			Concurrency:     3,
			MaxAttempts:     2,
			RetryDelay:      5 * time.Second,
			CallTimeout:     5 * time.Minute,
			CleanupTimeout:  30 * time.Second,
			Extensions:      []string{".pdf"},
			SequenceMode:    SequenceListing,
			ProgressBackend: BackendFS,
		},
		Log: LogCfg{
			Level: "info",
			File:  true,
		},
	}
}

// Validate rejects configurations no run could succeed with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Provider.Type {
	case "openai", "mock":
	default:
		errs = append(errs, fmt.Errorf("provider.type: unknown provider %q", c.Provider.Type))
	}
	if c.Provider.RateLimit < 0 {
		errs = append(errs, errors.New("provider.rate_limit: must not be negative"))
	}
	if c.Provider.SDKRetries < 0 {
		errs = append(errs, errors.New("provider.sdk_retries: must not be negative"))
	}

	if c.Batch.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("batch.concurrency: must be at least 1, got %d", c.Batch.Concurrency))
	}
	if c.Batch.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("batch.max_attempts: must be at least 1, got %d", c.Batch.MaxAttempts))
	}
	if c.Batch.RetryDelay < 0 {
		errs = append(errs, errors.New("batch.retry_delay: must not be negative"))
	}
	if c.Batch.CallTimeout <= 0 {
		errs = append(errs, errors.New("batch.call_timeout: must be positive"))
	}
	if c.Batch.CleanupTimeout <= 0 {
		errs = append(errs, errors.New("batch.cleanup_timeout: must be positive"))
	}
	if len(c.Batch.Extensions) == 0 {
		errs = append(errs, errors.New("batch.extensions: at least one extension is required"))
	}
	if c.Batch.MaxPages < 0 {
		errs = append(errs, errors.New("batch.max_pages: must not be negative"))
	}
	switch c.Batch.SequenceMode {
	case SequenceListing, SequenceLedger:
	default:
		errs = append(errs, fmt.Errorf("batch.sequence_mode: unknown mode %q", c.Batch.SequenceMode))
	}
	switch c.Batch.ProgressBackend {
	case BackendFS, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("batch.progress_backend: unknown backend %q", c.Batch.ProgressBackend))
	}

	seen := map[string]bool{}
	for i, cat := range c.Categories {
		switch {
		case strings.TrimSpace(cat.Name) == "":
			errs = append(errs, fmt.Errorf("categories[%d]: name is required", i))
		case strings.ContainsAny(cat.Name, `/\`):
			errs = append(errs, fmt.Errorf("categories[%d]: name %q must not contain path separators", i, cat.Name))
		case seen[cat.Name]:
			errs = append(errs, fmt.Errorf("categories[%d]: duplicate name %q", i, cat.Name))
		}
		seen[cat.Name] = true
	}

	return errors.Join(errs...)
}

// HomePaths converts the path settings for home.Dir.WithPaths.
func (c *Config) HomePaths() home.Paths {
	return home.Paths{
		Input:  c.Paths.Input,
		Output: c.Paths.Output,
		Logs:   c.Paths.Logs,
		State:  c.Paths.State,
	}
}

// CategoryDescriptions returns the configured categories by name.
func (c *Config) CategoryDescriptions() map[string]string {
	out := make(map[string]string, len(c.Categories))
	for _, cat := range c.Categories {
		out[cat.Name] = cat.Description
	}
	return out
}

// ResolvedAPIKey returns the provider API key with ${ENV_VAR} references expanded.
func (c *Config) ResolvedAPIKey() string {
	return ResolveEnvVars(c.Provider.APIKey)
}
