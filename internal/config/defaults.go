package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// ErrNoDefault is returned when no default value exists for a config key.
var ErrNoDefault = errors.New("no default exists")

// Entry is a single dotted config key with its default value.
type Entry struct {
	Key         string
	Value       any
	Description string
}

var keyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)*$`)

// ValidateKey checks a dotted config key.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("config key cannot be empty")
	}
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("invalid config key %q: use lowercase dotted segments", key)
	}
	return nil
}

// DefaultEntries returns the default configuration entries in file order.
func DefaultEntries() []Entry {
	return []Entry{
		// ===================
		// Inference provider
		// ===================
		{
			Key:         "provider.type",
			Value:       "openai",
			Description: "Inference service: openai or mock",
		},
		{
			Key:         "provider.model",
			Value:       "gpt-4o-mini",
			Description: "Model used for document analysis",
		},
		{
			Key:         "provider.api_key",
			Value:       "${OPENAI_API_KEY}",
			Description: "API key (supports ${ENV_VAR} syntax)",
		},
		{
			Key:         "provider.base_url",
			Value:       "",
			Description: "Override the API base URL for compatible gateways",
		},
		{
			Key:         "provider.rate_limit",
			Value:       60.0,
			Description: "Requests per minute across all workers (0 disables)",
		},
		{
			Key:         "provider.timeout",
			Value:       5 * time.Minute,
			Description: "HTTP client timeout",
		},
		{
			Key:         "provider.sdk_retries",
			Value:       2,
			Description: "Transport-level retries performed by the SDK",
		},
		{
			Key:         "provider.temperature",
			Value:       0.0,
			Description: "Sampling temperature",
		},
		{
			Key:         "provider.json_mode",
			Value:       true,
			Description: "Request a JSON object response format",
		},

		// ===================
		// Paths
		// ===================
		{
			Key:         "paths.input",
			Value:       "data/input",
			Description: "Root holding one sub-directory per category",
		},
		{
			Key:         "paths.output",
			Value:       "data/output",
			Description: "Root receiving <category>/<item_id>.json artifacts",
		},
		{
			Key:         "paths.logs",
			Value:       "logs",
			Description: "Run logs, summaries and rejected responses",
		},
		{
			Key:         "paths.state",
			Value:       ".paperbatch",
			Description: "Sequence ledgers and the progress database",
		},
		{
			Key:         "paths.template",
			Value:       "prompt.md",
			Description: "Extraction template; the built-in template is used when missing",
		},
		{
			Key:         "paths.schema",
			Value:       "",
			Description: "Optional JSON Schema every response must satisfy",
		},

		// ===================
		// Batch
		// ===================
		{
			Key:         "batch.concurrency",
			Value:       3,
			Description: "Documents processed in parallel (1 is sequential)",
		},
		{
			Key:         "batch.max_attempts",
			Value:       2,
			Description: "Attempts per document for upload and analysis failures",
		},
		{
			Key:         "batch.retry_delay",
			Value:       5 * time.Second,
			Description: "Delay before a retry, doubled per attempt",
		},
		{
			Key:         "batch.call_timeout",
			Value:       5 * time.Minute,
			Description: "Deadline for each remote call",
		},
		{
			Key:         "batch.cleanup_timeout",
			Value:       30 * time.Second,
			Description: "Deadline for deleting an uploaded document",
		},
		{
			Key:         "batch.extensions",
			Value:       []string{".pdf"},
			Description: "Eligible document extensions (case-insensitive)",
		},
		{
			Key:         "batch.sequence_mode",
			Value:       SequenceListing,
			Description: "listing recomputes sequences each run; ledger keeps them stable",
		},
		{
			Key:         "batch.progress_backend",
			Value:       BackendFS,
			Description: "fs uses artifact existence; sqlite keeps an explicit completion table",
		},
		{
			Key:         "batch.max_pages",
			Value:       0,
			Description: "Reject documents with more pages (0 disables)",
		},

		// ===================
		// Validation
		// ===================
		{
			Key:         "validation.required_fields",
			Value:       []string{},
			Description: "Top-level fields every response must contain",
		},

		// ===================
		// Logging
		// ===================
		{
			Key:         "log.level",
			Value:       "info",
			Description: "debug, info, warn or error",
		},
		{
			Key:         "log.file",
			Value:       true,
			Description: "Write logs/processing_<scope>_<timestamp>.log for each run",
		},
	}
}

// GetDefault returns the default entry for a config key.
// Returns nil if no default exists for the key.
func GetDefault(key string) *Entry {
	for _, entry := range DefaultEntries() {
		if entry.Key == key {
			return &entry
		}
	}
	return nil
}

// LookupDefault is GetDefault with an error for unknown keys.
func LookupDefault(key string) (*Entry, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if def := GetDefault(key); def != nil {
		return def, nil
	}
	return nil, fmt.Errorf("%w for key %q", ErrNoDefault, key)
}

// defaultDocument nests the default entries into ordered YAML sections.
func defaultDocument() yaml.MapSlice {
	var doc yaml.MapSlice
	index := map[string]int{}
	for _, e := range DefaultEntries() {
		section, field, _ := strings.Cut(e.Key, ".")
		i, ok := index[section]
		if !ok {
			doc = append(doc, yaml.MapItem{Key: section, Value: yaml.MapSlice{}})
			i = len(doc) - 1
			index[section] = i
		}
		value := e.Value
		if d, ok := value.(time.Duration); ok {
			value = d.String()
		}
		items := doc[i].Value.(yaml.MapSlice)
		doc[i].Value = append(items, yaml.MapItem{Key: field, Value: value})
	}
	doc = append(doc, yaml.MapItem{Key: "categories", Value: []CategoryCfg{}})
	return doc
}
