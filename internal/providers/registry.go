package providers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrUnknownService is returned for a service type with no registered factory.
var ErrUnknownService = errors.New("unknown inference service")

// ServiceConfig matches config.ProviderCfg with a resolved API key.
type ServiceConfig struct {
	Type        string // "openai", "mock"
	Model       string
	APIKey      string // Resolved API key
	BaseURL     string
	Timeout     time.Duration
	MaxRetries  int
	Temperature float64
	JSONMode    bool
	HTTPClient  *http.Client // Optional (tests)
}

// Factory builds a service from config.
type Factory func(cfg ServiceConfig) (InferenceService, error)

// Registry maps service types to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    *slog.Logger
}

// NewRegistry creates a registry with the built-in services registered.
func NewRegistry() *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		logger:    slog.Default(),
	}
	r.factories[OpenAIName] = newOpenAIFromConfig
	r.factories[MockServiceName] = func(ServiceConfig) (InferenceService, error) {
		return NewMockService(), nil
	}
	return r
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// Types returns all registered service types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for typ := range r.factories {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}

// New builds the service named by cfg.Type.
func (r *Registry) New(cfg ServiceConfig) (InferenceService, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Type]
	logger := r.logger
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownService, cfg.Type, strings.Join(r.Types(), ", "))
	}

	svc, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s service: %w", cfg.Type, err)
	}
	if logger != nil {
		logger.Debug("created inference service", "type", cfg.Type, "model", cfg.Model)
	}
	return svc, nil
}

func newOpenAIFromConfig(cfg ServiceConfig) (InferenceService, error) {
	return NewOpenAIService(OpenAIConfig{
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		JSONMode:    cfg.JSONMode,
		MaxRetries:  cfg.MaxRetries,
		Timeout:     cfg.Timeout,
		BaseURL:     cfg.BaseURL,
		HTTPClient:  cfg.HTTPClient,
	})
}
