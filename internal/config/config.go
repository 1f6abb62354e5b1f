package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/moby/sys/atomicwriter"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

// EnvPrefix prefixes environment overrides, e.g. PAPERBATCH_BATCH_CONCURRENCY.
const EnvPrefix = "PAPERBATCH"

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	v         *viper.Viper
	config    *Config
	callbacks []func(*Config)
	logger    *slog.Logger
}

// NewManager creates a new config manager and loads initial config.
// homeDir is searched for config.yaml and .env when cfgFile is empty.
func NewManager(cfgFile, homeDir string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
		logger:    slog.Default(),
	}

	if err := loadDotEnv(homeDir); err != nil {
		return nil, err
	}

	if err := cm.initViper(cfgFile, homeDir); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// SetLogger sets the logger used for reload messages.
func (cm *Manager) SetLogger(logger *slog.Logger) {
	if logger != nil {
		cm.logger = logger
	}
}

// loadDotEnv loads {homeDir}/.env without overriding variables already set.
func loadDotEnv(homeDir string) error {
	path := filepath.Join(homeDir, ".env")
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("error reading %s: %w", path, err)
	}
	return nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile, homeDir string) error {
	v := cm.v
	for _, entry := range DefaultEntries() {
		v.SetDefault(entry.Key, entry.Value)
	}
	v.SetDefault("categories", []CategoryCfg{})

	// Environment variables with PAPERBATCH_ prefix
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if homeDir != "" {
			v.AddConfigPath(homeDir)
		}
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.paperbatch")
	}

	// Try to read config file (not required)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a validated Config.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// ConfigFile returns the file the configuration was read from, if any.
func (cm *Manager) ConfigFile() string {
	return cm.v.ConfigFileUsed()
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration. An invalid edit keeps
// the previous configuration.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cm.reload(e.Name)
	})
	cm.v.WatchConfig()
}

func (cm *Manager) reload(name string) {
	cfg, err := cm.load()
	if err != nil {
		cm.logger.Warn("ignoring config change", "file", name, "error", err)
		return
	}

	cm.mu.Lock()
	cm.config = cfg
	callbacks := make([]func(*Config), len(cm.callbacks))
	copy(callbacks, cm.callbacks)
	cm.mu.Unlock()

	cm.logger.Info("config reloaded", "file", name)
	for _, fn := range callbacks {
		fn(cfg)
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envVarPattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

const defaultHeader = `# paperbatch configuration
# API keys use ${ENV_VAR} syntax to reference environment variables.
# Set them in your shell or a .env file next to this one: OPENAI_API_KEY=xxx
#
# Restrict discovery to named categories with:
# categories:
#   - name: ML
#     description: Machine Learning

`

// WriteDefault writes the default configuration to the specified path.
// It refuses to overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}

	data, err := yaml.Marshal(defaultDocument())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	return atomicwriter.WriteFile(path, append([]byte(defaultHeader), data...), 0o644)
}
