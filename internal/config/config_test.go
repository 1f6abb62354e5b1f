package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Provider.APIKey != "${OPENAI_API_KEY}" {
		t.Error("expected openai API key placeholder")
	}
	if cfg.Batch.Concurrency != 3 {
		t.Errorf("expected concurrency 3, got %d", cfg.Batch.Concurrency)
	}
	if cfg.Batch.MaxAttempts != 2 {
		t.Errorf("expected 2 attempts, got %d", cfg.Batch.MaxAttempts)
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Run("resolves environment variable", func(t *testing.T) {
		t.Setenv("TEST_API_KEY", "secret123")

		result := ResolveEnvVars("${TEST_API_KEY}")
		if result != "secret123" {
			t.Errorf("expected secret123, got %s", result)
		}
	})

	t.Run("returns empty for missing env var", func(t *testing.T) {
		result := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}")
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})

	t.Run("leaves literal values unchanged", func(t *testing.T) {
		result := ResolveEnvVars("literal-value")
		if result != "literal-value" {
			t.Errorf("expected literal-value, got %s", result)
		}
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero concurrency", func(c *Config) { c.Batch.Concurrency = 0 }, "batch.concurrency"},
		{"zero attempts", func(c *Config) { c.Batch.MaxAttempts = 0 }, "batch.max_attempts"},
		{"no call timeout", func(c *Config) { c.Batch.CallTimeout = 0 }, "batch.call_timeout"},
		{"no extensions", func(c *Config) { c.Batch.Extensions = nil }, "batch.extensions"},
		{"unknown provider", func(c *Config) { c.Provider.Type = "gemini" }, "provider.type"},
		{"unknown sequence mode", func(c *Config) { c.Batch.SequenceMode = "random" }, "batch.sequence_mode"},
		{"unknown backend", func(c *Config) { c.Batch.ProgressBackend = "redis" }, "batch.progress_backend"},
		{"negative pages", func(c *Config) { c.Batch.MaxPages = -1 }, "batch.max_pages"},
		{"duplicate category", func(c *Config) {
			c.Categories = []CategoryCfg{{Name: "ML"}, {Name: "ML"}}
		}, "duplicate name"},
		{"category with separator", func(c *Config) {
			c.Categories = []CategoryCfg{{Name: "a/b"}}
		}, "path separators"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNewManager(t *testing.T) {
	t.Run("loads from config file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configFile := writeConfig(t, tmpDir, `
provider:
  type: mock
  model: test-model
batch:
  concurrency: 5
  retry_delay: 250ms
categories:
  - name: ML
    description: Machine Learning
`)

		mgr, err := NewManager(configFile, tmpDir)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}

		cfg := mgr.Get()
		if cfg.Provider.Model != "test-model" {
			t.Errorf("expected test-model, got %s", cfg.Provider.Model)
		}
		if cfg.Batch.Concurrency != 5 {
			t.Errorf("expected concurrency 5, got %d", cfg.Batch.Concurrency)
		}
		if cfg.Batch.RetryDelay != 250*time.Millisecond {
			t.Errorf("expected 250ms retry delay, got %s", cfg.Batch.RetryDelay)
		}
		if cfg.Batch.CallTimeout != 5*time.Minute {
			t.Errorf("expected default call timeout, got %s", cfg.Batch.CallTimeout)
		}
		if got := cfg.CategoryDescriptions()["ML"]; got != "Machine Learning" {
			t.Errorf("expected case-preserved ML category, got %q", got)
		}
	})

	t.Run("works without a config file", func(t *testing.T) {
		tmpDir := t.TempDir()
		t.Chdir(tmpDir)

		mgr, err := NewManager("", tmpDir)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		if mgr.Get().Batch.ProgressBackend != BackendFS {
			t.Errorf("expected fs backend, got %s", mgr.Get().Batch.ProgressBackend)
		}
	})

	t.Run("rejects invalid values", func(t *testing.T) {
		tmpDir := t.TempDir()
		configFile := writeConfig(t, tmpDir, "batch:\n  concurrency: 0\n")

		if _, err := NewManager(configFile, tmpDir); err == nil {
			t.Fatal("expected validation error")
		}
	})

	t.Run("environment overrides file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configFile := writeConfig(t, tmpDir, "batch:\n  concurrency: 2\n")
		t.Setenv("PAPERBATCH_BATCH_CONCURRENCY", "7")

		mgr, err := NewManager(configFile, tmpDir)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		if mgr.Get().Batch.Concurrency != 7 {
			t.Errorf("expected env override 7, got %d", mgr.Get().Batch.Concurrency)
		}
	})

	t.Run("loads dotenv from home", func(t *testing.T) {
		tmpDir := t.TempDir()
		configFile := writeConfig(t, tmpDir, "provider:\n  api_key: ${PAPERBATCH_TEST_DOTENV_KEY}\n")
		if err := os.WriteFile(filepath.Join(tmpDir, ".env"), []byte("PAPERBATCH_TEST_DOTENV_KEY=from-dotenv\n"), 0644); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { os.Unsetenv("PAPERBATCH_TEST_DOTENV_KEY") })

		mgr, err := NewManager(configFile, tmpDir)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		if got := mgr.Get().ResolvedAPIKey(); got != "from-dotenv" {
			t.Errorf("expected from-dotenv, got %q", got)
		}
	})
}

func TestManager_OnChange_Multiple(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := writeConfig(t, tmpDir, "provider:\n  type: mock\n")

	mgr, err := NewManager(configFile, tmpDir)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})

	mgr.mu.RLock()
	if len(mgr.callbacks) != 3 {
		t.Errorf("expected 3 callbacks, got %d", len(mgr.callbacks))
	}
	mgr.mu.RUnlock()
}

func TestManager_Get_ThreadSafe(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := writeConfig(t, tmpDir, "provider:\n  type: mock\n")

	mgr, err := NewManager(configFile, tmpDir)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				cfg := mgr.Get()
				_ = cfg.Provider.RateLimit
			}
			done <- struct{}{}
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestManager_WatchConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := writeConfig(t, tmpDir, "provider:\n  type: mock\n  rate_limit: 30\n")

	mgr, err := NewManager(configFile, tmpDir)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	if got := mgr.Get().Provider.RateLimit; got != 30 {
		t.Errorf("initial value mismatch: expected 30, got %v", got)
	}

	var callbackCount atomic.Int32
	var lastValue atomic.Value

	mgr.OnChange(func(cfg *Config) {
		callbackCount.Add(1)
		lastValue.Store(cfg.Provider.RateLimit)
	})

	mgr.WatchConfig()

	// Give fsnotify time to set up the watcher
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(configFile, []byte("provider:\n  type: mock\n  rate_limit: 90\n"), 0644); err != nil {
		t.Fatalf("failed to write updated config file: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if callbackCount.Load() > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if callbackCount.Load() == 0 {
		t.Fatal("callback was not invoked after config file change")
	}
	if got := mgr.Get().Provider.RateLimit; got != 90 {
		t.Errorf("config not updated: expected 90, got %v", got)
	}
	if v := lastValue.Load(); v != 90.0 {
		t.Errorf("callback received wrong value: expected 90, got %v", v)
	}
}

func TestWriteDefault(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	if err := WriteDefault(path, false); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# paperbatch configuration") {
		t.Error("expected header comment")
	}
	if !strings.Contains(string(data), "retry_delay: 5s") {
		t.Errorf("expected human-readable durations, got:\n%s", data)
	}

	mgr, err := NewManager(path, tmpDir)
	if err != nil {
		t.Fatalf("written default should load: %v", err)
	}
	if mgr.Get().Batch.RetryDelay != 5*time.Second {
		t.Errorf("expected 5s retry delay, got %s", mgr.Get().Batch.RetryDelay)
	}

	if err := WriteDefault(path, false); err == nil {
		t.Error("expected error overwriting existing config")
	}
	if err := WriteDefault(path, true); err != nil {
		t.Errorf("force overwrite failed: %v", err)
	}
}
