package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" INFO ", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTee(t *testing.T) {
	if _, ok := Tee(nil, nil).(discardHandler); !ok {
		t.Error("expected discard handler for only nil handlers")
	}

	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, nil)
	if Tee(nil, inner) != inner {
		t.Error("single handler should be returned unwrapped")
	}

	var warnBuf, debugBuf bytes.Buffer
	h := Tee(
		slog.NewTextHandler(&warnBuf, &slog.HandlerOptions{Level: slog.LevelWarn}),
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("fanout should be enabled when any handler is")
	}

	logger := slog.New(h).With("item", "ML-001").WithGroup("usage")
	logger.Debug("tokens", "total", 42)
	logger.Warn("slow")

	if strings.Contains(warnBuf.String(), "tokens") {
		t.Error("warn handler received a debug record")
	}
	if !strings.Contains(warnBuf.String(), "slow") || !strings.Contains(debugBuf.String(), "usage.total=42") {
		t.Errorf("warn=%q debug=%q", warnBuf.String(), debugBuf.String())
	}
	if !strings.Contains(debugBuf.String(), "item=ML-001") {
		t.Errorf("attrs not propagated: %q", debugBuf.String())
	}
}

func TestSetup(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	at := time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC)

	rt, err := Setup(Options{
		Level:   "info",
		Console: &console,
		Dir:     dir,
		Scope:   "ML",
		Now:     func() time.Time { return at },
	})
	if err != nil {
		t.Fatal(err)
	}

	want := filepath.Join(dir, "processing_ML_20240309_140500.log")
	if rt.FilePath != want {
		t.Errorf("FilePath = %q, want %q", rt.FilePath, want)
	}

	rt.Logger.Debug("hidden")
	rt.Logger.Info("visible", "item", "ML-001")
	rt.Level.Set(slog.LevelDebug)
	rt.Logger.Debug("now shown")
	if err := rt.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatal(err)
	}
	for _, out := range []string{console.String(), string(data)} {
		if strings.Contains(out, "hidden") {
			t.Error("debug record logged at info level")
		}
		if !strings.Contains(out, "visible") || !strings.Contains(out, "now shown") {
			t.Errorf("output = %q", out)
		}
	}

	// Without a dir no file is opened.
	rt, err = Setup(Options{Console: &console})
	if err != nil {
		t.Fatal(err)
	}
	if rt.FilePath != "" {
		t.Errorf("FilePath = %q", rt.FilePath)
	}
	if err := rt.Close(); err != nil {
		t.Fatal(err)
	}
}
