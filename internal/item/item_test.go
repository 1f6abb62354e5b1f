package item

import (
	"errors"
	"fmt"
	"testing"
)

func TestFormatID(t *testing.T) {
	tests := []struct {
		category string
		sequence int
		want     string
	}{
		{"ML", 1, "ML-001"},
		{"ML", 42, "ML-042"},
		{"3.1", 7, "3.1-007"},
		{"ML", 1234, "ML-1234"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := FormatID(tt.category, tt.sequence); got != tt.want {
				t.Errorf("FormatID(%q, %d) = %q, want %q", tt.category, tt.sequence, got, tt.want)
			}
		})
	}
}

func TestParseID(t *testing.T) {
	t.Run("round trips dashed categories", func(t *testing.T) {
		cat, seq, err := ParseID("deep-learning-012")
		if err != nil {
			t.Fatalf("ParseID() error = %v", err)
		}
		if cat != "deep-learning" || seq != 12 {
			t.Errorf("got (%q, %d), want (deep-learning, 12)", cat, seq)
		}
	})

	for _, bad := range []string{"", "ML", "ML-", "-001", "ML-abc", "ML-000"} {
		t.Run("rejects "+bad, func(t *testing.T) {
			if _, _, err := ParseID(bad); err == nil {
				t.Errorf("expected error for %q", bad)
			}
		})
	}
}

func TestLifecycle(t *testing.T) {
	t.Run("walks the forward path", func(t *testing.T) {
		w := New("ML", 1, "/in/ML/a.pdf")
		steps := []State{
			StateQueued, StateUploading, StateAnalyzing, StateValidating,
			StatePersisting, StateCleaningUp, StateCompleted,
		}
		for _, s := range steps {
			if err := w.Transition(s); err != nil {
				t.Fatalf("Transition(%s) error = %v", s, err)
			}
		}
		if w.Attempts != 1 {
			t.Errorf("expected 1 attempt, got %d", w.Attempts)
		}
	})

	t.Run("rejects skipped steps", func(t *testing.T) {
		w := New("ML", 1, "a.pdf")
		_ = w.Transition(StateQueued)
		if err := w.Transition(StateAnalyzing); err == nil {
			t.Fatal("expected error skipping uploading")
		}
	})

	t.Run("completed is terminal", func(t *testing.T) {
		w := WorkItem{Category: "ML", Sequence: 1, State: StateCompleted}
		if err := w.Transition(StateFailed); err == nil {
			t.Fatal("expected error leaving completed")
		}
	})

	t.Run("failed retries back to queued", func(t *testing.T) {
		w := New("ML", 1, "a.pdf")
		_ = w.Transition(StateQueued)
		_ = w.Transition(StateUploading)
		w.Fail(Errorf(KindUpload, nil, "network down"))
		if w.Err == nil {
			t.Fatal("expected error recorded")
		}
		if err := w.Retry(); err != nil {
			t.Fatalf("Retry() error = %v", err)
		}
		if w.State != StateQueued || w.Err != nil {
			t.Errorf("expected queued with no error, got %s / %v", w.State, w.Err)
		}
		_ = w.Transition(StateUploading)
		if w.Attempts != 2 {
			t.Errorf("expected 2 attempts, got %d", w.Attempts)
		}
	})

	t.Run("retry requires failed", func(t *testing.T) {
		w := New("ML", 1, "a.pdf")
		if err := w.Retry(); err == nil {
			t.Fatal("expected error retrying a discovered item")
		}
	})
}

func TestItemErrorRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  *ItemError
		want bool
	}{
		{"upload", &ItemError{Kind: KindUpload}, true},
		{"analysis", &ItemError{Kind: KindAnalysis}, true},
		{"schema", &ItemError{Kind: KindSchema}, false},
		{"io", &ItemError{Kind: KindIO}, false},
		{"permanent upload", &ItemError{Kind: KindUpload, Permanent: true}, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Retryable(); got != tt.want {
				t.Errorf("Retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAsItemError(t *testing.T) {
	cause := Errorf(KindSchema, nil, "missing title")
	wrapped := fmt.Errorf("validate: %w", cause)

	if got := AsItemError(wrapped, KindIO); got.Kind != KindSchema {
		t.Errorf("expected wrapped SchemaError, got %s", got.Kind)
	}

	plain := errors.New("disk full")
	got := AsItemError(plain, KindIO)
	if got.Kind != KindIO || !errors.Is(got, plain) {
		t.Errorf("expected IOError wrapping cause, got %+v", got)
	}

	if AsItemError(nil, KindIO) != nil {
		t.Error("expected nil for nil error")
	}
}
