package providers

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func writeDoc(t *testing.T, name string) Document {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("%PDF-1.4 test"), 0644); err != nil {
		t.Fatal(err)
	}
	return Document{Path: path, ItemID: "ML-001"}
}

func TestMockService(t *testing.T) {
	t.Run("upload analyze delete", func(t *testing.T) {
		m := NewMockService()
		doc := writeDoc(t, "paper.pdf")

		h, err := m.Upload(context.Background(), doc)
		if err != nil {
			t.Fatalf("Upload() error = %v", err)
		}
		if h.Filename != "paper.pdf" || h.Provider != MockServiceName {
			t.Errorf("unexpected handle %+v", h)
		}
		if m.LiveHandles() != 1 {
			t.Errorf("LiveHandles = %d, want 1", m.LiveHandles())
		}

		res, err := m.Analyze(context.Background(), h, AnalyzeRequest{Category: "ML", Sequence: 1, ItemID: "ML-001"})
		if err != nil {
			t.Fatalf("Analyze() error = %v", err)
		}
		if !strings.Contains(res.Content, `"item_id":"ML-001"`) {
			t.Errorf("unexpected content %s", res.Content)
		}
		if res.TotalTokens != res.PromptTokens+res.CompletionTokens {
			t.Error("token totals do not add up")
		}

		if err := m.Delete(context.Background(), h); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if m.LiveHandles() != 0 {
			t.Errorf("LiveHandles = %d, want 0", m.LiveHandles())
		}
	})

	t.Run("analyze unknown handle", func(t *testing.T) {
		m := NewMockService()
		_, err := m.Analyze(context.Background(), Handle{ID: "nope"}, AnalyzeRequest{})
		if !IsNotFound(err) {
			t.Errorf("expected not found, got %v", err)
		}
	})

	t.Run("failure injection counts attempts", func(t *testing.T) {
		m := NewMockService()
		m.Latency = 0
		m.UploadErr = func(doc Document, attempt int) error {
			if attempt == 1 {
				return errors.New("connection reset")
			}
			return nil
		}
		doc := writeDoc(t, "a.pdf")

		if _, err := m.Upload(context.Background(), doc); err == nil {
			t.Fatal("expected first upload to fail")
		}
		if _, err := m.Upload(context.Background(), doc); err != nil {
			t.Fatalf("second upload failed: %v", err)
		}
		if m.UploadsFor("ML-001") != 2 {
			t.Errorf("UploadsFor = %d, want 2", m.UploadsFor("ML-001"))
		}
	})

	t.Run("respects cancellation", func(t *testing.T) {
		m := NewMockService()
		m.Latency = time.Second
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := m.Upload(ctx, writeDoc(t, "a.pdf")); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestComposePrompt(t *testing.T) {
	prompt := ComposePrompt(AnalyzeRequest{Template: "Extract fields.", Category: "ML", Sequence: 7})

	if !strings.HasPrefix(prompt, "Section Code: ML\nSequence ID: 7\n\nExtract fields.") {
		t.Errorf("unexpected prompt %q", prompt)
	}
}

func TestRateLimiter(t *testing.T) {
	t.Run("allows initial requests", func(t *testing.T) {
		limiter := NewRateLimiter(600) // 10 per second

		start := time.Now()
		for i := 0; i < 5; i++ {
			if err := limiter.Wait(context.Background()); err != nil {
				t.Fatalf("request %d failed: %v", i, err)
			}
		}

		// Should complete quickly since we have burst capacity
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("took too long: %v", elapsed)
		}
	})

	t.Run("zero rate never blocks", func(t *testing.T) {
		limiter := NewRateLimiter(0)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		for i := 0; i < 100; i++ {
			if err := limiter.Wait(ctx); err != nil {
				t.Fatalf("Wait %d: %v", i, err)
			}
		}
		if got := limiter.Status().TotalConsumed; got != 100 {
			t.Errorf("TotalConsumed = %d, want 100", got)
		}
	})

	t.Run("wait drains bucket", func(t *testing.T) {
		limiter := NewRateLimiter(2)

		for i := 0; i < 2; i++ {
			if err := limiter.Wait(context.Background()); err != nil {
				t.Fatal(err)
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		if err := limiter.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("third Wait = %v, want deadline exceeded", err)
		}
		if status := limiter.Status(); status.TokensAvailable != 0 || status.TimeUntilToken <= 0 {
			t.Errorf("status after drain = %+v", status)
		}
	})

	t.Run("status", func(t *testing.T) {
		limiter := NewRateLimiter(60)

		status := limiter.Status()
		if status.RequestsPerMinute != 60 {
			t.Errorf("RequestsPerMinute = %f, want 60", status.RequestsPerMinute)
		}
		if status.TokensAvailable <= 0 {
			t.Error("expected positive tokens available")
		}
	})

	t.Run("set rate caps tokens", func(t *testing.T) {
		limiter := NewRateLimiter(600)
		limiter.SetRate(5)

		status := limiter.Status()
		if status.TokensAvailable != 5 {
			t.Errorf("TokensAvailable = %d, want 5", status.TokensAvailable)
		}
	})

	t.Run("record 429 blocks until retry after", func(t *testing.T) {
		limiter := NewRateLimiter(6000)

		limiter.Record429(150 * time.Millisecond)

		status := limiter.Status()
		if status.Last429Time.IsZero() {
			t.Error("Last429Time should be set")
		}
		if status.TimeUntilToken <= 0 {
			t.Error("expected limiter to be blocked")
		}

		start := time.Now()
		if err := limiter.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
		if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
			t.Errorf("Wait returned after %v, expected to honor retry-after", elapsed)
		}
	})

	t.Run("respects cancellation", func(t *testing.T) {
		limiter := NewRateLimiter(1)

		// Consume the one allowed token
		_ = limiter.Wait(context.Background())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if err := limiter.Wait(ctx); err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("concurrent requests", func(t *testing.T) {
		limiter := NewRateLimiter(6000)

		var wg sync.WaitGroup
		var errs atomic.Int32

		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := limiter.Wait(context.Background()); err != nil {
					errs.Add(1)
				}
			}()
		}

		wg.Wait()

		if errs.Load() > 0 {
			t.Errorf("had %d errors", errs.Load())
		}
		if status := limiter.Status(); status.TotalConsumed != 10 {
			t.Errorf("TotalConsumed = %d, want 10", status.TotalConsumed)
		}
	})
}

func TestRateLimitedService(t *testing.T) {
	m := NewMockService()
	m.Latency = 0
	m.AnalyzeErr = func(req AnalyzeRequest, attempt int) error {
		return &RateLimitError{Message: "slow down", RetryAfter: time.Minute, StatusCode: http.StatusTooManyRequests}
	}
	limiter := NewRateLimiter(600)
	svc := WithRateLimit(m, limiter)

	h, err := svc.Upload(context.Background(), writeDoc(t, "a.pdf"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if _, err := svc.Analyze(context.Background(), h, AnalyzeRequest{ItemID: "ML-001"}); err == nil {
		t.Fatal("expected rate limit error")
	}
	if limiter.Status().TimeUntilToken < 30*time.Second {
		t.Error("expected limiter to be blocked after 429")
	}

	// Delete bypasses the limiter.
	if err := svc.Delete(context.Background(), h); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if m.LiveHandles() != 0 {
		t.Error("expected handle deleted")
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"3", 3 * time.Second},
		{"0.5", 500 * time.Millisecond},
		{"-1", 0},
		{"soon", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(future); got < 59*time.Minute {
		t.Errorf("parseRetryAfter(date) = %v, want about an hour", got)
	}
}

func TestStatusError(t *testing.T) {
	if !IsPermanent(&StatusError{StatusCode: http.StatusBadRequest}) {
		t.Error("400 should be permanent")
	}
	if IsPermanent(&StatusError{StatusCode: http.StatusBadGateway}) {
		t.Error("502 should not be permanent")
	}
	if IsPermanent(errors.New("network")) {
		t.Error("plain errors are not permanent")
	}
}

func TestRegistry(t *testing.T) {
	t.Run("builds registered types", func(t *testing.T) {
		r := NewRegistry()

		svc, err := r.New(ServiceConfig{Type: MockServiceName})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if svc.Name() != MockServiceName {
			t.Errorf("Name() = %s", svc.Name())
		}

		svc, err = r.New(ServiceConfig{Type: OpenAIName, APIKey: "test-key", Model: "gpt-4o"})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if svc.(*OpenAIService).Model() != "gpt-4o" {
			t.Error("model not applied")
		}
	})

	t.Run("openai requires key", func(t *testing.T) {
		if _, err := NewRegistry().New(ServiceConfig{Type: OpenAIName}); err == nil {
			t.Error("expected error without api key")
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := NewRegistry().New(ServiceConfig{Type: "gemini"})
		if !errors.Is(err, ErrUnknownService) {
			t.Errorf("expected ErrUnknownService, got %v", err)
		}
	})

	t.Run("unknown type lists known types", func(t *testing.T) {
		r := NewRegistry()
		if got := strings.Join(r.Types(), ","); got != "mock,openai" {
			t.Errorf("Types() = %s", got)
		}
		_, err := r.New(ServiceConfig{Type: "gemini"})
		if err == nil || !strings.Contains(err.Error(), "mock, openai") {
			t.Errorf("error = %v, want it to list mock, openai", err)
		}
	})
}
