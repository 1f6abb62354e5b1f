package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const MockServiceName = "mock"

// MockService is an InferenceService for testing and dry runs.
// Hooks receive the 1-based attempt number for the item.
type MockService struct {
	// Configurable behavior
	Latency    time.Duration
	Response   func(h Handle, req AnalyzeRequest) string
	UploadErr  func(doc Document, attempt int) error
	AnalyzeErr func(req AnalyzeRequest, attempt int) error
	DeleteErr  func(h Handle) error

	// State
	mu       sync.Mutex
	live     map[string]Handle
	uploads  map[string]int
	analyses map[string]int

	nextID       atomic.Int64
	uploadCount  atomic.Int64
	analyzeCount atomic.Int64
	deleteCount  atomic.Int64
	inFlight     atomic.Int64
	maxInFlight  atomic.Int64
}

// NewMockService creates a new mock service with sensible defaults.
func NewMockService() *MockService {
	return &MockService{
		Latency:  10 * time.Millisecond,
		live:     make(map[string]Handle),
		uploads:  make(map[string]int),
		analyses: make(map[string]int),
	}
}

// Name returns the service identifier.
func (m *MockService) Name() string {
	return MockServiceName
}

// Upload records a remote handle for the document.
func (m *MockService) Upload(ctx context.Context, doc Document) (Handle, error) {
	m.uploadCount.Add(1)
	m.mu.Lock()
	m.uploads[doc.ItemID]++
	attempt := m.uploads[doc.ItemID]
	m.mu.Unlock()

	if err := m.simulate(ctx); err != nil {
		return Handle{}, err
	}
	if m.UploadErr != nil {
		if err := m.UploadErr(doc, attempt); err != nil {
			return Handle{}, err
		}
	}

	h := Handle{
		ID:       fmt.Sprintf("mock-file-%d", m.nextID.Add(1)),
		Provider: MockServiceName,
		Filename: doc.Filename(),
	}
	m.mu.Lock()
	m.live[h.ID] = h
	m.mu.Unlock()
	return h, nil
}

// Analyze returns the configured response for the item.
func (m *MockService) Analyze(ctx context.Context, h Handle, req AnalyzeRequest) (*AnalyzeResult, error) {
	start := time.Now()
	m.analyzeCount.Add(1)
	m.mu.Lock()
	m.analyses[req.ItemID]++
	attempt := m.analyses[req.ItemID]
	_, ok := m.live[h.ID]
	m.mu.Unlock()

	if !ok {
		return nil, &StatusError{Op: "mock analyze", StatusCode: 404, Message: "unknown file " + h.ID}
	}
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.AnalyzeErr != nil {
		if err := m.AnalyzeErr(req, attempt); err != nil {
			return nil, err
		}
	}

	content := ""
	if m.Response != nil {
		content = m.Response(h, req)
	} else {
		content = DefaultMockResponse(h, req)
	}

	prompt := int64(len(ComposePrompt(req)) / 4) // Rough estimate
	completion := int64(len(content) / 4)
	return &AnalyzeResult{
		Content:          content,
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
		ModelUsed:        "mock-model",
		RequestID:        fmt.Sprintf("mock-req-%d", m.analyzeCount.Load()),
		ExecutionTime:    time.Since(start),
	}, nil
}

// Delete forgets the remote handle.
func (m *MockService) Delete(ctx context.Context, h Handle) error {
	m.deleteCount.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.DeleteErr != nil {
		if err := m.DeleteErr(h); err != nil {
			return err
		}
	}
	m.mu.Lock()
	delete(m.live, h.ID)
	m.mu.Unlock()
	return nil
}

func (m *MockService) simulate(ctx context.Context) error {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		peak := m.maxInFlight.Load()
		if n <= peak || m.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	if m.Latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(m.Latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DefaultMockResponse echoes the item identity as a JSON record.
func DefaultMockResponse(h Handle, req AnalyzeRequest) string {
	data, _ := json.Marshal(map[string]any{
		"item_id":      req.ItemID,
		"section_code": req.Category,
		"sequence_id":  req.Sequence,
		"source_file":  h.Filename,
		"title":        "Mock analysis of " + h.Filename,
	})
	return string(data)
}

// LiveHandles returns the number of uploads not yet deleted.
func (m *MockService) LiveHandles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// UploadCount returns the number of upload calls made.
func (m *MockService) UploadCount() int64 {
	return m.uploadCount.Load()
}

// AnalyzeCount returns the number of analyze calls made.
func (m *MockService) AnalyzeCount() int64 {
	return m.analyzeCount.Load()
}

// DeleteCount returns the number of delete calls made.
func (m *MockService) DeleteCount() int64 {
	return m.deleteCount.Load()
}

// UploadsFor returns the number of upload attempts for an item.
func (m *MockService) UploadsFor(itemID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploads[itemID]
}

// MaxInFlight returns the highest number of concurrent upload/analyze calls seen.
func (m *MockService) MaxInFlight() int64 {
	return m.maxInFlight.Load()
}

// Verify interface
var _ InferenceService = (*MockService)(nil)
