package providers

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// InferenceService uploads documents to a remote model, asks it to extract a
// structured record, and deletes the remote copy afterwards.
type InferenceService interface {
	// Name returns the service identifier (e.g., "openai").
	Name() string

	// Upload stores the document remotely and returns a handle to it.
	Upload(ctx context.Context, doc Document) (Handle, error)

	// Analyze runs the extraction template against an uploaded document.
	Analyze(ctx context.Context, h Handle, req AnalyzeRequest) (*AnalyzeResult, error)

	// Delete removes the remote copy. Deleting an unknown handle is not an error.
	Delete(ctx context.Context, h Handle) error
}

// Document is a local source file to upload.
type Document struct {
	Path   string
	ItemID string
}

// Filename returns the base name sent with the upload.
func (d Document) Filename() string {
	return filepath.Base(d.Path)
}

// Handle identifies an uploaded document.
type Handle struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Filename string `json:"filename,omitempty"`
}

// IsZero reports whether the handle refers to nothing.
func (h Handle) IsZero() bool {
	return h.ID == ""
}

// AnalyzeRequest carries the extraction template and item identity.
type AnalyzeRequest struct {
	// Template is the opaque extraction instruction text, passed unmodified.
	Template string
	Category string
	Sequence int
	ItemID   string
}

// AnalyzeResult is the raw model response.
type AnalyzeResult struct {
	Content string `json:"content"`

	// Token counts
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`

	ModelUsed     string        `json:"model_used"`
	RequestID     string        `json:"request_id"`
	ExecutionTime time.Duration `json:"execution_time"`
}

// ComposePrompt frames the template with the item identity the model should
// echo back.
func ComposePrompt(req AnalyzeRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Section Code: %s\n", req.Category)
	fmt.Fprintf(&b, "Sequence ID: %d\n\n", req.Sequence)
	b.WriteString(req.Template)
	b.WriteString("\n\nPlease analyze the uploaded PDF and generate a JSON response following the exact schema provided above.")
	return b.String()
}
