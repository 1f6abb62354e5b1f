package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	OpenAIName         = "openai"
	openAIDefaultModel = "gpt-4o-mini"
)

// OpenAIConfig holds configuration for the OpenAI inference service.
type OpenAIConfig struct {
	APIKey      string
	Model       string        // "gpt-4o-mini" (default)
	Temperature float64       // 0 leaves the model default
	JSONMode    bool          // request a JSON object response
	MaxRetries  int           // Retry attempts for SDK transport
	Timeout     time.Duration // HTTP timeout
	BaseURL     string        // Optional (gateways, tests)
	HTTPClient  *http.Client  // Optional (tests)
}

// OpenAIService implements InferenceService using the Files and Chat
// Completions APIs of the official OpenAI SDK.
type OpenAIService struct {
	model       string
	temperature float64
	jsonMode    bool
	client      openai.Client
}

// NewOpenAIService creates a new OpenAI inference service.
func NewOpenAIService(cfg OpenAIConfig) (*OpenAIService, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIService{
		model:       cfg.Model,
		temperature: cfg.Temperature,
		jsonMode:    cfg.JSONMode,
		client:      openai.NewClient(opts...),
	}, nil
}

// Name returns the service identifier.
func (s *OpenAIService) Name() string {
	return OpenAIName
}

// Model returns the configured model.
func (s *OpenAIService) Model() string {
	return s.model
}

// Upload sends the document to the Files API.
func (s *OpenAIService) Upload(ctx context.Context, doc Document) (Handle, error) {
	f, err := os.Open(doc.Path)
	if err != nil {
		return Handle{}, fmt.Errorf("open %s: %w", doc.Path, err)
	}
	defer f.Close()

	file, err := s.client.Files.New(ctx, openai.FileNewParams{
		File:    openai.File(f, doc.Filename(), "application/pdf"),
		Purpose: openai.FilePurposeUserData,
	})
	if err != nil {
		return Handle{}, mapOpenAIError("upload", err)
	}
	if file == nil || file.ID == "" {
		return Handle{}, errors.New("upload returned no file id")
	}

	return Handle{ID: file.ID, Provider: OpenAIName, Filename: doc.Filename()}, nil
}

// Analyze asks the model to extract a record from the uploaded document.
func (s *OpenAIService) Analyze(ctx context.Context, h Handle, req AnalyzeRequest) (*AnalyzeResult, error) {
	if h.IsZero() {
		return nil, errors.New("analyze requires an uploaded document")
	}
	start := time.Now()

	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(ComposePrompt(req)),
		openai.FileContentPart(openai.ChatCompletionContentPartFileFileParam{
			FileID: openai.String(h.ID),
		}),
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(parts),
		},
	}
	if s.temperature > 0 {
		params.Temperature = openai.Float(s.temperature)
	}
	if s.jsonMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, mapOpenAIError("analyze", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("analyze returned no choices")
	}

	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("analyze returned empty content (finish reason %q)", resp.Choices[0].FinishReason)
	}

	return &AnalyzeResult{
		Content:          content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		ModelUsed:        resp.Model,
		RequestID:        resp.ID,
		ExecutionTime:    time.Since(start),
	}, nil
}

// Delete removes the uploaded file. A file that is already gone counts as deleted.
func (s *OpenAIService) Delete(ctx context.Context, h Handle) error {
	if h.IsZero() {
		return nil
	}
	if _, err := s.client.Files.Delete(ctx, h.ID); err != nil {
		err = mapOpenAIError("delete", err)
		if IsNotFound(err) {
			return nil
		}
		return err
	}
	return nil
}

func mapOpenAIError(op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			retryAfter := time.Duration(0)
			if apiErr.Response != nil {
				retryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
			}
			return &RateLimitError{
				Message:    fmt.Sprintf("OpenAI %s rate limited: %s", op, apiErr.Message),
				RetryAfter: retryAfter,
				StatusCode: apiErr.StatusCode,
			}
		}
		return &StatusError{
			Op:         "OpenAI " + op,
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Message,
		}
	}
	return err
}

var _ InferenceService = (*OpenAIService)(nil)
