package providers

import (
	"context"
)

// RateLimitedService takes a limiter token before every upload and analyze
// call, and feeds 429 responses back into the limiter.
type RateLimitedService struct {
	inner   InferenceService
	limiter *RateLimiter
}

// WithRateLimit wraps svc so all workers share one request budget.
func WithRateLimit(svc InferenceService, limiter *RateLimiter) *RateLimitedService {
	return &RateLimitedService{inner: svc, limiter: limiter}
}

// Name returns the wrapped service identifier.
func (s *RateLimitedService) Name() string {
	return s.inner.Name()
}

// Limiter returns the shared limiter.
func (s *RateLimitedService) Limiter() *RateLimiter {
	return s.limiter
}

// Upload waits for a token, then uploads.
func (s *RateLimitedService) Upload(ctx context.Context, doc Document) (Handle, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return Handle{}, err
	}
	h, err := s.inner.Upload(ctx, doc)
	s.observe(err)
	return h, err
}

// Analyze waits for a token, then analyzes.
func (s *RateLimitedService) Analyze(ctx context.Context, h Handle, req AnalyzeRequest) (*AnalyzeResult, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	res, err := s.inner.Analyze(ctx, h, req)
	s.observe(err)
	return res, err
}

// Delete is not rate limited so remote copies are removed even when the
// budget is exhausted.
func (s *RateLimitedService) Delete(ctx context.Context, h Handle) error {
	return s.inner.Delete(ctx, h)
}

func (s *RateLimitedService) observe(err error) {
	if rle, ok := IsRateLimitError(err); ok {
		s.limiter.Record429(rle.RetryAfter)
	}
}

var _ InferenceService = (*RateLimitedService)(nil)
