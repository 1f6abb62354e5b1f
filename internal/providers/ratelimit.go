package providers

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements a token bucket rate limiter shared by all workers.
// A limiter with a non-positive rate never blocks.
type RateLimiter struct {
	mu sync.Mutex

	// Configuration
	requestsPerMinute float64
	windowSeconds     float64

	// Token bucket state
	tokens       float64
	lastUpdate   time.Time
	blockedUntil time.Time

	// Statistics
	totalConsumed int64
	totalWaited   time.Duration
	last429Time   time.Time
}

// RateLimiterStatus reports current limiter state.
type RateLimiterStatus struct {
	RequestsPerMinute float64       `json:"requests_per_minute"`
	TokensAvailable   int           `json:"tokens_available"`
	TimeUntilToken    time.Duration `json:"time_until_token"`
	TotalConsumed     int64         `json:"total_consumed"`
	TotalWaited       time.Duration `json:"total_waited"`
	Last429Time       time.Time     `json:"last_429_time,omitempty"`
}

// NewRateLimiter creates a new rate limiter. The bucket starts full.
func NewRateLimiter(requestsPerMinute float64) *RateLimiter {
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		windowSeconds:     60.0,
		tokens:            capacity(requestsPerMinute),
		lastUpdate:        time.Now(),
	}
}

// capacity is the burst size: one minute of requests, at least one.
func capacity(rpm float64) float64 {
	if rpm < 1 {
		return 1
	}
	return rpm
}

// SetRate changes the rate, keeping the tokens already accrued.
func (r *RateLimiter) SetRate(requestsPerMinute float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	r.requestsPerMinute = requestsPerMinute
	if limit := capacity(requestsPerMinute); r.tokens > limit {
		r.tokens = limit
	}
}

// Wait blocks until a token is available or context is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		if r.requestsPerMinute <= 0 && time.Now().After(r.blockedUntil) {
			r.totalConsumed++
			r.mu.Unlock()
			return nil
		}
		r.refill()

		waitTime := time.Until(r.blockedUntil)
		if waitTime <= 0 {
			if r.tokens >= 1.0 {
				r.tokens--
				r.totalConsumed++
				r.mu.Unlock()
				return nil
			}
			waitTime = r.timeUntilToken()
		}
		r.mu.Unlock()

		// Wait outside lock
		timer := time.NewTimer(waitTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			r.mu.Lock()
			r.totalWaited += waitTime
			r.mu.Unlock()
		}
	}
}

// Record429 should be called when a 429 error is received.
// A positive retryAfter drains the bucket and holds every caller until it passes.
func (r *RateLimiter) Record429(retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.last429Time = time.Now()
	if retryAfter > 0 {
		r.tokens = 0
		if until := r.last429Time.Add(retryAfter); until.After(r.blockedUntil) {
			r.blockedUntil = until
		}
	}
}

// Status returns current limiter status.
func (r *RateLimiter) Status() RateLimiterStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()

	var timeUntilToken time.Duration
	if blocked := time.Until(r.blockedUntil); blocked > 0 {
		timeUntilToken = blocked
	} else if r.requestsPerMinute > 0 && r.tokens < 1.0 {
		timeUntilToken = r.timeUntilToken()
	}

	return RateLimiterStatus{
		RequestsPerMinute: r.requestsPerMinute,
		TokensAvailable:   int(r.tokens),
		TimeUntilToken:    timeUntilToken,
		TotalConsumed:     r.totalConsumed,
		TotalWaited:       r.totalWaited,
		Last429Time:       r.last429Time,
	}
}

// timeUntilToken must be called with lock held and a positive rate.
func (r *RateLimiter) timeUntilToken() time.Duration {
	tokensNeeded := 1.0 - r.tokens
	refillRate := r.requestsPerMinute / r.windowSeconds
	wait := time.Duration(tokensNeeded / refillRate * float64(time.Second))
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}

// refill adds tokens based on elapsed time. Must be called with lock held.
func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastUpdate).Seconds()
	r.lastUpdate = now

	if r.requestsPerMinute <= 0 {
		return
	}

	refillRate := r.requestsPerMinute / r.windowSeconds
	r.tokens += elapsed * refillRate

	if limit := capacity(r.requestsPerMinute); r.tokens > limit {
		r.tokens = limit
	}
}
