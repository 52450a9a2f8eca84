package resilience

import (
	"context"
	"sync"
	"time"
)

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// Rate is the number of operations allowed per second.
	// Default: 100
	Rate float64

	// Burst is the maximum burst size.
	// Default: 10
	Burst int

	// WaitOnLimit waits for a token instead of returning an error.
	// Default: false
	WaitOnLimit bool

	// MaxWait is the maximum time to wait for a token.
	// Default: 1 second
	MaxWait time.Duration
}

// RateLimiter is a token-bucket smoother for Executor pipelines. The keyed,
// queued admission gate lives in the admission package; this limiter only
// shapes the outflow of a single composed pipeline.
type RateLimiter struct {
	config RateLimiterConfig

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	// Apply defaults
	if config.Rate <= 0 {
		config.Rate = 100
	}
	if config.Burst <= 0 {
		config.Burst = 10
	}
	if config.MaxWait <= 0 {
		config.MaxWait = time.Second
	}

	return &RateLimiter{
		config:     config,
		tokens:     float64(config.Burst),
		lastRefill: time.Now(),
	}
}

// Allow reports whether one operation is allowed under the rate limit.
func (rl *RateLimiter) Allow() bool {
	return rl.AllowN(1)
}

// AllowN reports whether n operations are allowed.
func (rl *RateLimiter) AllowN(n int) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked()

	if rl.tokens >= float64(n) {
		rl.tokens -= float64(n)
		return true
	}

	return false
}

// Wait blocks until a token is available, the context is cancelled, or
// MaxWait elapses.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl.Allow() {
		return nil
	}

	rl.mu.Lock()
	deficit := 1 - rl.tokens
	rl.mu.Unlock()

	wait := time.Duration(deficit / rl.config.Rate * float64(time.Second))
	if wait > rl.config.MaxWait {
		wait = rl.config.MaxWait
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
	}

	if rl.Allow() {
		return nil
	}
	return ErrRateLimitExceeded
}

// Execute runs the operation if allowed by rate limit.
func (rl *RateLimiter) Execute(ctx context.Context, op func(context.Context) error) error {
	if rl.config.WaitOnLimit {
		if err := rl.Wait(ctx); err != nil {
			return err
		}
	} else if !rl.Allow() {
		return ErrRateLimitExceeded
	}

	return op(ctx)
}

func (rl *RateLimiter) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(rl.lastRefill)
	rl.lastRefill = now

	rl.tokens += elapsed.Seconds() * rl.config.Rate
	if rl.tokens > float64(rl.config.Burst) {
		rl.tokens = float64(rl.config.Burst)
	}
}

// Tokens returns the current number of available tokens.
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refillLocked()
	return rl.tokens
}

// Reset restores the rate limiter to full capacity.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.tokens = float64(rl.config.Burst)
	rl.lastRefill = time.Now()
}
