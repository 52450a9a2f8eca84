package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExecutor_NoPatternsPassesThrough(t *testing.T) {
	e := NewExecutor()

	if err := e.Execute(context.Background(), succeedingOp); err != nil {
		t.Errorf("Execute = %v, want nil", err)
	}
	if err := e.Execute(context.Background(), failingOp); !errors.Is(err, errProvider) {
		t.Errorf("Execute = %v, want provider error", err)
	}
}

func TestExecutor_RetryInsideCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Minute})
	e := NewExecutor(
		WithCircuitBreaker(cb),
		WithRetry(NewRetry(RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond})),
	)

	attempts := 0
	err := e.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return errProvider
	})

	// One exhausted retry run counts as a single breaker failure.
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Errorf("err = %v, want ErrMaxRetriesExceeded", err)
	}
	if m := cb.Metrics(); m.Failures != 1 {
		t.Errorf("breaker failures = %d, want 1", m.Failures)
	}
}

func TestExecutor_OpenCircuitSkipsRetry(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Minute})
	e := NewExecutor(
		WithCircuitBreaker(cb),
		WithRetry(NewRetry(RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond})),
	)

	ctx := context.Background()
	_ = e.Execute(ctx, failingOp)

	attempts := 0
	err := e.Execute(ctx, func(ctx context.Context) error {
		attempts++
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if attempts != 0 {
		t.Errorf("attempts = %d, want 0 while circuit open", attempts)
	}
}

func TestExecutor_TimeoutInnermost(t *testing.T) {
	e := NewExecutor(WithExecTimeout(20 * time.Millisecond))

	err := e.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestExecutor_BulkheadOutsideBreaker(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1})
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Minute})
	e := NewExecutor(WithBulkhead(b), WithCircuitBreaker(cb))

	ctx := context.Background()
	if err := b.Acquire(ctx); err != nil {
		t.Fatal(err)
	}

	err := e.Execute(ctx, failingOp)
	if !errors.Is(err, ErrBulkheadFull) {
		t.Fatalf("err = %v, want ErrBulkheadFull", err)
	}
	// A bulkhead rejection never reaches the breaker.
	if m := cb.Metrics(); m.Failures != 0 {
		t.Errorf("breaker failures = %d, want 0", m.Failures)
	}

	b.Release()
}

func TestExecutor_RateLimiterOutermost(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 0.001, Burst: 1})
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1})
	e := NewExecutor(WithRateLimiter(rl), WithBulkhead(b))

	ctx := context.Background()
	if err := e.Execute(ctx, succeedingOp); err != nil {
		t.Fatal(err)
	}

	err := e.Execute(ctx, succeedingOp)
	if !errors.Is(err, ErrRateLimitExceeded) {
		t.Errorf("err = %v, want ErrRateLimitExceeded", err)
	}
	// The rejected call never occupied a bulkhead slot.
	if m := b.Metrics(); m.MaxActive != 1 {
		t.Errorf("MaxActive = %d, want 1", m.MaxActive)
	}
}

func TestExecutor_WithTimeoutConfig(t *testing.T) {
	e := NewExecutor(WithTimeoutConfig(NewTimeout(TimeoutConfig{Timeout: 10 * time.Millisecond})))

	err := e.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}
