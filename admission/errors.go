package admission

import (
	"errors"
	"time"
)

// Sentinel errors for admission outcomes.
var (
	// ErrQueueFull is returned when a key's queue is at capacity.
	ErrQueueFull = errors.New("admission: queue at capacity")

	// ErrQueueTimeout is returned when a queued call exceeded its deadline
	// before being dispatched.
	ErrQueueTimeout = errors.New("admission: queued call timed out")

	// ErrRateLimitExceeded is returned when the provider kept reporting a
	// rate limit and the local retry budget is exhausted.
	ErrRateLimitExceeded = errors.New("admission: provider rate limit retries exhausted")

	// ErrClosed is returned for calls submitted to, or still queued in, a
	// closed controller.
	ErrClosed = errors.New("admission: controller closed")
)

// ThrottledError signals that the provider itself rejected a call with a
// rate-limit response (HTTP 429 and friends). The admission path re-submits
// such calls after RetryAfter, up to Policy.MaxThrottleRetries.
type ThrottledError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return e.Err.Error()
}

func (e *ThrottledError) Unwrap() error {
	return e.Err
}

// Throttled wraps err as a provider rate-limit signal.
func Throttled(err error, retryAfter time.Duration) *ThrottledError {
	return &ThrottledError{Err: err, RetryAfter: retryAfter}
}

// IsThrottled reports whether err carries a provider rate-limit signal and
// returns the provider-suggested wait, which may be zero.
func IsThrottled(err error) (time.Duration, bool) {
	var te *ThrottledError
	if errors.As(err, &te) {
		return te.RetryAfter, true
	}
	return 0, false
}
