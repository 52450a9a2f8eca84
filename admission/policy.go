package admission

import "time"

// Priority orders queued calls. Higher priorities dispatch first; calls of
// equal priority dispatch in arrival order.
type Priority int

const (
	// PriorityLow is for background refreshes and prefetching.
	PriorityLow Priority = iota
	// PriorityNormal is the default.
	PriorityNormal
	// PriorityHigh is for user-facing calls that should jump the queue.
	PriorityHigh
)

// String returns the string representation of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Policy is the per-key rate-limit policy.
type Policy struct {
	// MaxRequests is the number of calls admitted per window.
	// Default: 10
	MaxRequests int

	// Window is the fixed window over which MaxRequests is enforced.
	// Default: 1 second
	Window time.Duration

	// QueueCapacity bounds the number of calls waiting for budget.
	// Default: 50
	QueueCapacity int

	// RetryAfter is the wait before re-submitting a call the provider
	// throttled, used when the throttle signal carries no hint.
	// Default: 1 second
	RetryAfter time.Duration

	// MaxThrottleRetries caps re-submissions of provider-throttled calls
	// before failing with ErrRateLimitExceeded.
	// Default: 5
	MaxThrottleRetries int
}

// DefaultPolicy returns the policy applied to keys that were never
// explicitly configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxRequests:        10,
		Window:             time.Second,
		QueueCapacity:      50,
		RetryAfter:         time.Second,
		MaxThrottleRetries: 5,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxRequests <= 0 {
		p.MaxRequests = 10
	}
	if p.Window <= 0 {
		p.Window = time.Second
	}
	if p.QueueCapacity <= 0 {
		p.QueueCapacity = 50
	}
	if p.RetryAfter <= 0 {
		p.RetryAfter = time.Second
	}
	if p.MaxThrottleRetries <= 0 {
		p.MaxThrottleRetries = 5
	}
	return p
}
