package resilience

import (
	"context"
	"sync"
	"time"
)

// Operation is a call against an upstream provider returning a typed result.
type Operation[T any] func(ctx context.Context) (T, error)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is blocking all requests.
	StateOpen
	// StateHalfOpen means the circuit is testing if the provider recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures before opening the circuit.
	// Default: 5
	MaxFailures int

	// ResetTimeout is how long to wait before attempting recovery.
	// Default: 30 seconds
	ResetTimeout time.Duration

	// HalfOpenMaxProbes is the max trial requests allowed in half-open state.
	// Bounding this avoids a thundering herd of simultaneous retries the
	// moment the reset timeout elapses.
	// Default: 1
	HalfOpenMaxProbes int

	// OnStateChange is called when the circuit state changes.
	OnStateChange func(from, to State)

	// IsFailure determines if an error should count as a failure.
	// Default: all non-nil errors are failures.
	IsFailure func(err error) bool
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probes      int
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	// Apply defaults
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.HalfOpenMaxProbes <= 0 {
		config.HalfOpenMaxProbes = 1
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return err != nil }
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// Execute runs the operation through the circuit breaker. While the circuit
// is open it returns ErrCircuitOpen without invoking op.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := op(ctx)
	cb.afterRequest(err)
	return err
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentStateLocked()
}

// Reset returns the circuit breaker to closed state and clears counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.probes = 0

	if oldState != StateClosed && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(oldState, StateClosed)
	}
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentStateLocked() {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.probes >= cb.config.HalfOpenMaxProbes {
			return ErrCircuitOpen
		}
		cb.probes++
	}

	return nil
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	isFailure := cb.config.IsFailure(err)
	oldState := cb.state

	switch cb.state {
	case StateClosed:
		if isFailure {
			cb.failures++
			cb.lastFailure = time.Now()
			if cb.failures >= cb.config.MaxFailures {
				cb.state = StateOpen
			}
		} else {
			// A success in closed state clears the consecutive-failure run.
			cb.failures = 0
		}

	case StateHalfOpen:
		if isFailure {
			// Failed probe, back to open with a fresh cool-down.
			cb.lastFailure = time.Now()
			cb.state = StateOpen
		} else {
			cb.state = StateClosed
			cb.failures = 0
		}
	}

	if oldState != cb.state && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(oldState, cb.state)
	}
}

// currentStateLocked transitions open -> half-open once the reset timeout
// has elapsed since the last failure.
func (cb *CircuitBreaker) currentStateLocked() State {
	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.config.ResetTimeout {
		cb.state = StateHalfOpen
		cb.probes = 0
		if cb.config.OnStateChange != nil {
			cb.config.OnStateChange(StateOpen, StateHalfOpen)
		}
	}
	return cb.state
}

// CircuitBreakerMetrics contains circuit breaker statistics.
type CircuitBreakerMetrics struct {
	State       State
	Failures    int
	LastFailure time.Time
}

// Metrics returns current circuit breaker metrics.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerMetrics{
		State:       cb.currentStateLocked(),
		Failures:    cb.failures,
		LastFailure: cb.lastFailure,
	}
}

// CircuitGroup manages one circuit breaker per operation identity, created
// lazily on first use. All breakers share the group's configuration.
type CircuitGroup struct {
	config CircuitBreakerConfig

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewCircuitGroup creates a group of identically-configured breakers.
func NewCircuitGroup(config CircuitBreakerConfig) *CircuitGroup {
	return &CircuitGroup{
		config:   config,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Breaker returns the breaker for the given operation identity.
func (g *CircuitGroup) Breaker(id string) *CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	cb, ok := g.breakers[id]
	if !ok {
		cb = NewCircuitBreaker(g.config)
		g.breakers[id] = cb
	}
	return cb
}

// Guard runs op through the breaker for id. On any failure, including a fast
// ErrCircuitOpen rejection, the fallback is invoked and its result returned:
// the caller always receives a value. A nil fallback propagates the error.
func Guard[T any](ctx context.Context, g *CircuitGroup, id string, op Operation[T], fallback Operation[T]) (T, error) {
	cb := g.Breaker(id)

	var result T
	err := cb.Execute(ctx, func(ctx context.Context) error {
		r, opErr := op(ctx)
		if opErr != nil {
			return opErr
		}
		result = r
		return nil
	})
	if err == nil {
		return result, nil
	}

	if fallback == nil {
		var zero T
		return zero, err
	}
	return fallback(ctx)
}
