package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonwraymond/provgate/observe"
)

// Controller is a per-key admission gate. State is in-memory and owned by a
// single instance; construct one where the application is wired and Close it
// on shutdown. Independent keys make independent progress: the controller
// map is read-locked only long enough to find a key, and each key's window
// and queue are guarded by that key's own mutex.
type Controller struct {
	mu     sync.RWMutex
	keys   map[string]*keyState
	closed bool

	interval time.Duration
	logger   observe.Logger
	metrics  *observe.AdmissionMetrics
	done     chan struct{}
}

// keyState is the mutable window and queue for one resource key.
type keyState struct {
	mu            sync.Mutex
	key           string
	policy        Policy
	count         int
	windowResetAt time.Time
	q             queue
}

// Option configures a Controller.
type Option func(*Controller)

// WithDrainInterval sets the background drain tick. Default: 100ms.
func WithDrainInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithLogger sets the structured logger. Default: no-op.
func WithLogger(l observe.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the admission metrics recorder. Default: none.
func WithMetrics(m *observe.AdmissionMetrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// New creates a Controller and starts its drain loop.
func New(opts ...Option) *Controller {
	c := &Controller{
		keys:     make(map[string]*keyState),
		interval: 100 * time.Millisecond,
		logger:   observe.NopLogger(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.drainLoop()

	return c
}

// SetPolicy configures or re-configures the policy for key. Window and
// queue state for the key is preserved across re-configuration.
func (c *Controller) SetPolicy(key string, p Policy) {
	ks := c.state(key)
	if ks == nil {
		return
	}

	p = p.withDefaults()
	ks.mu.Lock()
	ks.policy = p
	ks.mu.Unlock()
}

// SubmitOption configures a single Submit call.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	priority Priority
	timeout  time.Duration
}

// WithPriority sets the queue priority. Default: PriorityNormal.
func WithPriority(p Priority) SubmitOption {
	return func(o *submitOptions) {
		o.priority = p
	}
}

// WithQueueTimeout bounds how long the call may wait in the queue. Zero
// means wait indefinitely. The deadline only applies while queued; a
// dispatched call is never preempted.
func WithQueueTimeout(d time.Duration) SubmitOption {
	return func(o *submitOptions) {
		o.timeout = d
	}
}

// Submit runs op under key's rate-limit policy. It executes immediately
// while window budget remains, otherwise waits in the key's queue until the
// drain loop dispatches it, the queue deadline passes, or ctx is cancelled.
//
// Provider throttle signals (see Throttled) are retried through the same
// admission path after the suggested wait, up to Policy.MaxThrottleRetries,
// then surfaced as ErrRateLimitExceeded.
func (c *Controller) Submit(ctx context.Context, key string, op Operation, opts ...SubmitOption) (any, error) {
	options := submitOptions{priority: PriorityNormal}
	for _, opt := range opts {
		opt(&options)
	}

	for attempt := 0; ; attempt++ {
		ks := c.state(key)
		if ks == nil {
			return nil, ErrClosed
		}

		ks.mu.Lock()
		ks.resetWindowLocked(time.Now())
		pol := ks.policy

		if ks.count < pol.MaxRequests {
			ks.count++
			ks.mu.Unlock()

			result, err := op(ctx)
			retryAfter, throttled := IsThrottled(err)
			if !throttled {
				c.record(ctx, key, err, 0)
				return result, err
			}

			if attempt+1 >= pol.MaxThrottleRetries {
				c.logger.Warn(ctx, "provider throttle retries exhausted",
					observe.Field{Key: "key", Value: key},
					observe.Field{Key: "attempts", Value: attempt + 1},
				)
				c.reject(ctx, key, "rate_limit")
				return nil, fmt.Errorf("%w: %w", ErrRateLimitExceeded, err)
			}

			if retryAfter <= 0 {
				retryAfter = pol.RetryAfter
			}
			c.logger.Debug(ctx, "provider throttled, re-submitting",
				observe.Field{Key: "key", Value: key},
				observe.Field{Key: "retry_after_ms", Value: retryAfter.Milliseconds()},
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-c.done:
				return nil, ErrClosed
			case <-time.After(retryAfter):
			}
			continue
		}

		if ks.q.len() >= pol.QueueCapacity {
			ks.mu.Unlock()
			c.logger.Warn(ctx, "admission queue full",
				observe.Field{Key: "key", Value: key},
				observe.Field{Key: "capacity", Value: pol.QueueCapacity},
			)
			c.reject(ctx, key, "queue_full")
			return nil, ErrQueueFull
		}

		t := newTask(ctx, op, options.priority)
		ks.q.push(t)
		if options.timeout > 0 {
			t.evict = time.AfterFunc(options.timeout, func() {
				c.evictTask(ctx, ks, t, ErrQueueTimeout, "timeout")
			})
		}
		ks.mu.Unlock()

		// Close may have drained this key between state() and the push
		// above, leaving the task in a queue no drain tick will visit.
		// done is closed before Close's drain pass, so if it is not yet
		// closed here the drain must still observe the task.
		select {
		case <-c.done:
			c.evictTask(ctx, ks, t, ErrClosed, "closed")
		default:
		}

		select {
		case <-t.done:
		case <-ctx.Done():
			c.evictTask(ctx, ks, t, ctx.Err(), "cancelled")
			// Already-dispatched calls run to completion.
			<-t.done
		}
		return t.result, t.err
	}
}

// Stats is a read-only snapshot of one key's admission state.
type Stats struct {
	// QueueLength is the number of calls waiting for budget.
	QueueLength int
	// RequestsInWindow is the number of calls admitted in the current window.
	RequestsInWindow int
	// WindowResetIn is the time remaining until the window refills.
	WindowResetIn time.Duration
	// OldestQueuedAt is the enqueue time of the oldest waiting call, zero
	// when the queue is empty.
	OldestQueuedAt time.Time
	// AvgWait is the mean time the currently queued calls have waited.
	AvgWait time.Duration
}

// Stats returns a snapshot for key. It has no side effects; in particular
// it does not advance the window.
func (c *Controller) Stats(key string) Stats {
	c.mu.RLock()
	ks := c.keys[key]
	c.mu.RUnlock()
	if ks == nil {
		return Stats{}
	}

	now := time.Now()
	ks.mu.Lock()
	defer ks.mu.Unlock()

	resetIn := ks.windowResetAt.Sub(now)
	if resetIn < 0 {
		resetIn = 0
	}

	s := Stats{
		QueueLength:      ks.q.len(),
		RequestsInWindow: ks.count,
		WindowResetIn:    resetIn,
		OldestQueuedAt:   ks.q.oldest(),
		AvgWait:          ks.q.avgWait(now),
	}
	if c.metrics != nil {
		c.metrics.RecordQueueDepth(context.Background(), key, s.QueueLength)
	}
	return s
}

// Close stops the drain loop, rejects every still-queued call with
// ErrClosed and clears all per-key state. Idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	keys := c.keys
	c.keys = make(map[string]*keyState)
	c.mu.Unlock()

	close(c.done)

	var abandoned []*task
	for _, ks := range keys {
		ks.mu.Lock()
		for ks.q.len() > 0 {
			t := ks.q.pop()
			if t.evict != nil {
				t.evict.Stop()
			}
			abandoned = append(abandoned, t)
		}
		ks.mu.Unlock()
	}
	for _, t := range abandoned {
		t.settle(nil, ErrClosed)
	}

	c.logger.Info(context.Background(), "admission controller closed",
		observe.Field{Key: "abandoned", Value: len(abandoned)},
	)
}

// state returns the lazily-created keyState for key, or nil if the
// controller is closed.
func (c *Controller) state(key string) *keyState {
	c.mu.RLock()
	ks, ok := c.keys[key]
	closed := c.closed
	c.mu.RUnlock()
	if ok {
		return ks
	}
	if closed {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	// Double-check after acquiring write lock
	if ks, ok = c.keys[key]; ok {
		return ks
	}

	ks = &keyState{key: key, policy: DefaultPolicy()}
	c.keys[key] = ks
	return ks
}

// resetWindowLocked resets the budget when the window has elapsed. The next
// boundary advances by whole windows, or from now if the key sat idle.
func (ks *keyState) resetWindowLocked(now time.Time) {
	if ks.windowResetAt.IsZero() {
		ks.windowResetAt = now.Add(ks.policy.Window)
		return
	}
	if now.Before(ks.windowResetAt) {
		return
	}
	ks.count = 0
	next := ks.windowResetAt.Add(ks.policy.Window)
	if !next.After(now) {
		next = now.Add(ks.policy.Window)
	}
	ks.windowResetAt = next
}

func (c *Controller) drainLoop() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.drain()
		case <-c.done:
			return
		}
	}
}

func (c *Controller) drain() {
	c.mu.RLock()
	states := make([]*keyState, 0, len(c.keys))
	for _, ks := range c.keys {
		states = append(states, ks)
	}
	c.mu.RUnlock()

	for _, ks := range states {
		c.drainKey(ks)
	}
}

// drainKey dispatches from the front of the queue while budget remains.
// Operations run in their own goroutines so a slow call never stalls the
// tick or other keys.
func (c *Controller) drainKey(ks *keyState) {
	now := time.Now()

	ks.mu.Lock()
	ks.resetWindowLocked(now)
	pol := ks.policy
	var ready []*task
	for ks.count < pol.MaxRequests && ks.q.len() > 0 {
		t := ks.q.pop()
		ks.count++
		ready = append(ready, t)
	}
	ks.mu.Unlock()

	for _, t := range ready {
		if t.evict != nil {
			t.evict.Stop()
		}
		go c.runTask(ks, pol, t)
	}
}

func (c *Controller) runTask(ks *keyState, pol Policy, t *task) {
	waited := time.Since(t.enqueuedAt)

	result, err := t.op(t.ctx)
	retryAfter, throttled := IsThrottled(err)
	if !throttled {
		c.record(t.ctx, ks.key, err, waited)
		t.settle(result, err)
		return
	}

	if t.retryCount+1 >= pol.MaxThrottleRetries {
		c.reject(t.ctx, ks.key, "rate_limit")
		t.settle(nil, fmt.Errorf("%w: %w", ErrRateLimitExceeded, err))
		return
	}

	if retryAfter <= 0 {
		retryAfter = pol.RetryAfter
	}
	select {
	case <-t.ctx.Done():
		t.settle(nil, t.ctx.Err())
		return
	case <-c.done:
		t.settle(nil, ErrClosed)
		return
	case <-time.After(retryAfter):
	}

	ks.mu.Lock()
	t.retryCount++
	ks.q.pushFront(t)
	ks.mu.Unlock()

	// The wait above may have raced Close: when both the timer and done
	// were ready the select can take the timer branch and re-insert into
	// an already-drained queue.
	select {
	case <-c.done:
		c.evictTask(t.ctx, ks, t, ErrClosed, "closed")
	default:
	}
}

// evictTask removes t from the queue and fails it with cause. A no-op when
// t was already dispatched or settled by a competing path.
func (c *Controller) evictTask(ctx context.Context, ks *keyState, t *task, cause error, reason string) {
	ks.mu.Lock()
	removed := ks.q.remove(t)
	ks.mu.Unlock()
	if !removed {
		return
	}

	t.settle(nil, cause)
	c.reject(ctx, ks.key, reason)
	c.logger.Debug(ctx, "queued call evicted",
		observe.Field{Key: "key", Value: ks.key},
		observe.Field{Key: "reason", Value: reason},
	)
}

func (c *Controller) record(ctx context.Context, key string, err error, waited time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordAdmitted(ctx, key, waited, err)
}

func (c *Controller) reject(ctx context.Context, key, reason string) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordRejected(ctx, key, reason)
}
