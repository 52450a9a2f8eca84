package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// BulkheadConfig configures the bulkhead.
type BulkheadConfig struct {
	// MaxConcurrent is the maximum number of concurrent operations.
	// Default: 10
	MaxConcurrent int

	// MaxWait is the maximum time to wait for a slot.
	// Default: 0 (no waiting, fail immediately)
	MaxWait time.Duration
}

// Bulkhead limits concurrent operations so one misbehaving provider cannot
// exhaust the process's capacity for everything else.
type Bulkhead struct {
	config BulkheadConfig
	sem    *semaphore.Weighted

	mu        sync.Mutex
	active    int
	maxActive int
	rejected  int64
}

// NewBulkhead creates a new bulkhead.
func NewBulkhead(config BulkheadConfig) *Bulkhead {
	// Apply defaults
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	return &Bulkhead{
		config: config,
		sem:    semaphore.NewWeighted(int64(config.MaxConcurrent)),
	}
}

// Acquire acquires a slot in the bulkhead.
// Returns ErrBulkheadFull if no slot is available within MaxWait.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	if b.sem.TryAcquire(1) {
		b.noteAcquired()
		return nil
	}

	// No immediate slot available
	if b.config.MaxWait <= 0 {
		b.noteRejected()
		return ErrBulkheadFull
	}

	waitCtx, cancel := context.WithTimeout(ctx, b.config.MaxWait)
	defer cancel()

	if err := b.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.noteRejected()
		return ErrBulkheadFull
	}

	b.noteAcquired()
	return nil
}

// Release releases a slot in the bulkhead.
func (b *Bulkhead) Release() {
	b.sem.Release(1)
	b.mu.Lock()
	b.active--
	b.mu.Unlock()
}

// Execute runs the operation within the bulkhead. The slot is released on
// every completion path, including panics, so activeCount can never leak.
func (b *Bulkhead) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.Acquire(ctx); err != nil {
		return err
	}
	defer b.Release()

	return op(ctx)
}

func (b *Bulkhead) noteAcquired() {
	b.mu.Lock()
	b.active++
	if b.active > b.maxActive {
		b.maxActive = b.active
	}
	b.mu.Unlock()
}

func (b *Bulkhead) noteRejected() {
	b.mu.Lock()
	b.rejected++
	b.mu.Unlock()
}

// BulkheadMetrics contains bulkhead statistics.
type BulkheadMetrics struct {
	Active        int
	MaxActive     int
	Available     int
	MaxConcurrent int
	Rejected      int64
}

// Metrics returns current bulkhead metrics.
func (b *Bulkhead) Metrics() BulkheadMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BulkheadMetrics{
		Active:        b.active,
		MaxActive:     b.maxActive,
		Available:     b.config.MaxConcurrent - b.active,
		MaxConcurrent: b.config.MaxConcurrent,
		Rejected:      b.rejected,
	}
}

// BulkheadGroup manages one bulkhead per operation identity, created lazily
// on first use. All bulkheads share the group's configuration.
type BulkheadGroup struct {
	config BulkheadConfig

	mu        sync.Mutex
	bulkheads map[string]*Bulkhead
}

// NewBulkheadGroup creates a group of identically-configured bulkheads.
func NewBulkheadGroup(config BulkheadConfig) *BulkheadGroup {
	return &BulkheadGroup{
		config:    config,
		bulkheads: make(map[string]*Bulkhead),
	}
}

// Bulkhead returns the bulkhead for the given operation identity.
func (g *BulkheadGroup) Bulkhead(id string) *Bulkhead {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.bulkheads[id]
	if !ok {
		b = NewBulkhead(g.config)
		g.bulkheads[id] = b
	}
	return b
}

// Isolate runs op within the bulkhead for id. When the concurrency cap is
// reached the fallback is invoked without running op; the caller always
// receives a value. A nil fallback propagates the error.
func Isolate[T any](ctx context.Context, g *BulkheadGroup, id string, op Operation[T], fallback Operation[T]) (T, error) {
	b := g.Bulkhead(id)

	var result T
	err := b.Execute(ctx, func(ctx context.Context) error {
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
