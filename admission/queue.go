package admission

import (
	"context"
	"sync"
	"time"
)

// Operation is an opaque asynchronous call to an upstream provider. The
// controller never inspects its result, only success, failure and timing.
type Operation func(ctx context.Context) (any, error)

// task is a queued call. Each task is settled exactly once: by execution,
// by deadline eviction, or by controller shutdown.
type task struct {
	op         Operation
	ctx        context.Context
	priority   Priority
	enqueuedAt time.Time
	retryCount int
	evict      *time.Timer

	once   sync.Once
	done   chan struct{}
	result any
	err    error
}

func newTask(ctx context.Context, op Operation, priority Priority) *task {
	return &task{
		op:         op,
		ctx:        ctx,
		priority:   priority,
		enqueuedAt: time.Now(),
		done:       make(chan struct{}),
	}
}

// settle records the outcome and unblocks the submitter. Safe to call from
// competing paths; only the first caller wins.
func (t *task) settle(result any, err error) {
	t.once.Do(func() {
		t.result = result
		t.err = err
		close(t.done)
	})
}

// queue is a FIFO per priority tier over a small fixed set of tiers, not a
// general heap. Callers hold the owning key's lock.
type queue struct {
	tasks []*task
}

func (q *queue) len() int {
	return len(q.tasks)
}

// push inserts t after the last task of equal or higher priority, giving
// strict priority ordering with FIFO ties.
func (q *queue) push(t *task) {
	i := len(q.tasks)
	for i > 0 && q.tasks[i-1].priority < t.priority {
		i--
	}
	q.tasks = append(q.tasks, nil)
	copy(q.tasks[i+1:], q.tasks[i:])
	q.tasks[i] = t
}

// pushFront re-inserts a provider-throttled task at the head of the queue
// so it is the next call dispatched.
func (q *queue) pushFront(t *task) {
	q.tasks = append([]*task{t}, q.tasks...)
}

func (q *queue) pop() *task {
	if len(q.tasks) == 0 {
		return nil
	}
	t := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return t
}

// remove deletes t if still queued. Returns false if t was already
// dispatched or evicted.
func (q *queue) remove(t *task) bool {
	for i, qt := range q.tasks {
		if qt == t {
			copy(q.tasks[i:], q.tasks[i+1:])
			q.tasks[len(q.tasks)-1] = nil
			q.tasks = q.tasks[:len(q.tasks)-1]
			return true
		}
	}
	return false
}

func (q *queue) oldest() time.Time {
	var oldest time.Time
	for _, t := range q.tasks {
		if oldest.IsZero() || t.enqueuedAt.Before(oldest) {
			oldest = t.enqueuedAt
		}
	}
	return oldest
}

func (q *queue) avgWait(now time.Time) time.Duration {
	if len(q.tasks) == 0 {
		return 0
	}
	var total time.Duration
	for _, t := range q.tasks {
		total += now.Sub(t.enqueuedAt)
	}
	return total / time.Duration(len(q.tasks))
}
