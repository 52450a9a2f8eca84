package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errProvider = errors.New("provider unavailable")

func failingOp(ctx context.Context) error { return errProvider }
func succeedingOp(ctx context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  3,
		ResetTimeout: time.Minute,
	})

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, failingOp); !errors.Is(err, errProvider) {
			t.Fatalf("attempt %d: err = %v, want provider error", i, err)
		}
	}

	if cb.State() != StateOpen {
		t.Errorf("state = %v, want open", cb.State())
	}

	// The next call must be rejected without invoking the operation.
	called := false
	err := cb.Execute(ctx, func(ctx context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("operation was invoked while circuit open")
	}
}

func TestCircuitBreaker_SuccessResetsFailureRun(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  3,
		ResetTimeout: time.Minute,
	})

	ctx := context.Background()

	_ = cb.Execute(ctx, failingOp)
	_ = cb.Execute(ctx, failingOp)
	_ = cb.Execute(ctx, succeedingOp)
	_ = cb.Execute(ctx, failingOp)
	_ = cb.Execute(ctx, failingOp)

	// Only consecutive failures count, so two runs of two never open it.
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: 20 * time.Millisecond,
	})

	ctx := context.Background()

	_ = cb.Execute(ctx, failingOp)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	time.Sleep(30 * time.Millisecond)

	if cb.State() != StateHalfOpen {
		t.Fatalf("state after reset timeout = %v, want half-open", cb.State())
	}

	// A successful probe closes the circuit.
	if err := cb.Execute(ctx, succeedingOp); err != nil {
		t.Fatalf("probe err = %v, want nil", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state after successful probe = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: 20 * time.Millisecond,
	})

	ctx := context.Background()

	_ = cb.Execute(ctx, failingOp)
	time.Sleep(30 * time.Millisecond)

	if err := cb.Execute(ctx, failingOp); !errors.Is(err, errProvider) {
		t.Fatalf("probe err = %v, want provider error", err)
	}
	if cb.State() != StateOpen {
		t.Errorf("state after failed probe = %v, want open", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenProbesAreBounded(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:       1,
		ResetTimeout:      10 * time.Millisecond,
		HalfOpenMaxProbes: 2,
	})

	ctx := context.Background()
	_ = cb.Execute(ctx, failingOp)
	time.Sleep(20 * time.Millisecond)

	// Hold two probes in flight; a third concurrent caller must be rejected.
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(ctx, func(ctx context.Context) error {
				started <- struct{}{}
				<-release
				return nil
			})
		}()
	}
	<-started
	<-started

	if err := cb.Execute(ctx, succeedingOp); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("third probe err = %v, want ErrCircuitOpen", err)
	}

	close(release)
	wg.Wait()
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var mu sync.Mutex
	var transitions []string

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
		OnStateChange: func(from, to State) {
			mu.Lock()
			transitions = append(transitions, from.String()+"->"+to.String())
			mu.Unlock()
		},
	})

	ctx := context.Background()
	_ = cb.Execute(ctx, failingOp)
	time.Sleep(20 * time.Millisecond)
	_ = cb.Execute(ctx, succeedingOp)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %q, want %q", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreaker_IsFailure(t *testing.T) {
	benign := errors.New("not found")

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Minute,
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, benign)
		},
	})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = cb.Execute(ctx, func(ctx context.Context) error { return benign })
	}

	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed after benign errors", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Minute})

	ctx := context.Background()
	_ = cb.Execute(ctx, failingOp)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	cb.Reset()

	if cb.State() != StateClosed {
		t.Errorf("state after Reset = %v, want closed", cb.State())
	}
	if m := cb.Metrics(); m.Failures != 0 {
		t.Errorf("failures after Reset = %d, want 0", m.Failures)
	}
}

func TestCircuitGroup_IndependentBreakers(t *testing.T) {
	g := NewCircuitGroup(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Minute})

	ctx := context.Background()
	_ = g.Breaker("openai.embed").Execute(ctx, failingOp)

	if got := g.Breaker("openai.embed").State(); got != StateOpen {
		t.Errorf("openai.embed state = %v, want open", got)
	}
	if got := g.Breaker("anthropic.complete").State(); got != StateClosed {
		t.Errorf("anthropic.complete state = %v, want closed", got)
	}

	// Same identity returns the same breaker.
	if g.Breaker("openai.embed") != g.Breaker("openai.embed") {
		t.Error("Breaker() returned distinct instances for one identity")
	}
}

func TestGuard_FallbackOnOpenCircuit(t *testing.T) {
	g := NewCircuitGroup(CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: time.Minute})
	ctx := context.Background()

	op := func(ctx context.Context) (string, error) { return "", errProvider }
	fallback := func(ctx context.Context) (string, error) { return "cached", nil }

	for i := 0; i < 3; i++ {
		got, err := Guard(ctx, g, "search", op, fallback)
		if err != nil || got != "cached" {
			t.Fatalf("call %d = (%q, %v), want (cached, nil)", i, got, err)
		}
	}

	// Fourth call: circuit is open, op must not run, fallback still serves.
	called := false
	got, err := Guard(ctx, g, "search", func(ctx context.Context) (string, error) {
		called = true
		return "live", nil
	}, fallback)
	if called {
		t.Error("operation invoked while circuit open")
	}
	if err != nil || got != "cached" {
		t.Errorf("got (%q, %v), want (cached, nil)", got, err)
	}
}

func TestGuard_NilFallbackPropagatesError(t *testing.T) {
	g := NewCircuitGroup(CircuitBreakerConfig{MaxFailures: 5, ResetTimeout: time.Minute})

	got, err := Guard[int](context.Background(), g, "ids", func(ctx context.Context) (int, error) {
		return 0, errProvider
	}, nil)
	if !errors.Is(err, errProvider) {
		t.Errorf("err = %v, want provider error", err)
	}
	if got != 0 {
		t.Errorf("got = %d, want zero value", got)
	}
}

func TestGuard_Success(t *testing.T) {
	g := NewCircuitGroup(CircuitBreakerConfig{})

	got, err := Guard(context.Background(), g, "ids", func(ctx context.Context) (int, error) {
		return 42, nil
	}, func(ctx context.Context) (int, error) {
		return -1, nil
	})
	if err != nil || got != 42 {
		t.Errorf("got (%d, %v), want (42, nil)", got, err)
	}
}
