package health

import (
	"context"
	"fmt"

	"github.com/jonwraymond/provgate/admission"
	"github.com/jonwraymond/provgate/resilience"
)

// StatsSource exposes admission statistics for a resource key. Satisfied by
// *admission.Controller.
type StatsSource interface {
	Stats(key string) admission.Stats
}

// AdmissionCheckerConfig configures the admission queue checker.
type AdmissionCheckerConfig struct {
	// Key is the resource key to watch.
	Key string

	// QueueCapacity is the key's configured queue capacity, used to compute
	// the fill ratio.
	QueueCapacity int

	// WarningRatio is the queue fill ratio that triggers degraded status.
	// Value should be between 0 and 1. Default: 0.5
	WarningRatio float64

	// CriticalRatio is the queue fill ratio that triggers unhealthy status.
	// Value should be between 0 and 1. Default: 0.9
	CriticalRatio float64
}

// AdmissionChecker reports how saturated a provider's admission queue is. A
// persistently full queue means callers are about to see ErrQueueFull.
type AdmissionChecker struct {
	source StatsSource
	config AdmissionCheckerConfig
}

// NewAdmissionChecker creates a new admission queue checker.
func NewAdmissionChecker(source StatsSource, config AdmissionCheckerConfig) *AdmissionChecker {
	if config.QueueCapacity <= 0 {
		config.QueueCapacity = admission.DefaultPolicy().QueueCapacity
	}
	if config.WarningRatio <= 0 || config.WarningRatio >= 1 {
		config.WarningRatio = 0.5
	}
	if config.CriticalRatio <= 0 || config.CriticalRatio >= 1 {
		config.CriticalRatio = 0.9
	}
	if config.CriticalRatio < config.WarningRatio {
		config.CriticalRatio = config.WarningRatio
	}

	return &AdmissionChecker{source: source, config: config}
}

// Name returns the name of this checker.
func (c *AdmissionChecker) Name() string {
	return "admission:" + c.config.Key
}

// Check performs the queue saturation check.
func (c *AdmissionChecker) Check(ctx context.Context) Result {
	select {
	case <-ctx.Done():
		return Unhealthy("context cancelled", ctx.Err())
	default:
	}

	stats := c.source.Stats(c.config.Key)
	ratio := float64(stats.QueueLength) / float64(c.config.QueueCapacity)

	details := map[string]any{
		"queue_length":       stats.QueueLength,
		"queue_capacity":     c.config.QueueCapacity,
		"requests_in_window": stats.RequestsInWindow,
		"window_reset_in":    stats.WindowResetIn.String(),
		"avg_wait":           stats.AvgWait.String(),
	}

	msg := fmt.Sprintf("queue at %.0f%% of capacity", ratio*100)
	switch {
	case ratio >= c.config.CriticalRatio:
		return Unhealthy(msg, ErrCheckFailed).WithDetails(details)
	case ratio >= c.config.WarningRatio:
		return Degraded(msg).WithDetails(details)
	default:
		return Healthy(msg).WithDetails(details)
	}
}

// BreakerChecker reports the state of a circuit breaker. An open breaker
// means the provider behind it is failing and calls are being short-circuited.
type BreakerChecker struct {
	name    string
	breaker *resilience.CircuitBreaker
}

// NewBreakerChecker creates a checker over the given breaker.
func NewBreakerChecker(name string, breaker *resilience.CircuitBreaker) *BreakerChecker {
	return &BreakerChecker{name: name, breaker: breaker}
}

// Name returns the name of this checker.
func (c *BreakerChecker) Name() string {
	return "breaker:" + c.name
}

// Check reports healthy while closed, degraded while probing recovery, and
// unhealthy while open.
func (c *BreakerChecker) Check(ctx context.Context) Result {
	select {
	case <-ctx.Done():
		return Unhealthy("context cancelled", ctx.Err())
	default:
	}

	m := c.breaker.Metrics()
	details := map[string]any{
		"state":    m.State.String(),
		"failures": m.Failures,
	}
	if !m.LastFailure.IsZero() {
		details["last_failure"] = m.LastFailure.UTC().Format("2006-01-02T15:04:05Z07:00")
	}

	switch m.State {
	case resilience.StateOpen:
		return Unhealthy("circuit open", ErrCheckFailed).WithDetails(details)
	case resilience.StateHalfOpen:
		return Degraded("circuit probing recovery").WithDetails(details)
	default:
		return Healthy("circuit closed").WithDetails(details)
	}
}
