// Package resilience provides resilience patterns for provider calls.
//
// This package implements common resilience patterns that keep a degraded
// upstream data provider from taking the caller down with it. The patterns
// can be composed together to build robust call pipelines, and they compose
// with the admission package, which is the hard gate nearest the network.
//
// # Patterns
//
// The package provides the following resilience patterns:
//
//   - Circuit Breaker: Prevents cascading failures by stopping requests to
//     failing providers after a threshold is reached. CircuitGroup keeps one
//     breaker per operation identity.
//
//   - Retry: Automatically retries failed operations with configurable
//     backoff strategies (exponential, linear, constant).
//
//   - Bulkhead: Limits concurrent operations per identity to prevent
//     resource exhaustion.
//
//   - Timeout: Ensures operations complete within a time limit.
//
//   - Rate Limiter: Smooths the rate of operations through an Executor
//     pipeline.
//
//   - Fallback: Converts failures into degraded-but-usable values, including
//     weighted merging of partial results from several providers.
//
// # Soft boundary
//
// With a fallback supplied, every wrapper here resolves to a value instead
// of propagating a failure; the error is still reported alongside so callers
// can see which path was taken. Hard backpressure (queue full, queue
// timeout, rate budget exhausted) is the admission package's job.
//
// # Usage
//
//	group := resilience.NewCircuitGroup(resilience.CircuitBreakerConfig{
//	    MaxFailures:  5,
//	    ResetTimeout: time.Minute,
//	})
//
//	estimate, err := resilience.Guard(ctx, group, "avm.estimate",
//	    fetchEstimate, cachedEstimate)
package resilience
