// Package health provides health checks over the admission controller and
// resilience state.
//
// Checkers report how close a provider's admission queue is to saturation
// and whether circuit breakers are open. An Aggregator combines registered
// checkers into a single readiness signal, with HTTP handlers for probe
// endpoints.
package health
