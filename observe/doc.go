// Package observe provides observability primitives for provider calls.
//
// It is a pure instrumentation library: no execution, no transport, no I/O
// beyond exporter setup. Consumers wire the observer into the admission
// controller and the resilience wrappers.
package observe
