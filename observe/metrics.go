package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records telemetry for provider calls.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines and return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordCall records a provider call with duration and error status.
	RecordCall(ctx context.Context, meta CallMeta, duration time.Duration, err error)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	meter        metric.Meter
	totalCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	durationHist metric.Float64Histogram
}

// newMetrics creates a new Metrics instance with the given meter.
func newMetrics(meter metric.Meter) (*metricsImpl, error) {
	totalCount, err := meter.Int64Counter(
		"provider.call.total",
		metric.WithDescription("Total number of provider calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"provider.call.errors",
		metric.WithDescription("Total number of failed provider calls"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"provider.call.duration_ms",
		metric.WithDescription("Provider call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		meter:        meter,
		totalCount:   totalCount,
		errorCount:   errorCount,
		durationHist: durationHist,
	}, nil
}

// RecordCall records metrics for a provider call.
func (m *metricsImpl) RecordCall(ctx context.Context, meta CallMeta, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("call.id", meta.CallID()),
		attribute.String("call.provider", meta.Provider),
	}
	if meta.Operation != "" {
		attrs = append(attrs, attribute.String("call.operation", meta.Operation))
	}

	opt := metric.WithAttributes(attrs...)

	// Always increment total counter
	m.totalCount.Add(ctx, 1, opt)

	// Increment error counter on failure
	if err != nil {
		m.errorCount.Add(ctx, 1, opt)
	}

	// Record duration in milliseconds
	durationMs := float64(duration.Milliseconds())
	m.durationHist.Record(ctx, durationMs, opt)
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

func (m *noopMetrics) RecordCall(ctx context.Context, meta CallMeta, duration time.Duration, err error) {
}

// AdmissionMetrics records admission-gate outcomes: calls admitted through a
// key's window, rejections by reason, queue wait and queue depth.
type AdmissionMetrics struct {
	admitted  metric.Int64Counter
	rejected  metric.Int64Counter
	queueWait metric.Float64Histogram
	depth     metric.Int64Gauge
}

// NewAdmissionMetrics creates admission metrics on the given meter.
func NewAdmissionMetrics(meter metric.Meter) (*AdmissionMetrics, error) {
	admitted, err := meter.Int64Counter(
		"admission.admitted",
		metric.WithDescription("Calls admitted through the rate window"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	rejected, err := meter.Int64Counter(
		"admission.rejected",
		metric.WithDescription("Calls rejected by the admission gate"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	queueWait, err := meter.Float64Histogram(
		"admission.queue_wait_ms",
		metric.WithDescription("Time calls spent queued before dispatch"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	depth, err := meter.Int64Gauge(
		"admission.queue_depth",
		metric.WithDescription("Queued calls per resource key"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	return &AdmissionMetrics{
		admitted:  admitted,
		rejected:  rejected,
		queueWait: queueWait,
		depth:     depth,
	}, nil
}

// RecordAdmitted records an admitted call and its queue wait (zero for calls
// that executed immediately).
func (m *AdmissionMetrics) RecordAdmitted(ctx context.Context, key string, wait time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("call.provider", key),
		attribute.Bool("call.error", err != nil),
	}
	opt := metric.WithAttributes(attrs...)

	m.admitted.Add(ctx, 1, opt)
	if wait > 0 {
		m.queueWait.Record(ctx, float64(wait.Milliseconds()),
			metric.WithAttributes(attribute.String("call.provider", key)))
	}
}

// RecordRejected records an admission rejection.
// Reasons: queue_full, timeout, cancelled, rate_limit, closed.
func (m *AdmissionMetrics) RecordRejected(ctx context.Context, key, reason string) {
	m.rejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("call.provider", key),
		attribute.String("reason", reason),
	))
}

// RecordQueueDepth records the current queue depth for a key.
func (m *AdmissionMetrics) RecordQueueDepth(ctx context.Context, key string, depth int) {
	m.depth.Record(ctx, int64(depth), metric.WithAttributes(
		attribute.String("call.provider", key),
	))
}
