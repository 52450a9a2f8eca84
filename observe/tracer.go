package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// CallMeta contains metadata about a provider call for telemetry purposes.
type CallMeta struct {
	Provider  string // Resource key of the upstream provider (required)
	Operation string // Provider operation, e.g. "listings.search" (optional)
	Priority  string // Admission priority the call carried (optional)
}

// SpanName returns the deterministic span name for this call.
// Format: provider.call.<provider>.<operation> or provider.call.<provider>
func (m CallMeta) SpanName() string {
	if m.Operation != "" {
		return "provider.call." + m.Provider + "." + m.Operation
	}
	return "provider.call." + m.Provider
}

// CallID returns the fully qualified call identifier.
func (m CallMeta) CallID() string {
	if m.Operation != "" {
		return m.Provider + "." + m.Operation
	}
	return m.Provider
}

// Tracer wraps OpenTelemetry tracing with call-specific span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: StartSpan must honor cancellation/deadlines and return ctx.Err() when canceled.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span for a provider call.
	StartSpan(ctx context.Context, meta CallMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

// tracerImpl is the concrete implementation of Tracer.
type tracerImpl struct {
	tracer trace.Tracer
}

// newTracer creates a new Tracer wrapping the given OpenTelemetry tracer.
func newTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

// StartSpan starts a new span with call metadata as attributes.
func (t *tracerImpl) StartSpan(ctx context.Context, meta CallMeta) (context.Context, trace.Span) {
	spanName := meta.SpanName()

	attrs := []attribute.KeyValue{
		attribute.String("call.id", meta.CallID()),
		attribute.String("call.provider", meta.Provider),
		attribute.Bool("call.error", false), // Will be updated in EndSpan if error
	}

	if meta.Operation != "" {
		attrs = append(attrs, attribute.String("call.operation", meta.Operation))
	}
	if meta.Priority != "" {
		attrs = append(attrs, attribute.String("call.priority", meta.Priority))
	}

	ctx, span := t.tracer.Start(ctx, spanName,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)

	return ctx, span
}

// EndSpan ends the span and records the error status if present.
func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("call.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// noopTracer is a tracer that does nothing.
type noopTracer struct {
	noop trace.Tracer
}

// newNoopTracer creates a no-op tracer.
func newNoopTracer() Tracer {
	return &noopTracer{
		noop: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta CallMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, err error) {
	span.End()
}
