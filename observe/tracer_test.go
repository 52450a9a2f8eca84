package observe

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestCallMeta_SpanName(t *testing.T) {
	tests := []struct {
		meta CallMeta
		want string
	}{
		{CallMeta{Provider: "openai", Operation: "embed"}, "provider.call.openai.embed"},
		{CallMeta{Provider: "openai"}, "provider.call.openai"},
	}

	for _, tt := range tests {
		if got := tt.meta.SpanName(); got != tt.want {
			t.Errorf("SpanName() = %q, want %q", got, tt.want)
		}
	}
}

func TestCallMeta_CallID(t *testing.T) {
	m := CallMeta{Provider: "openai", Operation: "embed"}
	if got := m.CallID(); got != "openai.embed" {
		t.Errorf("CallID() = %q, want openai.embed", got)
	}

	m = CallMeta{Provider: "openai"}
	if got := m.CallID(); got != "openai" {
		t.Errorf("CallID() = %q, want openai", got)
	}
}

func newRecordingTracer() (Tracer, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return newTracer(tp.Tracer("test")), recorder
}

func TestTracer_StartSpanAttributes(t *testing.T) {
	tracer, recorder := newRecordingTracer()

	meta := CallMeta{Provider: "anthropic", Operation: "complete", Priority: "high"}
	_, span := tracer.StartSpan(context.Background(), meta)
	tracer.EndSpan(span, nil)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	s := spans[0]

	if s.Name() != "provider.call.anthropic.complete" {
		t.Errorf("span name = %q", s.Name())
	}

	attrs := make(map[string]any)
	for _, kv := range s.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	if attrs["call.id"] != "anthropic.complete" {
		t.Errorf("call.id = %v", attrs["call.id"])
	}
	if attrs["call.provider"] != "anthropic" {
		t.Errorf("call.provider = %v", attrs["call.provider"])
	}
	if attrs["call.priority"] != "high" {
		t.Errorf("call.priority = %v", attrs["call.priority"])
	}
	if attrs["call.error"] != false {
		t.Errorf("call.error = %v, want false", attrs["call.error"])
	}

	if s.Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", s.Status().Code)
	}
}

func TestTracer_EndSpanRecordsError(t *testing.T) {
	tracer, recorder := newRecordingTracer()

	_, span := tracer.StartSpan(context.Background(), CallMeta{Provider: "openai"})
	tracer.EndSpan(span, errors.New("upstream 503"))

	s := recorder.Ended()[0]
	if s.Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", s.Status().Code)
	}
	if len(s.Events()) == 0 {
		t.Error("expected a recorded error event")
	}

	attrs := make(map[string]any)
	for _, kv := range s.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	if attrs["call.error"] != true {
		t.Errorf("call.error = %v, want true", attrs["call.error"])
	}
}

func TestNoopTracer(t *testing.T) {
	tracer := newNoopTracer()

	ctx, span := tracer.StartSpan(context.Background(), CallMeta{Provider: "p"})
	if ctx == nil || span == nil {
		t.Fatal("noop tracer returned nils")
	}
	tracer.EndSpan(span, errors.New("ignored"))
}
