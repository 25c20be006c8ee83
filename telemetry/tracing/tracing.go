// Package tracing wraps an OpenTelemetry TracerProvider behind a single
// StartSpan/ExtractIDs surface; telemetry/logging and telemetry/events use
// ExtractIDs for trace/span correlation.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/trafficgrid/controller"

// Tracer starts spans for one named component.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, oteltrace.Span)
}

type tracer struct{ t oteltrace.Tracer }

// NewTracer returns a Tracer backed by the global otel TracerProvider (a real
// one once NewSDKProvider has registered it), or a no-op tracer if enabled is
// false.
func NewTracer(enabled bool) Tracer {
	if !enabled {
		return &tracer{t: oteltrace.NewNoopTracerProvider().Tracer(instrumentationName)}
	}
	return &tracer{t: otel.Tracer(instrumentationName)}
}

func (tr *tracer) StartSpan(ctx context.Context, name string) (context.Context, oteltrace.Span) {
	return tr.t.Start(ctx, name)
}

// NewSDKProvider builds a real sampling TracerProvider and registers it as
// the global, for callers (cmd/trafficctl) that want span export wired end
// to end rather than the no-op default.
func NewSDKProvider(samplePercent float64) *trace.TracerProvider {
	if samplePercent <= 0 {
		samplePercent = 100
	}
	sampler := trace.ParentBased(trace.TraceIDRatioBased(samplePercent / 100))
	tp := trace.NewTracerProvider(trace.WithSampler(sampler))
	otel.SetTracerProvider(tp)
	return tp
}

// ExtractIDs returns the active span's trace/span IDs for log correlation, or
// empty strings if ctx carries no recording span.
func ExtractIDs(ctx context.Context) (traceID, spanID string) {
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}
