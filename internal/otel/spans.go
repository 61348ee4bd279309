package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for rwm spans.
var (
	AttrSessionID     = attribute.Key("rwm.session.id")
	AttrOperation     = attribute.Key("rwm.operation")
	AttrTraceID       = attribute.Key("rwm.trace.id")
	AttrArtifactCount = attribute.Key("rwm.commit.artifacts")
	AttrEventCount    = attribute.Key("rwm.commit.events")
	AttrBundleBudget  = attribute.Key("rwm.bundle.budget")
	AttrBundleTokens  = attribute.Key("rwm.bundle.tokens")
	AttrErrorKind     = attribute.Key("rwm.error.kind")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for an inbound request line.
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}
