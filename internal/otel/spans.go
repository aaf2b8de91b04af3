package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for go-concierge spans.
var (
	AttrTenantID       = attribute.Key("goconcierge.tenant.id")
	AttrConversationID = attribute.Key("goconcierge.conversation.id")
	AttrJobID          = attribute.Key("goconcierge.job.id")
	AttrJobType        = attribute.Key("goconcierge.job.type")
	AttrChannel        = attribute.Key("goconcierge.channel")
	AttrStage          = attribute.Key("goconcierge.stage")
	AttrIntent         = attribute.Key("goconcierge.intent")
	AttrModel          = attribute.Key("goconcierge.llm.model")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartClientSpan starts a span for an outbound call (LLM API, Graph API).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
