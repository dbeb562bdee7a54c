package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the default tracer name for the mcp-kubernetes-chat packages.
const TracerName = "github.com/giantswarm/mcp-kubernetes-chat"

// Span attribute keys.
const (
	SpanAttrTool          = "mcp.tool"
	SpanAttrCallID        = "mcp.call_id"
	SpanAttrContext       = "mcp.cluster_context"
	SpanAttrContextType   = "mcp.cluster_context_type"
	SpanAttrTransport     = "mcp.transport"
	SpanAttrTransportKind = "mcp.transport_kind"
	SpanAttrAttempts      = "mcp.attempts"
	SpanAttrErrorKind     = "mcp.error_kind"
	SpanAttrSession       = "chat.session"
	SpanAttrRound         = "chat.round"
	SpanAttrToolCallCount = "chat.tool_call_count"
	SpanAttrHistoryLength = "chat.history_length"
)

// SpanAttributeBuilder helps construct span attributes with consistent naming.
type SpanAttributeBuilder struct {
	attrs []attribute.KeyValue
}

// NewSpanAttributeBuilder creates a new SpanAttributeBuilder.
func NewSpanAttributeBuilder() *SpanAttributeBuilder {
	return &SpanAttributeBuilder{attrs: make([]attribute.KeyValue, 0, 8)}
}

// WithTool adds the procedure name attribute.
func (b *SpanAttributeBuilder) WithTool(tool string) *SpanAttributeBuilder {
	b.attrs = append(b.attrs, attribute.String(SpanAttrTool, tool))
	return b
}

// WithCallID adds the tool call id attribute.
func (b *SpanAttributeBuilder) WithCallID(id string) *SpanAttributeBuilder {
	if id != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrCallID, id))
	}
	return b
}

// WithContext adds the cluster context and its classified type.
func (b *SpanAttributeBuilder) WithContext(name string) *SpanAttributeBuilder {
	b.attrs = append(b.attrs,
		attribute.String(SpanAttrContext, name),
		attribute.String(SpanAttrContextType, ClassifyContextName(name)),
	)
	return b
}

// WithTransport adds the transport id and variant.
func (b *SpanAttributeBuilder) WithTransport(id, kind string) *SpanAttributeBuilder {
	b.attrs = append(b.attrs,
		attribute.String(SpanAttrTransport, id),
		attribute.String(SpanAttrTransportKind, kind),
	)
	return b
}

// WithSession adds the session id.
func (b *SpanAttributeBuilder) WithSession(id string) *SpanAttributeBuilder {
	if id != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrSession, id))
	}
	return b
}

// Build returns the constructed attributes.
func (b *SpanAttributeBuilder) Build() []attribute.KeyValue {
	return b.attrs
}

// StartSpan starts a new span with the given name and attributes.
// The caller ends it with defer span.End().
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartToolSpan starts a client span for one tool invocation.
func StartToolSpan(ctx context.Context, toolName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+1)
	allAttrs = append(allAttrs, attribute.String(SpanAttrTool, toolName))
	allAttrs = append(allAttrs, attrs...)

	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, "tool."+toolName,
		trace.WithAttributes(allAttrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// StartTurnSpan starts the root span of a conversation turn.
func StartTurnSpan(ctx context.Context, sessionID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+1)
	if sessionID != "" {
		allAttrs = append(allAttrs, attribute.String(SpanAttrSession, sessionID))
	}
	allAttrs = append(allAttrs, attrs...)

	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, "turn", trace.WithAttributes(allAttrs...))
}

// StartModelSpan starts a client span for one language model completion.
func StartModelSpan(ctx context.Context, round int, historyLength int) (context.Context, trace.Span) {
	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, "model.complete",
		trace.WithAttributes(
			attribute.Int(SpanAttrRound, round),
			attribute.Int(SpanAttrHistoryLength, historyLength),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// SetSpanError records an error on the span and sets the status to error.
func SetSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess sets the span status to OK.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddSpanEvent adds an event to the span with optional attributes.
func AddSpanEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// TraceIDFromContext returns the trace ID of the span in ctx, or "".
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}

// SpanIDFromContext returns the span ID of the span in ctx, or "".
func SpanIDFromContext(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.IsValid() {
		return sc.SpanID().String()
	}
	return ""
}
