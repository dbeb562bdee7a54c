package instrumentation

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return recorder
}

func TestSpanAttributeBuilder(t *testing.T) {
	t.Run("empty builder", func(t *testing.T) {
		if attrs := NewSpanAttributeBuilder().Build(); len(attrs) != 0 {
			t.Errorf("Empty builder should return 0 attributes, got %d", len(attrs))
		}
	})

	t.Run("full builder", func(t *testing.T) {
		attrs := NewSpanAttributeBuilder().
			WithTool("list_nodes").
			WithCallID("call_1").
			WithContext("prod-eu").
			WithTransport("k8s", "pipe").
			WithSession("s-1").
			Build()

		got := map[string]string{}
		for _, a := range attrs {
			got[string(a.Key)] = a.Value.AsString()
		}
		if got[SpanAttrTool] != "list_nodes" {
			t.Errorf("tool = %q", got[SpanAttrTool])
		}
		if got[SpanAttrContextType] != "production" {
			t.Errorf("context type = %q", got[SpanAttrContextType])
		}
		if got[SpanAttrTransportKind] != "pipe" {
			t.Errorf("transport kind = %q", got[SpanAttrTransportKind])
		}
		if got[SpanAttrSession] != "s-1" {
			t.Errorf("session = %q", got[SpanAttrSession])
		}
	})

	t.Run("empty call id and session are skipped", func(t *testing.T) {
		if attrs := NewSpanAttributeBuilder().WithCallID("").WithSession("").Build(); len(attrs) != 0 {
			t.Errorf("expected no attributes, got %d", len(attrs))
		}
	})
}

func TestStartToolSpan(t *testing.T) {
	recorder := installRecorder(t)

	ctx, span := StartToolSpan(context.Background(), "get_pod_logs")
	if TraceIDFromContext(ctx) == "" || SpanIDFromContext(ctx) == "" {
		t.Error("expected trace identifiers in span context")
	}
	SetSpanError(span, errors.New("timeout"))
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "tool.get_pod_logs" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	if spans[0].SpanKind() != trace.SpanKindClient {
		t.Errorf("span kind = %v", spans[0].SpanKind())
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("status = %v", spans[0].Status().Code)
	}
}

func TestTurnAndModelSpans(t *testing.T) {
	recorder := installRecorder(t)

	ctx, turn := StartTurnSpan(context.Background(), "s-1")
	_, model := StartModelSpan(ctx, 1, 3)
	SetSpanSuccess(model)
	model.End()
	AddSpanEvent(turn, "folded")
	turn.End()

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "model.complete" || spans[1].Name() != "turn" {
		t.Errorf("unexpected span names %q, %q", spans[0].Name(), spans[1].Name())
	}
	if spans[0].Parent().SpanID() != spans[1].SpanContext().SpanID() {
		t.Error("model span should be a child of the turn span")
	}
}

func TestSetSpanError_Nil(t *testing.T) {
	recorder := installRecorder(t)
	_, span := StartSpan(context.Background(), "noop")
	SetSpanError(span, nil)
	span.End()

	if recorder.Ended()[0].Status().Code != codes.Unset {
		t.Error("nil error should not change span status")
	}
}
