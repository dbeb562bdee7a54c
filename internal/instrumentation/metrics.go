package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys
const (
	attrTool        = "tool"
	attrStatus      = "status"
	attrErrorKind   = "error_kind"
	attrContextType = "context_type"
	attrContext     = "cluster_context"
	attrKind        = "transport_kind"
	attrResult      = "result"
	attrMethod      = "method"
	attrPath        = "path"
)

var durationBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0}

// Metrics provides methods for recording observability metrics.
// A zero Metrics is valid and records nothing.
type Metrics struct {
	toolCallsTotal      metric.Int64Counter
	toolCallDuration    metric.Float64Histogram
	modelCallsTotal     metric.Int64Counter
	modelCallDuration   metric.Float64Histogram
	turnsTotal          metric.Int64Counter
	transportReconnects metric.Int64Counter
	activeTransports    metric.Int64UpDownCounter
	activeSessions      metric.Int64UpDownCounter
	httpRequestsTotal   metric.Int64Counter

	// detailedLabels adds the full cluster context name to tool call metrics.
	detailedLabels bool
}

// NewMetrics creates a new Metrics instance with all instruments initialized.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{detailedLabels: detailedLabels}

	var err error

	m.toolCallsTotal, err = meter.Int64Counter(
		"tool_calls_total",
		metric.WithDescription("Total number of tool calls dispatched"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool_calls_total counter: %w", err)
	}

	m.toolCallDuration, err = meter.Float64Histogram(
		"tool_call_duration_seconds",
		metric.WithDescription("Tool call duration in seconds, retries included"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool_call_duration_seconds histogram: %w", err)
	}

	m.modelCallsTotal, err = meter.Int64Counter(
		"model_calls_total",
		metric.WithDescription("Total number of language model completions"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create model_calls_total counter: %w", err)
	}

	m.modelCallDuration, err = meter.Float64Histogram(
		"model_call_duration_seconds",
		metric.WithDescription("Language model completion duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create model_call_duration_seconds histogram: %w", err)
	}

	m.turnsTotal, err = meter.Int64Counter(
		"turns_total",
		metric.WithDescription("Total number of conversation turns by result"),
		metric.WithUnit("{turn}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create turns_total counter: %w", err)
	}

	m.transportReconnects, err = meter.Int64Counter(
		"transport_reconnects_total",
		metric.WithDescription("Total number of transport reconnect attempts"),
		metric.WithUnit("{reconnect}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport_reconnects_total counter: %w", err)
	}

	m.activeTransports, err = meter.Int64UpDownCounter(
		"active_transports",
		metric.WithDescription("Number of connected tool transports"),
		metric.WithUnit("{transport}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active_transports gauge: %w", err)
	}

	m.activeSessions, err = meter.Int64UpDownCounter(
		"active_sessions",
		metric.WithDescription("Number of open conversation sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active_sessions gauge: %w", err)
	}

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of session API requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	return m, nil
}

// RecordToolCall records one dispatched tool call. errorKind is empty for
// successful calls.
//
// The context label is reduced to its classified type unless detailed labels
// are enabled.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, clusterContext, errorKind string, duration time.Duration) {
	if m == nil || m.toolCallsTotal == nil || m.toolCallDuration == nil {
		return
	}

	status := StatusSuccess
	if errorKind != "" {
		status = StatusError
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrTool, tool),
		attribute.String(attrStatus, status),
		attribute.String(attrErrorKind, errorKind),
		attribute.String(attrContextType, ClassifyContextName(clusterContext)),
	}
	if m.detailedLabels {
		attrs = append(attrs, attribute.String(attrContext, clusterContext))
	}

	m.toolCallsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.toolCallDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(attrTool, tool),
		attribute.String(attrStatus, status),
	))
}

// RecordModelCall records one language model completion. Result should be one
// of ModelResultFinal, ModelResultToolCalls or ModelResultError.
func (m *Metrics) RecordModelCall(ctx context.Context, result string, duration time.Duration) {
	if m == nil || m.modelCallsTotal == nil || m.modelCallDuration == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(attrResult, result))
	m.modelCallsTotal.Add(ctx, 1, attrs)
	m.modelCallDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordTurn records the outcome of one conversation turn.
func (m *Metrics) RecordTurn(ctx context.Context, result string) {
	if m == nil || m.turnsTotal == nil {
		return
	}
	m.turnsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordTransportReconnect records a reconnect attempt on a transport variant.
func (m *Metrics) RecordTransportReconnect(ctx context.Context, kind, status string) {
	if m == nil || m.transportReconnects == nil {
		return
	}
	m.transportReconnects.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrKind, kind),
		attribute.String(attrStatus, status),
	))
}

// RecordHTTPRequest records one session API request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int) {
	if m == nil || m.httpRequestsTotal == nil {
		return
	}
	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.Int(attrStatus, statusCode),
	))
}

// IncrementActiveTransports increments the connected transports gauge.
func (m *Metrics) IncrementActiveTransports(ctx context.Context, kind string) {
	if m == nil || m.activeTransports == nil {
		return
	}
	m.activeTransports.Add(ctx, 1, metric.WithAttributes(attribute.String(attrKind, kind)))
}

// DecrementActiveTransports decrements the connected transports gauge.
func (m *Metrics) DecrementActiveTransports(ctx context.Context, kind string) {
	if m == nil || m.activeTransports == nil {
		return
	}
	m.activeTransports.Add(ctx, -1, metric.WithAttributes(attribute.String(attrKind, kind)))
}

// IncrementActiveSessions increments the open sessions gauge.
func (m *Metrics) IncrementActiveSessions(ctx context.Context) {
	if m == nil || m.activeSessions == nil {
		return
	}
	m.activeSessions.Add(ctx, 1)
}

// DecrementActiveSessions decrements the open sessions gauge.
func (m *Metrics) DecrementActiveSessions(ctx context.Context) {
	if m == nil || m.activeSessions == nil {
		return
	}
	m.activeSessions.Add(ctx, -1)
}
