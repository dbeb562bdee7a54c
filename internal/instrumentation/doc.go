// Package instrumentation provides OpenTelemetry metrics, tracing and tool
// invocation auditing for mcp-kubernetes-chat.
//
// # Metrics
//
//   - tool_calls_total: tool calls by tool, status, error_kind and context_type
//   - tool_call_duration_seconds: tool call latency, retries included
//   - model_calls_total / model_call_duration_seconds: language model completions
//   - turns_total: conversation turns by result
//   - transport_reconnects_total: reconnect attempts by transport kind
//   - active_transports, active_sessions: gauges
//   - http_requests_total: session API requests (serve command only)
//
// Cluster context names are classified with ClassifyContextName before they
// become labels. Set METRICS_DETAILED_LABELS=true to add the raw name.
//
// # Tracing
//
// A turn span wraps one StartTurn call. Each model completion gets a
// model.complete child span and each tool call a tool.<name> span.
//
// # Configuration
//
//   - INSTRUMENTATION_ENABLED: enable metrics and tracing (default: false)
//   - METRICS_EXPORTER: prometheus, otlp or stdout (default: prometheus)
//   - TRACING_EXPORTER: otlp, stdout or none (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_EXPORTER_OTLP_INSECURE
//   - OTEL_TRACES_SAMPLER_ARG: sampling rate (default: 0.1)
//   - OTEL_SERVICE_NAME: service name (default: mcp-kubernetes-chat)
//
// # Example Usage
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	provider.Metrics().RecordToolCall(ctx, "list_nodes", "prod-eu", "", time.Since(start))
package instrumentation
