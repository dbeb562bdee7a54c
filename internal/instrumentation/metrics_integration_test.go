package instrumentation

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TestAllMetricsExposedViaPrometheus records every metric once and checks that
// the prometheus exporter exposes it on the global registry.
func TestAllMetricsExposedViaPrometheus(t *testing.T) {
	config := Config{
		ServiceName:     "test-metrics-integration",
		ServiceVersion:  "1.0.0",
		Enabled:         true,
		MetricsExporter: "prometheus",
		TracingExporter: "none",
	}

	ctx := context.Background()
	provider, err := NewProvider(ctx, config)
	if err != nil {
		t.Fatalf("Failed to create instrumentation provider: %v", err)
	}
	defer func() { _ = provider.Shutdown(ctx) }()

	if !provider.PrometheusEnabled() {
		t.Fatal("prometheus exporter should be enabled")
	}

	m := provider.Metrics()
	m.RecordToolCall(ctx, "list_namespaces", "prod-eu", "", 120*time.Millisecond)
	m.RecordToolCall(ctx, "get_pod_logs", "", "timeout", 30*time.Second)
	m.RecordModelCall(ctx, ModelResultToolCalls, time.Second)
	m.RecordTurn(ctx, TurnResultCompleted)
	m.RecordTransportReconnect(ctx, "pipe", StatusSuccess)
	m.RecordHTTPRequest(ctx, "POST", "/v1/sessions", 201)
	m.IncrementActiveTransports(ctx, "pipe")
	m.IncrementActiveSessions(ctx)

	server := httptest.NewServer(promhttp.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("Failed to fetch metrics: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read metrics body: %v", err)
	}
	output := string(body)

	expected := []string{
		"tool_calls_total",
		"tool_call_duration_seconds_bucket",
		"model_calls_total",
		"model_call_duration_seconds_count",
		"turns_total",
		"transport_reconnects_total",
		"active_transports",
		"active_sessions",
		"http_requests_total",
	}
	for _, name := range expected {
		if !containsMetric(output, name) {
			t.Errorf("metric %s not exposed", name)
		}
	}
}

// containsMetric checks whether a metric line with the given name prefix exists.
func containsMetric(output, name string) bool {
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, name+"{") || strings.HasPrefix(line, name+" ") {
			return true
		}
	}
	return false
}
