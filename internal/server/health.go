package server

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/instrumentation"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/session"
)

// HealthChecker provides health check endpoints for Kubernetes probes.
type HealthChecker struct {
	ready     atomic.Bool
	store     *session.Store
	provider  *instrumentation.Provider
	version   string
	startTime time.Time
}

// NewHealthChecker creates a HealthChecker that starts ready. store and
// provider may be nil.
func NewHealthChecker(store *session.Store, provider *instrumentation.Provider, version string) *HealthChecker {
	h := &HealthChecker{
		store:     store,
		provider:  provider,
		version:   version,
		startTime: time.Now(),
	}
	h.ready.Store(true)
	return h
}

// SetReady sets the readiness state.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady returns whether the server accepts traffic.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// HealthResponse is the body of /healthz and /readyz.
type HealthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks,omitempty"`
	Version string            `json:"version,omitempty"`
}

// DetailedHealthResponse is the body of /healthz/detailed.
type DetailedHealthResponse struct {
	Status          string                      `json:"status"`
	Version         string                      `json:"version,omitempty"`
	Uptime          string                      `json:"uptime"`
	Sessions        int                         `json:"sessions"`
	Instrumentation *InstrumentationHealthCheck `json:"instrumentation"`
}

// InstrumentationHealthCheck reports whether metrics and tracing are on.
type InstrumentationHealthCheck struct {
	Enabled    bool `json:"enabled"`
	Prometheus bool `json:"prometheus"`
}

// LivenessHandler serves /healthz. If it can respond, the process is alive.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: h.version})
	})
}

// ReadinessHandler serves /readyz. The server is ready until shutdown starts
// or the session store is closed.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		checks := make(map[string]string)
		allOk := true

		if h.ready.Load() {
			checks["ready"] = "ok"
		} else {
			checks["ready"] = "not ready"
			allOk = false
		}

		if h.store != nil && h.store.Closed() {
			checks["sessions"] = "closed"
			allOk = false
		} else {
			checks["sessions"] = "ok"
		}

		if h.provider != nil {
			if h.provider.Enabled() {
				checks["instrumentation"] = "ok"
			} else {
				checks["instrumentation"] = "disabled"
			}
		}

		resp := HealthResponse{Status: "ok", Checks: checks}
		status := http.StatusOK
		if !allOk {
			resp.Status = "not ready"
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	})
}

// DetailedHealthHandler serves /healthz/detailed.
func (h *HealthChecker) DetailedHealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := DetailedHealthResponse{
			Status:          "ok",
			Version:         h.version,
			Uptime:          time.Since(h.startTime).Truncate(time.Second).String(),
			Instrumentation: &InstrumentationHealthCheck{},
		}
		if h.store != nil {
			resp.Sessions = h.store.Len()
		}
		if h.provider != nil {
			resp.Instrumentation.Enabled = h.provider.Enabled()
			resp.Instrumentation.Prometheus = h.provider.PrometheusEnabled()
		}

		status := http.StatusOK
		if !h.ready.Load() {
			resp.Status = "not ready"
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	})
}

// RegisterHealthEndpoints registers the health endpoints on mux.
func (h *HealthChecker) RegisterHealthEndpoints(mux *http.ServeMux) {
	mux.Handle("GET /healthz", h.LivenessHandler())
	mux.Handle("GET /readyz", h.ReadinessHandler())
	mux.Handle("GET /healthz/detailed", h.DetailedHealthHandler())
}
