// Package server hosts conversation sessions over HTTP for clients that
// cannot link the library directly.
//
// Each client creates a session, runs turns against it and deletes it when
// done; sessions share no state. Idle sessions are reaped by the session
// store's janitor. The server also exposes Kubernetes probes:
//
//   - /healthz: liveness
//   - /readyz: readiness, false once shutdown starts
//   - /healthz/detailed: uptime, session count, instrumentation state
//   - /metrics: Prometheus metrics, when the prometheus exporter is enabled
//
// A turn runs on the request context, so a client that disconnects cancels
// its turn. The session history keeps only the rounds the turn finished.
package server
