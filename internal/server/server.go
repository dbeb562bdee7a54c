package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/instrumentation"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/server/middleware"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/session"
)

const (
	DefaultReadHeaderTimeout = 10 * time.Second

	// DefaultWriteTimeout has to cover a whole turn.
	DefaultWriteTimeout = 10 * time.Minute

	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultMaxRequestBytes bounds turn request bodies.
	DefaultMaxRequestBytes = 1 << 20
)

// Option configures a Server.
type Option func(*Server) error

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		s.logger = logger
		return nil
	}
}

// WithInstrumentationProvider enables request metrics and, for the
// prometheus exporter, the /metrics endpoint.
func WithInstrumentationProvider(p *instrumentation.Provider) Option {
	return func(s *Server) error {
		s.provider = p
		return nil
	}
}

// WithVersion sets the version reported by the health endpoints.
func WithVersion(v string) Option {
	return func(s *Server) error {
		s.version = v
		return nil
	}
}

// WithAllowedOrigins enables CORS for the given origins.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) error {
		s.allowedOrigins = origins
		return nil
	}
}

// WithMaxRequestBytes limits request bodies. Zero or less disables the limit.
func WithMaxRequestBytes(n int64) Option {
	return func(s *Server) error {
		s.maxRequestBytes = n
		return nil
	}
}

// WithHSTS sends Strict-Transport-Security on plain HTTP requests, for TLS
// terminated by a proxy.
func WithHSTS(enabled bool) Option {
	return func(s *Server) error {
		s.hsts = enabled
		return nil
	}
}

// Server hosts the session API with health and metrics endpoints.
type Server struct {
	store           *session.Store
	logger          *slog.Logger
	provider        *instrumentation.Provider
	version         string
	allowedOrigins  []string
	maxRequestBytes int64
	hsts            bool

	health  *HealthChecker
	handler http.Handler
}

// New builds the server over store.
func New(store *session.Store, opts ...Option) (*Server, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	s := &Server{
		store:           store,
		logger:          slog.Default(),
		maxRequestBytes: DefaultMaxRequestBytes,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	s.health = NewHealthChecker(store, s.provider, s.version)

	mux := http.NewServeMux()
	NewAPI(store, s.logger).Register(mux)
	s.health.RegisterHealthEndpoints(mux)
	if s.provider != nil && s.provider.PrometheusEnabled() {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	var h http.Handler = mux
	h = middleware.MaxRequestSize(s.maxRequestBytes)(h)
	h = middleware.CORS(s.allowedOrigins)(h)
	h = middleware.SecurityHeaders(s.hsts)(h)
	h = middleware.HTTPMetrics(s.provider)(h)
	h = middleware.RequestLogger(s.logger)(h)
	s.handler = h
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Health returns the health checker.
func (s *Server) Health() *HealthChecker { return s.health }

// Run serves on addr until ctx is done, then marks the server not ready,
// drains requests and closes every session.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
		}
	}()

	s.logger.Info("session API listening",
		slog.String("addr", ln.Addr().String()),
		slog.Bool("metrics", s.provider != nil && s.provider.PrometheusEnabled()))

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, stopping session API")
	case err := <-serverDone:
		serveErr = err
	}

	s.health.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()

	var errs []error
	if serveErr != nil {
		errs = append(errs, fmt.Errorf("session API stopped with error: %w", serveErr))
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shut down session API: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close sessions: %w", err))
	}

	s.logger.Info("session API stopped")
	return errors.Join(errs...)
}
