package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/config"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/instrumentation"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/server"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/server/middleware"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/session"
)

// newServeCmd creates the Cobra command for hosting sessions over HTTP.
func newServeCmd() *cobra.Command {
	var (
		addr               string
		allowedOrigins     string
		hsts               bool
		sessionIdleTimeout time.Duration
		maxRequestBytes    int64
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host chat sessions over HTTP",
		Long: `Host chat sessions over HTTP for clients that cannot embed the chat
engine. Every session gets its own conversation and its own tool server
connections; idle sessions are closed after --session-idle-timeout.

Health probes are served on /healthz and /readyz. Set
INSTRUMENTATION_ENABLED=true to collect OpenTelemetry metrics and traces; the
prometheus exporter adds /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Serve.Addr = addr
			}
			if cmd.Flags().Changed("session-idle-timeout") {
				cfg.Serve.SessionIdleTimeout = sessionIdleTimeout
			}
			if !cmd.Flags().Changed("allowed-origins") {
				allowedOrigins = os.Getenv("ALLOWED_ORIGINS")
			}
			origins, err := middleware.ValidateAllowedOrigins(allowedOrigins)
			if err != nil {
				return err
			}

			// Setup graceful shutdown - listen for both SIGINT and SIGTERM
			shutdownCtx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return runServe(shutdownCtx, cfg, serveOptions{
				allowedOrigins:  origins,
				hsts:            hsts,
				maxRequestBytes: maxRequestBytes,
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (default from config, :8080)")
	cmd.Flags().StringVar(&allowedOrigins, "allowed-origins", "", "comma-separated origins allowed for CORS (can also be set via ALLOWED_ORIGINS env var)")
	cmd.Flags().BoolVar(&hsts, "hsts", false, "send Strict-Transport-Security on plain HTTP, for TLS terminated by a proxy")
	cmd.Flags().DurationVar(&sessionIdleTimeout, "session-idle-timeout", 0, "close sessions idle for this long, 0 disables (default from config, 30m)")
	cmd.Flags().Int64Var(&maxRequestBytes, "max-request-bytes", server.DefaultMaxRequestBytes, "maximum request body size")
	return cmd
}

type serveOptions struct {
	allowedOrigins  []string
	hsts            bool
	maxRequestBytes int64
}

func runServe(ctx context.Context, cfg *config.Config, opts serveOptions) error {
	// Initialize OpenTelemetry instrumentation provider
	instrumentationConfig := instrumentation.DefaultConfig()
	instrumentationConfig.ServiceVersion = rootCmd.Version
	provider, err := instrumentation.NewProvider(ctx, instrumentationConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			slog.Warn("error during instrumentation shutdown", slog.Any("error", err))
		}
	}()

	a, err := newApp(ctx, cfg, appOptions{withModel: true, provider: provider})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	provider.SetAuditLogger(a.logger)

	if provider.Enabled() {
		a.logger.Info("OpenTelemetry instrumentation enabled",
			slog.String("metrics", instrumentationConfig.MetricsExporter),
			slog.String("tracing", instrumentationConfig.TracingExporter))
	}

	store := session.NewStore(
		func(ctx context.Context, id string) (*session.Session, error) {
			return a.buildSession(ctx, id)
		},
		session.WithIdleTimeout(cfg.Serve.SessionIdleTimeout),
		session.WithStoreLogger(a.logger),
		session.WithStoreMetrics(provider.Metrics()),
	)
	go store.RunJanitor(ctx)

	srv, err := server.New(store,
		server.WithLogger(a.logger),
		server.WithInstrumentationProvider(provider),
		server.WithVersion(rootCmd.Version),
		server.WithAllowedOrigins(opts.allowedOrigins),
		server.WithHSTS(opts.hsts),
		server.WithMaxRequestBytes(opts.maxRequestBytes),
	)
	if err != nil {
		return err
	}
	return srv.Run(ctx, cfg.Serve.Addr)
}
