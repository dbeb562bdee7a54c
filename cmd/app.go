package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/config"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/conversation"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/instrumentation"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/llm"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/logging"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/session"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/transcript"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/transport"
)

// clientName is announced to tool servers during the MCP handshake.
const clientName = "mcp-kubernetes-chat"

// loadConfig finds and loads the config file, then applies the persistent
// flags that were set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := config.FindConfig(globals.configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("kubeconfig") {
		cfg.Kubeconfig = globals.kubeconfig
	}
	if globals.debug {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// app holds what every session of one process shares.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	model      conversation.Model
	usage      *llm.Client
	transcript *transcript.Store
	provider   *instrumentation.Provider
}

// appOptions selects the optional parts of an app.
type appOptions struct {
	// withModel builds the model client. Commands that only talk to tool
	// servers leave it off and skip the model settings validation.
	withModel bool

	// logOutput receives log lines. Interactive commands log to stderr.
	logOutput io.Writer

	provider *instrumentation.Provider
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	validate := cfg.ValidateWithoutModel
	if opts.withModel {
		validate = cfg.Validate
	}
	if err := validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}

	if opts.logOutput == nil {
		opts.logOutput = os.Stderr
	}
	logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, opts.logOutput)
	a := &app{cfg: cfg, logger: logger, provider: opts.provider}

	if opts.withModel {
		client, err := llm.New(cfg.Model, llm.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		a.model = client
		a.usage = client
	}

	if cfg.Transcript.Path != "" {
		store, err := transcript.Open(ctx, cfg.Transcript.Path, logger)
		if err != nil {
			return nil, err
		}
		a.transcript = store
	}
	return a, nil
}

// Close releases the transcript database.
func (a *app) Close() error {
	if a.transcript == nil {
		return nil
	}
	return a.transcript.Close()
}

// newSession builds a session under a fresh id.
func (a *app) newSession(ctx context.Context, extra ...conversation.Option) (*session.Session, error) {
	return a.buildSession(ctx, uuid.NewString(), extra...)
}

// buildSession builds a session with every configured transport registered.
// The session is shut down again if any transport fails.
func (a *app) buildSession(ctx context.Context, id string, extra ...conversation.Option) (*session.Session, error) {
	engineOpts := append(a.cfg.EngineOptions(), extra...)
	if a.transcript != nil {
		engineOpts = append(engineOpts, conversation.WithRecorder(a.transcript.Recorder(id)))
	}

	opts := []session.Option{
		session.WithLogger(a.logger),
		session.WithKubeconfig(a.cfg.Kubeconfig),
		session.WithDispatchOptions(a.cfg.DispatchOptions()...),
		session.WithEngineOptions(engineOpts...),
		session.WithTransportOptions(transport.WithClientInfo(clientName, rootCmd.Version)),
	}
	if a.provider != nil {
		opts = append(opts,
			session.WithMetrics(a.provider.Metrics()),
			session.WithAuditLogger(a.provider.AuditLogger()),
		)
	}

	sess := session.New(id, a.model, opts...)
	for _, d := range a.cfg.Transports {
		if err := sess.RegisterTransport(ctx, d); err != nil {
			return nil, errors.Join(
				fmt.Errorf("failed to connect transport %q: %w", d.ID, err),
				sess.Shutdown(),
			)
		}
	}
	a.logger.Debug("session ready",
		slog.String("session_id", id),
		slog.Int("transports", sess.Registry().Len()),
		slog.Int("procedures", len(sess.Registry().Procedures())))
	return sess, nil
}
