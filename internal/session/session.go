// Package session ties one conversation to the transports it talks to. A
// Session owns its Registry and Engine; Shutdown releases every transport.
// The Store keeps sessions by id for hosts serving several clients.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/conversation"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/dispatch"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/instrumentation"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/logging"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/registry"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/transport"
)

// ErrSessionClosed is returned by operations on a session after Shutdown.
var ErrSessionClosed = errors.New("session is shut down")

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger. The session id is added to it.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records metrics for the session's components.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithAuditLogger records every tool invocation.
func WithAuditLogger(a *instrumentation.AuditLogger) Option {
	return func(s *Session) {
		s.audit = a
	}
}

// WithKubeconfig sets the kubeconfig used to expand per_context transports.
// Empty uses the client-go default loading rules.
func WithKubeconfig(path string) Option {
	return func(s *Session) {
		s.kubeconfig = path
	}
}

// WithTransportOptions are passed to every transport the session creates.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(s *Session) {
		s.transportOpts = append(s.transportOpts, opts...)
	}
}

// WithDispatchOptions configures the session's dispatcher.
func WithDispatchOptions(opts ...dispatch.Option) Option {
	return func(s *Session) {
		s.dispatchOpts = append(s.dispatchOpts, opts...)
	}
}

// WithEngineOptions configures the session's conversation engine.
func WithEngineOptions(opts ...conversation.Option) Option {
	return func(s *Session) {
		s.engineOpts = append(s.engineOpts, opts...)
	}
}

// Session is one conversation and the transports serving it.
type Session struct {
	id         string
	created    time.Time
	kubeconfig string
	logger     *slog.Logger
	metrics    *instrumentation.Metrics
	audit      *instrumentation.AuditLogger

	transportOpts []transport.Option
	dispatchOpts  []dispatch.Option
	engineOpts    []conversation.Option

	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	engine     *conversation.Engine

	mu         sync.Mutex
	closed     bool
	lastActive time.Time
}

// New creates a session without transports.
func New(id string, model conversation.Model, opts ...Option) *Session {
	now := time.Now()
	s := &Session{
		id:         id,
		created:    now,
		lastActive: now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.WithSession(s.logger, id)

	s.registry = registry.New(
		registry.WithLogger(s.logger),
		registry.WithMetrics(s.metrics),
	)
	s.dispatcher = dispatch.New(s.registry, append([]dispatch.Option{
		dispatch.WithLogger(s.logger),
		dispatch.WithMetrics(s.metrics),
		dispatch.WithAuditLogger(s.audit),
	}, s.dispatchOpts...)...)
	s.engine = conversation.NewEngine(model, s.registry, s.dispatcher, append([]conversation.Option{
		conversation.WithSessionID(id),
		conversation.WithLogger(s.logger),
		conversation.WithMetrics(s.metrics),
	}, s.engineOpts...)...)
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Created returns the creation time.
func (s *Session) Created() time.Time { return s.created }

// Registry returns the session's registry.
func (s *Session) Registry() *registry.Registry { return s.registry }

// Engine returns the session's conversation engine.
func (s *Session) Engine() *conversation.Engine { return s.engine }

// History returns a copy of the conversation history.
func (s *Session) History() []conversation.Message { return s.engine.History() }

// LastActive returns the time of the last turn or reset.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Busy reports whether a turn is running.
func (s *Session) Busy() bool {
	return s.engine.State() != conversation.StateIdle
}

// Closed reports whether Shutdown was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) touch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.lastActive = time.Now()
	return nil
}

// RegisterTransport creates the transports described by d and registers them.
// A per_context descriptor expands into one transport per kubeconfig context;
// if any of them fails, the ones already registered are removed again.
func (s *Session) RegisterTransport(ctx context.Context, d transport.Descriptor) error {
	if s.Closed() {
		return ErrSessionClosed
	}
	if err := d.Validate(); err != nil {
		return err
	}

	descriptors := []transport.Descriptor{d}
	if d.PerContext {
		contexts, err := transport.LoadKubeContexts(s.kubeconfig)
		if err != nil {
			return fmt.Errorf("transport %q: %w", d.ID, err)
		}
		if descriptors, err = transport.ExpandPerContext(d, contexts); err != nil {
			return err
		}
	}

	var registered []string
	for _, child := range descriptors {
		err := s.register(ctx, child)
		if err == nil {
			registered = append(registered, child.ID)
			continue
		}
		for _, id := range registered {
			if uerr := s.registry.Unregister(ctx, id); uerr != nil {
				s.logger.Warn("failed to roll back transport", logging.Transport(id), logging.Err(uerr))
			}
		}
		return err
	}
	return nil
}

func (s *Session) register(ctx context.Context, d transport.Descriptor) error {
	opts := append([]transport.Option{transport.WithLogger(s.logger)}, s.transportOpts...)
	t, err := transport.New(d, opts...)
	if err != nil {
		return err
	}
	return s.registry.Register(ctx, t)
}

// StartTurn runs one conversation turn.
func (s *Session) StartTurn(ctx context.Context, text string) (string, error) {
	if err := s.touch(); err != nil {
		return "", err
	}
	defer func() { _ = s.touch() }()
	return s.engine.StartTurn(ctx, text)
}

// Reset clears the history back to the system prompt. Transports stay
// connected.
func (s *Session) Reset(ctx context.Context) error {
	if err := s.touch(); err != nil {
		return err
	}
	return s.engine.Clear(ctx)
}

// Cancel cancels the running turn, if any.
func (s *Session) Cancel() {
	s.engine.Cancel()
}

// Shutdown cancels a running turn and closes every transport. It is
// idempotent.
func (s *Session) Shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.release()
}

// shutdownIfIdle shuts the session down if no turn is running and it was
// last active before cutoff. The check and the close happen under s.mu, the
// lock StartTurn and Reset take to mark activity, so a turn either marks the
// session active first or finds it closed.
func (s *Session) shutdownIfIdle(cutoff time.Time) (bool, error) {
	s.mu.Lock()
	if s.closed || s.Busy() || !s.lastActive.Before(cutoff) {
		s.mu.Unlock()
		return false, nil
	}
	s.closed = true
	s.mu.Unlock()

	return true, s.release()
}

func (s *Session) release() error {
	s.engine.Cancel()
	err := s.registry.Close()
	s.logger.Debug("session shut down", logging.Err(err))
	return err
}
