package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/instrumentation"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/logging"
)

// ErrSessionNotFound is returned for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// ErrStoreClosed is returned by Create after Close.
var ErrStoreClosed = errors.New("session store is closed")

// Factory builds a session with the given id, registering its transports.
type Factory func(ctx context.Context, id string) (*Session, error)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithIdleTimeout terminates sessions idle for longer than d. Zero disables
// the janitor.
func WithIdleTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		s.idleTimeout = d
	}
}

// WithStoreLogger sets the logger.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStoreMetrics tracks the number of active sessions.
func WithStoreMetrics(m *instrumentation.Metrics) StoreOption {
	return func(s *Store) {
		s.metrics = m
	}
}

// Store maps session ids to sessions. Sessions share nothing with each other.
type Store struct {
	factory     Factory
	idleTimeout time.Duration
	logger      *slog.Logger
	metrics     *instrumentation.Metrics

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewStore creates an empty store.
func NewStore(factory Factory, opts ...StoreOption) *Store {
	s := &Store{
		factory:  factory,
		logger:   slog.Default(),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create builds a new session under a fresh id.
func (s *Store) Create(ctx context.Context) (*Session, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrStoreClosed
	}

	id := uuid.New().String()
	sess, err := s.factory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = sess.Shutdown()
		return nil, ErrStoreClosed
	}
	s.sessions[id] = sess
	s.mu.Unlock()

	s.metrics.IncrementActiveSessions(ctx)
	s.logger.Info("session created", logging.Operation("create"), slog.String("session_id", id))
	return sess, nil
}

// Get returns the session with id.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// Delete shuts the session down and removes it.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	s.metrics.DecrementActiveSessions(ctx)
	s.logger.Info("session deleted", logging.Operation("delete"), slog.String("session_id", id))
	return sess.Shutdown()
}

// IDs returns the ids of all sessions, sorted.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Closed reports whether Close was called.
func (s *Store) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Len returns the number of sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// ReapIdle deletes sessions idle since before now minus the idle timeout.
// Sessions with a running turn are kept. It returns the number deleted.
func (s *Store) ReapIdle(ctx context.Context, now time.Time) int {
	if s.idleTimeout <= 0 {
		return 0
	}
	cutoff := now.Add(-s.idleTimeout)

	s.mu.RLock()
	candidates := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		candidates = append(candidates, sess)
	}
	s.mu.RUnlock()

	reaped := 0
	for _, sess := range candidates {
		// The idle check is repeated under the session's own lock so a turn
		// starting now is never cut off.
		closed, err := sess.shutdownIfIdle(cutoff)
		if !closed {
			continue
		}
		if err != nil {
			s.logger.Warn("failed to shut down idle session", slog.String("session_id", sess.ID()), logging.Err(err))
		}

		s.mu.Lock()
		removed := s.sessions[sess.ID()] == sess
		if removed {
			delete(s.sessions, sess.ID())
		}
		s.mu.Unlock()
		if removed {
			s.metrics.DecrementActiveSessions(ctx)
			s.logger.Info("session deleted", logging.Operation("reap"), slog.String("session_id", sess.ID()))
		}
		reaped++
	}
	if reaped > 0 {
		s.logger.Info("reaped idle sessions", slog.Int("count", reaped))
	}
	return reaped
}

// RunJanitor reaps idle sessions until ctx is done.
func (s *Store) RunJanitor(ctx context.Context) {
	if s.idleTimeout <= 0 {
		return
	}
	interval := max(s.idleTimeout/2, time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.ReapIdle(ctx, now)
		}
	}
}

// Close shuts every session down. Create fails afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	var errs []error
	for _, sess := range sessions {
		s.metrics.DecrementActiveSessions(context.Background())
		if err := sess.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", sess.ID(), err))
		}
	}
	return errors.Join(errs...)
}
