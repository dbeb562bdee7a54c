// Package registry discovers and caches the procedures of connected
// transports and resolves a procedure name, optionally qualified by a cluster
// context, to the transport that serves it.
//
// Procedure lists are loaded once per connection and cached until the
// transport is refreshed. The registry owns every transport registered with
// it; callers borrow a Handle for the duration of one invocation.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/instrumentation"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/logging"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/transport"
)

// DefaultContext is the context name used by transports that do not name one.
const DefaultContext = "default"

// DefaultRefreshTimeout bounds one reconnect and re-list.
const DefaultRefreshTimeout = 30 * time.Second

// exclusive is the weight a reconnect or teardown takes on a handle.
const exclusive = 1 << 30

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder. Nil disables metrics.
func WithMetrics(metrics *instrumentation.Metrics) Option {
	return func(r *Registry) {
		r.metrics = metrics
	}
}

// WithRefreshTimeout bounds every reconnect and re-list.
func WithRefreshTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.refreshTimeout = d
		}
	}
}

// Handle is a registered transport. The Dispatcher borrows it for one
// invocation through Invoke.
type Handle struct {
	transport transport.Transport
	context   string

	// use is taken with weight 1 by invocations and in full by reconnects
	// and teardown, so a handle is never torn down under a running call.
	// Every wait on it ends with the waiter's context.
	use *semaphore.Weighted

	// slot serializes invocations on transports that cannot multiplex.
	// Nil when the transport multiplexes.
	slot chan struct{}

	// procs is replaced under the registry lock.
	procs []ProcedureDescriptor
}

func newHandle(t transport.Transport, clusterContext string) *Handle {
	h := &Handle{transport: t, context: clusterContext, use: semaphore.NewWeighted(exclusive)}
	if !t.Multiplexed() {
		h.slot = make(chan struct{}, 1)
	}
	return h
}

func (h *Handle) ID() string           { return h.transport.ID() }
func (h *Handle) Kind() transport.Kind { return h.transport.Kind() }
func (h *Handle) Context() string      { return h.context }
func (h *Handle) Alive() bool          { return h.transport.Alive() }
func (h *Handle) Multiplexed() bool    { return h.slot == nil }

// Invoke calls name on the handle's transport. The call waits for a
// reconnect in progress and, on a non-multiplexed transport, for the single
// slot; both waits are bounded by ctx like the call itself.
func (h *Handle) Invoke(ctx context.Context, name string, args map[string]any, timeout time.Duration) (*transport.Result, error) {
	if err := h.use.Acquire(ctx, 1); err != nil {
		return nil, h.waitError(ctx, name, timeout)
	}
	defer h.use.Release(1)

	if h.slot != nil {
		select {
		case h.slot <- struct{}{}:
			defer func() { <-h.slot }()
		case <-ctx.Done():
			return nil, h.waitError(ctx, name, timeout)
		}
	}
	return h.transport.Invoke(ctx, name, args, timeout)
}

func (h *Handle) waitError(ctx context.Context, name string, timeout time.Duration) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &transport.TimeoutError{Transport: h.ID(), Procedure: name, Timeout: timeout, Err: ctx.Err()}
	}
	return fmt.Errorf("waiting for transport %q: %w", h.ID(), ctx.Err())
}

// TransportStatus summarizes one registered transport.
type TransportStatus struct {
	ID         string         `json:"id"`
	Kind       transport.Kind `json:"kind"`
	Context    string         `json:"context"`
	Alive      bool           `json:"alive"`
	Procedures int            `json:"procedures"`
}

// Registry maps (context, procedure) pairs to transports.
type Registry struct {
	logger         *slog.Logger
	metrics        *instrumentation.Metrics
	refreshTimeout time.Duration

	mu              sync.RWMutex
	handles         map[string]*Handle
	order           []string
	index           map[string]map[string]*Handle
	defaultContext  string
	explicitDefault bool
	closed          bool

	refreshGroup singleflight.Group
	background   sync.WaitGroup
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		logger:         slog.Default(),
		refreshTimeout: DefaultRefreshTimeout,
		handles:        map[string]*Handle{},
		index:          map[string]map[string]*Handle{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.WithOperation(r.logger, "registry")
	return r
}

// Register connects t unless it is already alive, lists its procedures and
// adds them under the transport's context. The registry takes ownership of
// t: on failure t is closed.
//
// A procedure name already served in the same context by another transport
// fails with *DuplicateProcedureError.
func (r *Registry) Register(ctx context.Context, t transport.Transport) (err error) {
	defer func() {
		if err != nil {
			_ = t.Close()
		}
	}()

	r.mu.RLock()
	closed := r.closed
	_, exists := r.handles[t.ID()]
	r.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if exists {
		return fmt.Errorf("transport %q: %w", t.ID(), ErrDuplicateTransport)
	}

	if !t.Alive() {
		if err := t.Connect(ctx); err != nil {
			return err
		}
	}

	desc := t.Descriptor()
	clusterContext := desc.Context
	if clusterContext == "" {
		clusterContext = DefaultContext
	}
	h := newHandle(t, clusterContext)

	procs, err := r.loadProcedures(ctx, h)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if _, exists := r.handles[t.ID()]; exists {
		return fmt.Errorf("transport %q: %w", t.ID(), ErrDuplicateTransport)
	}
	if err := r.checkDuplicatesLocked(h, procs); err != nil {
		return err
	}

	r.handles[t.ID()] = h
	r.order = append(r.order, t.ID())
	r.indexLocked(h, procs)

	switch {
	case desc.Default && !r.explicitDefault:
		r.defaultContext = clusterContext
		r.explicitDefault = true
	case r.defaultContext == "":
		r.defaultContext = clusterContext
	}

	r.metrics.IncrementActiveTransports(ctx, string(t.Kind()))
	r.logger.Info("transport registered",
		logging.Transport(t.ID()),
		logging.TransportKind(string(t.Kind())),
		logging.Context(clusterContext),
		slog.Int("procedures", len(procs)))
	return nil
}

// loadProcedures lists and parses the procedures of h. Procedures with an
// unreadable schema are skipped; a name listed twice keeps its first entry.
func (r *Registry) loadProcedures(ctx context.Context, h *Handle) ([]ProcedureDescriptor, error) {
	listed, err := h.transport.ListProcedures(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(listed))
	procs := make([]ProcedureDescriptor, 0, len(listed))
	for _, p := range listed {
		if seen[p.Name] {
			continue
		}
		pd, err := NewProcedureDescriptor(p, h.ID(), h.context)
		if err != nil {
			r.logger.Warn("skipping procedure with unreadable schema",
				logging.Transport(h.ID()), logging.Tool(p.Name), logging.Err(err))
			continue
		}
		seen[p.Name] = true
		procs = append(procs, pd)
	}
	return procs, nil
}

func (r *Registry) checkDuplicatesLocked(h *Handle, procs []ProcedureDescriptor) error {
	existing := r.index[h.context]
	for _, p := range procs {
		if other, ok := existing[p.Name]; ok && other != h {
			return &DuplicateProcedureError{
				Procedure: p.Name,
				Context:   h.context,
				Existing:  other.ID(),
				Transport: h.ID(),
			}
		}
	}
	return nil
}

func (r *Registry) indexLocked(h *Handle, procs []ProcedureDescriptor) {
	byName, ok := r.index[h.context]
	if !ok {
		byName = map[string]*Handle{}
		r.index[h.context] = byName
	}
	for _, p := range procs {
		byName[p.Name] = h
	}
	h.procs = procs
}

func (r *Registry) unindexLocked(h *Handle) {
	byName := r.index[h.context]
	for _, p := range h.procs {
		if byName[p.Name] == h {
			delete(byName, p.Name)
		}
	}
	if len(byName) == 0 && !r.contextHasHandleLocked(h.context, h) {
		delete(r.index, h.context)
	}
}

func (r *Registry) contextHasHandleLocked(clusterContext string, except *Handle) bool {
	for _, id := range r.order {
		if other := r.handles[id]; other != except && other.context == clusterContext {
			return true
		}
	}
	return false
}

// Resolve returns the handle serving name in clusterContext along with the
// procedure's descriptor. An empty clusterContext selects the default
// context.
//
// It fails with *UnknownContextError for a context nobody registered,
// *UnknownProcedureError when no transport in the context serves name, and
// *transport.ConnectionError when the serving transport is down.
func (r *Registry) Resolve(name, clusterContext string) (*Handle, ProcedureDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ProcedureDescriptor{}, ErrClosed
	}

	target := clusterContext
	if target == "" {
		target = r.defaultContext
	}
	byName, ok := r.index[target]
	if !ok {
		if clusterContext == "" {
			return nil, ProcedureDescriptor{}, &UnknownProcedureError{Procedure: name, Context: DefaultContext}
		}
		return nil, ProcedureDescriptor{}, &UnknownContextError{Context: clusterContext, Known: r.contextsLocked()}
	}

	h, ok := byName[name]
	if !ok {
		return nil, ProcedureDescriptor{}, &UnknownProcedureError{Procedure: name, Context: target}
	}
	if !h.Alive() {
		return h, ProcedureDescriptor{}, &transport.ConnectionError{
			Transport: h.ID(),
			Kind:      h.Kind(),
			Reason:    "transport is down",
			Err:       transport.ErrNotConnected,
		}
	}

	for _, p := range h.procs {
		if p.Name == name {
			return h, p, nil
		}
	}
	// index and procs are always updated together.
	return nil, ProcedureDescriptor{}, &UnknownProcedureError{Procedure: name, Context: target}
}

// Refresh reconnects the transport and re-lists its procedures. Concurrent
// refreshes of the same transport share one reconnect. Procedures of a
// transport that fails to reconnect stay cached but resolve to a
// ConnectionError until a later refresh succeeds.
//
// The shared reconnect is bounded by the refresh timeout, not by ctx: a
// caller whose ctx ends stops waiting and gets ctx's error while the
// reconnect carries on for everyone else.
func (r *Registry) Refresh(ctx context.Context, id string) error {
	ch := r.refreshGroup.DoChan(id, func() (any, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.refreshTimeout)
		defer cancel()
		return nil, r.refresh(refreshCtx, id)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("waiting for transport %q to reconnect: %w", id, ctx.Err())
	}
}

func (r *Registry) refresh(ctx context.Context, id string) error {
	r.mu.RLock()
	h, ok := r.handles[id]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if !ok {
		return fmt.Errorf("transport %q: %w", id, ErrUnknownTransport)
	}

	if err := h.use.Acquire(ctx, exclusive); err != nil {
		return fmt.Errorf("waiting for calls on transport %q: %w", id, err)
	}
	defer h.use.Release(exclusive)

	// Close or Unregister may have run while this refresh waited.
	r.mu.RLock()
	closed = r.closed
	current := r.handles[id] == h
	r.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if !current {
		return fmt.Errorf("transport %q: %w", id, ErrUnknownTransport)
	}

	kind := string(h.Kind())
	start := time.Now()
	if err := h.transport.Connect(ctx); err != nil {
		r.metrics.RecordTransportReconnect(ctx, kind, instrumentation.StatusError)
		r.logger.Warn("transport reconnect failed",
			logging.Transport(id), logging.Duration(time.Since(start)), logging.SanitizedErr(err))
		return err
	}

	procs, err := r.loadProcedures(ctx, h)
	if err != nil {
		r.metrics.RecordTransportReconnect(ctx, kind, instrumentation.StatusError)
		r.logger.Warn("listing procedures after reconnect failed", logging.Transport(id), logging.SanitizedErr(err))
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.handles[id] != h {
		return fmt.Errorf("transport %q: %w", id, ErrUnknownTransport)
	}
	r.unindexLocked(h)
	if err := r.checkDuplicatesLocked(h, procs); err != nil {
		// Keep the previous list rather than serving a conflicting one.
		r.indexLocked(h, h.procs)
		r.metrics.RecordTransportReconnect(ctx, kind, instrumentation.StatusError)
		return err
	}
	r.indexLocked(h, procs)

	r.metrics.RecordTransportReconnect(ctx, kind, instrumentation.StatusSuccess)
	r.logger.Info("transport refreshed",
		logging.Transport(id), logging.Duration(time.Since(start)), slog.Int("procedures", len(procs)))
	return nil
}

// RefreshAsync refreshes the transport in the background. Close waits for
// refreshes started this way.
func (r *Registry) RefreshAsync(id string) {
	r.mu.RLock()
	closed := r.closed
	if !closed {
		r.background.Add(1)
	}
	r.mu.RUnlock()
	if closed {
		return
	}

	go func() {
		defer r.background.Done()
		_ = r.Refresh(context.Background(), id)
	}()
}

// Unregister removes and closes one transport.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	r.mu.Lock()
	h, ok := r.handles[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("transport %q: %w", id, ErrUnknownTransport)
	}
	r.unindexLocked(h)
	delete(r.handles, id)
	for i, other := range r.order {
		if other == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.defaultContext == h.context && !r.contextHasHandleLocked(h.context, nil) {
		r.defaultContext = ""
		r.explicitDefault = false
		if len(r.order) > 0 {
			r.defaultContext = r.handles[r.order[0]].context
		}
	}
	r.mu.Unlock()

	return r.closeHandle(ctx, h)
}

func (r *Registry) closeHandle(ctx context.Context, h *Handle) error {
	if err := h.use.Acquire(ctx, exclusive); err != nil {
		return fmt.Errorf("waiting for calls on transport %q: %w", h.ID(), err)
	}
	defer h.use.Release(exclusive)
	r.metrics.DecrementActiveTransports(ctx, string(h.Kind()))
	return h.transport.Close()
}

// Procedures returns the catalog shown to the model: every procedure name
// once, in registration order and then host order. A name served in several
// contexts is described by its first registration.
func (r *Registry) Procedures() []ProcedureDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := map[string]bool{}
	var out []ProcedureDescriptor
	for _, id := range r.order {
		for _, p := range r.handles[id].procs {
			if seen[p.Name] {
				continue
			}
			seen[p.Name] = true
			out = append(out, p)
		}
	}
	return out
}

// ProceduresIn returns the procedures served in one context.
func (r *Registry) ProceduresIn(clusterContext string) []ProcedureDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ProcedureDescriptor
	for _, id := range r.order {
		if h := r.handles[id]; h.context == clusterContext {
			out = append(out, h.procs...)
		}
	}
	return out
}

// Contexts returns the registered context names, sorted.
func (r *Registry) Contexts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.contextsLocked()
}

func (r *Registry) contextsLocked() []string {
	seen := map[string]bool{}
	var out []string
	for _, id := range r.order {
		c := r.handles[id].context
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// HasContext reports whether any transport serves clusterContext.
func (r *Registry) HasContext(clusterContext string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, h := range r.handles {
		if h.context == clusterContext {
			return true
		}
	}
	return false
}

// DefaultContext returns the context used when a call names none.
func (r *Registry) DefaultContext() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultContext
}

// Status returns one entry per transport in registration order.
func (r *Registry) Status() []TransportStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]TransportStatus, 0, len(r.order))
	for _, id := range r.order {
		h := r.handles[id]
		out = append(out, TransportStatus{
			ID:         id,
			Kind:       h.Kind(),
			Context:    h.context,
			Alive:      h.Alive(),
			Procedures: len(h.procs),
		})
	}
	return out
}

// Len returns the number of registered transports.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Close closes every transport. Calls in flight finish (or time out) first.
// Close is idempotent.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	handles := make([]*Handle, 0, len(r.order))
	for _, id := range r.order {
		handles = append(handles, r.handles[id])
	}
	r.handles = map[string]*Handle{}
	r.index = map[string]map[string]*Handle{}
	r.order = nil
	r.defaultContext = ""
	r.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := r.closeHandle(context.Background(), h); err != nil {
			errs = append(errs, fmt.Errorf("close transport %q: %w", h.ID(), err))
		}
	}
	r.background.Wait()

	r.logger.Debug("registry closed", slog.Int("transports", len(handles)))
	return errors.Join(errs...)
}
