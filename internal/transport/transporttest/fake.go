package transporttest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/transport"
)

// Handler answers one invocation on a Fake.
type Handler func(ctx context.Context, args map[string]any) (*transport.Result, error)

// Fake is an in-memory Transport. Procedures and handlers are set before use;
// every field guarded by mu may be changed between calls.
type Fake struct {
	desc transport.Descriptor

	mu         sync.Mutex
	procedures []transport.Procedure
	handlers   map[string]Handler
	connectErr   error
	connectDelay time.Duration
	listErr      error
	connects   int
	calls      []string
	closed     bool

	alive       atomic.Bool
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

// NewFake creates a fake transport serving clusterContext.
func NewFake(id string, kind transport.Kind, clusterContext string) *Fake {
	return &Fake{
		desc: transport.Descriptor{
			ID:      id,
			Kind:    kind,
			Context: clusterContext,
		},
		handlers: map[string]Handler{},
	}
}

// WithDefault marks the fake's context as the default context.
func (f *Fake) WithDefault() *Fake {
	f.desc.Default = true
	return f
}

// AddProcedure registers a procedure with a JSON schema and a handler.
func (f *Fake) AddProcedure(name string, schema map[string]any, h Handler) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	if schema == nil {
		schema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	f.procedures = append(f.procedures, transport.Procedure{Name: name, Description: "fake " + name, InputSchema: schema})
	if h == nil {
		h = func(context.Context, map[string]any) (*transport.Result, error) {
			return &transport.Result{Payload: map[string]any{"tool": name}}, nil
		}
	}
	f.handlers[name] = h
	return f
}

// SetConnectError makes subsequent Connect calls fail with err.
func (f *Fake) SetConnectError(err error) {
	f.mu.Lock()
	f.connectErr = err
	f.mu.Unlock()
}

// SetConnectDelay makes subsequent Connect calls take d, or until their
// context ends.
func (f *Fake) SetConnectDelay(d time.Duration) {
	f.mu.Lock()
	f.connectDelay = d
	f.mu.Unlock()
}

// SetListError makes subsequent ListProcedures calls fail with err.
func (f *Fake) SetListError(err error) {
	f.mu.Lock()
	f.listErr = err
	f.mu.Unlock()
}

// MarkDead flips the liveness flag without closing.
func (f *Fake) MarkDead() { f.alive.Store(false) }

// Connects returns how many times Connect succeeded.
func (f *Fake) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// Calls returns the invoked procedure names in call order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// MaxInFlight returns the highest number of concurrent invocations seen.
func (f *Fake) MaxInFlight() int { return int(f.maxInFlight.Load()) }

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Fake) ID() string                       { return f.desc.ID }
func (f *Fake) Kind() transport.Kind             { return f.desc.Kind }
func (f *Fake) Descriptor() transport.Descriptor { return f.desc }
func (f *Fake) Alive() bool                      { return f.alive.Load() }
func (f *Fake) Multiplexed() bool                { return f.desc.IsMultiplexed() }

func (f *Fake) Connect(ctx context.Context) error {
	f.mu.Lock()
	delay := f.connectDelay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &transport.ConnectionError{Transport: f.desc.ID, Kind: f.desc.Kind, Reason: "connect", Err: ctx.Err()}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return &transport.ConnectionError{Transport: f.desc.ID, Kind: f.desc.Kind, Reason: "connect", Err: f.connectErr}
	}
	f.closed = false
	f.connects++
	f.alive.Store(true)
	return nil
}

func (f *Fake) ListProcedures(context.Context) ([]transport.Procedure, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]transport.Procedure(nil), f.procedures...), nil
}

func (f *Fake) Invoke(ctx context.Context, name string, args map[string]any, timeout time.Duration) (*transport.Result, error) {
	f.mu.Lock()
	h, ok := f.handlers[name]
	f.calls = append(f.calls, name)
	f.mu.Unlock()

	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		prev := f.maxInFlight.Load()
		if n <= prev || f.maxInFlight.CompareAndSwap(prev, n) {
			break
		}
	}

	if !ok {
		return nil, &transport.ExecutionError{Procedure: name, Message: "unknown tool"}
	}
	res, err := h(ctx, args)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return nil, &transport.TimeoutError{Transport: f.desc.ID, Procedure: name, Timeout: timeout, Err: err}
	}
	return res, err
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.alive.Store(false)
	return nil
}

// Sleep returns a handler that waits d or until ctx ends.
func Sleep(d time.Duration, payload any) Handler {
	return func(ctx context.Context, _ map[string]any) (*transport.Result, error) {
		select {
		case <-time.After(d):
			return &transport.Result{Payload: payload}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Static returns a handler that answers payload immediately.
func Static(payload any) Handler {
	return func(context.Context, map[string]any) (*transport.Result, error) {
		return &transport.Result{Payload: payload}, nil
	}
}

var _ transport.Transport = (*Fake)(nil)
