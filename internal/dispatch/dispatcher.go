// Package dispatch turns tool call requests from the model into tool call
// results. It resolves the serving transport, validates arguments, invokes
// the procedure under a timeout and retry policy, and converts every failure
// into an error result. Nothing below the dispatcher can abort a turn.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/instrumentation"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/logging"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/registry"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/tools"
	"github.com/giantswarm/mcp-kubernetes-chat/internal/transport"
)

// DefaultTimeout bounds one tool call, retries included.
const DefaultTimeout = 30 * time.Second

// Registry is the part of *registry.Registry the dispatcher borrows handles from.
type Registry interface {
	Resolve(name, clusterContext string) (*registry.Handle, registry.ProcedureDescriptor, error)
	HasContext(clusterContext string) bool
	Refresh(ctx context.Context, id string) error
	RefreshAsync(id string)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.timeout = d
		}
	}
}

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(disp *Dispatcher) {
		disp.retry = p
	}
}

// WithMaxConcurrency limits how many calls of one DispatchAll run at once.
// Zero means no limit.
func WithMaxConcurrency(n int) Option {
	return func(disp *Dispatcher) {
		disp.maxConcurrency = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(disp *Dispatcher) {
		if logger != nil {
			disp.logger = logger
		}
	}
}

// WithAuditLogger records every call through an audit logger.
func WithAuditLogger(a *instrumentation.AuditLogger) Option {
	return func(disp *Dispatcher) {
		disp.audit = a
	}
}

// WithMetrics records tool call metrics.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(disp *Dispatcher) {
		disp.metrics = m
	}
}

// Dispatcher executes tool calls against a registry.
type Dispatcher struct {
	registry       Registry
	timeout        time.Duration
	retry          RetryPolicy
	maxConcurrency int
	logger         *slog.Logger
	audit          *instrumentation.AuditLogger
	metrics        *instrumentation.Metrics

	invoke tools.Invoker
}

// New creates a dispatcher borrowing transports from reg.
func New(reg Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: reg,
		timeout:  DefaultTimeout,
		retry:    DefaultRetryPolicy(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logging.WithOperation(d.logger, "dispatch")
	d.invoke = tools.WrapWithAuditLogging(d.dispatch, d.audit, d.metrics)
	return d
}

// Timeout returns the per-call timeout.
func (d *Dispatcher) Timeout() time.Duration { return d.timeout }

// Dispatch executes one call. It always returns a result whose CallID is
// req.ID.
func (d *Dispatcher) Dispatch(ctx context.Context, req tools.ToolCallRequest) tools.ToolCallResult {
	return d.invoke(ctx, req)
}

// CompletionFunc is told about each result of DispatchAll as it completes.
// index is the position of the request. It may be called concurrently.
type CompletionFunc func(index int, result tools.ToolCallResult)

// DispatchAll executes reqs concurrently and returns the results in request
// order. Calls on a transport that cannot multiplex run one at a time; a hung
// call holds up nothing but itself and, on a pipe, the calls queued behind it
// until its timeout.
func (d *Dispatcher) DispatchAll(ctx context.Context, reqs []tools.ToolCallRequest, onDone CompletionFunc) []tools.ToolCallResult {
	results := make([]tools.ToolCallResult, len(reqs))

	var g errgroup.Group
	if d.maxConcurrency > 0 {
		g.SetLimit(d.maxConcurrency)
	}
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = d.Dispatch(ctx, req)
			if onDone != nil {
				onDone(i, results[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (d *Dispatcher) dispatch(ctx context.Context, req tools.ToolCallRequest) tools.ToolCallResult {
	clusterContext := tools.ResolveContext(req, d.registry.HasContext)

	ctx, span := instrumentation.StartToolSpan(ctx, req.Name,
		instrumentation.NewSpanAttributeBuilder().
			WithCallID(req.ID).
			WithContext(clusterContext).
			Build()...)
	defer span.End()

	logger := d.logger.With(logging.Tool(req.Name), logging.CallID(req.ID), logging.Context(clusterContext))

	if req.ArgumentsError != "" {
		return d.fail(ctx, span, logger, req, nil, 0, &registry.ValidationError{
			Procedure: req.Name,
			Problems:  map[string]string{"arguments": "are malformed: " + req.ArgumentsError},
		})
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	h, proc, err := d.resolve(callCtx, req.Name, clusterContext)
	if err != nil {
		return d.fail(ctx, span, logger, req, nil, 0, err)
	}
	tools.AnnotateInvocation(ctx, func(ti *instrumentation.ToolInvocation) {
		ti.WithTransport(h.ID(), string(h.Kind()))
	})

	if err := proc.Validate(req.Arguments); err != nil {
		return d.fail(ctx, span, logger, req, h, 0, err)
	}

	start := time.Now()
	attempts := 0
	var lastErr error
	res, err := backoff.Retry(callCtx, func() (*transport.Result, error) {
		attempts++
		if attempts > 1 && !h.Alive() {
			// Reconnect before trying again; a failed reconnect is the
			// attempt's error.
			if err := d.registry.Refresh(callCtx, h.ID()); err != nil {
				lastErr = err
				return nil, err
			}
		}

		attemptCtx := callCtx
		if d.retry.AttemptTimeout > 0 {
			var cancelAttempt context.CancelFunc
			attemptCtx, cancelAttempt = context.WithTimeout(callCtx, d.retry.AttemptTimeout)
			defer cancelAttempt()
		}

		res, err := h.Invoke(attemptCtx, req.Name, req.Arguments, d.attemptTimeout())
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !d.retry.Retries(tools.ClassifyError(err)) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}, d.retry.options(func(err error, next time.Duration) {
		logger.Debug("retrying tool call",
			slog.Int("attempt", attempts), slog.Duration("backoff", next), logging.SanitizedErr(err))
	})...)

	tools.AnnotateInvocation(ctx, func(ti *instrumentation.ToolInvocation) {
		ti.Attempts = attempts
	})

	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		// Retry reports the context's error when the deadline hits during a
		// pause; the last attempt's error is the useful one.
		if lastErr != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) && ctx.Err() == nil {
			err = lastErr
		}
		return d.fail(ctx, span, logger, req, h, attempts, err)
	}

	instrumentation.SetSpanSuccess(span)
	logger.Debug("tool call succeeded",
		logging.Transport(h.ID()), slog.Int("attempts", attempts), logging.Duration(time.Since(start)))
	return tools.NewOKResult(req.ID, res.Payload)
}

// resolve looks up the handle. A transport found dead gets one synchronous
// reconnect before the call gives up on it.
func (d *Dispatcher) resolve(ctx context.Context, name, clusterContext string) (*registry.Handle, registry.ProcedureDescriptor, error) {
	h, proc, err := d.registry.Resolve(name, clusterContext)
	if err == nil || h == nil || !errors.Is(err, transport.ErrConnectionFailed) {
		return h, proc, err
	}

	d.logger.Info("reconnecting dead transport", logging.Transport(h.ID()), logging.Tool(name))
	if rerr := d.registry.Refresh(ctx, h.ID()); rerr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return h, proc, &transport.TimeoutError{Transport: h.ID(), Procedure: name, Timeout: d.timeout, Err: rerr}
		}
		return h, proc, err
	}
	return d.registry.Resolve(name, clusterContext)
}

func (d *Dispatcher) attemptTimeout() time.Duration {
	if d.retry.AttemptTimeout > 0 && d.retry.AttemptTimeout < d.timeout {
		return d.retry.AttemptTimeout
	}
	return d.timeout
}

// fail turns err into an error result. A turn cancelled by the caller is
// reported as cancelled whatever the transport said.
func (d *Dispatcher) fail(ctx context.Context, span trace.Span, logger *slog.Logger, req tools.ToolCallRequest, h *registry.Handle, attempts int, err error) tools.ToolCallResult {
	kind := tools.ClassifyError(err)
	if errors.Is(ctx.Err(), context.Canceled) {
		kind = tools.KindCancelled
	}

	details := map[string]any{}
	for k, v := range tools.ErrorDetails(err) {
		details[k] = v
	}
	if h != nil {
		details["transport"] = h.ID()
		details["context"] = h.Context()
	}
	if attempts > 1 {
		details["attempts"] = attempts
	}
	if kind == tools.KindTimeout {
		details["timeout"] = d.attemptTimeout().String()
	}
	if len(details) == 0 {
		details = nil
	}

	// The next call on this transport should find it reconnected.
	if h != nil && (kind == tools.KindProtocol || kind == tools.KindConnection) {
		d.registry.RefreshAsync(h.ID())
	}

	instrumentation.SetSpanError(span, err)
	if kind == tools.KindCancelled {
		logger.Debug("tool call cancelled")
	} else {
		logger.Warn("tool call failed", slog.String("error_kind", string(kind)), logging.SanitizedErr(err))
	}

	return tools.NewErrorResult(req.ID, kind, err.Error(), details)
}
