// Package tools defines the tool call request and result types exchanged
// between the conversation engine and the dispatcher, plus the audit wrapper
// applied to every invocation.
package tools

import (
	"context"
	"errors"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/instrumentation"
)

// Invoker executes one tool call and always returns a result.
type Invoker func(ctx context.Context, req ToolCallRequest) ToolCallResult

type invocationKey struct{}

// AnnotateInvocation lets the wrapped invoker add details, such as the
// serving transport, to the audit record of the call running in ctx.
// It is a no-op when ctx carries no audit record.
func AnnotateInvocation(ctx context.Context, fn func(*instrumentation.ToolInvocation)) {
	if ti, ok := ctx.Value(invocationKey{}).(*instrumentation.ToolInvocation); ok && ti != nil {
		fn(ti)
	}
}

// WrapWithAuditLogging wraps an invoker with audit logging and metrics.
// Each call is recorded with:
//   - the procedure name and call id
//   - the cluster context from the request or its arguments
//   - duration and success, whatever the result content
//   - the trace context of the caller
//
// A nil audit logger and nil metrics leave the invoker unwrapped.
func WrapWithAuditLogging(
	invoker Invoker,
	auditLogger *instrumentation.AuditLogger,
	metrics *instrumentation.Metrics,
) Invoker {
	if auditLogger == nil && metrics == nil {
		return invoker
	}

	return func(ctx context.Context, req ToolCallRequest) ToolCallResult {
		invocation := instrumentation.NewToolInvocation(req.Name).
			WithCallID(req.ID).
			WithSpanContext(ctx)

		clusterContext := req.Context
		if clusterContext == "" {
			clusterContext = ContextFromArguments(req.Arguments)
		}
		invocation.WithContext(clusterContext)

		result := invoker(context.WithValue(ctx, invocationKey{}, invocation), req)

		if result.OK() {
			invocation.CompleteSuccess()
		} else {
			var err error
			if result.Error != nil {
				err = result.Error
				invocation.ErrorKind = string(result.Error.Kind)
			} else {
				err = errors.New("tool call failed")
			}
			invocation.CompleteWithError(err)
		}

		auditLogger.LogToolInvocation(invocation)
		metrics.RecordToolCall(ctx, invocation.Tool, invocation.ClusterContext, invocation.ErrorKind, invocation.Duration)

		return result
	}
}
