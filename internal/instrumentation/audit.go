package instrumentation

import (
	"context"
	"log/slog"
	"time"
)

// ToolInvocation is the audit record of one tool call. It is logged once per
// dispatch regardless of what the tool returned.
type ToolInvocation struct {
	Tool           string
	CallID         string
	ClusterContext string
	Transport      string
	TransportKind  string
	Attempts       int
	ErrorKind      string

	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string

	TraceID string
	SpanID  string
}

// NewToolInvocation starts an audit record for tool.
func NewToolInvocation(tool string) *ToolInvocation {
	return &ToolInvocation{
		Tool:      tool,
		StartTime: time.Now(),
	}
}

// WithCallID sets the model-issued call id.
func (ti *ToolInvocation) WithCallID(id string) *ToolInvocation {
	ti.CallID = id
	return ti
}

// WithContext sets the cluster context the call was routed to.
func (ti *ToolInvocation) WithContext(name string) *ToolInvocation {
	ti.ClusterContext = name
	return ti
}

// WithTransport sets the serving transport.
func (ti *ToolInvocation) WithTransport(id, kind string) *ToolInvocation {
	ti.Transport = id
	ti.TransportKind = kind
	return ti
}

// WithSpanContext copies trace identifiers from ctx.
func (ti *ToolInvocation) WithSpanContext(ctx context.Context) *ToolInvocation {
	ti.TraceID = TraceIDFromContext(ctx)
	ti.SpanID = SpanIDFromContext(ctx)
	return ti
}

// CompleteSuccess marks the invocation as successful.
func (ti *ToolInvocation) CompleteSuccess() *ToolInvocation {
	return ti.Complete(true, nil)
}

// CompleteWithError marks the invocation as failed.
func (ti *ToolInvocation) CompleteWithError(err error) *ToolInvocation {
	return ti.Complete(false, err)
}

// Complete records the duration and outcome.
func (ti *ToolInvocation) Complete(success bool, err error) *ToolInvocation {
	ti.Duration = time.Since(ti.StartTime)
	ti.Success = success
	if err != nil {
		ti.Error = err.Error()
	}
	return ti
}

// Status returns "success" or "error".
func (ti *ToolInvocation) Status() string {
	if ti.Success {
		return StatusSuccess
	}
	return StatusError
}

// ContextType returns the classified cluster context.
func (ti *ToolInvocation) ContextType() string {
	return ClassifyContextName(ti.ClusterContext)
}

// LogAttrs returns low-cardinality attributes for operational logs.
func (ti *ToolInvocation) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("tool", ti.Tool),
		slog.String("context_type", ti.ContextType()),
		slog.String("transport_kind", ti.TransportKind),
		slog.Duration("duration", ti.Duration),
		slog.Bool("success", ti.Success),
	}
	if ti.ErrorKind != "" {
		attrs = append(attrs, slog.String("error_kind", ti.ErrorKind))
	}
	return attrs
}

// LogAuditAttrs returns the full audit attributes.
func (ti *ToolInvocation) LogAuditAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("tool", ti.Tool),
		slog.String("call_id", ti.CallID),
		slog.String("cluster_context", ti.ClusterContext),
		slog.String("transport", ti.Transport),
		slog.String("transport_kind", ti.TransportKind),
		slog.Int("attempts", ti.Attempts),
		slog.Time("start_time", ti.StartTime),
		slog.Duration("duration", ti.Duration),
		slog.Bool("success", ti.Success),
	}
	if ti.ErrorKind != "" {
		attrs = append(attrs, slog.String("error_kind", ti.ErrorKind))
	}
	if ti.Error != "" {
		attrs = append(attrs, slog.String("error", ti.Error))
	}
	if ti.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", ti.TraceID))
	}
	if ti.SpanID != "" {
		attrs = append(attrs, slog.String("span_id", ti.SpanID))
	}
	return attrs
}

// AuditLogger writes tool invocation audit records.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates an AuditLogger. A nil logger uses slog.Default().
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{logger: logger}
}

// LogToolInvocation writes the audit record. Failed invocations are logged at
// warn level.
func (a *AuditLogger) LogToolInvocation(ti *ToolInvocation) {
	if a == nil || ti == nil {
		return
	}
	level := slog.LevelInfo
	if !ti.Success {
		level = slog.LevelWarn
	}
	a.logger.LogAttrs(context.Background(), level, "tool invocation",
		append([]slog.Attr{slog.String("audit", "tool_invocation")}, ti.LogAuditAttrs()...)...)
}
