package conversation

import (
	"context"
	"fmt"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/registry"
)

// Model produces the next assistant step from the full history and the
// procedure catalog. Implementations must honour ctx cancellation.
type Model interface {
	Complete(ctx context.Context, history []Message, procedures []registry.ProcedureDescriptor) (*Completion, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, history []Message, procedures []registry.ProcedureDescriptor) (*Completion, error)

// Complete calls f.
func (f ModelFunc) Complete(ctx context.Context, history []Message, procedures []registry.ProcedureDescriptor) (*Completion, error) {
	return f(ctx, history, procedures)
}

// Completion is either plain text or a list of tool calls. Text that comes
// with tool calls is kept on the assistant message.
type Completion struct {
	Text      string
	ToolCalls []ToolCall
}

// ToolCall is one procedure call requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any

	// ContextHint selects the cluster context; empty means the default.
	ContextHint string

	// ArgumentsError is the decode error of malformed argument text. The
	// call is answered with a validation error instead of being invoked.
	ArgumentsError error
}

// HasToolCalls reports whether the model asked for procedure calls.
func (c *Completion) HasToolCalls() bool {
	return c != nil && len(c.ToolCalls) > 0
}

// ModelError reports a failed model call. It aborts the turn.
type ModelError struct {
	Round int
	Err   error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model call failed in round %d: %v", e.Round, e.Err)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}
