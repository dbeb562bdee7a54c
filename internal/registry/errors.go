package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/tools"
)

// Sentinel errors for registry operations. Match them with errors.Is.
var (
	// ErrDuplicateProcedure indicates two transports expose the same procedure
	// name in the same context.
	ErrDuplicateProcedure = errors.New("duplicate procedure")

	// ErrDuplicateTransport indicates a transport id is already registered.
	ErrDuplicateTransport = errors.New("duplicate transport")

	// ErrUnknownProcedure indicates no registered transport serves the procedure.
	ErrUnknownProcedure = errors.New("unknown procedure")

	// ErrUnknownContext indicates a context was named that no transport serves.
	ErrUnknownContext = errors.New("unknown context")

	// ErrUnknownTransport indicates a transport id that is not registered.
	ErrUnknownTransport = errors.New("unknown transport")

	// ErrValidation indicates call arguments that do not match the schema.
	ErrValidation = errors.New("invalid arguments")

	// ErrClosed indicates the registry was closed.
	ErrClosed = errors.New("registry is closed")
)

// DuplicateProcedureError is returned by Register when a procedure name is
// already served in the same context by another transport.
type DuplicateProcedureError struct {
	Procedure string
	Context   string
	Existing  string
	Transport string
}

// Error implements the error interface.
func (e *DuplicateProcedureError) Error() string {
	return fmt.Sprintf("procedure %q in context %q is already served by transport %q; cannot register it from %q",
		e.Procedure, e.Context, e.Existing, e.Transport)
}

// Is matches ErrDuplicateProcedure.
func (e *DuplicateProcedureError) Is(target error) bool { return target == ErrDuplicateProcedure }

// UnknownProcedureError is returned by Resolve when no transport serves the
// procedure in the requested context.
type UnknownProcedureError struct {
	Procedure string
	Context   string
}

// Error implements the error interface.
func (e *UnknownProcedureError) Error() string {
	return fmt.Sprintf("no procedure named %q in context %q", e.Procedure, e.Context)
}

// Is matches ErrUnknownProcedure.
func (e *UnknownProcedureError) Is(target error) bool { return target == ErrUnknownProcedure }

// ErrorKind implements tools.KindedError.
func (e *UnknownProcedureError) ErrorKind() tools.ErrorKind { return tools.KindUnknownProcedure }

// UnknownContextError is returned by Resolve for a context that is not registered.
type UnknownContextError struct {
	Context string
	Known   []string
}

// Error implements the error interface.
func (e *UnknownContextError) Error() string {
	return fmt.Sprintf("context %q is not registered", e.Context)
}

// Is matches ErrUnknownContext.
func (e *UnknownContextError) Is(target error) bool { return target == ErrUnknownContext }

// ErrorKind implements tools.KindedError.
func (e *UnknownContextError) ErrorKind() tools.ErrorKind { return tools.KindUnknownContext }

// Details lists the registered contexts so the model can pick one.
func (e *UnknownContextError) Details() map[string]any {
	return map[string]any{"available_contexts": e.Known}
}

// ValidationError lists every argument problem found for one call.
type ValidationError struct {
	Procedure string

	// Problems maps an argument name to what is wrong with it.
	Problems map[string]string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, name := range sortedKeys(e.Problems) {
		parts = append(parts, name+" "+e.Problems[name])
	}
	return fmt.Sprintf("invalid arguments for %q: %s", e.Procedure, strings.Join(parts, "; "))
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ErrorKind implements tools.KindedError.
func (e *ValidationError) ErrorKind() tools.ErrorKind { return tools.KindValidation }

// Details returns the per-argument problems.
func (e *ValidationError) Details() map[string]any {
	out := make(map[string]any, len(e.Problems))
	for k, v := range e.Problems {
		out[k] = v
	}
	return map[string]any{"arguments": out}
}
