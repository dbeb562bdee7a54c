package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/tools"
)

// Sentinel errors for transport failures. Match them with errors.Is.
var (
	// ErrConnectionFailed indicates the tool host could not be reached, the
	// subprocess could not be spawned, or the channel dropped.
	ErrConnectionFailed = errors.New("transport connection failed")

	// ErrTimeout indicates the tool host did not answer before the deadline.
	ErrTimeout = errors.New("transport call timed out")

	// ErrProtocol indicates a malformed frame or an unexpected response shape.
	ErrProtocol = errors.New("transport protocol error")

	// ErrExecution indicates the tool host ran the procedure and reported a failure.
	ErrExecution = errors.New("tool execution failed")

	// ErrClosed indicates the transport was closed by its owner.
	ErrClosed = errors.New("transport is closed")

	// ErrNotConnected indicates a call on a transport that never connected.
	ErrNotConnected = errors.New("transport is not connected")
)

// ConnectionError describes a failure to reach a tool host.
type ConnectionError struct {
	Transport string
	Kind      Kind
	Reason    string
	Err       error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s transport %q: %s: %v", e.Kind, e.Transport, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s transport %q: %s", e.Kind, e.Transport, e.Reason)
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error { return e.Err }

// Is matches ErrConnectionFailed.
func (e *ConnectionError) Is(target error) bool { return target == ErrConnectionFailed }

// ErrorKind implements tools.KindedError.
func (e *ConnectionError) ErrorKind() tools.ErrorKind { return tools.KindConnection }

// TimeoutError reports an invocation that exceeded its deadline.
type TimeoutError struct {
	Transport string
	Procedure string
	Timeout   time.Duration
	Err       error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("procedure %q on transport %q did not answer within %s", e.Procedure, e.Transport, e.Timeout)
	}
	return fmt.Sprintf("procedure %q on transport %q timed out", e.Procedure, e.Transport)
}

// Unwrap returns the underlying error.
func (e *TimeoutError) Unwrap() error { return e.Err }

// Is matches ErrTimeout.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// ErrorKind implements tools.KindedError.
func (e *TimeoutError) ErrorKind() tools.ErrorKind { return tools.KindTimeout }

// ProtocolError reports malformed framing or an unexpected response.
type ProtocolError struct {
	Transport string
	Procedure string
	Reason    string
	Err       error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("protocol error on transport %q", e.Transport)
	if e.Procedure != "" {
		msg += fmt.Sprintf(" calling %q", e.Procedure)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ProtocolError) Unwrap() error { return e.Err }

// Is matches ErrProtocol.
func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// ErrorKind implements tools.KindedError.
func (e *ProtocolError) ErrorKind() tools.ErrorKind { return tools.KindProtocol }

// ExecutionError is returned when the tool host reports a failed call, either
// as a result flagged isError or as a JSON-RPC error response.
type ExecutionError struct {
	Procedure string
	Message   string
	Payload   any
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("procedure %q failed: %s", e.Procedure, e.Message)
}

// Is matches ErrExecution.
func (e *ExecutionError) Is(target error) bool { return target == ErrExecution }

// ErrorKind implements tools.KindedError.
func (e *ExecutionError) ErrorKind() tools.ErrorKind { return tools.KindExecution }

// classifyCallError converts an error returned by the MCP client into one of
// the transport error types. ctx is the invocation context; its state decides
// between timeout and cancellation.
func classifyCallError(ctx context.Context, id string, kind Kind, procedure string, timeout time.Duration, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Transport: id, Procedure: procedure, Timeout: timeout, Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("procedure %q: %w", procedure, context.Canceled)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &ProtocolError{Transport: id, Procedure: procedure, Reason: "malformed response", Err: err}
	}

	if isConnectionFailure(err) {
		return &ConnectionError{Transport: id, Kind: kind, Reason: "call failed", Err: err}
	}

	// The host answered with a JSON-RPC error.
	return &ExecutionError{Procedure: procedure, Message: err.Error()}
}

// isConnectionFailure reports whether err means the channel itself is gone.
func isConnectionFailure(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, ErrClosed) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// mcp-go reports several channel failures only as text.
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"transport closed",
		"transport has been closed",
		"connection refused",
		"connection reset",
		"broken pipe",
		"failed to send request",
		"failed to write request",
		"no such host",
		"server returned status",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
