package tools

import (
	"errors"
	"fmt"
)

// Outcome is the result state of one tool call.
type Outcome string

const (
	OutcomeOK    Outcome = "ok"
	OutcomeError Outcome = "error"
)

// ErrorKind classifies why a tool call failed.
type ErrorKind string

const (
	KindConnection       ErrorKind = "connection"
	KindValidation       ErrorKind = "validation"
	KindTimeout          ErrorKind = "timeout"
	KindProtocol         ErrorKind = "protocol"
	KindUnknownProcedure ErrorKind = "unknown_procedure"
	KindUnknownContext   ErrorKind = "unknown_context"
	KindExecution        ErrorKind = "execution"
	KindCancelled        ErrorKind = "cancelled"
	KindInternal         ErrorKind = "internal"
)

// Retryable reports whether a call that failed with this kind may be retried
// against the same transport.
func (k ErrorKind) Retryable() bool {
	return k == KindConnection || k == KindTimeout
}

// ToolCallRequest is one procedure invocation requested by the model.
// Requests are immutable once issued.
type ToolCallRequest struct {
	// ID is unique within a turn and correlates the result.
	ID string `json:"id"`

	// Name is the procedure name from the catalog.
	Name string `json:"name"`

	// Arguments are the decoded call arguments.
	Arguments map[string]any `json:"arguments,omitempty"`

	// Context selects the cluster context. Empty means the default context.
	Context string `json:"context,omitempty"`

	// ArgumentsError is set when the model's argument text could not be
	// decoded. Such a call fails validation without reaching a transport.
	ArgumentsError string `json:"arguments_error,omitempty"`
}

// ToolError describes a failed call.
type ToolError struct {
	Kind    ErrorKind      `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements error.
func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ErrorKind returns the error kind.
func (e *ToolError) ErrorKind() ErrorKind {
	return e.Kind
}

// ToolCallResult is the normalized answer to exactly one ToolCallRequest.
type ToolCallResult struct {
	CallID  string     `json:"call_id"`
	Outcome Outcome    `json:"outcome"`
	Payload any        `json:"payload,omitempty"`
	Error   *ToolError `json:"error,omitempty"`
}

// OK reports whether the call succeeded.
func (r ToolCallResult) OK() bool {
	return r.Outcome == OutcomeOK
}

// NewOKResult builds a successful result for callID.
func NewOKResult(callID string, payload any) ToolCallResult {
	return ToolCallResult{CallID: callID, Outcome: OutcomeOK, Payload: payload}
}

// NewErrorResult builds a failed result for callID.
func NewErrorResult(callID string, kind ErrorKind, message string, details map[string]any) ToolCallResult {
	return ToolCallResult{
		CallID:  callID,
		Outcome: OutcomeError,
		Error:   &ToolError{Kind: kind, Message: message, Details: details},
	}
}

// NewErrorResultFromErr classifies err and builds a failed result for callID.
func NewErrorResultFromErr(callID string, err error) ToolCallResult {
	var te *ToolError
	if errors.As(err, &te) {
		return ToolCallResult{CallID: callID, Outcome: OutcomeError, Error: te}
	}
	return NewErrorResult(callID, ClassifyError(err), err.Error(), ErrorDetails(err))
}
