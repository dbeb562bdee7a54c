package tools

import (
	"context"
	"errors"
)

// KindedError is implemented by errors that know their ErrorKind. Transport
// and registry errors implement it so dispatch can classify them without
// importing those packages.
type KindedError interface {
	error
	ErrorKind() ErrorKind
}

// DetailedError is implemented by errors that carry diagnostic context for
// the model, such as the list of known contexts or the failing arguments.
type DetailedError interface {
	error
	Details() map[string]any
}

// ErrorDetails returns the diagnostic context of err, or nil.
func ErrorDetails(err error) map[string]any {
	var detailed DetailedError
	if errors.As(err, &detailed) {
		return detailed.Details()
	}
	return nil
}

// ClassifyError maps err to an ErrorKind. Errors that do not carry a kind are
// reported as internal.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var kinded KindedError
	if errors.As(err, &kinded) {
		return kinded.ErrorKind()
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	}

	return KindInternal
}
