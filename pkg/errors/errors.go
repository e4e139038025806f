// Package errors defines the engine's error taxonomy: the synchronous
// validation Kinds surfaced to submitters, and the internal terminal
// Reasons attached to task records, following the classification style of
// the mesh's pkg/errors.ClassifiedError.
package errors

import (
	stderrors "errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind is a synchronous validation error surfaced at submission time
// (spec §7).
type Kind string

const (
	KindInvalidTask   Kind = "INVALID_TASK"
	KindInvalidAgent  Kind = "INVALID_AGENT"
	KindUnknownTask   Kind = "UNKNOWN_TASK"
	KindUnknownAgent  Kind = "UNKNOWN_AGENT"
)

// LOCError is a classified engine error: a Kind, the operation that
// raised it, a human message, and an optional wrapped cause.
type LOCError struct {
	Kind    Kind
	Op      string
	Message string
	cause   error
}

// New creates a LOCError with no wrapped cause.
func New(kind Kind, op, message string) *LOCError {
	return &LOCError{Kind: kind, Op: op, Message: message}
}

// Wrap creates a LOCError that wraps cause via github.com/pkg/errors so
// the chain survives errors.Cause()/errors.Is traversal.
func Wrap(kind Kind, op, message string, cause error) *LOCError {
	return &LOCError{Kind: kind, Op: op, Message: message, cause: pkgerrors.Wrap(cause, message)}
}

func (e *LOCError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Kind, e.Op, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Op, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *LOCError) Unwrap() error { return e.cause }

// IsKind reports whether err is, or wraps, a LOCError of the given Kind.
func IsKind(err error, kind Kind) bool {
	var le *LOCError
	if stderrors.As(err, &le) {
		return le.Kind == kind
	}
	return false
}
