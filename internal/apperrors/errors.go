// Package apperrors defines the error kinds shared across the runtime.
//
// Components never return bare errors for conditions the caller must
// branch on; they wrap them with a Kind so callers can use errors.As
// instead of string matching.
package apperrors

import "fmt"

// Kind classifies an error by how the caller should react to it, not by
// which package raised it.
type Kind string

const (
	// Configuration errors are fatal at startup: missing required settings,
	// no model endpoint configured, no entity store.
	Configuration Kind = "configuration"
	// NotFound covers a missing entity, pathway, or memory node. Always
	// surfaced as a structured error, never thrown into a tool loop.
	NotFound Kind = "not_found"
	// Validation covers bad tool arguments or a malformed pathway
	// definition.
	Validation Kind = "validation"
	// Remote covers a failed model or index call; retryable up to a small
	// bound.
	Remote Kind = "remote"
	// Budget marks normal exhaustion of a turn's tool budget. Not a
	// failure: callers should finalize rather than propagate.
	Budget Kind = "budget"
	// Cancellation marks a caller-initiated abort.
	Cancellation Kind = "cancellation"
	// Internal covers unexpected failures that must not crash the
	// process.
	Internal Kind = "internal"
)

// Error is a kind-tagged error that wraps an underlying cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a kinded error with no underlying cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap attaches a kind and op to an existing error.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: err.Error(), Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if ok := as(err, &e); ok {
		return e.Kind == kind
	}
	return false
}

func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
