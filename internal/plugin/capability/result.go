package capability

import (
	"errors"
	"fmt"
)

// Kind classifies failures.
type Kind int

// Failure kinds.
const (
	// KindNone marks success.
	KindNone Kind = iota
	// KindValidation is malformed input: empty key, bad scheme, bad id.
	KindValidation
	// KindConflict is a resource already owned elsewhere.
	KindConflict
	// KindPersistence is a storage-layer fault.
	KindPersistence
	// KindPolicy is a trust or version denial.
	KindPolicy
	// KindNotBound is a call made before a table was bound.
	KindNotBound
	// KindInternal is a recovered panic inside the host.
	KindInternal
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindPersistence:
		return "persistence"
	case KindPolicy:
		return "policy"
	case KindNotBound:
		return "not_bound"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Result is the outcome of a capability or lifecycle call.
type Result struct {
	Success bool
	Message string
	Kind    Kind
	Data    any
}

// OK returns a success result.
func OK(message string, data any) Result {
	return Result{Success: true, Message: message, Data: data}
}

// Fail returns a failure result.
func Fail(kind Kind, message string) Result {
	return Result{Kind: kind, Message: message}
}

// Failf returns a failure result with a formatted message.
func Failf(kind Kind, format string, args ...any) Result {
	return Fail(kind, fmt.Sprintf(format, args...))
}

// Err converts a failed result to an *Error, or nil on success.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	return &Error{Kind: r.Kind, Message: r.Message}
}

// String returns a short description.
func (r Result) String() string {
	if r.Success {
		return "ok: " + r.Message
	}
	return fmt.Sprintf("failed (%s): %s", r.Kind, r.Message)
}

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Op      Operation
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified error.
func NewError(kind Kind, op Operation, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind carried by err, or KindPersistence for
// unclassified errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindPersistence
}

// FromError converts err to a failure result.
func FromError(err error) Result {
	if err == nil {
		return OK("", nil)
	}
	return Fail(KindOf(err), err.Error())
}
