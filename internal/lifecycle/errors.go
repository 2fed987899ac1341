package lifecycle

import (
	"errors"
	"fmt"
)

// Code classifies an engine failure.
type Code string

const (
	CodeInvalidTransition      Code = "invalid_transition"      // No edge for (from, to)
	CodeForbidden              Code = "forbidden"               // Roles and ownership insufficient
	CodeNoOpTransition         Code = "no_op_transition"        // Target equals current state
	CodeReasonRequired         Code = "reason_required"         // Edge guard wants a reason
	CodeReasonTooLong          Code = "reason_too_long"         // Reason exceeds the configured bound
	CodeConcurrentModification Code = "concurrent_modification" // Version check failed at commit
	CodeStorageUnavailable     Code = "storage_unavailable"     // Store failed; attempt aborted
	CodeNotFound               Code = "not_found"               // Entity missing or inactive
)

// Error is returned by every engine operation that rejects a request.
type Error struct {
	Code    Code
	Message string
	Err     error // Underlying cause, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same code and no message, which lets
// the Err* sentinels below be used with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == ""
}

// Sentinels for errors.Is.
var (
	ErrInvalidTransition      = &Error{Code: CodeInvalidTransition}
	ErrForbidden              = &Error{Code: CodeForbidden}
	ErrNoOpTransition         = &Error{Code: CodeNoOpTransition}
	ErrReasonRequired         = &Error{Code: CodeReasonRequired}
	ErrReasonTooLong          = &Error{Code: CodeReasonTooLong}
	ErrConcurrentModification = &Error{Code: CodeConcurrentModification}
	ErrStorageUnavailable     = &Error{Code: CodeStorageUnavailable}
	ErrNotFound               = &Error{Code: CodeNotFound}
)

// Errors an EntityStore reports back to the engine.
var (
	// ErrVersionConflict means WriteState found a version other than the expected one.
	ErrVersionConflict = errors.New("version conflict")
	// ErrEntityNotFound means LoadState found no active entity for the ref.
	ErrEntityNotFound = errors.New("entity not found")
)

func newError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

func errInvalidTransition(kind Kind, from, to State) *Error {
	return newError(CodeInvalidTransition,
		fmt.Sprintf("%s cannot move from %s to %s", kind, from, to), nil)
}

func errUnknownState(kind Kind, s State) *Error {
	return newError(CodeInvalidTransition, fmt.Sprintf("%q is not a %s state", s, kind), nil)
}

func errUnknownKind(kind Kind) *Error {
	return newError(CodeInvalidTransition, fmt.Sprintf("unknown entity kind %q", kind), nil)
}

func errForbidden(reason string) *Error {
	return newError(CodeForbidden, reason, nil)
}

func errNoOp(ref Ref, s State) *Error {
	return newError(CodeNoOpTransition, fmt.Sprintf("%s is already %s", ref, s), nil)
}

func errReasonRequired(kind Kind, from, to State) *Error {
	return newError(CodeReasonRequired,
		fmt.Sprintf("%s transition %s -> %s requires a reason", kind, from, to), nil)
}

func errReasonTooLong(n, max int) *Error {
	return newError(CodeReasonTooLong, fmt.Sprintf("reason is %d characters, limit is %d", n, max), nil)
}

func errConcurrentModification(ref Ref, version int64) *Error {
	return newError(CodeConcurrentModification,
		fmt.Sprintf("%s changed since version %d was read; reload and retry", ref, version), nil)
}

func errStorage(op string, cause error) *Error {
	return newError(CodeStorageUnavailable, op, cause)
}

func errNotFound(ref Ref) *Error {
	return newError(CodeNotFound, fmt.Sprintf("%s does not exist or is inactive", ref), nil)
}

// ErrorCode extracts the engine code from err, or "" if err is not an *Error.
func ErrorCode(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether the caller may safely retry after reloading
// state. Only ConcurrentModification qualifies.
func IsRetryable(err error) bool {
	return ErrorCode(err) == CodeConcurrentModification
}
