package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so the control API can return a stable
// kind alongside the message
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindConflict   ErrorKind = "conflict"
	KindSpawn      ErrorKind = "spawn"
	KindTransport  ErrorKind = "transport"
	KindInternal   ErrorKind = "internal"
)

// Error is a classified domain error
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// ValidationError rejects bad input before any state is mutated
func ValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError signals an unknown session or worker id
func NotFoundError(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// ConflictError signals an operation invalid in the current state, such as
// deleting an active session or a worker with bound sessions
func ConflictError(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// SpawnError wraps a process start failure; the session transitions to
// failed with the reason recorded
func SpawnError(msg string, err error) *Error {
	return &Error{Kind: KindSpawn, Message: msg, Err: err}
}

// TransportError wraps a tunnel failure; it triggers reconnection rather
// than failing sessions immediately
func TransportError(msg string, err error) *Error {
	return &Error{Kind: KindTransport, Message: msg, Err: err}
}

// KindOf extracts the classification from an error chain, defaulting to
// internal for unclassified errors
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given classification
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
