package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a service failure for callers and the HTTP layer.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindRejected     Kind = "rejected"
	KindUnauthorized Kind = "unauthorized"
	KindInternal     Kind = "internal"
)

// Error carries a kind, the operation that produced it, and a human message.
type Error struct {
	kind    Kind
	op      string
	message string
	err     error
}

func newError(kind Kind, op, message string, cause error) *Error {
	return &Error{kind: kind, op: op, message: message, err: cause}
}

func NotFound(op, message string) *Error {
	return newError(KindNotFound, op, message, nil)
}

func Conflict(op, message string) *Error {
	return newError(KindConflict, op, message, nil)
}

func Rejected(op, message string) *Error {
	return newError(KindRejected, op, message, nil)
}

func Unauthorized(op, message string) *Error {
	return newError(KindUnauthorized, op, message, nil)
}

func Internal(op string, cause error) *Error {
	return newError(KindInternal, op, "internal error", cause)
}

func (e *Error) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s: %s", e.op, e.message)
	}
	return fmt.Sprintf("%s: %s: %v", e.op, e.message, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) Kind() Kind {
	return e.kind
}

func (e *Error) Message() string {
	return e.message
}

// KindOf extracts the kind from an error chain, defaulting to KindInternal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.kind
	}
	return KindInternal
}

// MessageOf returns the human message of a classified error, or empty.
func MessageOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.message
	}
	return ""
}
