// Package syncerr defines the error taxonomy shared by the cache, mutation,
// persistence and backend layers.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by how the client must react to it.
type Kind string

const (
	// KindValidation is rejected locally before any optimistic apply.
	KindValidation Kind = "validation"
	// KindAuthorization is a permission rejection from the backend.
	KindAuthorization Kind = "authorization"
	// KindNetwork covers transport failures and 5xx responses. Retry is offered.
	KindNetwork Kind = "network"
	// KindConflict means the backend rejected stale state. The user must refresh.
	KindConflict Kind = "conflict"
	// KindPersistence is a local storage failure. Never surfaced to the user.
	KindPersistence Kind = "persistence"
	// KindNotFound is a missing row or function.
	KindNotFound Kind = "not_found"
	// KindInternal is anything unclassified.
	KindInternal Kind = "internal"
)

// Sentinels for errors.Is comparisons against a Kind.
var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrAuthorization = &Error{Kind: KindAuthorization}
	ErrNetwork       = &Error{Kind: KindNetwork}
	ErrConflict      = &Error{Kind: KindConflict}
	ErrPersistence   = &Error{Kind: KindPersistence}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrInternal      = &Error{Kind: KindInternal}
)

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality so errors.Is(err, ErrNetwork) works for any
// network error regardless of op or message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == "" && t.Err == nil
}

// New creates a classified error.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies err. A nil err returns nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation returns a validation error.
func Validation(op, format string, args ...any) *Error {
	return New(KindValidation, op, fmt.Sprintf(format, args...))
}

// Network wraps a transport failure.
func Network(op string, err error) error {
	return Wrap(KindNetwork, op, err)
}

// Persistence wraps a storage failure.
func Persistence(op string, err error) error {
	return Wrap(KindPersistence, op, err)
}

// KindOf extracts the kind of err. Unclassified errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Retryable reports whether the failed operation may be offered for retry.
func Retryable(err error) bool {
	return KindOf(err) == KindNetwork
}
