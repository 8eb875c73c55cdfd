// Package apperr defines the error kinds shared by the stores, the dispatch
// path and the caller-facing surfaces.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("not found")
	ErrStateConflict = errors.New("state conflict")
	ErrDownstream    = errors.New("downstream service error")
	ErrPersistence   = errors.New("persistence error")
)

// Error carries a kind sentinel plus the operation that produced it.
type Error struct {
	Kind    error
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Is matches both the kind sentinel and the wrapped cause.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func Validation(op, msg string) error {
	return &Error{Kind: ErrValidation, Op: op, Message: msg}
}

func Validationf(op, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

func NotFound(op, what, id string) error {
	return &Error{Kind: ErrNotFound, Op: op, Message: fmt.Sprintf("%s %q not found", what, id)}
}

func StateConflict(op, msg string) error {
	return &Error{Kind: ErrStateConflict, Op: op, Message: msg}
}

func Downstream(op string, err error) error {
	return &Error{Kind: ErrDownstream, Op: op, Message: "downstream call failed", Cause: err}
}

func Persistence(op string, err error) error {
	return &Error{Kind: ErrPersistence, Op: op, Message: "store unavailable", Cause: err}
}

func IsValidation(err error) bool    { return errors.Is(err, ErrValidation) }
func IsNotFound(err error) bool      { return errors.Is(err, ErrNotFound) }
func IsStateConflict(err error) bool { return errors.Is(err, ErrStateConflict) }
func IsDownstream(err error) bool    { return errors.Is(err, ErrDownstream) }
func IsPersistence(err error) bool   { return errors.Is(err, ErrPersistence) }

// Message returns the caller-safe text of err. Persistence causes are not
// exposed.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == ErrPersistence {
			return e.Message
		}
		if e.Message != "" {
			return e.Message
		}
		return e.Kind.Error()
	}
	return err.Error()
}

// RequireTenant rejects an empty tenant id. Every store call is scoped by
// tenant, so an empty one is always a programming or boundary error.
func RequireTenant(op, tenantID string) error {
	if tenantID == "" {
		return Validation(op, "tenant id is required")
	}
	return nil
}
