// Package apperr defines the error taxonomy shared by the pipeline, the
// realtime channel and the REST handlers.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindAuthentication  Kind = "authentication"
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindExternalService Kind = "external_service"
	KindConfiguration   Kind = "configuration"
	KindStorage         Kind = "storage"
	KindInternal        Kind = "internal"
)

// Error carries a kind, a machine-readable code and a message that is safe to
// show to the user. Err keeps the underlying cause for logs.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func Unauthenticated(message string) *Error {
	return &Error{Kind: KindAuthentication, Code: "unauthorized", Message: message}
}

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Code: "validation_failed", Message: message}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Code: "not_found", Message: message}
}

// External wraps a downstream failure. The message stays generic on purpose;
// detail belongs in the wrapped error.
func External(service string, retryable bool, err error) *Error {
	return &Error{
		Kind:      KindExternalService,
		Code:      "external_service_error",
		Message:   "Sorry, I couldn't reach the " + service + " right now.",
		Retryable: retryable,
		Err:       err,
	}
}

func Unconfigured(capability, message string) *Error {
	return &Error{Kind: KindConfiguration, Code: capability + "_unavailable", Message: message}
}

func Storage(op string, err error) *Error {
	return &Error{Kind: KindStorage, Code: "storage_error", Message: op + " failed", Err: err}
}

// KindOf reports the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// CodeOf returns the machine-readable code for err, defaulting to "internal_error".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return "internal_error"
}

// PublicMessage returns text that can be shown to the user without leaking
// internals.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "something went wrong"
}
