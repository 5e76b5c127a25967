// Package apperr defines the error kinds the application reports to callers
// and how each kind maps onto an HTTP status.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for reporting.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindMethodNotAllowed
	KindPayloadTooLarge
	KindRateLimited
	KindDatabase
)

var kindNames = map[Kind]string{
	KindInternal:         "internal",
	KindValidation:       "validation",
	KindUnauthorized:     "unauthorized",
	KindForbidden:        "forbidden",
	KindNotFound:         "not_found",
	KindMethodNotAllowed: "method_not_allowed",
	KindPayloadTooLarge:  "payload_too_large",
	KindRateLimited:      "rate_limited",
	KindDatabase:         "database",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Status returns the HTTP status code reported for the kind.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Default messages shown when an error carries no message of its own.
// Internal and database messages are always used as-is.
var defaultMessages = map[Kind]string{
	KindInternal:         "An unexpected error has occurred. Please try again later.",
	KindValidation:       "Bad request.",
	KindUnauthorized:     "Authentication required.",
	KindForbidden:        "Insufficient permissions.",
	KindNotFound:         "Resource not found.",
	KindMethodNotAllowed: "Method not allowed.",
	KindPayloadTooLarge:  "Request entity too large.",
	KindRateLimited:      "Too many requests.",
	KindDatabase:         "A database error occurred.",
}

// Error is an error with a Kind, a caller-safe message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = defaultMessages[e.Kind]
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an error of the given kind wrapping err.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(message string) *Error { return New(KindValidation, message) }

func Validationf(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func Unauthorized(message string) *Error { return New(KindUnauthorized, message) }

func Forbidden(message string) *Error { return New(KindForbidden, message) }

func NotFound(message string) *Error { return New(KindNotFound, message) }

func MethodNotAllowed() *Error { return New(KindMethodNotAllowed, "") }

func PayloadTooLarge(err error) *Error { return Wrap(KindPayloadTooLarge, err, "") }

func RateLimited(message string) *Error { return New(KindRateLimited, message) }

// Database wraps a persistence failure. The cause is logged, never shown.
func Database(err error) *Error { return Wrap(KindDatabase, err, "") }

// KindOf reports the kind of err. Errors that are not *Error are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// PublicMessage returns the message that may be shown to a caller.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return defaultMessages[KindInternal]
	}
	if e.Kind == KindInternal || e.Kind == KindDatabase || e.Message == "" {
		return defaultMessages[e.Kind]
	}
	return e.Message
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
