// Package apperrors is the single error type used across every core
// component. Each component returns its own errors, but all of them are
// one of the Kinds below so the HTTP layer can translate them into stable
// wire codes without knowing which component produced them.
package apperrors

import (
	"fmt"
	"net/http"
)

// Kind is the closed set of error categories the core ever returns.
type Kind string

const (
	Unauthenticated   Kind = "UNAUTHENTICATED"
	TokenExpired      Kind = "TOKEN_EXPIRED"
	TokenInvalid      Kind = "TOKEN_INVALID"
	Forbidden         Kind = "FORBIDDEN"
	NotFound          Kind = "NOT_FOUND"
	InvalidReference  Kind = "INVALID_REFERENCE"
	InvalidArgument   Kind = "INVALID_ARGUMENT"
	Conflict          Kind = "CONFLICT"
	DuplicateAccepted Kind = "DUPLICATE_ACCEPTED"
	QuotaExceeded     Kind = "QUOTA_EXCEEDED"
	Transient         Kind = "TRANSIENT"
	Fatal             Kind = "FATAL"
)

// statusCodes maps each Kind to the HTTP status a transport layer should
// surface. DuplicateAccepted never reaches here as an error (see
// store.InsertMessage) but keeps a mapping for completeness.
var statusCodes = map[Kind]int{
	Unauthenticated:   http.StatusUnauthorized,
	TokenExpired:      http.StatusUnauthorized,
	TokenInvalid:      http.StatusUnauthorized,
	Forbidden:         http.StatusForbidden,
	NotFound:          http.StatusNotFound,
	InvalidReference:  http.StatusBadRequest,
	InvalidArgument:   http.StatusBadRequest,
	Conflict:          http.StatusConflict,
	DuplicateAccepted: http.StatusOK,
	QuotaExceeded:     http.StatusTooManyRequests,
	Transient:         http.StatusServiceUnavailable,
	Fatal:             http.StatusInternalServerError,
}

// wireCodes maps each Kind to the stable string code user-visible surfaces
// must emit, per spec.md §7.
var wireCodes = map[Kind]string{
	Unauthenticated:   "UNAUTHENTICATED",
	TokenExpired:      "UNAUTHENTICATED",
	TokenInvalid:      "UNAUTHENTICATED",
	Forbidden:         "FORBIDDEN",
	NotFound:          "NOT_FOUND",
	InvalidReference:  "INVALID_ARGUMENT",
	InvalidArgument:   "INVALID_ARGUMENT",
	Conflict:          "CONFLICT",
	DuplicateAccepted: "OK",
	QuotaExceeded:     "TOO_MANY_REQUESTS",
	Transient:         "INTERNAL",
	Fatal:             "INTERNAL",
}

// AppError is the structured error every core operation returns.
type AppError struct {
	Kind    Kind
	Message string
	Details any
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// StatusCode returns the HTTP status code an API layer should use.
func (e *AppError) StatusCode() int {
	if code, ok := statusCodes[e.Kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// WireCode returns the stable, user-visible code for this error.
func (e *AppError) WireCode() string {
	if code, ok := wireCodes[e.Kind]; ok {
		return code
	}
	return "INTERNAL"
}

// New creates an AppError with a plain message.
func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

// Newf creates an AppError with a formatted message.
func Newf(kind Kind, format string, args ...any) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches structured context (validation failures, etc.) to
// the error and returns it for chaining.
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// Wrap converts any error into an AppError, preserving one that already is.
func Wrap(err error, kind Kind) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return New(kind, err.Error())
}

// As reports whether err is an *AppError and returns it.
func As(err error) (*AppError, bool) {
	appErr, ok := err.(*AppError)
	return appErr, ok
}

// Is reports whether err is an *AppError of the given Kind.
func Is(err error, kind Kind) bool {
	appErr, ok := As(err)
	return ok && appErr.Kind == kind
}
