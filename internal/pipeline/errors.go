// internal/pipeline/errors.go
package pipeline

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a validation failure so the transport layer can map
// it to a response without parsing error strings.
type ErrorKind int

const (
	KindInputTooLarge ErrorKind = iota
	KindUnsafeContent
	KindRateLimited
	KindSchemaInvalid
	KindUnauthenticated
	KindUnauthorized
	KindTimeout
	KindInternal
)

// String returns the kind name
func (k ErrorKind) String() string {
	switch k {
	case KindInputTooLarge:
		return "input_too_large"
	case KindUnsafeContent:
		return "unsafe_content"
	case KindRateLimited:
		return "rate_limited"
	case KindSchemaInvalid:
		return "schema_invalid"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindUnauthorized:
		return "unauthorized"
	case KindTimeout:
		return "timeout"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// ValidationError is the typed rejection every validator and the pipeline
// itself reports. Internal errors carry their cause for logging but present
// an opaque message to callers.
type ValidationError struct {
	Kind      ErrorKind
	Validator string
	Cause     error
	Detail    string
}

// Error implements the error interface. Internal causes are never leaked
// into the message.
func (e *ValidationError) Error() string {
	if e.Kind == KindInternal {
		return fmt.Sprintf("validator %s: internal validation failure", e.Validator)
	}
	if e.Detail != "" {
		return fmt.Sprintf("validator %s: %s: %s", e.Validator, e.Kind, e.Detail)
	}
	return fmt.Sprintf("validator %s: %s", e.Validator, e.Kind)
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *ValidationError) Unwrap() error { return e.Cause }

// HTTPStatus maps the error kind to an HTTP status code for the calling
// transport layer.
func (e *ValidationError) HTTPStatus() int {
	switch e.Kind {
	case KindInputTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindUnsafeContent:
		return http.StatusUnprocessableEntity
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindSchemaInvalid:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindUnauthorized:
		return http.StatusForbidden
	case KindTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewError creates a rejection of the given kind.
func NewError(kind ErrorKind, validator, detail string) *ValidationError {
	return &ValidationError{Kind: kind, Validator: validator, Detail: detail}
}

// NewTimeout reports that a validator exceeded its time budget.
func NewTimeout(validator string) *ValidationError {
	return &ValidationError{Kind: KindTimeout, Validator: validator}
}

// NewInternal wraps an unexpected fault from a validator, distinct from a
// deliberate rejection.
func NewInternal(validator string, cause error) *ValidationError {
	return &ValidationError{Kind: KindInternal, Validator: validator, Cause: cause}
}

// KindOf extracts the error kind from an error chain.
func KindOf(err error) (ErrorKind, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Kind, true
	}
	return 0, false
}
