// Package apperr defines the typed error kinds shared across vidscribe. The
// HTTP layer maps each kind onto a status code and machine-readable code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError reports a malformed or incomplete request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NotFoundError reports a missing local or remote resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// UpstreamError wraps a failure talking to an external provider.
type UpstreamError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%s: status %d: %s", e.Service, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d", e.Service, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Service, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Service, e.Message)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient: transport errors,
// rate limiting and 5xx responses.
func (e *UpstreamError) Retryable() bool {
	if e.StatusCode == 0 {
		return e.Err != nil
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ConflictError reports an operation that is invalid for the current state.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func Validation(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

func Conflict(format string, args ...any) error {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

func IsUpstream(err error) bool {
	var target *UpstreamError
	return errors.As(err, &target)
}

// IsRetryable reports whether err wraps a transient upstream failure.
func IsRetryable(err error) bool {
	var target *UpstreamError
	if errors.As(err, &target) {
		return target.Retryable()
	}
	return false
}
