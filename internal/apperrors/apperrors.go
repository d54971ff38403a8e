package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code identifies an error category. Codes are stable, machine-readable
// identifiers surfaced in the HTTP error envelope.
type Code string

const (
	CodeValidation         Code = "validation_error"
	CodeNotFound           Code = "not_found"
	CodeAuthFailed         Code = "auth_failed"
	CodePermissionDenied   Code = "permission_denied"
	CodeRateLimit          Code = "rate_limited"
	CodeProviderAuth       Code = "provider_auth_failed"
	CodeQuotaExceeded      Code = "quota_exceeded"
	CodeModelNotFound      Code = "model_not_found"
	CodeInvalidRequest     Code = "invalid_request"
	CodeNetwork            Code = "network_error"
	CodeTimeout            Code = "timeout"
	CodeServiceUnavailable Code = "service_unavailable"
	CodeAllProvidersFailed Code = "all_providers_failed"
	CodeDimensionMismatch  Code = "dimension_mismatch"
	CodeShape              Code = "shape_error"
	CodeInputTooLarge      Code = "input_too_large"
	CodeCorruptArtifact    Code = "corrupt_artifact"
	CodeInternal           Code = "internal_error"
)

// Error is the single error type crossing component boundaries. Components
// wrap their causes with a Code; only the HTTP layer maps codes to statuses.
type Error struct {
	Code       Code
	Message    string
	Details    map[string]interface{}
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithDetail returns the error with an extra detail field set.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithRetryAfter sets the retry hint surfaced as Retry-After at the boundary.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// CodeOf extracts the code from err, or CodeInternal for unrecognized errors.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	var ae *Error
	for errors.As(err, &ae) {
		if ae.Code == code {
			return true
		}
		err = ae.cause
		if err == nil {
			return false
		}
	}
	return false
}

// RetryAfterOf extracts the retry hint, if any.
func RetryAfterOf(err error) time.Duration {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.RetryAfter
	}
	return 0
}

// HTTPStatus maps an error code to an HTTP status. Vector contract
// violations and corrupt artifacts are internal failures and never surface
// their raw category to clients.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation, CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeNotFound, CodeModelNotFound:
		return http.StatusNotFound
	case CodeAuthFailed, CodeProviderAuth:
		return http.StatusUnauthorized
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeRateLimit, CodeQuotaExceeded:
		return http.StatusTooManyRequests
	case CodeInputTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case CodeAllProvidersFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
