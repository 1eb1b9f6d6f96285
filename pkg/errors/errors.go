// Package errors defines unified error types for agentcore operations.
// Upstream provider failures and orchestration failures are mapped to these
// standard error types so HTTP handlers can derive a status code uniformly.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// LLMError represents a standardized error from an LLM provider or from
// the orchestration layer. It contains all necessary information for error
// handling, logging, and client response.
type LLMError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Retryable  bool   `json:"-"`
}

// Error implements the error interface.
func (e *LLMError) Error() string {
	return fmt.Sprintf("[%s] %s (provider=%s, model=%s, code=%d)",
		e.Type, e.Message, e.Provider, e.Model, e.StatusCode)
}

// HTTPStatusCode returns the appropriate HTTP status code for the error.
func (e *LLMError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// Common error types as constants for consistency.
const (
	TypeAuthentication     = "authentication_error"
	TypeRateLimit          = "rate_limit_error"
	TypeInvalidRequest     = "invalid_request_error"
	TypeNotFound           = "not_found_error"
	TypeTimeout            = "timeout_error"
	TypeServiceUnavailable = "service_unavailable_error"
	TypeInternalError      = "internal_error"
)

// NewAuthenticationError creates an authentication error (401).
func NewAuthenticationError(provider, model, message string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusUnauthorized,
		Message:    message,
		Type:       TypeAuthentication,
		Provider:   provider,
		Model:      model,
		Retryable:  false,
	}
}

// NewRateLimitError creates a rate limit error (429).
func NewRateLimitError(provider, model, message string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusTooManyRequests,
		Message:    message,
		Type:       TypeRateLimit,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
	}
}

// NewInvalidRequestError creates an invalid request error (400).
func NewInvalidRequestError(provider, model, message string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusBadRequest,
		Message:    message,
		Type:       TypeInvalidRequest,
		Provider:   provider,
		Model:      model,
		Retryable:  false,
	}
}

// NewNotFoundError creates a not found error (404).
func NewNotFoundError(provider, model, message string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusNotFound,
		Message:    message,
		Type:       TypeNotFound,
		Provider:   provider,
		Model:      model,
		Retryable:  false,
	}
}

// NewTimeoutError creates a timeout error (408).
func NewTimeoutError(provider, model, message string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusRequestTimeout,
		Message:    message,
		Type:       TypeTimeout,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
	}
}

// NewServiceUnavailableError creates a service unavailable error (503).
func NewServiceUnavailableError(provider, model, message string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    message,
		Type:       TypeServiceUnavailable,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
	}
}

// NewInternalError creates an internal server error (500).
func NewInternalError(provider, model, message string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusInternalServerError,
		Message:    message,
		Type:       TypeInternalError,
		Provider:   provider,
		Model:      model,
		Retryable:  false,
	}
}

// FromStatusCode maps an upstream HTTP status code to an LLMError.
// Provider adapters call this for any non-2xx response.
func FromStatusCode(provider, model string, statusCode int, message string) *LLMError {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return NewAuthenticationError(provider, model, message)
	case statusCode == http.StatusTooManyRequests:
		return NewRateLimitError(provider, model, message)
	case statusCode == http.StatusNotFound:
		return NewNotFoundError(provider, model, message)
	case statusCode == http.StatusRequestTimeout:
		return NewTimeoutError(provider, model, message)
	case statusCode == http.StatusBadRequest || statusCode == http.StatusUnprocessableEntity:
		return NewInvalidRequestError(provider, model, message)
	case statusCode >= 500:
		return NewServiceUnavailableError(provider, model, message)
	default:
		return &LLMError{
			StatusCode: statusCode,
			Message:    message,
			Type:       TypeInternalError,
			Provider:   provider,
			Model:      model,
			Retryable:  false,
		}
	}
}

// AsLLMError unwraps err into an *LLMError if possible.
func AsLLMError(err error) (*LLMError, bool) {
	var llmErr *LLMError
	if stderrors.As(err, &llmErr) {
		return llmErr, true
	}
	return nil, false
}

// IsNotFound reports whether err is a not_found LLMError.
func IsNotFound(err error) bool {
	llmErr, ok := AsLLMError(err)
	return ok && llmErr.Type == TypeNotFound
}
