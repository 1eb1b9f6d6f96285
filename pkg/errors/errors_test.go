package errors

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestLLMError(t *testing.T) {
	t.Run("error message format", func(t *testing.T) {
		err := NewRateLimitError("openai", "gpt-4", "rate limit exceeded")
		msg := err.Error()

		if msg == "" {
			t.Error("error message should not be empty")
		}

		// Should contain key information
		contains := []string{"rate_limit_error", "openai", "gpt-4", "429"}
		for _, s := range contains {
			if !strings.Contains(msg, s) {
				t.Errorf("error message should contain %q, got %q", s, msg)
			}
		}
	})

	t.Run("HTTP status codes", func(t *testing.T) {
		tests := []struct {
			name     string
			err      *LLMError
			wantCode int
		}{
			{"auth error", NewAuthenticationError("p", "m", "msg"), 401},
			{"rate limit", NewRateLimitError("p", "m", "msg"), 429},
			{"bad request", NewInvalidRequestError("p", "m", "msg"), 400},
			{"not found", NewNotFoundError("p", "m", "msg"), 404},
			{"timeout", NewTimeoutError("p", "m", "msg"), 408},
			{"unavailable", NewServiceUnavailableError("p", "m", "msg"), 503},
			{"internal", NewInternalError("p", "m", "msg"), 500},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if got := tt.err.HTTPStatusCode(); got != tt.wantCode {
					t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.wantCode)
				}
			})
		}
	})

	t.Run("zero status code falls back to 500", func(t *testing.T) {
		err := &LLMError{Type: TypeInternalError, Message: "oops"}
		if got := err.HTTPStatusCode(); got != http.StatusInternalServerError {
			t.Errorf("HTTPStatusCode() = %d, want 500", got)
		}
	})

	t.Run("retryable flag", func(t *testing.T) {
		retryable := []func(string, string, string) *LLMError{
			NewRateLimitError,
			NewTimeoutError,
			NewServiceUnavailableError,
		}
		for _, fn := range retryable {
			err := fn("p", "m", "msg")
			if !err.Retryable {
				t.Errorf("%s should be retryable", err.Type)
			}
		}

		notRetryable := []func(string, string, string) *LLMError{
			NewAuthenticationError,
			NewInvalidRequestError,
			NewNotFoundError,
			NewInternalError,
		}
		for _, fn := range notRetryable {
			err := fn("p", "m", "msg")
			if err.Retryable {
				t.Errorf("%s should not be retryable", err.Type)
			}
		}
	})
}

func TestFromStatusCode(t *testing.T) {
	tests := []struct {
		statusCode int
		wantType   string
	}{
		{http.StatusUnauthorized, TypeAuthentication},
		{http.StatusForbidden, TypeAuthentication},
		{http.StatusTooManyRequests, TypeRateLimit},
		{http.StatusNotFound, TypeNotFound},
		{http.StatusRequestTimeout, TypeTimeout},
		{http.StatusBadRequest, TypeInvalidRequest},
		{http.StatusUnprocessableEntity, TypeInvalidRequest},
		{http.StatusInternalServerError, TypeServiceUnavailable},
		{http.StatusBadGateway, TypeServiceUnavailable},
		{http.StatusTeapot, TypeInternalError},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.statusCode), func(t *testing.T) {
			err := FromStatusCode("ollama", "llama3", tt.statusCode, "upstream said no")
			if err.Type != tt.wantType {
				t.Errorf("FromStatusCode(%d).Type = %q, want %q", tt.statusCode, err.Type, tt.wantType)
			}
			if err.Provider != "ollama" || err.Model != "llama3" {
				t.Errorf("provider/model not carried through: %+v", err)
			}
		})
	}
}

func TestAsLLMError(t *testing.T) {
	t.Run("direct", func(t *testing.T) {
		orig := NewNotFoundError("p", "m", "gone")
		got, ok := AsLLMError(orig)
		if !ok || got != orig {
			t.Errorf("AsLLMError did not recover the original error")
		}
	})

	t.Run("wrapped", func(t *testing.T) {
		orig := NewTimeoutError("p", "m", "slow")
		wrapped := fmt.Errorf("generate: %w", orig)
		got, ok := AsLLMError(wrapped)
		if !ok || got != orig {
			t.Errorf("AsLLMError did not unwrap the error chain")
		}
	})

	t.Run("plain error", func(t *testing.T) {
		if _, ok := AsLLMError(fmt.Errorf("plain")); ok {
			t.Error("plain error should not be an LLMError")
		}
	})
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(NewNotFoundError("p", "m", "gone")) {
		t.Error("IsNotFound should be true for not_found errors")
	}
	if IsNotFound(NewInternalError("p", "m", "boom")) {
		t.Error("IsNotFound should be false for other LLMErrors")
	}
	if IsNotFound(fmt.Errorf("plain")) {
		t.Error("IsNotFound should be false for plain errors")
	}
}
