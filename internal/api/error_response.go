package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/babblebuddy/agentcore/pkg/errors"
)

// ErrorResponse is the error envelope returned by all endpoints.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes the error payload.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Message: message, Type: errType}})
}

// writeProviderError maps provider errors through the LLMError taxonomy,
// falling back to a plain internal error.
func writeProviderError(w http.ResponseWriter, err error) {
	if llmErr, ok := errors.AsLLMError(err); ok {
		writeError(w, llmErr.HTTPStatusCode(), llmErr.Type, llmErr.Message)
		return
	}
	writeError(w, http.StatusInternalServerError, errors.TypeInternalError, err.Error())
}
