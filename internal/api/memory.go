package api

import (
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/babblebuddy/agentcore/internal/auth"
	"github.com/babblebuddy/agentcore/internal/memory"
	"github.com/babblebuddy/agentcore/internal/store"
	"github.com/babblebuddy/agentcore/pkg/errors"
)

// StoreMemoryRequest is the body for POST /api/v1/memory.
type StoreMemoryRequest struct {
	Content    string `json:"content"`
	MemoryType string `json:"memory_type,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
}

// StoreMemoryResponse returns the stored memory.
type StoreMemoryResponse struct {
	ID         int64  `json:"id"`
	Content    string `json:"content"`
	MemoryType string `json:"memory_type"`
}

// SearchMemoryRequest is the body for POST /api/v1/memory/search.
type SearchMemoryRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// MemoryResult is one search hit.
type MemoryResult struct {
	ID         int64   `json:"id"`
	Content    string  `json:"content"`
	MemoryType string  `json:"memory_type"`
	Similarity float64 `json:"similarity"`
}

// SearchMemoryResponse returns hits plus their prompt-formatted form.
type SearchMemoryResponse struct {
	Memories  []MemoryResult `json:"memories"`
	Formatted string         `json:"formatted"`
}

// requireMemoryFeature guards memory endpoints behind the feature flag.
func (h *Handler) requireMemoryFeature(w http.ResponseWriter) bool {
	if h.cfg.Memory.Enabled {
		return true
	}
	writeError(w, http.StatusNotFound, errors.TypeNotFound, "memory feature is disabled")
	return false
}

// StoreMemory handles POST /api/v1/memory.
func (h *Handler) StoreMemory(w http.ResponseWriter, r *http.Request) {
	if !h.requireMemoryFeature(w) {
		return
	}
	token := auth.TokenFromContext(r.Context())

	var req StoreMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.TypeInvalidRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, errors.TypeInvalidRequest, "content is required")
		return
	}

	memType := store.MemoryType(req.MemoryType)
	if req.MemoryType == "" {
		memType = store.MemoryFact
	}
	switch memType {
	case store.MemoryFact, store.MemoryPreference, store.MemorySummary:
	default:
		writeError(w, http.StatusBadRequest, errors.TypeInvalidRequest,
			"invalid memory_type, must be one of: fact, preference, summary")
		return
	}

	mem, err := h.recall.Store(r.Context(), token.ID, req.SessionID, req.Content, memType)
	if err != nil {
		h.logger.WithRequestID(r.Context()).Error("failed to store memory", "error", err.Error())
		writeError(w, http.StatusInternalServerError, errors.TypeInternalError, "failed to store memory")
		return
	}

	writeJSON(w, http.StatusCreated, StoreMemoryResponse{
		ID:         mem.ID,
		Content:    mem.Content,
		MemoryType: string(mem.Type),
	})
}

// SearchMemories handles POST /api/v1/memory/search.
func (h *Handler) SearchMemories(w http.ResponseWriter, r *http.Request) {
	if !h.requireMemoryFeature(w) {
		return
	}
	token := auth.TokenFromContext(r.Context())

	var req SearchMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.TypeInvalidRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, errors.TypeInvalidRequest, "query is required")
		return
	}

	memories, err := h.recall.Recall(r.Context(), token.ID, req.Query, memory.RecallOptions{Limit: req.Limit})
	if err != nil {
		h.logger.WithRequestID(r.Context()).Error("memory search failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, errors.TypeInternalError, "memory search failed")
		return
	}

	results := make([]MemoryResult, 0, len(memories))
	for _, m := range memories {
		results = append(results, MemoryResult{
			ID:         m.ID,
			Content:    m.Content,
			MemoryType: string(m.Type),
			Similarity: m.Similarity,
		})
	}

	writeJSON(w, http.StatusOK, SearchMemoryResponse{
		Memories:  results,
		Formatted: memory.FormatMemoriesForPrompt(memories),
	})
}

// StructuredSearchRequest is the body for POST /api/v1/memory/structured/search.
type StructuredSearchRequest struct {
	Query            string `json:"query"`
	Limit            int    `json:"limit,omitempty"`
	ApplicationGroup string `json:"application_group,omitempty"`
	Predicate        string `json:"predicate,omitempty"`
}

// StructuredSearchResponse returns structured hits plus their formatted form.
type StructuredSearchResponse struct {
	Memories  []*store.StructuredMemory `json:"memories"`
	Formatted string                    `json:"formatted"`
}

// SearchStructuredMemories handles POST /api/v1/memory/structured/search.
func (h *Handler) SearchStructuredMemories(w http.ResponseWriter, r *http.Request) {
	if !h.requireMemoryFeature(w) {
		return
	}
	token := auth.TokenFromContext(r.Context())

	var req StructuredSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.TypeInvalidRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, errors.TypeInvalidRequest, "query is required")
		return
	}

	memories, err := h.recall.RecallStructured(r.Context(), token.ID, req.Query, memory.RecallOptions{
		Limit:            req.Limit,
		ApplicationGroup: req.ApplicationGroup,
		Predicate:        req.Predicate,
	})
	if err != nil {
		h.logger.WithRequestID(r.Context()).Error("structured memory search failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, errors.TypeInternalError, "structured memory search failed")
		return
	}

	writeJSON(w, http.StatusOK, StructuredSearchResponse{
		Memories:  memories,
		Formatted: memory.FormatStructuredForPrompt(memories),
	})
}

// ClearMemories handles DELETE /api/v1/memory. An optional session_id query
// parameter scopes the deletion.
func (h *Handler) ClearMemories(w http.ResponseWriter, r *http.Request) {
	if !h.requireMemoryFeature(w) {
		return
	}
	token := auth.TokenFromContext(r.Context())

	count, err := h.recall.Clear(r.Context(), token.ID, r.URL.Query().Get("session_id"))
	if err != nil {
		h.logger.WithRequestID(r.Context()).Error("failed to clear memories", "error", err.Error())
		writeError(w, http.StatusInternalServerError, errors.TypeInternalError, "failed to clear memories")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"deleted": count})
}
