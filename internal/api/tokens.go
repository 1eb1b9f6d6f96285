package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/babblebuddy/agentcore/internal/auth"
	"github.com/babblebuddy/agentcore/internal/store"
	"github.com/babblebuddy/agentcore/pkg/errors"
)

// CreateTokenRequest is the body for POST /admin/v1/tokens.
type CreateTokenRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CreateTokenResponse carries the full token. It is returned exactly once;
// only the hash is stored.
type CreateTokenResponse struct {
	ID          int64     `json:"id"`
	Token       string    `json:"token"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// TokenListEntry is the masked token representation for listings.
type TokenListEntry struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}

// CreateToken handles POST /admin/v1/tokens.
func (h *Handler) CreateToken(w http.ResponseWriter, r *http.Request) {
	var req CreateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.TypeInvalidRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, errors.TypeInvalidRequest, "name is required")
		return
	}

	fullToken, hash, err := auth.GenerateToken()
	if err != nil {
		h.logger.Error("failed to generate token", "error", err.Error())
		writeError(w, http.StatusInternalServerError, errors.TypeInternalError, "failed to generate token")
		return
	}

	token := &store.AppToken{
		TokenHash:   hash,
		Name:        req.Name,
		Description: req.Description,
		IsActive:    true,
	}
	if err := h.store.CreateToken(r.Context(), token); err != nil {
		h.logger.Error("failed to create token", "error", err.Error())
		writeError(w, http.StatusInternalServerError, errors.TypeInternalError, "failed to create token")
		return
	}

	h.logger.Info("app token created", "token_id", token.ID, "token", auth.MaskToken(fullToken))

	writeJSON(w, http.StatusCreated, CreateTokenResponse{
		ID:          token.ID,
		Token:       fullToken,
		Name:        token.Name,
		Description: token.Description,
		IsActive:    token.IsActive,
		CreatedAt:   token.CreatedAt,
	})
}

// ListTokens handles GET /admin/v1/tokens.
func (h *Handler) ListTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.store.ListTokens(r.Context())
	if err != nil {
		h.logger.Error("failed to list tokens", "error", err.Error())
		writeError(w, http.StatusInternalServerError, errors.TypeInternalError, "failed to list tokens")
		return
	}

	entries := make([]TokenListEntry, 0, len(tokens))
	for _, t := range tokens {
		entries = append(entries, TokenListEntry{
			ID:          t.ID,
			Name:        t.Name,
			Description: t.Description,
			IsActive:    t.IsActive,
			CreatedAt:   t.CreatedAt,
			LastUsedAt:  t.LastUsedAt,
		})
	}
	writeJSON(w, http.StatusOK, entries)
}

// DeactivateToken handles DELETE /admin/v1/tokens/{id}. Tokens are
// deactivated, never deleted, so history stays attributable.
func (h *Handler) DeactivateToken(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.TypeInvalidRequest, "invalid token id")
		return
	}

	if err := h.store.DeactivateToken(r.Context(), id); err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, errors.TypeNotFound, "token not found")
			return
		}
		h.logger.Error("failed to deactivate token", "error", err.Error())
		writeError(w, http.StatusInternalServerError, errors.TypeInternalError, "failed to deactivate token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "token deactivated"})
}
