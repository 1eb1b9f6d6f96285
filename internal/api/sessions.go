package api

import (
	"net/http"

	"github.com/babblebuddy/agentcore/internal/auth"
	"github.com/babblebuddy/agentcore/pkg/errors"
)

// GetSession handles GET /api/v1/sessions/{id}. Sessions are scoped to the
// calling token.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromContext(r.Context())

	sess := h.sessions.Get(r.PathValue("id"))
	if sess == nil || sess.TokenID != token.ID {
		writeError(w, http.StatusNotFound, errors.TypeNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// DeleteSession handles DELETE /api/v1/sessions/{id}.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromContext(r.Context())

	id := r.PathValue("id")
	sess := h.sessions.Get(id)
	if sess == nil || sess.TokenID != token.ID {
		writeError(w, http.StatusNotFound, errors.TypeNotFound, "session not found")
		return
	}

	h.sessions.Delete(id)
	w.WriteHeader(http.StatusNoContent)
}
