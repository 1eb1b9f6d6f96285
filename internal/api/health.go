package api

import (
	"net/http"

	"github.com/babblebuddy/agentcore/internal/prompt"
)

// Healthz handles GET /healthz (liveness).
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status": "ok",
	}
	if h.embedder != nil {
		payload["cache"] = map[string]any{
			"embedding": h.embedder.Stats(),
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

// Readyz handles GET /readyz (readiness): the store must answer a ping and
// the local Ollama server must be reachable.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	services := map[string]string{}
	ready := true

	if err := h.store.Ping(r.Context()); err != nil {
		services["store"] = "disconnected"
		ready = false
	} else {
		services["store"] = "connected"
	}

	if p, err := h.defaultProvider(prompt.StyleDefault); err != nil || !p.HealthCheck(r.Context()) {
		services["ollama"] = "disconnected"
		ready = false
	} else {
		services["ollama"] = "connected"
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}

	writeJSON(w, status, map[string]any{
		"status":   state,
		"services": services,
	})
}
