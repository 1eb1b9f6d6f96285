package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/babblebuddy/agentcore/internal/store"
	"github.com/babblebuddy/agentcore/pkg/errors"
)

// CreateAgentRequest is the body for POST /admin/v1/agents.
type CreateAgentRequest struct {
	AppID        string   `json:"app_id"`
	Name         string   `json:"name"`
	ProviderType string   `json:"provider_type"`
	APIKey       string   `json:"api_key,omitempty"`
	Model        string   `json:"model"`
	Role         string   `json:"role"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	IsActive     *bool    `json:"is_active,omitempty"`
}

// UpdateAgentRequest is the body for PATCH /admin/v1/agents/{id}. Nil
// fields are left unchanged.
type UpdateAgentRequest struct {
	Name         *string  `json:"name,omitempty"`
	APIKey       *string  `json:"api_key,omitempty"`
	Model        *string  `json:"model,omitempty"`
	Role         *string  `json:"role,omitempty"`
	SystemPrompt *string  `json:"system_prompt,omitempty"`
	MaxTokens    *int     `json:"max_tokens,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	IsActive     *bool    `json:"is_active,omitempty"`
}

// AgentResponse is the agent representation returned to admins. The
// credential itself is never included, only its presence.
type AgentResponse struct {
	ID           uuid.UUID `json:"id"`
	AppID        uuid.UUID `json:"app_id"`
	Name         string    `json:"name"`
	ProviderType string    `json:"provider_type"`
	Model        string    `json:"model"`
	Role         string    `json:"role"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	MaxTokens    int       `json:"max_tokens"`
	Temperature  float64   `json:"temperature"`
	IsActive     bool      `json:"is_active"`
	HasAPIKey    bool      `json:"has_api_key"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func agentToResponse(a *store.Agent) AgentResponse {
	return AgentResponse{
		ID:           a.ID,
		AppID:        a.AppID,
		Name:         a.Name,
		ProviderType: string(a.Provider),
		Model:        a.Model,
		Role:         string(a.Role),
		SystemPrompt: a.SystemPrompt,
		MaxTokens:    a.MaxTokens,
		Temperature:  a.Temperature,
		IsActive:     a.IsActive,
		HasAPIKey:    a.APIKeyEncrypted != "",
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

// CreateAgent handles POST /admin/v1/agents.
func (h *Handler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req CreateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.TypeInvalidRequest, "invalid request body")
		return
	}

	appID, err := uuid.Parse(req.AppID)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.TypeInvalidRequest, "invalid app_id")
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Model) == "" {
		writeError(w, http.StatusBadRequest, errors.TypeInvalidRequest, "name and model are required")
		return
	}

	providerType := store.ProviderType(req.ProviderType)
	if !providerType.Valid() {
		writeError(w, http.StatusBadRequest, errors.TypeInvalidRequest,
			fmt.Sprintf("invalid provider_type: %s", req.ProviderType))
		return
	}
	if providerType.RequiresAPIKey() && req.APIKey == "" {
		writeError(w, http.StatusBadRequest, errors.TypeInvalidRequest,
			fmt.Sprintf("API key is required for provider type %q", providerType))
		return
	}

	agent := &store.Agent{
		AppID:        appID,
		Name:         req.Name,
		Provider:     providerType,
		Model:        req.Model,
		Role:         store.AgentRole(req.Role),
		SystemPrompt: req.SystemPrompt,
		MaxTokens:    req.MaxTokens,
		IsActive:     true,
	}
	if req.Temperature != nil {
		agent.Temperature = *req.Temperature
	} else {
		agent.Temperature = 0.7
	}
	if req.IsActive != nil {
		agent.IsActive = *req.IsActive
	}
	if agent.MaxTokens <= 0 {
		agent.MaxTokens = 512
	}

	if req.APIKey != "" {
		encrypted, err := h.box.Encrypt(req.APIKey)
		if err != nil {
			h.logger.Error("failed to encrypt agent api key", "error", err.Error())
			writeError(w, http.StatusInternalServerError, errors.TypeInternalError, "failed to encrypt api key")
			return
		}
		agent.APIKeyEncrypted = encrypted
	}

	if err := h.store.CreateAgent(r.Context(), agent); err != nil {
		h.logger.Error("failed to create agent", "error", err.Error())
		writeError(w, http.StatusInternalServerError, errors.TypeInternalError, "failed to create agent")
		return
	}

	writeJSON(w, http.StatusCreated, agentToResponse(agent))
}

// ListAgents handles GET /admin/v1/agents. Filters: app_id, active_only.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	appID := uuid.Nil
	if raw := r.URL.Query().Get("app_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.TypeInvalidRequest, "invalid app_id")
			return
		}
		appID = parsed
	}
	activeOnly := r.URL.Query().Get("active_only") == "true"

	agents, err := h.store.ListAgents(r.Context(), appID, activeOnly)
	if err != nil {
		h.logger.Error("failed to list agents", "error", err.Error())
		writeError(w, http.StatusInternalServerError, errors.TypeInternalError, "failed to list agents")
		return
	}

	responses := make([]AgentResponse, 0, len(agents))
	for _, a := range agents {
		responses = append(responses, agentToResponse(a))
	}
	writeJSON(w, http.StatusOK, responses)
}

// GetAgent handles GET /admin/v1/agents/{id}.
func (h *Handler) GetAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.agentFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, agentToResponse(agent))
}

// UpdateAgent handles PATCH /admin/v1/agents/{id}.
func (h *Handler) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.agentFromPath(w, r)
	if !ok {
		return
	}

	var req UpdateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.TypeInvalidRequest, "invalid request body")
		return
	}

	if req.Name != nil {
		agent.Name = *req.Name
	}
	if req.Model != nil {
		agent.Model = *req.Model
	}
	if req.Role != nil {
		agent.Role = store.AgentRole(*req.Role)
	}
	if req.SystemPrompt != nil {
		agent.SystemPrompt = *req.SystemPrompt
	}
	if req.MaxTokens != nil {
		agent.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		agent.Temperature = *req.Temperature
	}
	if req.IsActive != nil {
		agent.IsActive = *req.IsActive
	}
	if req.APIKey != nil {
		encrypted, err := h.box.Encrypt(*req.APIKey)
		if err != nil {
			h.logger.Error("failed to encrypt agent api key", "error", err.Error())
			writeError(w, http.StatusInternalServerError, errors.TypeInternalError, "failed to encrypt api key")
			return
		}
		agent.APIKeyEncrypted = encrypted
	}

	if err := h.store.UpdateAgent(r.Context(), agent); err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, errors.TypeNotFound, "agent not found")
			return
		}
		h.logger.Error("failed to update agent", "error", err.Error())
		writeError(w, http.StatusInternalServerError, errors.TypeInternalError, "failed to update agent")
		return
	}

	writeJSON(w, http.StatusOK, agentToResponse(agent))
}

// DeleteAgent handles DELETE /admin/v1/agents/{id}.
func (h *Handler) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.TypeInvalidRequest, "invalid agent id")
		return
	}

	if err := h.store.DeleteAgent(r.Context(), id); err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, errors.TypeNotFound, "agent not found")
			return
		}
		h.logger.Error("failed to delete agent", "error", err.Error())
		writeError(w, http.StatusInternalServerError, errors.TypeInternalError, "failed to delete agent")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) agentFromPath(w http.ResponseWriter, r *http.Request) (*store.Agent, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.TypeInvalidRequest, "invalid agent id")
		return nil, false
	}

	agent, err := h.store.GetAgent(r.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, errors.TypeNotFound, "agent not found")
			return nil, false
		}
		h.logger.Error("failed to load agent", "error", err.Error())
		writeError(w, http.StatusInternalServerError, errors.TypeInternalError, "failed to load agent")
		return nil, false
	}
	return agent, true
}
