package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/babblebuddy/agentcore/internal/auth"
	"github.com/babblebuddy/agentcore/internal/memory"
	"github.com/babblebuddy/agentcore/internal/orchestrator"
	"github.com/babblebuddy/agentcore/internal/prompt"
	"github.com/babblebuddy/agentcore/internal/session"
	"github.com/babblebuddy/agentcore/internal/store"
	"github.com/babblebuddy/agentcore/pkg/errors"
	"github.com/babblebuddy/agentcore/pkg/provider"
	"github.com/babblebuddy/agentcore/pkg/types"
)

// ChatRequest is the body for chat and chat/stream.
type ChatRequest struct {
	Message   string         `json:"message"`
	SessionID string         `json:"session_id,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	Style     string         `json:"style,omitempty"`

	// Orchestration fields. AppID selects the agent roster; when absent
	// the request is served by the default Ollama provider.
	AppID      string `json:"app_id,omitempty"`
	Strategy   string `json:"strategy,omitempty"`
	TargetRole string `json:"target_role,omitempty"`
	AgentID    string `json:"agent_id,omitempty"`
}

// ChatResponse is the non-streaming chat reply.
type ChatResponse struct {
	Response       string                       `json:"response"`
	SessionID      string                       `json:"session_id"`
	Strategy       string                       `json:"strategy,omitempty"`
	AgentResponses []orchestrator.AgentResponse `json:"agent_responses,omitempty"`
}

// Chat handles POST /api/v1/chat.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromContext(r.Context())

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.TypeInvalidRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, errors.TypeInvalidRequest, "message is required")
		return
	}

	sess := h.sessions.GetOrCreate(req.SessionID, token.ID, req.Context)
	systemPrompt := h.buildSystemPrompt(r.Context(), token.ID, sess, req)

	h.logger.WithRequestID(r.Context()).Info("chat request",
		"session_id", sess.ID,
		"message_len", len(req.Message),
		"strategy", req.Strategy,
	)

	if req.AppID != "" {
		h.chatOrchestrated(w, r, token, sess, req, systemPrompt)
		return
	}

	p, err := h.defaultProvider(prompt.ParseStyle(req.Style))
	if err != nil {
		writeProviderError(w, err)
		return
	}

	content, err := p.Generate(r.Context(), &types.GenerateRequest{
		Prompt:       req.Message,
		SystemPrompt: systemPrompt,
		History:      historyFromSession(sess),
	})
	if err != nil {
		writeProviderError(w, err)
		return
	}

	h.recordTurn(token, sess.ID, req, content)
	writeJSON(w, http.StatusOK, ChatResponse{Response: content, SessionID: sess.ID})
}

func (h *Handler) chatOrchestrated(w http.ResponseWriter, r *http.Request, token *store.AppToken, sess *session.Session, req ChatRequest, systemPrompt string) {
	orchReq, err := h.buildOrchestration(req, sess, systemPrompt)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.TypeInvalidRequest, err.Error())
		return
	}

	resp, err := h.orch.Orchestrate(r.Context(), orchReq)
	if err != nil {
		if strings.Contains(err.Error(), "not found") || strings.Contains(err.Error(), "no active agents") {
			writeError(w, http.StatusNotFound, errors.TypeNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, errors.TypeInvalidRequest, err.Error())
		return
	}

	h.recordTurn(token, sess.ID, req, resp.Primary)
	writeJSON(w, http.StatusOK, ChatResponse{
		Response:       resp.Primary,
		SessionID:      sess.ID,
		Strategy:       string(resp.Strategy),
		AgentResponses: resp.AgentResponses,
	})
}

// ChatStream handles POST /api/v1/chat/stream. The reply is SSE: one
// "message" event per chunk, then a "done" event carrying the session ID.
func (h *Handler) ChatStream(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromContext(r.Context())

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.TypeInvalidRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, errors.TypeInvalidRequest, "message is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.TypeInternalError, "streaming unsupported")
		return
	}

	sess := h.sessions.GetOrCreate(req.SessionID, token.ID, req.Context)
	systemPrompt := h.buildSystemPrompt(r.Context(), token.ID, sess, req)

	var stream provider.StreamReader
	if req.AppID != "" {
		orchReq, err := h.buildOrchestration(req, sess, systemPrompt)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.TypeInvalidRequest, err.Error())
			return
		}
		s, _, err := h.orch.StreamSingle(r.Context(), orchReq)
		if err != nil {
			writeProviderError(w, err)
			return
		}
		stream = s
	} else {
		p, err := h.defaultProvider(prompt.ParseStyle(req.Style))
		if err != nil {
			writeProviderError(w, err)
			return
		}
		s, err := p.GenerateStream(r.Context(), &types.GenerateRequest{
			Prompt:       req.Message,
			SystemPrompt: systemPrompt,
			History:      historyFromSession(sess),
		})
		if err != nil {
			writeProviderError(w, err)
			return
		}
		stream = s
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var full strings.Builder
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			h.logger.WithRequestID(r.Context()).Error("stream failed", "error", err.Error())
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", sseData(err.Error()))
			flusher.Flush()
			return
		}
		full.WriteString(chunk)
		fmt.Fprintf(w, "event: message\ndata: %s\n\n", sseData(chunk))
		flusher.Flush()
	}

	h.recordTurn(token, sess.ID, req, full.String())
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", sess.ID)
	flusher.Flush()
}

// buildSystemPrompt composes the system prompt and augments it with
// recalled memory. Recall failures degrade to no augmentation.
func (h *Handler) buildSystemPrompt(ctx context.Context, tokenID int64, sess *session.Session, req ChatRequest) string {
	systemPrompt := h.composer.BuildSystemPrompt(sess.Context, prompt.ParseStyle(req.Style))

	if !h.cfg.Memory.Enabled || h.recall == nil {
		return systemPrompt
	}

	combined, err := h.recall.RecallCombined(ctx, tokenID, req.Message, memory.RecallOptions{
		ApplicationGroup: applicationGroup(req.Context),
	})
	if err != nil {
		h.logger.WithRequestID(ctx).Warn("memory recall failed", "error", err.Error())
		return systemPrompt
	}

	if memoryContext := memory.FormatCombinedForPrompt(combined); memoryContext != "" {
		systemPrompt = memory.AugmentSystemPrompt(systemPrompt, memoryContext)
	}
	return systemPrompt
}

func (h *Handler) buildOrchestration(req ChatRequest, sess *session.Session, systemPrompt string) (orchestrator.Request, error) {
	appID, err := uuid.Parse(req.AppID)
	if err != nil {
		return orchestrator.Request{}, fmt.Errorf("invalid app_id: %s", req.AppID)
	}

	strategy, err := orchestrator.ParseStrategy(req.Strategy)
	if err != nil {
		return orchestrator.Request{}, err
	}

	agentID := uuid.Nil
	if req.AgentID != "" {
		agentID, err = uuid.Parse(req.AgentID)
		if err != nil {
			return orchestrator.Request{}, fmt.Errorf("invalid agent_id: %s", req.AgentID)
		}
	}

	return orchestrator.Request{
		AppID:        appID,
		Prompt:       req.Message,
		SystemPrompt: systemPrompt,
		History:      historyFromSession(sess),
		Strategy:     strategy,
		TargetRole:   req.TargetRole,
		AgentID:      agentID,
	}, nil
}

// recordTurn appends the exchange to the session and persists it for
// memory extraction. Persistence failures are logged, never surfaced.
func (h *Handler) recordTurn(token *store.AppToken, sessionID string, req ChatRequest, assistantMessage string) {
	h.sessions.AddMessage(sessionID, types.RoleUser, req.Message)
	h.sessions.AddMessage(sessionID, types.RoleAssistant, assistantMessage)

	if !h.cfg.Memory.Extraction.Enabled {
		return
	}

	// Detached from the request so client disconnects do not lose turns.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	turn := &store.ConversationTurn{
		TokenID:          token.ID,
		SessionID:        sessionID,
		ApplicationGroup: applicationGroup(req.Context),
		UserMessage:      req.Message,
		AssistantMessage: assistantMessage,
		Context:          req.Context,
		Status:           store.ExtractionPending,
	}
	if err := h.store.InsertTurn(ctx, turn); err != nil {
		h.logger.Warn("failed to store conversation turn", "error", err.Error())
		cancel()
		return
	}

	if !h.cfg.Memory.Extraction.Inline || h.extractor == nil {
		cancel()
		return
	}

	go func() {
		defer cancel()
		if _, err := h.extractor.ProcessTurn(ctx, turn); err != nil {
			h.logger.Warn("inline extraction failed", "turn_id", turn.ID.String(), "error", err.Error())
		}
	}()
}

func historyFromSession(sess *session.Session) []types.Message {
	if len(sess.Messages) == 0 {
		return nil
	}
	history := make([]types.Message, 0, len(sess.Messages))
	for _, m := range sess.Messages {
		history = append(history, types.Message{
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	return history
}

func applicationGroup(context map[string]any) string {
	if context == nil {
		return ""
	}
	group, _ := context["app"].(string)
	return group
}

// sseData escapes newlines inside an SSE data field by splitting into
// multiple data lines.
func sseData(chunk string) string {
	return strings.ReplaceAll(chunk, "\n", "\ndata: ")
}
