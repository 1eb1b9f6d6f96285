// Package api provides the HTTP handlers for the agentcore service.
package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/babblebuddy/agentcore/internal/auth"
	"github.com/babblebuddy/agentcore/internal/config"
	"github.com/babblebuddy/agentcore/internal/embedding"
	"github.com/babblebuddy/agentcore/internal/memory"
	"github.com/babblebuddy/agentcore/internal/observability"
	"github.com/babblebuddy/agentcore/internal/orchestrator"
	"github.com/babblebuddy/agentcore/internal/prompt"
	"github.com/babblebuddy/agentcore/internal/secret"
	"github.com/babblebuddy/agentcore/internal/session"
	"github.com/babblebuddy/agentcore/internal/store"
	"github.com/babblebuddy/agentcore/pkg/provider"
	"github.com/babblebuddy/agentcore/providers"
)

// Handler bundles the service dependencies behind the HTTP surface.
type Handler struct {
	cfg       *config.Config
	logger    *observability.Logger
	store     store.Store
	sessions  *session.Manager
	composer  *prompt.Composer
	recall    *memory.RecallEngine
	extractor *memory.Extractor
	orch      *orchestrator.Orchestrator
	embedder  *embedding.CachedEmbedder
	box       *secret.Box
	metrics   *observability.Metrics
	authMW    *auth.Middleware
	limiter   *auth.TenantRateLimiter

	// Default providers used when a chat request names no application,
	// lazily created per response style.
	mu             sync.Mutex
	styleProviders map[prompt.ResponseStyle]provider.Provider
}

// Config collects the Handler's dependencies.
type Config struct {
	Cfg       *config.Config
	Logger    *observability.Logger
	Store     store.Store
	Sessions  *session.Manager
	Composer  *prompt.Composer
	Recall    *memory.RecallEngine
	Extractor *memory.Extractor
	Orch      *orchestrator.Orchestrator
	Embedder  *embedding.CachedEmbedder
	Box       *secret.Box
	Metrics   *observability.Metrics
	AuthMW    *auth.Middleware
	Limiter   *auth.TenantRateLimiter
}

// NewHandler creates the service handler.
func NewHandler(c Config) *Handler {
	return &Handler{
		cfg:            c.Cfg,
		logger:         c.Logger,
		store:          c.Store,
		sessions:       c.Sessions,
		composer:       c.Composer,
		recall:         c.Recall,
		extractor:      c.Extractor,
		orch:           c.Orch,
		embedder:       c.Embedder,
		box:            c.Box,
		metrics:        c.Metrics,
		authMW:         c.AuthMW,
		limiter:        c.Limiter,
		styleProviders: make(map[prompt.ResponseStyle]provider.Provider),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Unauthenticated operational endpoints.
	mux.Handle("GET /healthz", h.instrument("/healthz", http.HandlerFunc(h.Healthz)))
	mux.Handle("GET /readyz", h.instrument("/readyz", http.HandlerFunc(h.Readyz)))
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}

	// Tenant-facing endpoints (app token auth).
	mux.Handle("POST /api/v1/chat", h.protected("/api/v1/chat", h.Chat))
	mux.Handle("POST /api/v1/chat/stream", h.protected("/api/v1/chat/stream", h.ChatStream))
	mux.Handle("GET /api/v1/sessions/{id}", h.protected("/api/v1/sessions/{id}", h.GetSession))
	mux.Handle("DELETE /api/v1/sessions/{id}", h.protected("/api/v1/sessions/{id}", h.DeleteSession))
	mux.Handle("POST /api/v1/memory", h.protected("/api/v1/memory", h.StoreMemory))
	mux.Handle("POST /api/v1/memory/search", h.protected("/api/v1/memory/search", h.SearchMemories))
	mux.Handle("POST /api/v1/memory/structured/search", h.protected("/api/v1/memory/structured/search", h.SearchStructuredMemories))
	mux.Handle("DELETE /api/v1/memory", h.protected("/api/v1/memory", h.ClearMemories))

	// Admin endpoints (admin key auth).
	mux.Handle("POST /admin/v1/agents", h.admin("/admin/v1/agents", h.CreateAgent))
	mux.Handle("GET /admin/v1/agents", h.admin("/admin/v1/agents", h.ListAgents))
	mux.Handle("GET /admin/v1/agents/{id}", h.admin("/admin/v1/agents/{id}", h.GetAgent))
	mux.Handle("PATCH /admin/v1/agents/{id}", h.admin("/admin/v1/agents/{id}", h.UpdateAgent))
	mux.Handle("DELETE /admin/v1/agents/{id}", h.admin("/admin/v1/agents/{id}", h.DeleteAgent))
	mux.Handle("POST /admin/v1/tokens", h.admin("/admin/v1/tokens", h.CreateToken))
	mux.Handle("GET /admin/v1/tokens", h.admin("/admin/v1/tokens", h.ListTokens))
	mux.Handle("DELETE /admin/v1/tokens/{id}", h.admin("/admin/v1/tokens/{id}", h.DeactivateToken))
	mux.Handle("GET /admin/v1/extraction/status", h.admin("/admin/v1/extraction/status", h.ExtractionStatus))
	mux.Handle("POST /admin/v1/extraction/run", h.admin("/admin/v1/extraction/run", h.RunExtraction))
}

// protected chains metrics, token authentication, and rate limiting.
func (h *Handler) protected(route string, fn http.HandlerFunc) http.Handler {
	var next http.Handler = fn
	if h.limiter != nil && h.cfg.RateLimit.Enabled {
		next = h.limiter.RateLimitMiddleware(next)
	}
	next = h.authMW.Authenticate(next)
	return h.instrument(route, next)
}

// admin chains metrics and the admin key check.
func (h *Handler) admin(route string, fn http.HandlerFunc) http.Handler {
	return h.instrument(route, auth.RequireAdmin(h.cfg.Auth.AdminAPIKey, fn))
}

// instrument records request counts and latency per route.
func (h *Handler) instrument(route string, next http.Handler) http.Handler {
	if h.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		h.metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush passes streaming flushes through to the underlying writer.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// defaultProvider returns the Ollama provider used for non-orchestrated
// chat, configured with the style's generation preset.
func (h *Handler) defaultProvider(style prompt.ResponseStyle) (provider.Provider, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if p, ok := h.styleProviders[style]; ok {
		return p, nil
	}

	params := h.composer.ModelParams(style)
	p, err := providers.Create(string(store.ProviderOllama), provider.Config{
		BaseURL:       h.cfg.Ollama.Host,
		Model:         h.cfg.Ollama.Model,
		MaxTokens:     params.MaxTokens,
		Temperature:   params.Temperature,
		TopP:          params.TopP,
		RepeatPenalty: params.RepeatPenalty,
		NumCtx:        params.NumCtx,
	})
	if err != nil {
		return nil, err
	}
	h.styleProviders[style] = p
	return p, nil
}

// Close releases lazily created default providers.
func (h *Handler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for style, p := range h.styleProviders {
		_ = p.Close()
		delete(h.styleProviders, style)
	}
	return nil
}
