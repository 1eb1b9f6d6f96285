package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/babblebuddy/agentcore/internal/auth"
	"github.com/babblebuddy/agentcore/internal/cache"
	"github.com/babblebuddy/agentcore/internal/config"
	"github.com/babblebuddy/agentcore/internal/embedding"
	"github.com/babblebuddy/agentcore/internal/memory"
	"github.com/babblebuddy/agentcore/internal/observability"
	"github.com/babblebuddy/agentcore/internal/orchestrator"
	"github.com/babblebuddy/agentcore/internal/prompt"
	"github.com/babblebuddy/agentcore/internal/secret"
	"github.com/babblebuddy/agentcore/internal/session"
	"github.com/babblebuddy/agentcore/internal/store"
)

const testAdminKey = "test-admin-key"

// newFakeOllama serves the native endpoints the handler depends on:
// completions, embeddings, and the tags health probe.
func newFakeOllama(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/embeddings", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{1, 0}})
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	completion := func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Stream bool `json:"stream"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		w.Header().Set("Content-Type", "application/json")
		if body.Stream {
			enc := json.NewEncoder(w)
			_ = enc.Encode(map[string]any{"response": "Hello ", "message": map[string]string{"content": "Hello "}, "done": false})
			_ = enc.Encode(map[string]any{"response": "world", "message": map[string]string{"content": "world"}, "done": false})
			_ = enc.Encode(map[string]any{"response": "", "done": true})
			return
		}
		if r.URL.Path == "/api/chat" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"message": map[string]string{"role": "assistant", "content": "mock reply"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"response": "mock reply"})
	}
	mux.HandleFunc("/api/generate", completion)
	mux.HandleFunc("/api/chat", completion)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type testEnv struct {
	mux   *http.ServeMux
	st    *store.MemoryStore
	token string
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	ollama := newFakeOllama(t)

	cfg := config.DefaultConfig()
	cfg.Ollama.Host = ollama.URL
	cfg.Auth.AdminAPIKey = testAdminKey
	cfg.Memory.MinSimilarity = 0.5
	cfg.Memory.Extraction.Enabled = true
	cfg.Memory.Extraction.Inline = false
	if mutate != nil {
		mutate(cfg)
	}

	logger := observability.NewLogger(observability.LoggerConfig{Output: io.Discard}, nil)
	st := store.NewMemoryStore()

	full, hash, err := auth.GenerateToken()
	require.NoError(t, err)
	require.NoError(t, st.CreateToken(context.Background(), &store.AppToken{
		TokenHash: hash, Name: "test", IsActive: true,
	}))

	box, err := secret.NewEphemeralBox()
	require.NoError(t, err)

	embedCache, err := cache.NewEmbeddingCache(64, time.Hour)
	require.NoError(t, err)
	embedder := embedding.NewCachedEmbedder(embedding.NewOllamaEmbedder(ollama.URL, ""), embedCache)

	recall := memory.NewRecallEngine(st, embedder, memory.EngineConfig{
		RecallLimit:             cfg.Memory.RecallLimit,
		MinSimilarity:           cfg.Memory.MinSimilarity,
		HighImportanceThreshold: cfg.Memory.HighImportanceThreshold,
		AlwaysInjectHigh:        cfg.Memory.AlwaysInjectHighImportance,
	})
	extractor := memory.NewExtractor(
		st,
		memory.NewOllamaCompletionClient(ollama.URL, cfg.Memory.Extraction.Model),
		embedder,
		logger,
		cfg.Memory.Extraction.BatchSize,
	)

	orch := orchestrator.New(st, box, logger, orchestrator.Options{OllamaHost: ollama.URL})
	t.Cleanup(func() { _ = orch.Close() })

	handler := NewHandler(Config{
		Cfg:       cfg,
		Logger:    logger,
		Store:     st,
		Sessions:  session.NewManager(0),
		Composer:  prompt.NewComposer(prompt.StyleDefault, nil),
		Recall:    recall,
		Extractor: extractor,
		Orch:      orch,
		Embedder:  embedder,
		Box:       box,
		Metrics:   observability.NewMetrics(),
		AuthMW:    auth.NewMiddleware(st, logger, nil),
	})
	t.Cleanup(func() { _ = handler.Close() })

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	return &testEnv{mux: mux, st: st, token: full}
}

type reqOpt func(*http.Request)

func asApp(token string) reqOpt {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func asAdmin() reqOpt {
	return func(r *http.Request) { r.Header.Set("X-Admin-Key", testAdminKey) }
}

func (e *testEnv) do(t *testing.T, method, path string, body any, opts ...reqOpt) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}

	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = env.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	require.Equal(t, "ready", body["status"])
}

func TestChat(t *testing.T) {
	t.Run("requires authentication", func(t *testing.T) {
		env := newTestEnv(t, nil)
		rec := env.do(t, http.MethodPost, "/api/v1/chat", ChatRequest{Message: "hi"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("requires a message", func(t *testing.T) {
		env := newTestEnv(t, nil)
		rec := env.do(t, http.MethodPost, "/api/v1/chat", ChatRequest{Message: "  "}, asApp(env.token))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), "message is required")
	})

	t.Run("default provider reply", func(t *testing.T) {
		env := newTestEnv(t, nil)
		rec := env.do(t, http.MethodPost, "/api/v1/chat", ChatRequest{Message: "hello"}, asApp(env.token))
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decode[ChatResponse](t, rec)
		require.Equal(t, "mock reply", resp.Response)
		require.NotEmpty(t, resp.SessionID)
		require.Empty(t, resp.Strategy)

		// The exchange is persisted as a pending turn for extraction.
		count, err := env.st.CountPendingTurns(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, count)
	})

	t.Run("session continuity", func(t *testing.T) {
		env := newTestEnv(t, nil)
		first := decode[ChatResponse](t, env.do(t, http.MethodPost, "/api/v1/chat",
			ChatRequest{Message: "hello"}, asApp(env.token)))

		rec := env.do(t, http.MethodPost, "/api/v1/chat",
			ChatRequest{Message: "and again", SessionID: first.SessionID}, asApp(env.token))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, first.SessionID, decode[ChatResponse](t, rec).SessionID)

		rec = env.do(t, http.MethodGet, "/api/v1/sessions/"+first.SessionID, nil, asApp(env.token))
		require.Equal(t, http.StatusOK, rec.Code)
		sess := decode[session.Session](t, rec)
		require.Len(t, sess.Messages, 4)
	})
}

func TestChatOrchestrated(t *testing.T) {
	env := newTestEnv(t, nil)
	appID := uuid.New()
	require.NoError(t, env.st.CreateAgent(context.Background(), &store.Agent{
		AppID: appID, Name: "solo", Provider: store.ProviderOllama,
		Model: "llama3.2", IsActive: true,
	}))

	t.Run("routes through the agent roster", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/chat",
			ChatRequest{Message: "hello", AppID: appID.String()}, asApp(env.token))
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decode[ChatResponse](t, rec)
		require.Equal(t, "mock reply", resp.Response)
		require.Equal(t, "single", resp.Strategy)
		require.Len(t, resp.AgentResponses, 1)
		require.Equal(t, "solo", resp.AgentResponses[0].AgentName)
	})

	t.Run("unknown app is a 404", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/chat",
			ChatRequest{Message: "hello", AppID: uuid.NewString()}, asApp(env.token))
		require.Equal(t, http.StatusNotFound, rec.Code)
		require.Contains(t, rec.Body.String(), "no active agents")
	})

	t.Run("malformed app_id is a 400", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/chat",
			ChatRequest{Message: "hello", AppID: "not-a-uuid"}, asApp(env.token))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown strategy is a 400", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/chat",
			ChatRequest{Message: "hello", AppID: appID.String(), Strategy: "committee"}, asApp(env.token))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestChatStream(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/chat/stream",
		ChatRequest{Message: "hello"}, asApp(env.token))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	require.Contains(t, body, "event: message\ndata: Hello \n\n")
	require.Contains(t, body, "event: message\ndata: world\n\n")
	require.Contains(t, body, "event: done\ndata: ")
}

func TestSessions(t *testing.T) {
	env := newTestEnv(t, nil)

	created := decode[ChatResponse](t, env.do(t, http.MethodPost, "/api/v1/chat",
		ChatRequest{Message: "hello"}, asApp(env.token)))

	t.Run("sessions are scoped to their token", func(t *testing.T) {
		otherFull, otherHash, err := auth.GenerateToken()
		require.NoError(t, err)
		require.NoError(t, env.st.CreateToken(context.Background(), &store.AppToken{
			TokenHash: otherHash, Name: "other", IsActive: true,
		}))

		rec := env.do(t, http.MethodGet, "/api/v1/sessions/"+created.SessionID, nil, asApp(otherFull))
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("delete", func(t *testing.T) {
		rec := env.do(t, http.MethodDelete, "/api/v1/sessions/"+created.SessionID, nil, asApp(env.token))
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = env.do(t, http.MethodGet, "/api/v1/sessions/"+created.SessionID, nil, asApp(env.token))
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestMemoryEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("store and search", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/memory",
			StoreMemoryRequest{Content: "user likes pizza", MemoryType: "preference"}, asApp(env.token))
		require.Equal(t, http.StatusCreated, rec.Code)

		stored := decode[StoreMemoryResponse](t, rec)
		require.NotZero(t, stored.ID)
		require.Equal(t, "preference", stored.MemoryType)

		rec = env.do(t, http.MethodPost, "/api/v1/memory/search",
			SearchMemoryRequest{Query: "food"}, asApp(env.token))
		require.Equal(t, http.StatusOK, rec.Code)

		found := decode[SearchMemoryResponse](t, rec)
		require.Len(t, found.Memories, 1)
		require.Equal(t, "user likes pizza", found.Memories[0].Content)
		require.Contains(t, found.Formatted, "- (preference) user likes pizza")
	})

	t.Run("invalid memory type", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/memory",
			StoreMemoryRequest{Content: "x", MemoryType: "grudge"}, asApp(env.token))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), "invalid memory_type")
	})

	t.Run("structured search", func(t *testing.T) {
		require.NoError(t, env.st.InsertStructuredMemory(context.Background(), &store.StructuredMemory{
			TokenID: 1, Predicate: "hates", NaturalLanguage: "User hates olives",
			Embedding: []float32{1, 0}, Importance: 0.6,
		}))

		rec := env.do(t, http.MethodPost, "/api/v1/memory/structured/search",
			StructuredSearchRequest{Query: "food", Predicate: "hates"}, asApp(env.token))
		require.Equal(t, http.StatusOK, rec.Code)

		found := decode[StructuredSearchResponse](t, rec)
		require.Len(t, found.Memories, 1)
		require.Equal(t, "- User hates olives", found.Formatted)
	})

	t.Run("clear", func(t *testing.T) {
		rec := env.do(t, http.MethodDelete, "/api/v1/memory", nil, asApp(env.token))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, int64(1), decode[map[string]int64](t, rec)["deleted"])
	})
}

func TestMemoryFeatureDisabled(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Memory.Enabled = false })

	for _, probe := range []struct {
		method, path string
		body         any
	}{
		{http.MethodPost, "/api/v1/memory", StoreMemoryRequest{Content: "x"}},
		{http.MethodPost, "/api/v1/memory/search", SearchMemoryRequest{Query: "x"}},
		{http.MethodPost, "/api/v1/memory/structured/search", StructuredSearchRequest{Query: "x"}},
		{http.MethodDelete, "/api/v1/memory", nil},
	} {
		rec := env.do(t, probe.method, probe.path, probe.body, asApp(env.token))
		require.Equal(t, http.StatusNotFound, rec.Code, "%s %s", probe.method, probe.path)
		require.Contains(t, rec.Body.String(), "memory feature is disabled")
	}

	// Chat still works without memory augmentation.
	rec := env.do(t, http.MethodPost, "/api/v1/chat", ChatRequest{Message: "hello"}, asApp(env.token))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAgentAdmin(t *testing.T) {
	env := newTestEnv(t, nil)
	appID := uuid.New()

	t.Run("requires the admin key", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/admin/v1/agents", CreateAgentRequest{})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("external providers need an api key", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/admin/v1/agents", CreateAgentRequest{
			AppID: appID.String(), Name: "claude", ProviderType: "anthropic", Model: "claude-sonnet-4-5",
		}, asAdmin())
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), `API key is required for provider type "anthropic"`)
	})

	t.Run("unknown provider type", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/admin/v1/agents", CreateAgentRequest{
			AppID: appID.String(), Name: "x", ProviderType: "bedrock", Model: "m",
		}, asAdmin())
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), "invalid provider_type")
	})

	var created AgentResponse

	t.Run("create", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/admin/v1/agents", CreateAgentRequest{
			AppID: appID.String(), Name: "claude", ProviderType: "anthropic",
			Model: "claude-sonnet-4-5", Role: "coder", APIKey: "sk-ant-test",
		}, asAdmin())
		require.Equal(t, http.StatusCreated, rec.Code)

		created = decode[AgentResponse](t, rec)
		require.True(t, created.HasAPIKey)
		require.True(t, created.IsActive)
		require.Equal(t, 512, created.MaxTokens)
		require.InDelta(t, 0.7, created.Temperature, 1e-9)

		// The credential never appears in any response.
		require.NotContains(t, rec.Body.String(), "sk-ant-test")
	})

	t.Run("list by app", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/admin/v1/agents?app_id="+appID.String(), nil, asAdmin())
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, decode[[]AgentResponse](t, rec), 1)

		rec = env.do(t, http.MethodGet, "/admin/v1/agents?app_id="+uuid.NewString(), nil, asAdmin())
		require.Equal(t, http.StatusOK, rec.Code)
		require.Empty(t, decode[[]AgentResponse](t, rec))
	})

	t.Run("update", func(t *testing.T) {
		name := "claude-renamed"
		inactive := false
		rec := env.do(t, http.MethodPatch, "/admin/v1/agents/"+created.ID.String(),
			UpdateAgentRequest{Name: &name, IsActive: &inactive}, asAdmin())
		require.Equal(t, http.StatusOK, rec.Code)

		got := decode[AgentResponse](t, rec)
		require.Equal(t, "claude-renamed", got.Name)
		require.False(t, got.IsActive)
		require.Equal(t, created.Model, got.Model, "unset fields stay unchanged")
	})

	t.Run("get and delete", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/admin/v1/agents/"+created.ID.String(), nil, asAdmin())
		require.Equal(t, http.StatusOK, rec.Code)

		rec = env.do(t, http.MethodDelete, "/admin/v1/agents/"+created.ID.String(), nil, asAdmin())
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = env.do(t, http.MethodGet, "/admin/v1/agents/"+created.ID.String(), nil, asAdmin())
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestTokenAdmin(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/admin/v1/tokens",
		CreateTokenRequest{Name: "new tenant"}, asAdmin())
	require.Equal(t, http.StatusCreated, rec.Code)

	created := decode[CreateTokenResponse](t, rec)
	require.True(t, strings.HasPrefix(created.Token, "bb_"))
	require.True(t, created.IsActive)

	t.Run("listing never exposes the token", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/admin/v1/tokens", nil, asAdmin())
		require.Equal(t, http.StatusOK, rec.Code)
		require.NotContains(t, rec.Body.String(), created.Token)

		entries := decode[[]TokenListEntry](t, rec)
		require.Len(t, entries, 2)
	})

	t.Run("new token authenticates", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/chat", ChatRequest{Message: "hi"}, asApp(created.Token))
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("deactivation revokes access", func(t *testing.T) {
		rec := env.do(t, http.MethodDelete, "/admin/v1/tokens/"+itoa(created.ID), nil, asAdmin())
		require.Equal(t, http.StatusOK, rec.Code)

		rec = env.do(t, http.MethodPost, "/api/v1/chat", ChatRequest{Message: "hi"}, asApp(created.Token))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Contains(t, rec.Body.String(), "app token is inactive")
	})

	t.Run("missing name", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/admin/v1/tokens", CreateTokenRequest{}, asAdmin())
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestExtractionAdmin(t *testing.T) {
	env := newTestEnv(t, nil)

	// Seed a pending turn through the chat path.
	rec := env.do(t, http.MethodPost, "/api/v1/chat", ChatRequest{Message: "I hate olives"}, asApp(env.token))
	require.Equal(t, http.StatusOK, rec.Code)

	t.Run("status", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/admin/v1/extraction/status", nil, asAdmin())
		require.Equal(t, http.StatusOK, rec.Code)

		status := decode[ExtractionStatusResponse](t, rec)
		require.Equal(t, 1, status.PendingCount)
		require.True(t, status.ExtractionEnabled)
	})

	t.Run("run drains the backlog", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/admin/v1/extraction/run", RunExtractionRequest{}, asAdmin())
		require.Equal(t, http.StatusOK, rec.Code)

		stats := decode[memory.BatchStats](t, rec)
		require.Equal(t, 1, stats.Total)

		rec = env.do(t, http.MethodGet, "/admin/v1/extraction/status", nil, asAdmin())
		require.Zero(t, decode[ExtractionStatusResponse](t, rec).PendingCount)
	})

	t.Run("run is rejected when extraction is disabled", func(t *testing.T) {
		disabled := newTestEnv(t, func(c *config.Config) { c.Memory.Extraction.Enabled = false })
		rec := disabled.do(t, http.MethodPost, "/admin/v1/extraction/run", nil, asAdmin())
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), "memory extraction is disabled")
	})
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
