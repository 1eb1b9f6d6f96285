package ollama

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/babblebuddy/agentcore/pkg/errors"
	"github.com/babblebuddy/agentcore/pkg/provider"
	"github.com/babblebuddy/agentcore/pkg/types"
)

func newTestProvider(t *testing.T, baseURL string) *Provider {
	t.Helper()
	pAny, err := NewFromConfig(provider.Config{BaseURL: baseURL, Model: "test-model"})
	require.NoError(t, err)
	return pAny.(*Provider)
}

func TestGenerate_UsesGenerateEndpointWithoutHistory(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{"response": "generated text"})
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	got, err := p.Generate(context.Background(), &types.GenerateRequest{
		Prompt:       "hello",
		SystemPrompt: "be nice",
	})
	require.NoError(t, err)
	require.Equal(t, "generated text", got)

	require.Equal(t, "/api/generate", gotPath)
	require.Equal(t, "hello", gotBody["prompt"])
	require.Equal(t, "be nice", gotBody["system"])
	require.Equal(t, false, gotBody["stream"])
}

func TestGenerate_UsesChatEndpointWithHistory(t *testing.T) {
	var gotPath string
	var gotBody struct {
		Messages []map[string]string `json:"messages"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": "chat reply"},
		})
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	got, err := p.Generate(context.Background(), &types.GenerateRequest{
		Prompt:       "and now?",
		SystemPrompt: "be nice",
		History: []types.Message{
			{Role: types.RoleUser, Content: "hi"},
			{Role: types.RoleAssistant, Content: "hello"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "chat reply", got)

	require.Equal(t, "/api/chat", gotPath)
	require.Len(t, gotBody.Messages, 4)
	require.Equal(t, "system", gotBody.Messages[0]["role"])
	require.Equal(t, "user", gotBody.Messages[1]["role"])
	require.Equal(t, "assistant", gotBody.Messages[2]["role"])
	require.Equal(t, "and now?", gotBody.Messages[3]["content"])
}

func TestGenerate_ErrorMapping(t *testing.T) {
	tests := []struct {
		status   int
		wantType string
	}{
		{http.StatusNotFound, errors.TypeNotFound},
		{http.StatusTooManyRequests, errors.TypeRateLimit},
		{http.StatusInternalServerError, errors.TypeServiceUnavailable},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream error", tt.status)
		}))

		p := newTestProvider(t, srv.URL)
		_, err := p.Generate(context.Background(), &types.GenerateRequest{Prompt: "hello"})
		require.Error(t, err)

		llmErr, ok := errors.AsLLMError(err)
		require.True(t, ok)
		require.Equal(t, tt.wantType, llmErr.Type)
		require.Equal(t, ProviderName, llmErr.Provider)

		srv.Close()
	}
}

func TestGenerateStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		_ = enc.Encode(map[string]any{"response": "Hel", "done": false})
		_ = enc.Encode(map[string]any{"response": "lo", "done": false})
		_ = enc.Encode(map[string]any{"response": "", "done": true})
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	stream, err := p.GenerateStream(context.Background(), &types.GenerateRequest{Prompt: "hi"})
	require.NoError(t, err)
	defer stream.Close()

	var chunks []string
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}
	require.Equal(t, []string{"Hel", "lo"}, chunks)
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	require.True(t, p.HealthCheck(context.Background()))

	srv.Close()
	require.False(t, p.HealthCheck(context.Background()))
}

func TestNewFromConfig_Defaults(t *testing.T) {
	pAny, err := NewFromConfig(provider.Config{})
	require.NoError(t, err)
	p := pAny.(*Provider)

	require.Equal(t, DefaultBaseURL, p.baseURL)
	require.Equal(t, DefaultModel, p.model)
	require.Equal(t, 512, p.maxTokens)
	require.Equal(t, ProviderName, p.Name())
}
