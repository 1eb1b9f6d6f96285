package embedding

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/babblebuddy/agentcore/internal/cache"
)

func TestOllamaEmbedder_Embed(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embeddings", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "")
	vec, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	require.Equal(t, []float32{0.1, 0.2, 0.3}, vec)

	require.Equal(t, DefaultModel, gotBody["model"])
	require.Equal(t, "hello world", gotBody["prompt"])
}

func TestOllamaEmbedder_Errors(t *testing.T) {
	t.Run("upstream failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not found", http.StatusNotFound)
		}))
		defer srv.Close()

		e := NewOllamaEmbedder(srv.URL, "")
		_, err := e.Embed(context.Background(), "hello")
		require.ErrorContains(t, err, "status 404")
	})

	t.Run("empty embedding", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{}})
		}))
		defer srv.Close()

		e := NewOllamaEmbedder(srv.URL, "")
		_, err := e.Embed(context.Background(), "hello")
		require.ErrorContains(t, err, "empty")
	})
}

func TestCachedEmbedder(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{1, 2}})
	}))
	defer srv.Close()

	c, err := cache.NewEmbeddingCache(10, time.Hour)
	require.NoError(t, err)
	e := NewCachedEmbedder(NewOllamaEmbedder(srv.URL, ""), c)

	ctx := context.Background()
	first, err := e.Embed(ctx, "hello")
	require.NoError(t, err)
	second, err := e.Embed(ctx, "hello")
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, calls, "second lookup must come from the cache")

	_, err = e.Embed(ctx, "different text")
	require.NoError(t, err)
	require.Equal(t, 2, calls)

	stats := e.Stats()
	require.Equal(t, int64(1), stats.Hits)
	require.Equal(t, int64(2), stats.Misses)
}
