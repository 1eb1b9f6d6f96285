// Package embedding provides text embedding generation for memory recall,
// backed by a local Ollama server with an in-process cache.
package embedding

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/babblebuddy/agentcore/internal/cache"
)

// Dimensions is the embedding vector size produced by the default model.
const Dimensions = 384

// DefaultModel is the embedding model served by Ollama.
const DefaultModel = "nomic-embed-text"

// Embedder generates embedding vectors for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OllamaEmbedder calls the Ollama embeddings endpoint.
type OllamaEmbedder struct {
	host       string
	model      string
	httpClient *http.Client
}

// NewOllamaEmbedder creates an embedder against the given Ollama host.
func NewOllamaEmbedder(host, model string) *OllamaEmbedder {
	if model == "" {
		model = DefaultModel
	}
	return &OllamaEmbedder{
		host:  strings.TrimSuffix(host, "/"),
		model: model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Embed generates an embedding vector for text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(map[string]string{
		"model":  e.model,
		"prompt": text,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.host+"/api/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("embedding request failed with status %d: %s", resp.StatusCode, msg)
	}

	var parsed struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("embedding response is empty")
	}

	vector := make([]float32, len(parsed.Embedding))
	for i, f := range parsed.Embedding {
		vector[i] = float32(f)
	}
	return vector, nil
}

// CachedEmbedder decorates an Embedder with the embedding cache.
type CachedEmbedder struct {
	inner Embedder
	cache *cache.EmbeddingCache
}

// NewCachedEmbedder wraps inner with cache.
func NewCachedEmbedder(inner Embedder, c *cache.EmbeddingCache) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: c}
}

// Embed returns the cached vector when available, otherwise delegates to
// the inner embedder and caches the result.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vector, ok := e.cache.Get(text); ok {
		return vector, nil
	}

	vector, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	e.cache.Set(text, vector)
	return vector, nil
}

// Stats exposes the underlying cache statistics.
func (e *CachedEmbedder) Stats() cache.EmbeddingCacheStats {
	return e.cache.Stats()
}
