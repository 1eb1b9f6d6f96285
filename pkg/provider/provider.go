// Package provider defines the public interface for LLM provider adapters.
// Each provider (ollama, anthropic, openai, gemini) implements this interface
// to handle request transformation, API communication, and stream parsing.
package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/babblebuddy/agentcore/pkg/types"
)

// Provider defines the interface that all LLM provider adapters must implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "ollama", "anthropic").
	Name() string

	// Generate sends a single completion request and returns the full text.
	Generate(ctx context.Context, req *types.GenerateRequest) (string, error)

	// GenerateStream sends a streaming completion request. The caller must
	// drain the returned reader with Recv until io.EOF and then Close it.
	GenerateStream(ctx context.Context, req *types.GenerateRequest) (StreamReader, error)

	// HealthCheck reports whether the upstream API is reachable.
	HealthCheck(ctx context.Context) bool

	// Close releases resources held by the adapter.
	Close() error
}

// StreamReader provides an iterator interface for streaming responses.
// Recv returns the next text chunk; io.EOF signals a complete stream.
//
// Example:
//
//	stream, err := prov.GenerateStream(ctx, req)
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//
//	for {
//	    chunk, err := stream.Recv()
//	    if err == io.EOF {
//	        break
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Print(chunk)
//	}
type StreamReader interface {
	// Recv returns the next text chunk from the stream.
	// Returns io.EOF when the stream is complete.
	Recv() (string, error)

	// Close releases resources associated with the stream.
	Close() error
}

// Config contains provider-specific configuration for a single binding.
// Zero values fall back to per-adapter defaults.
type Config struct {
	APIKey        string
	BaseURL       string
	Model         string
	MaxTokens     int
	Temperature   float64
	TopP          float64
	RepeatPenalty float64
	NumCtx        int
	Timeout       time.Duration
	HTTPClient    *http.Client
}

// Factory creates provider instances from configuration.
type Factory func(cfg Config) (Provider, error)

// DefaultTimeout bounds a single upstream request, matching the slowest
// reasonable local model generation.
const DefaultTimeout = 120 * time.Second

// NewHTTPClient returns cfg.HTTPClient or a pooled client with the
// configured timeout.
func NewHTTPClient(cfg Config) *http.Client {
	if cfg.HTTPClient != nil {
		return cfg.HTTPClient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
