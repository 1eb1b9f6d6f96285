// Package openai implements the provider adapter for the OpenAI Chat
// Completions API and compatible endpoints.
package openai

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/babblebuddy/agentcore/pkg/errors"
	"github.com/babblebuddy/agentcore/pkg/provider"
	"github.com/babblebuddy/agentcore/pkg/types"
)

const (
	ProviderName   = "openai"
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
)

// Provider talks to the Chat Completions API. A custom BaseURL points it at
// any OpenAI-compatible endpoint.
type Provider struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

// NewFromConfig creates an OpenAI provider from configuration.
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.NewAuthenticationError(ProviderName, cfg.Model, "api key is required")
	}
	p := &Provider{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient:  provider.NewHTTPClient(cfg),
	}
	if p.baseURL == "" {
		p.baseURL = DefaultBaseURL
	}
	if p.model == "" {
		p.model = DefaultModel
	}
	if p.maxTokens <= 0 {
		p.maxTokens = 1024
	}
	if p.temperature <= 0 {
		p.temperature = 0.7
	}
	return p, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return ProviderName }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatPayload struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *Provider) buildPayload(req *types.GenerateRequest, stream bool) chatPayload {
	messages := make([]message, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, message{Role: types.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.History {
		if m.Role == types.RoleSystem {
			continue
		}
		messages = append(messages, message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, message{Role: types.RoleUser, Content: req.Prompt})

	return chatPayload{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
		Stream:      stream,
	}
}

func (p *Provider) post(ctx context.Context, payload chatPayload) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.NewInternalError(ProviderName, p.model, "marshal request: "+err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewInternalError(ProviderName, p.model, "build request: "+err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.NewTimeoutError(ProviderName, p.model, "request timed out")
		}
		return nil, errors.NewServiceUnavailableError(ProviderName, p.model, err.Error())
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, p.mapError(resp.StatusCode, raw)
	}
	return resp, nil
}

func (p *Provider) mapError(statusCode int, body []byte) error {
	var envelope errorEnvelope
	msg := string(body)
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		msg = envelope.Error.Message
	}
	return errors.FromStatusCode(ProviderName, p.model, statusCode, msg)
}

// Generate sends a completion request and returns the full text.
func (p *Provider) Generate(ctx context.Context, req *types.GenerateRequest) (string, error) {
	resp, err := p.post(ctx, p.buildPayload(req, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", errors.NewInternalError(ProviderName, p.model, "decode response: "+err.Error())
	}
	if len(parsed.Choices) == 0 {
		return "", nil
	}
	return parsed.Choices[0].Message.Content, nil
}

// GenerateStream sends a streaming request. Chunks arrive as SSE data lines
// terminated by a [DONE] marker.
func (p *Provider) GenerateStream(ctx context.Context, req *types.GenerateRequest) (provider.StreamReader, error) {
	resp, err := p.post(ctx, p.buildPayload(req, true))
	if err != nil {
		return nil, err
	}

	return provider.NewLineStream(resp.Body, func(line []byte) (string, bool, bool) {
		data, ok := bytes.CutPrefix(line, []byte("data: "))
		if !ok {
			return "", false, false
		}
		if bytes.Equal(data, []byte("[DONE]")) {
			return "", false, true
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal(data, &chunk); err != nil {
			return "", false, false
		}
		if len(chunk.Choices) == 0 {
			return "", false, false
		}
		text := chunk.Choices[0].Delta.Content
		return text, text != "", false
	}), nil
}

// HealthCheck reports whether the API accepts the key via the models list.
func (p *Provider) HealthCheck(ctx context.Context) bool {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close releases idle connections.
func (p *Provider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
