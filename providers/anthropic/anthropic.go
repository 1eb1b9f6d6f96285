// Package anthropic implements the provider adapter for the Anthropic
// Messages API.
package anthropic

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
	ProviderName   = "anthropic"
	DefaultBaseURL = "https://api.anthropic.com"
	DefaultModel   = "claude-3-5-haiku-20241022"

	apiVersion = "2023-06-01"
)

// Provider talks to the Anthropic Messages API.
type Provider struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

// NewFromConfig creates an Anthropic provider from configuration.
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

type messagesPayload struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Messages    []message `json:"messages"`
	System      string    `json:"system,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type errorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// buildPayload maps history plus the current prompt onto the Messages API.
// The system prompt travels in its own field; system entries in the history
// are dropped.
func (p *Provider) buildPayload(req *types.GenerateRequest, stream bool) messagesPayload {
	messages := make([]message, 0, len(req.History)+1)
	for _, m := range req.History {
		if m.Role == types.RoleSystem {
			continue
		}
		messages = append(messages, message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, message{Role: types.RoleUser, Content: req.Prompt})

	return messagesPayload{
		Model:       p.model,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
		Messages:    messages,
		System:      req.SystemPrompt,
		Stream:      stream,
	}
}

func (p *Provider) post(ctx context.Context, payload messagesPayload) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.NewInternalError(ProviderName, p.model, "marshal request: "+err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewInternalError(ProviderName, p.model, "build request: "+err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

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

	var parsed messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", errors.NewInternalError(ProviderName, p.model, "decode response: "+err.Error())
	}

	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

// GenerateStream sends a streaming request. The Messages API streams SSE
// events; text arrives in content_block_delta events.
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
		var event struct {
			Type  string `json:"type"`
			Delta struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"delta"`
		}
		if err := json.Unmarshal(data, &event); err != nil {
			return "", false, false
		}
		switch event.Type {
		case "content_block_delta":
			return event.Delta.Text, event.Delta.Text != "", false
		case "message_stop":
			return "", false, true
		default:
			return "", false, false
		}
	}), nil
}

// HealthCheck reports whether the API accepts the key via the models list.
func (p *Provider) HealthCheck(ctx context.Context) bool {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

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
