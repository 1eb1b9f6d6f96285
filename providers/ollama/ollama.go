// Package ollama implements the provider adapter for a local Ollama server
// using its native API (/api/chat, /api/generate).
package ollama

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
	ProviderName   = "ollama"
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama3.2"
)

// Provider talks to the native Ollama API. No API key is required.
type Provider struct {
	baseURL       string
	model         string
	maxTokens     int
	temperature   float64
	topP          float64
	repeatPenalty float64
	numCtx        int
	httpClient    *http.Client
}

// NewFromConfig creates an Ollama provider from configuration.
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	p := &Provider{
		baseURL:       strings.TrimSuffix(cfg.BaseURL, "/"),
		model:         cfg.Model,
		maxTokens:     cfg.MaxTokens,
		temperature:   cfg.Temperature,
		topP:          cfg.TopP,
		repeatPenalty: cfg.RepeatPenalty,
		numCtx:        cfg.NumCtx,
		httpClient:    provider.NewHTTPClient(cfg),
	}
	if p.baseURL == "" {
		p.baseURL = DefaultBaseURL
	}
	if p.model == "" {
		p.model = DefaultModel
	}
	if p.maxTokens <= 0 {
		p.maxTokens = 512
	}
	if p.temperature <= 0 {
		p.temperature = 0.7
	}
	if p.topP <= 0 {
		p.topP = 0.9
	}
	if p.repeatPenalty <= 0 {
		p.repeatPenalty = 1.1
	}
	if p.numCtx <= 0 {
		p.numCtx = 2048
	}
	return p, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return ProviderName }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type options struct {
	NumPredict    int     `json:"num_predict"`
	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"top_p"`
	RepeatPenalty float64 `json:"repeat_penalty"`
	NumCtx        int     `json:"num_ctx"`
}

type chatPayload struct {
	Model    string        `json:"model"`
	Stream   bool          `json:"stream"`
	Options  options       `json:"options"`
	Messages []chatMessage `json:"messages,omitempty"`
	Prompt   string        `json:"prompt,omitempty"`
	System   string        `json:"system,omitempty"`
}

type chatResponse struct {
	Message  chatMessage `json:"message"`
	Response string      `json:"response"`
}

func (p *Provider) buildOptions() options {
	return options{
		NumPredict:    p.maxTokens,
		Temperature:   p.temperature,
		TopP:          p.topP,
		RepeatPenalty: p.repeatPenalty,
		NumCtx:        p.numCtx,
	}
}

// buildPayload selects /api/chat when history is present and /api/generate
// otherwise, mirroring the two native completion endpoints.
func (p *Provider) buildPayload(req *types.GenerateRequest, stream bool) (chatPayload, string) {
	payload := chatPayload{
		Model:   p.model,
		Stream:  stream,
		Options: p.buildOptions(),
	}

	if len(req.History) > 0 {
		messages := make([]chatMessage, 0, len(req.History)+2)
		if req.SystemPrompt != "" {
			messages = append(messages, chatMessage{Role: types.RoleSystem, Content: req.SystemPrompt})
		}
		for _, m := range req.History {
			messages = append(messages, chatMessage{Role: m.Role, Content: m.Content})
		}
		messages = append(messages, chatMessage{Role: types.RoleUser, Content: req.Prompt})
		payload.Messages = messages
		return payload, p.baseURL + "/api/chat"
	}

	payload.Prompt = req.Prompt
	payload.System = req.SystemPrompt
	return payload, p.baseURL + "/api/generate"
}

func (p *Provider) post(ctx context.Context, url string, payload chatPayload) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.NewInternalError(ProviderName, p.model, "marshal request: "+err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewInternalError(ProviderName, p.model, "build request: "+err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.NewTimeoutError(ProviderName, p.model, "request timed out")
		}
		return nil, errors.NewServiceUnavailableError(ProviderName, p.model, err.Error())
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.FromStatusCode(ProviderName, p.model, resp.StatusCode, string(msg))
	}
	return resp, nil
}

// Generate sends a completion request and returns the full text.
func (p *Provider) Generate(ctx context.Context, req *types.GenerateRequest) (string, error) {
	payload, url := p.buildPayload(req, false)

	resp, err := p.post(ctx, url, payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", errors.NewInternalError(ProviderName, p.model, "decode response: "+err.Error())
	}

	if len(payload.Messages) > 0 {
		return parsed.Message.Content, nil
	}
	return parsed.Response, nil
}

// GenerateStream sends a streaming request. Ollama streams NDJSON lines,
// each carrying a message delta and a done flag.
func (p *Provider) GenerateStream(ctx context.Context, req *types.GenerateRequest) (provider.StreamReader, error) {
	payload, url := p.buildPayload(req, true)
	useChat := len(payload.Messages) > 0

	resp, err := p.post(ctx, url, payload)
	if err != nil {
		return nil, err
	}

	return provider.NewLineStream(resp.Body, func(line []byte) (string, bool, bool) {
		var chunk struct {
			Message  chatMessage `json:"message"`
			Response string      `json:"response"`
			Done     bool        `json:"done"`
		}
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", false, false
		}
		text := chunk.Response
		if useChat {
			text = chunk.Message.Content
		}
		if text == "" && chunk.Done {
			return "", false, true
		}
		return text, text != "", false
	}), nil
}

// HealthCheck reports whether the Ollama server responds to /api/tags.
func (p *Provider) HealthCheck(ctx context.Context) bool {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
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
