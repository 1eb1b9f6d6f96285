// Package gemini implements the provider adapter for the Google Gemini
// generateContent API.
package gemini

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
	ProviderName   = "gemini"
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"
	DefaultModel   = "gemini-1.5-flash"
)

// Provider talks to the Gemini generateContent API. The API key travels as
// a query parameter.
type Provider struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

// NewFromConfig creates a Gemini provider from configuration.
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

func (p *Provider) url(stream bool) string {
	action := "generateContent"
	if stream {
		action = "streamGenerateContent"
	}
	u := p.baseURL + "/" + p.model + ":" + action + "?key=" + p.apiKey
	if stream {
		u += "&alt=sse"
	}
	return u
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generatePayload struct {
	Contents          []content `json:"contents"`
	SystemInstruction *content  `json:"systemInstruction,omitempty"`
	GenerationConfig  struct {
		MaxOutputTokens int     `json:"maxOutputTokens"`
		Temperature     float64 `json:"temperature"`
	} `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// buildPayload maps history onto Gemini contents. Gemini uses "user" and
// "model" roles; the system prompt travels as systemInstruction.
func (p *Provider) buildPayload(req *types.GenerateRequest) generatePayload {
	var payload generatePayload

	if req.SystemPrompt != "" {
		payload.SystemInstruction = &content{Parts: []part{{Text: req.SystemPrompt}}}
	}

	contents := make([]content, 0, len(req.History)+1)
	for _, m := range req.History {
		role := m.Role
		switch role {
		case types.RoleAssistant:
			role = "model"
		case types.RoleSystem:
			continue
		}
		contents = append(contents, content{Role: role, Parts: []part{{Text: m.Content}}})
	}
	contents = append(contents, content{Role: types.RoleUser, Parts: []part{{Text: req.Prompt}}})

	payload.Contents = contents
	payload.GenerationConfig.MaxOutputTokens = p.maxTokens
	payload.GenerationConfig.Temperature = p.temperature
	return payload
}

func (p *Provider) post(ctx context.Context, url string, payload generatePayload) (*http.Response, error) {
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
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var envelope errorEnvelope
		msg := string(raw)
		if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
			msg = envelope.Error.Message
		}
		return nil, errors.FromStatusCode(ProviderName, p.model, resp.StatusCode, msg)
	}
	return resp, nil
}

func firstCandidateText(parsed generateResponse) string {
	if len(parsed.Candidates) == 0 {
		return ""
	}
	parts := parsed.Candidates[0].Content.Parts
	if len(parts) == 0 {
		return ""
	}
	return parts[0].Text
}

// Generate sends a completion request and returns the full text.
func (p *Provider) Generate(ctx context.Context, req *types.GenerateRequest) (string, error) {
	resp, err := p.post(ctx, p.url(false), p.buildPayload(req))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", errors.NewInternalError(ProviderName, p.model, "decode response: "+err.Error())
	}
	return firstCandidateText(parsed), nil
}

// GenerateStream sends a streaming request using the SSE variant of
// streamGenerateContent.
func (p *Provider) GenerateStream(ctx context.Context, req *types.GenerateRequest) (provider.StreamReader, error) {
	resp, err := p.post(ctx, p.url(true), p.buildPayload(req))
	if err != nil {
		return nil, err
	}

	return provider.NewLineStream(resp.Body, func(line []byte) (string, bool, bool) {
		data, ok := bytes.CutPrefix(line, []byte("data: "))
		if !ok {
			return "", false, false
		}
		var parsed generateResponse
		if err := json.Unmarshal(data, &parsed); err != nil {
			return "", false, false
		}
		text := firstCandidateText(parsed)
		return text, text != "", false
	}), nil
}

// HealthCheck reports whether the models list endpoint responds.
func (p *Provider) HealthCheck(ctx context.Context) bool {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?key="+p.apiKey, nil)
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
