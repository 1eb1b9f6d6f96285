package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/babblebuddy/agentcore/internal/embedding"
	"github.com/babblebuddy/agentcore/internal/observability"
	"github.com/babblebuddy/agentcore/internal/store"
)

const extractionPrompt = `You are an expert personal memory system running in production.
Your only goal is to extract structured, atomic, reusable memory tuples from the latest user message, using the full conversation history for disambiguation.

Rules (non-negotiable):
- Extract zero or more memory nodes. It is common and expected to extract 0 nodes.
- Never hallucinate facts not explicitly or strongly implied in the conversation.
- Every node must be directly grounded in something the user said or confirmed.
- Prefer narrow, specific predicates over vague ones.
- Negations are first-class (e.g., "does_not_like", "never", "allergic_to").
- Importance is 0.0-1.0. 1.0 = life-changing or safety-critical (allergies, core values, medical). Most things are ≤0.7.
- Confidence <1.0 only when genuinely ambiguous.

Output format: ALWAYS respond with valid JSON matching this schema (no extra text):
{
  "memories": [
    {
      "subject": "string (almost always 'user'; can be a named entity like 'Mom' if clear)",
      "predicate": "string (verb phrase in snake_case: loves, hates, allergic_to, works_at, has_goal)",
      "object": "string | bool | int | float | list[string] (keep atomic; use list only for clear enumerations)",
      "object_type": "string (food, person, place, topic, temperature, allergy, etc.)",
      "negation": "boolean (true if predicate is negated)",
      "importance": "float 0.0-1.0",
      "confidence": "float 0.0-1.0 (almost always 1.0 unless truly ambiguous)",
      "natural_language": "string (short, human-readable version of this fact)",
      "tags": ["optional", "short", "tags"]
    }
  ],
  "summary_if_episode_end": "string | null (only if closing a major topic, otherwise null)"
}

Examples:
User: "I absolutely hate olives, but pineapple on pizza is the best."
-> [{"subject":"user","predicate":"hates","object":"olives","object_type":"food","negation":false,"importance":0.65,"confidence":1.0,"natural_language":"User hates olives","tags":["food"]},{"subject":"user","predicate":"loves","object":"pineapple on pizza","object_type":"food","negation":false,"importance":0.75,"confidence":1.0,"natural_language":"User loves pineapple on pizza","tags":["food"]}]

User: "I'm deathly allergic to shellfish."
-> importance: 1.0, predicate: "allergic_to", object_type: "allergy"

Now extract from the conversation below. Only output JSON. No explanations.`

// ExtractedMemory is one memory tuple returned by the extraction model.
type ExtractedMemory struct {
	Subject         string   `json:"subject"`
	Predicate       string   `json:"predicate"`
	Object          any      `json:"object"`
	ObjectType      string   `json:"object_type"`
	Negation        bool     `json:"negation"`
	Importance      float64  `json:"importance"`
	Confidence      float64  `json:"confidence"`
	NaturalLanguage string   `json:"natural_language"`
	Tags            []string `json:"tags"`
	ExpiresAt       string   `json:"expires_at,omitempty"`
}

// ExtractionResult is the extraction model's full response.
type ExtractionResult struct {
	Memories            []ExtractedMemory `json:"memories"`
	SummaryIfEpisodeEnd string            `json:"summary_if_episode_end,omitempty"`
}

// BatchStats summarizes a batch extraction run.
type BatchStats struct {
	Total           int `json:"total"`
	Completed       int `json:"completed"`
	Skipped         int `json:"skipped"`
	Failed          int `json:"failed"`
	MemoriesCreated int `json:"memories_created"`
}

// CompletionClient produces a raw model completion for a prompt. The
// extraction pipeline asks it for JSON output.
type CompletionClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// OllamaCompletionClient calls Ollama's generate endpoint in JSON mode with
// a low temperature so extractions stay deterministic.
type OllamaCompletionClient struct {
	host       string
	model      string
	httpClient *http.Client
}

// NewOllamaCompletionClient creates a JSON-mode completion client.
func NewOllamaCompletionClient(host, model string) *OllamaCompletionClient {
	return &OllamaCompletionClient{
		host:  strings.TrimSuffix(host, "/"),
		model: model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Complete runs a non-streaming generation and returns the raw response
// text.
func (c *OllamaCompletionClient) Complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"model":  c.model,
		"prompt": prompt,
		"stream": false,
		"format": "json",
		"options": map[string]any{
			"temperature": 0.1,
			"num_predict": 2048,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal extraction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build extraction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("extraction request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("extraction request failed with status %d: %s", resp.StatusCode, msg)
	}

	var parsed struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode extraction response: %w", err)
	}
	return parsed.Response, nil
}

// Extractor runs the structured memory extraction pipeline over recorded
// conversation turns.
type Extractor struct {
	store     store.Store
	client    CompletionClient
	embedder  embedding.Embedder
	logger    *observability.Logger
	batchSize int
}

// NewExtractor creates an extractor. batchSize bounds ProcessBatch when the
// caller passes no explicit limit.
func NewExtractor(s store.Store, client CompletionClient, e embedding.Embedder, logger *observability.Logger, batchSize int) *Extractor {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Extractor{
		store:     s,
		client:    client,
		embedder:  e,
		logger:    logger,
		batchSize: batchSize,
	}
}

// ExtractFromTurn asks the model to extract memory tuples from a turn. A
// malformed model response yields an empty result rather than an error so
// one bad completion does not fail the turn.
func (e *Extractor) ExtractFromTurn(ctx context.Context, turn *store.ConversationTurn, history []store.ConversationTurn) (*ExtractionResult, error) {
	var lines []string
	for _, prev := range history {
		lines = append(lines, "User: "+prev.UserMessage)
		lines = append(lines, "Assistant: "+prev.AssistantMessage)
	}
	lines = append(lines, "User: "+turn.UserMessage)
	lines = append(lines, "Assistant: "+turn.AssistantMessage)

	prompt := extractionPrompt + "\n\n" + strings.Join(lines, "\n")

	raw, err := e.client.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	result := &ExtractionResult{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), result); err != nil {
		e.logger.Warn("failed to parse extraction response",
			"turn_id", turn.ID.String(),
			"error", err.Error(),
		)
		return &ExtractionResult{}, nil
	}
	return result, nil
}

// StoreMemories persists extracted tuples as structured memories. Embedding
// failures are logged and the memory stored without a vector so it still
// serves high-importance recall.
func (e *Extractor) StoreMemories(ctx context.Context, turn *store.ConversationTurn, result *ExtractionResult) ([]*store.StructuredMemory, error) {
	stored := make([]*store.StructuredMemory, 0, len(result.Memories))

	for _, mem := range result.Memories {
		vector, err := e.embedder.Embed(ctx, mem.NaturalLanguage)
		if err != nil {
			e.logger.Warn("failed to generate embedding for extracted memory",
				"turn_id", turn.ID.String(),
				"error", err.Error(),
			)
			vector = nil
		}

		var expiresAt *time.Time
		if mem.ExpiresAt != "" {
			if t, err := time.Parse(time.RFC3339, mem.ExpiresAt); err == nil {
				expiresAt = &t
			}
		}

		subject := mem.Subject
		if subject == "" {
			subject = "user"
		}
		confidence := mem.Confidence
		if confidence == 0 {
			confidence = 1.0
		}

		sm := &store.StructuredMemory{
			TokenID:          turn.TokenID,
			ApplicationGroup: turn.ApplicationGroup,
			Subject:          subject,
			Predicate:        mem.Predicate,
			Object:           store.ObjectValue{Value: mem.Object},
			ObjectType:       mem.ObjectType,
			Negation:         mem.Negation,
			Importance:       mem.Importance,
			Confidence:       confidence,
			NaturalLanguage:  mem.NaturalLanguage,
			Embedding:        vector,
			SourceTurnIDs:    []string{turn.ID.String()},
			Tags:             mem.Tags,
			ExpiresAt:        expiresAt,
		}
		if err := e.store.InsertStructuredMemory(ctx, sm); err != nil {
			return stored, fmt.Errorf("insert structured memory: %w", err)
		}
		stored = append(stored, sm)
	}

	return stored, nil
}

// ProcessTurn extracts and stores memories for one turn, advancing its
// extraction status. Turns yielding no memories are marked skipped.
func (e *Extractor) ProcessTurn(ctx context.Context, turn *store.ConversationTurn) ([]*store.StructuredMemory, error) {
	if err := e.store.UpdateTurnExtraction(ctx, turn.ID, store.ExtractionProcessing, ""); err != nil {
		return nil, fmt.Errorf("mark turn processing: %w", err)
	}

	result, err := e.ExtractFromTurn(ctx, turn, nil)
	if err != nil {
		_ = e.store.UpdateTurnExtraction(ctx, turn.ID, store.ExtractionFailed, err.Error())
		return nil, err
	}

	if len(result.Memories) == 0 {
		if err := e.store.UpdateTurnExtraction(ctx, turn.ID, store.ExtractionSkipped, ""); err != nil {
			return nil, fmt.Errorf("mark turn skipped: %w", err)
		}
		return nil, nil
	}

	memories, err := e.StoreMemories(ctx, turn, result)
	if err != nil {
		_ = e.store.UpdateTurnExtraction(ctx, turn.ID, store.ExtractionFailed, err.Error())
		return nil, err
	}

	if err := e.store.UpdateTurnExtraction(ctx, turn.ID, store.ExtractionCompleted, ""); err != nil {
		return memories, fmt.Errorf("mark turn completed: %w", err)
	}
	return memories, nil
}

// ProcessBatch processes pending turns oldest first, up to limit (or the
// configured batch size when limit is 0). Per-turn failures are counted,
// not fatal.
func (e *Extractor) ProcessBatch(ctx context.Context, limit int) (*BatchStats, error) {
	if limit <= 0 {
		limit = e.batchSize
	}

	turns, err := e.store.ListPendingTurns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending turns: %w", err)
	}

	stats := &BatchStats{Total: len(turns)}
	for _, turn := range turns {
		memories, err := e.ProcessTurn(ctx, turn)
		if err != nil {
			e.logger.Error("failed to process turn",
				"turn_id", turn.ID.String(),
				"error", err.Error(),
			)
			stats.Failed++
			continue
		}
		if len(memories) > 0 {
			stats.Completed++
			stats.MemoriesCreated += len(memories)
		} else {
			stats.Skipped++
		}
	}

	return stats, nil
}

// PendingCount returns how many turns still await extraction.
func (e *Extractor) PendingCount(ctx context.Context) (int, error) {
	return e.store.CountPendingTurns(ctx)
}
