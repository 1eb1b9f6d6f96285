// Package store defines the domain model and persistence interface for
// tenants, agents, memories, and conversation turns.
package store

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// ProviderType identifies an upstream LLM provider.
type ProviderType string

// Supported provider types.
const (
	ProviderOllama    ProviderType = "ollama"
	ProviderAnthropic ProviderType = "anthropic"
	ProviderOpenAI    ProviderType = "openai"
	ProviderGemini    ProviderType = "gemini"
)

// Valid reports whether t names a supported provider.
func (t ProviderType) Valid() bool {
	switch t {
	case ProviderOllama, ProviderAnthropic, ProviderOpenAI, ProviderGemini:
		return true
	}
	return false
}

// RequiresAPIKey reports whether agents on this provider need a credential.
// Local Ollama is the only keyless provider.
func (t ProviderType) RequiresAPIKey() bool {
	return t != ProviderOllama
}

// AgentRole is the functional role an agent plays in multi-agent strategies.
type AgentRole string

// Well-known roles. CHAIN orders these ahead of any custom roles.
const (
	RoleResearcher AgentRole = "researcher"
	RoleCoder      AgentRole = "coder"
	RoleReviewer   AgentRole = "reviewer"
	RoleLeader     AgentRole = "leader"
)

// Agent is a configured LLM binding owned by an application.
type Agent struct {
	ID              uuid.UUID    `json:"id"`
	AppID           uuid.UUID    `json:"app_id"`
	Name            string       `json:"name"`
	Provider        ProviderType `json:"provider_type"`
	APIKeyEncrypted string       `json:"-"`
	Model           string       `json:"model"`
	Role            AgentRole    `json:"role"`
	SystemPrompt    string       `json:"system_prompt"`
	MaxTokens       int          `json:"max_tokens"`
	Temperature     float64      `json:"temperature"`
	IsActive        bool         `json:"is_active"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// MemoryType classifies a plain memory.
type MemoryType string

// Plain memory types.
const (
	MemoryFact       MemoryType = "fact"
	MemoryPreference MemoryType = "preference"
	MemorySummary    MemoryType = "summary"
)

// Memory is a plain vector-indexed memory scoped to an app token.
type Memory struct {
	ID        int64      `json:"id"`
	TokenID   int64      `json:"token_id"`
	SessionID string     `json:"session_id,omitempty"`
	Content   string     `json:"content"`
	Embedding []float32  `json:"-"`
	Type      MemoryType `json:"memory_type"`
	CreatedAt time.Time  `json:"created_at"`

	// Similarity is populated by vector search results.
	Similarity float64 `json:"similarity,omitempty"`
}

// ObjectValue wraps an arbitrary predicate object so heterogeneous values
// serialize uniformly as {"value": ...}.
type ObjectValue struct {
	Value any
}

// MarshalJSON implements json.Marshaler.
func (o ObjectValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{"value": o.Value})
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *ObjectValue) UnmarshalJSON(data []byte) error {
	var wrapper struct {
		Value any `json:"value"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return err
	}
	o.Value = wrapper.Value
	return nil
}

// StructuredMemory is a subject-predicate-object fact with importance,
// confidence, and optional expiry.
type StructuredMemory struct {
	ID               uuid.UUID   `json:"id"`
	TokenID          int64       `json:"token_id"`
	ApplicationGroup string      `json:"application_group,omitempty"`
	Subject          string      `json:"subject"`
	Predicate        string      `json:"predicate"`
	Object           ObjectValue `json:"object_value"`
	ObjectType       string      `json:"object_type"`
	Negation         bool        `json:"negation"`
	Importance       float64     `json:"importance"`
	Confidence       float64     `json:"confidence"`
	NaturalLanguage  string      `json:"natural_language"`
	Embedding        []float32   `json:"-"`
	SourceTurnIDs    []string    `json:"source_turn_ids,omitempty"`
	Tags             []string    `json:"tags,omitempty"`
	ExpiresAt        *time.Time  `json:"expires_at,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`

	// Similarity is populated by vector search results.
	Similarity float64 `json:"similarity,omitempty"`
}

// Expired reports whether the memory is past its expiry at the given time.
func (m *StructuredMemory) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !m.ExpiresAt.After(now)
}

// ExtractionStatus tracks a turn through the extraction pipeline.
type ExtractionStatus string

// Extraction pipeline states.
const (
	ExtractionPending    ExtractionStatus = "pending"
	ExtractionProcessing ExtractionStatus = "processing"
	ExtractionCompleted  ExtractionStatus = "completed"
	ExtractionSkipped    ExtractionStatus = "skipped"
	ExtractionFailed     ExtractionStatus = "failed"
)

// ConversationTurn is one user/assistant exchange recorded for later
// memory extraction.
type ConversationTurn struct {
	ID               uuid.UUID        `json:"id"`
	TokenID          int64            `json:"token_id"`
	SessionID        string           `json:"session_id"`
	ApplicationGroup string           `json:"application_group,omitempty"`
	UserMessage      string           `json:"user_message"`
	AssistantMessage string           `json:"assistant_message"`
	Context          map[string]any   `json:"context,omitempty"`
	Status           ExtractionStatus `json:"extraction_status"`
	ExtractedAt      *time.Time       `json:"extracted_at,omitempty"`
	ExtractionError  string           `json:"extraction_error,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// AppToken is a tenant credential. Only the sha256 hash is persisted.
type AppToken struct {
	ID          int64      `json:"id"`
	TokenHash   string     `json:"-"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}
