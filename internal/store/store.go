package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// MemorySearch parameterizes a vector search over plain memories.
type MemorySearch struct {
	TokenID       int64
	Embedding     []float32
	Limit         int
	MinSimilarity float64
	SessionID     string // optional
}

// StructuredSearch parameterizes a vector search over structured memories.
// Only non-expired memories with embeddings participate.
type StructuredSearch struct {
	TokenID          int64
	Embedding        []float32
	Limit            int
	MinSimilarity    float64
	ApplicationGroup string // optional
	Predicate        string // optional
}

// Store is the persistence interface covering tenants, agents, memories,
// and conversation turns. Implementations must be safe for concurrent use.
type Store interface {
	// App tokens
	CreateToken(ctx context.Context, token *AppToken) error
	GetTokenByHash(ctx context.Context, hash string) (*AppToken, error)
	ListTokens(ctx context.Context) ([]*AppToken, error)
	TouchToken(ctx context.Context, id int64) error
	DeactivateToken(ctx context.Context, id int64) error

	// Agents
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id uuid.UUID) (*Agent, error)
	ListAgents(ctx context.Context, appID uuid.UUID, activeOnly bool) ([]*Agent, error)
	UpdateAgent(ctx context.Context, agent *Agent) error
	DeleteAgent(ctx context.Context, id uuid.UUID) error

	// Plain memories
	InsertMemory(ctx context.Context, mem *Memory) error
	SearchMemories(ctx context.Context, q MemorySearch) ([]*Memory, error)
	DeleteMemories(ctx context.Context, tokenID int64, sessionID string) (int64, error)

	// Structured memories
	InsertStructuredMemory(ctx context.Context, mem *StructuredMemory) error
	SearchStructuredMemories(ctx context.Context, q StructuredSearch) ([]*StructuredMemory, error)
	ListHighImportance(ctx context.Context, tokenID int64, threshold float64, applicationGroup string) ([]*StructuredMemory, error)

	// Conversation turns
	InsertTurn(ctx context.Context, turn *ConversationTurn) error
	GetTurn(ctx context.Context, id uuid.UUID) (*ConversationTurn, error)
	ListPendingTurns(ctx context.Context, limit int) ([]*ConversationTurn, error)
	CountPendingTurns(ctx context.Context) (int, error)
	UpdateTurnExtraction(ctx context.Context, id uuid.UUID, status ExtractionStatus, extractionError string) error

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}
