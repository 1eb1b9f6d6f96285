package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/viterin/vek/vek32"
)

// MemoryStore is an in-memory Store implementation for development and
// tests. Vector search is brute-force cosine similarity.
type MemoryStore struct {
	mu sync.RWMutex

	tokens       map[int64]*AppToken
	tokensByHash map[string]int64
	nextTokenID  int64

	agents map[uuid.UUID]*Agent

	memories     map[int64]*Memory
	nextMemoryID int64

	structured map[uuid.UUID]*StructuredMemory

	turns map[uuid.UUID]*ConversationTurn
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens:       make(map[int64]*AppToken),
		tokensByHash: make(map[string]int64),
		nextTokenID:  1,
		agents:       make(map[uuid.UUID]*Agent),
		memories:     make(map[int64]*Memory),
		nextMemoryID: 1,
		structured:   make(map[uuid.UUID]*StructuredMemory),
		turns:        make(map[uuid.UUID]*ConversationTurn),
	}
}

// cosineSimilarity returns 0 for mismatched or empty vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	return float64(vek32.CosineSimilarity(a, b))
}

// --- App tokens ---

// CreateToken stores the token and assigns its ID.
func (s *MemoryStore) CreateToken(ctx context.Context, token *AppToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token.ID = s.nextTokenID
	s.nextTokenID++
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	cp := *token
	s.tokens[token.ID] = &cp
	s.tokensByHash[token.TokenHash] = token.ID
	return nil
}

// GetTokenByHash looks up a token by its sha256 hash.
func (s *MemoryStore) GetTokenByHash(ctx context.Context, hash string) (*AppToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.tokensByHash[hash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.tokens[id]
	return &cp, nil
}

// ListTokens returns all tokens, newest first.
func (s *MemoryStore) ListTokens(ctx context.Context) ([]*AppToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*AppToken, 0, len(s.tokens))
	for _, t := range s.tokens {
		cp := *t
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

// TouchToken records a use of the token.
func (s *MemoryStore) TouchToken(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	t.LastUsedAt = &now
	return nil
}

// DeactivateToken disables the token.
func (s *MemoryStore) DeactivateToken(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok {
		return ErrNotFound
	}
	t.IsActive = false
	return nil
}

// --- Agents ---

// CreateAgent stores the agent, assigning an ID when absent.
func (s *MemoryStore) CreateAgent(ctx context.Context, agent *Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if agent.ID == uuid.Nil {
		agent.ID = uuid.New()
	}
	now := time.Now().UTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now
	cp := *agent
	s.agents[agent.ID] = &cp
	return nil
}

// GetAgent returns the agent with the given ID.
func (s *MemoryStore) GetAgent(ctx context.Context, id uuid.UUID) (*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// ListAgents returns an app's agents ordered by creation time.
func (s *MemoryStore) ListAgents(ctx context.Context, appID uuid.UUID, activeOnly bool) ([]*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Agent
	for _, a := range s.agents {
		if a.AppID != appID {
			continue
		}
		if activeOnly && !a.IsActive {
			continue
		}
		cp := *a
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// UpdateAgent replaces a stored agent.
func (s *MemoryStore) UpdateAgent(ctx context.Context, agent *Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.agents[agent.ID]
	if !ok {
		return ErrNotFound
	}
	agent.CreatedAt = existing.CreatedAt
	agent.UpdatedAt = time.Now().UTC()
	cp := *agent
	s.agents[agent.ID] = &cp
	return nil
}

// DeleteAgent removes an agent.
func (s *MemoryStore) DeleteAgent(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[id]; !ok {
		return ErrNotFound
	}
	delete(s.agents, id)
	return nil
}

// --- Plain memories ---

// InsertMemory stores a plain memory and assigns its ID.
func (s *MemoryStore) InsertMemory(ctx context.Context, mem *Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mem.ID = s.nextMemoryID
	s.nextMemoryID++
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = time.Now().UTC()
	}
	cp := *mem
	cp.Embedding = append([]float32(nil), mem.Embedding...)
	s.memories[mem.ID] = &cp
	return nil
}

// SearchMemories runs brute-force cosine search over the token's memories.
func (s *MemoryStore) SearchMemories(ctx context.Context, q MemorySearch) ([]*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Memory
	for _, m := range s.memories {
		if m.TokenID != q.TokenID {
			continue
		}
		if q.SessionID != "" && m.SessionID != q.SessionID {
			continue
		}
		sim := cosineSimilarity(q.Embedding, m.Embedding)
		if sim < q.MinSimilarity {
			continue
		}
		cp := *m
		cp.Similarity = sim
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Similarity > result[j].Similarity })
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

// DeleteMemories removes a token's plain memories, optionally scoped to a
// session, and returns the number removed.
func (s *MemoryStore) DeleteMemories(ctx context.Context, tokenID int64, sessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for id, m := range s.memories {
		if m.TokenID != tokenID {
			continue
		}
		if sessionID != "" && m.SessionID != sessionID {
			continue
		}
		delete(s.memories, id)
		count++
	}
	return count, nil
}

// --- Structured memories ---

// InsertStructuredMemory stores a structured memory, assigning an ID when absent.
func (s *MemoryStore) InsertStructuredMemory(ctx context.Context, mem *StructuredMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mem.ID == uuid.Nil {
		mem.ID = uuid.New()
	}
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = time.Now().UTC()
	}
	cp := *mem
	cp.Embedding = append([]float32(nil), mem.Embedding...)
	cp.SourceTurnIDs = append([]string(nil), mem.SourceTurnIDs...)
	cp.Tags = append([]string(nil), mem.Tags...)
	s.structured[mem.ID] = &cp
	return nil
}

// SearchStructuredMemories runs cosine search over embedded, non-expired
// structured memories.
func (s *MemoryStore) SearchStructuredMemories(ctx context.Context, q StructuredSearch) ([]*StructuredMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	var result []*StructuredMemory
	for _, m := range s.structured {
		if m.TokenID != q.TokenID || len(m.Embedding) == 0 || m.Expired(now) {
			continue
		}
		if q.ApplicationGroup != "" && m.ApplicationGroup != q.ApplicationGroup {
			continue
		}
		if q.Predicate != "" && m.Predicate != q.Predicate {
			continue
		}
		sim := cosineSimilarity(q.Embedding, m.Embedding)
		if sim < q.MinSimilarity {
			continue
		}
		cp := *m
		cp.Similarity = sim
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Similarity > result[j].Similarity })
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

// ListHighImportance returns non-expired structured memories at or above
// the importance threshold, most important first. No limit applies.
func (s *MemoryStore) ListHighImportance(ctx context.Context, tokenID int64, threshold float64, applicationGroup string) ([]*StructuredMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	var result []*StructuredMemory
	for _, m := range s.structured {
		if m.TokenID != tokenID || m.Importance < threshold || m.Expired(now) {
			continue
		}
		if applicationGroup != "" && m.ApplicationGroup != applicationGroup {
			continue
		}
		cp := *m
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Importance > result[j].Importance })
	return result, nil
}

// --- Conversation turns ---

// InsertTurn stores a turn, assigning an ID when absent.
func (s *MemoryStore) InsertTurn(ctx context.Context, turn *ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if turn.ID == uuid.Nil {
		turn.ID = uuid.New()
	}
	if turn.Status == "" {
		turn.Status = ExtractionPending
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	cp := *turn
	s.turns[turn.ID] = &cp
	return nil
}

// GetTurn returns the turn with the given ID.
func (s *MemoryStore) GetTurn(ctx context.Context, id uuid.UUID) (*ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.turns[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// ListPendingTurns returns up to limit pending turns, oldest first.
func (s *MemoryStore) ListPendingTurns(ctx context.Context, limit int) ([]*ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*ConversationTurn
	for _, t := range s.turns {
		if t.Status != ExtractionPending {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// CountPendingTurns returns the number of turns awaiting extraction.
func (s *MemoryStore) CountPendingTurns(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, t := range s.turns {
		if t.Status == ExtractionPending {
			count++
		}
	}
	return count, nil
}

// UpdateTurnExtraction advances a turn's extraction state. Terminal states
// record the extraction time.
func (s *MemoryStore) UpdateTurnExtraction(ctx context.Context, id uuid.UUID, status ExtractionStatus, extractionError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.turns[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	t.ExtractionError = extractionError
	switch status {
	case ExtractionCompleted, ExtractionSkipped, ExtractionFailed:
		now := time.Now().UTC()
		t.ExtractedAt = &now
	}
	return nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
