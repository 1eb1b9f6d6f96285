package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Tokens(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	tok := &AppToken{TokenHash: "hash-1", Name: "demo", IsActive: true}
	require.NoError(t, s.CreateToken(ctx, tok))
	require.Equal(t, int64(1), tok.ID)

	t.Run("lookup by hash", func(t *testing.T) {
		got, err := s.GetTokenByHash(ctx, "hash-1")
		require.NoError(t, err)
		require.Equal(t, "demo", got.Name)

		_, err = s.GetTokenByHash(ctx, "unknown")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("touch records last use", func(t *testing.T) {
		require.NoError(t, s.TouchToken(ctx, tok.ID))
		got, err := s.GetTokenByHash(ctx, "hash-1")
		require.NoError(t, err)
		require.NotNil(t, got.LastUsedAt)

		require.ErrorIs(t, s.TouchToken(ctx, 999), ErrNotFound)
	})

	t.Run("deactivate", func(t *testing.T) {
		require.NoError(t, s.DeactivateToken(ctx, tok.ID))
		got, err := s.GetTokenByHash(ctx, "hash-1")
		require.NoError(t, err)
		require.False(t, got.IsActive)
	})

	t.Run("list", func(t *testing.T) {
		tokens, err := s.ListTokens(ctx)
		require.NoError(t, err)
		require.Len(t, tokens, 1)
	})
}

func TestMemoryStore_Agents(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	appID := uuid.New()

	a1 := &Agent{AppID: appID, Name: "lead", Provider: ProviderOllama, Model: "llama3.2", Role: RoleLeader, IsActive: true}
	require.NoError(t, s.CreateAgent(ctx, a1))
	require.NotEqual(t, uuid.Nil, a1.ID)

	a2 := &Agent{AppID: appID, Name: "off", Provider: ProviderOllama, Model: "llama3.2", IsActive: false}
	require.NoError(t, s.CreateAgent(ctx, a2))

	other := &Agent{AppID: uuid.New(), Name: "elsewhere", Provider: ProviderOllama, Model: "llama3.2", IsActive: true}
	require.NoError(t, s.CreateAgent(ctx, other))

	t.Run("list scopes by app and active flag", func(t *testing.T) {
		all, err := s.ListAgents(ctx, appID, false)
		require.NoError(t, err)
		require.Len(t, all, 2)

		active, err := s.ListAgents(ctx, appID, true)
		require.NoError(t, err)
		require.Len(t, active, 1)
		require.Equal(t, "lead", active[0].Name)
	})

	t.Run("update preserves creation time", func(t *testing.T) {
		created := a1.CreatedAt
		a1.Name = "renamed"
		require.NoError(t, s.UpdateAgent(ctx, a1))

		got, err := s.GetAgent(ctx, a1.ID)
		require.NoError(t, err)
		require.Equal(t, "renamed", got.Name)
		require.Equal(t, created, got.CreatedAt)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.DeleteAgent(ctx, a2.ID))
		_, err := s.GetAgent(ctx, a2.ID)
		require.ErrorIs(t, err, ErrNotFound)
		require.ErrorIs(t, s.DeleteAgent(ctx, a2.ID), ErrNotFound)
	})
}

func TestMemoryStore_SearchMemories(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	insert := func(tokenID int64, sessionID, content string, embedding []float32) {
		t.Helper()
		require.NoError(t, s.InsertMemory(ctx, &Memory{
			TokenID:   tokenID,
			SessionID: sessionID,
			Content:   content,
			Embedding: embedding,
			Type:      MemoryFact,
		}))
	}

	insert(1, "s1", "exact match", []float32{1, 0})
	insert(1, "s2", "close match", []float32{0.6, 0.8})
	insert(1, "s1", "orthogonal", []float32{0, 1})
	insert(2, "s1", "other tenant", []float32{1, 0})

	t.Run("orders by similarity and applies the threshold", func(t *testing.T) {
		got, err := s.SearchMemories(ctx, MemorySearch{
			TokenID:       1,
			Embedding:     []float32{1, 0},
			Limit:         10,
			MinSimilarity: 0.5,
		})
		require.NoError(t, err)
		require.Len(t, got, 2)
		require.Equal(t, "exact match", got[0].Content)
		require.Equal(t, "close match", got[1].Content)
		require.Greater(t, got[0].Similarity, got[1].Similarity)
	})

	t.Run("session filter", func(t *testing.T) {
		got, err := s.SearchMemories(ctx, MemorySearch{
			TokenID:       1,
			Embedding:     []float32{1, 0},
			Limit:         10,
			MinSimilarity: 0.5,
			SessionID:     "s2",
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, "close match", got[0].Content)
	})

	t.Run("limit", func(t *testing.T) {
		got, err := s.SearchMemories(ctx, MemorySearch{
			TokenID:   1,
			Embedding: []float32{1, 0},
			Limit:     1,
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
	})

	t.Run("delete scoped to session", func(t *testing.T) {
		deleted, err := s.DeleteMemories(ctx, 1, "s1")
		require.NoError(t, err)
		require.Equal(t, int64(2), deleted)

		deleted, err = s.DeleteMemories(ctx, 1, "")
		require.NoError(t, err)
		require.Equal(t, int64(1), deleted)

		// The other tenant's memories are untouched.
		got, err := s.SearchMemories(ctx, MemorySearch{TokenID: 2, Embedding: []float32{1, 0}})
		require.NoError(t, err)
		require.Len(t, got, 1)
	})
}

func TestMemoryStore_StructuredMemories(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)

	insert := func(m *StructuredMemory) *StructuredMemory {
		t.Helper()
		require.NoError(t, s.InsertStructuredMemory(ctx, m))
		return m
	}

	insert(&StructuredMemory{
		TokenID: 1, Predicate: "loves", NaturalLanguage: "User loves pizza",
		Embedding: []float32{1, 0}, Importance: 0.6, ApplicationGroup: "food-app",
	})
	insert(&StructuredMemory{
		TokenID: 1, Predicate: "allergic_to", NaturalLanguage: "User is allergic to shellfish",
		Embedding: []float32{0.6, 0.8}, Importance: 1.0,
	})
	insert(&StructuredMemory{
		TokenID: 1, Predicate: "works_at", NaturalLanguage: "User used to work at Initech",
		Embedding: []float32{1, 0}, Importance: 0.9, ExpiresAt: &past,
	})
	insert(&StructuredMemory{
		TokenID: 1, Predicate: "has_goal", NaturalLanguage: "User wants to run a marathon",
		Embedding: []float32{1, 0}, Importance: 0.9, ExpiresAt: &future,
	})
	insert(&StructuredMemory{
		TokenID: 1, Predicate: "no_vector", NaturalLanguage: "unembedded", Importance: 0.95,
	})

	t.Run("search skips expired and unembedded memories", func(t *testing.T) {
		got, err := s.SearchStructuredMemories(ctx, StructuredSearch{
			TokenID:       1,
			Embedding:     []float32{1, 0},
			Limit:         10,
			MinSimilarity: 0.5,
		})
		require.NoError(t, err)
		require.Len(t, got, 3)
		for _, m := range got {
			require.NotEqual(t, "works_at", m.Predicate)
			require.NotEqual(t, "no_vector", m.Predicate)
		}
	})

	t.Run("predicate and application group filters", func(t *testing.T) {
		got, err := s.SearchStructuredMemories(ctx, StructuredSearch{
			TokenID:   1,
			Embedding: []float32{1, 0},
			Limit:     10,
			Predicate: "loves",
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, "User loves pizza", got[0].NaturalLanguage)

		got, err = s.SearchStructuredMemories(ctx, StructuredSearch{
			TokenID:          1,
			Embedding:        []float32{1, 0},
			Limit:            10,
			ApplicationGroup: "food-app",
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
	})

	t.Run("high importance listing", func(t *testing.T) {
		got, err := s.ListHighImportance(ctx, 1, 0.8, "")
		require.NoError(t, err)
		// Expired memories are excluded even when important.
		require.Len(t, got, 3)
		require.Equal(t, "allergic_to", got[0].Predicate)
		for i := 1; i < len(got); i++ {
			require.LessOrEqual(t, got[i].Importance, got[i-1].Importance)
		}
	})
}

func TestMemoryStore_Turns(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	turn := &ConversationTurn{
		TokenID:          1,
		SessionID:        "s1",
		UserMessage:      "I hate olives",
		AssistantMessage: "Noted!",
	}
	require.NoError(t, s.InsertTurn(ctx, turn))
	require.NotEqual(t, uuid.Nil, turn.ID)
	require.Equal(t, ExtractionPending, turn.Status)

	second := &ConversationTurn{TokenID: 1, SessionID: "s1", UserMessage: "hi", AssistantMessage: "hello"}
	second.CreatedAt = turn.CreatedAt.Add(time.Second)
	require.NoError(t, s.InsertTurn(ctx, second))

	t.Run("pending listing is oldest first", func(t *testing.T) {
		pending, err := s.ListPendingTurns(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		require.Equal(t, turn.ID, pending[0].ID)

		count, err := s.CountPendingTurns(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, count)
	})

	t.Run("terminal states record extraction time", func(t *testing.T) {
		require.NoError(t, s.UpdateTurnExtraction(ctx, turn.ID, ExtractionProcessing, ""))
		got, err := s.GetTurn(ctx, turn.ID)
		require.NoError(t, err)
		require.Equal(t, ExtractionProcessing, got.Status)
		require.Nil(t, got.ExtractedAt)

		require.NoError(t, s.UpdateTurnExtraction(ctx, turn.ID, ExtractionFailed, "model unavailable"))
		got, err = s.GetTurn(ctx, turn.ID)
		require.NoError(t, err)
		require.Equal(t, ExtractionFailed, got.Status)
		require.Equal(t, "model unavailable", got.ExtractionError)
		require.NotNil(t, got.ExtractedAt)
	})

	t.Run("processed turns leave the pending queue", func(t *testing.T) {
		count, err := s.CountPendingTurns(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, count)
	})

	t.Run("unknown turn", func(t *testing.T) {
		_, err := s.GetTurn(ctx, uuid.New())
		require.ErrorIs(t, err, ErrNotFound)
		require.ErrorIs(t, s.UpdateTurnExtraction(ctx, uuid.New(), ExtractionCompleted, ""), ErrNotFound)
	})
}

func TestStructuredMemory_Expired(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	require.False(t, (&StructuredMemory{}).Expired(now))
	require.True(t, (&StructuredMemory{ExpiresAt: &past}).Expired(now))
	require.False(t, (&StructuredMemory{ExpiresAt: &future}).Expired(now))
}
