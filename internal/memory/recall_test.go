package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/babblebuddy/agentcore/internal/store"
)

// fakeEmbedder maps known texts to fixed vectors.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0}, nil
}

func newTestEngine(t *testing.T, embedder *fakeEmbedder) (*RecallEngine, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	engine := NewRecallEngine(st, embedder, EngineConfig{
		RecallLimit:      5,
		MinSimilarity:    0.5,
		AlwaysInjectHigh: true,
	})
	return engine, st
}

func TestRecallEngine_StoreAndRecall(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"user likes pizza": {1, 0},
		"user hates rain":  {0, 1},
		"what food?":       {1, 0},
	}}
	engine, _ := newTestEngine(t, embedder)
	ctx := context.Background()

	mem, err := engine.Store(ctx, 1, "s1", "user likes pizza", store.MemoryFact)
	require.NoError(t, err)
	require.NotZero(t, mem.ID)

	_, err = engine.Store(ctx, 1, "s1", "user hates rain", store.MemoryPreference)
	require.NoError(t, err)

	got, err := engine.Recall(ctx, 1, "what food?", RecallOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "user likes pizza", got[0].Content)
}

func TestRecallEngine_EmbedFailure(t *testing.T) {
	embedder := &fakeEmbedder{err: fmt.Errorf("ollama down")}
	engine, _ := newTestEngine(t, embedder)

	_, err := engine.Store(context.Background(), 1, "", "content", store.MemoryFact)
	require.ErrorContains(t, err, "embed memory content")

	_, err = engine.Recall(context.Background(), 1, "query", RecallOptions{})
	require.ErrorContains(t, err, "embed recall query")
}

func TestRecallEngine_RecallCombined(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"query": {1, 0},
	}}
	engine, st := newTestEngine(t, embedder)
	ctx := context.Background()

	require.NoError(t, st.InsertMemory(ctx, &store.Memory{
		TokenID: 1, Content: "plain memory", Embedding: []float32{1, 0}, Type: store.MemoryFact,
	}))

	// High importance and semantically similar: must appear only in the
	// high-importance section.
	critical := &store.StructuredMemory{
		TokenID: 1, NaturalLanguage: "User is allergic to shellfish",
		Embedding: []float32{1, 0}, Importance: 1.0,
	}
	require.NoError(t, st.InsertStructuredMemory(ctx, critical))

	require.NoError(t, st.InsertStructuredMemory(ctx, &store.StructuredMemory{
		TokenID: 1, NaturalLanguage: "User loves pizza",
		Embedding: []float32{1, 0}, Importance: 0.6,
	}))

	combined, err := engine.RecallCombined(ctx, 1, "query", RecallOptions{})
	require.NoError(t, err)

	require.Len(t, combined.HighImportance, 1)
	require.Equal(t, critical.ID, combined.HighImportance[0].ID)

	require.Len(t, combined.Basic, 1)
	require.Equal(t, "plain memory", combined.Basic[0].Content)

	require.Len(t, combined.Structured, 1, "high-importance memories are deduplicated out")
	require.Equal(t, "User loves pizza", combined.Structured[0].NaturalLanguage)

	// The query is embedded exactly once for both searches.
	require.Equal(t, 1, embedder.calls)
}

func TestRecallEngine_Clear(t *testing.T) {
	embedder := &fakeEmbedder{}
	engine, _ := newTestEngine(t, embedder)
	ctx := context.Background()

	_, err := engine.Store(ctx, 1, "s1", "a", store.MemoryFact)
	require.NoError(t, err)
	_, err = engine.Store(ctx, 1, "s2", "b", store.MemoryFact)
	require.NoError(t, err)

	deleted, err := engine.Clear(ctx, 1, "s1")
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	deleted, err = engine.Clear(ctx, 1, "")
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)
}

func TestFormatMemoriesForPrompt(t *testing.T) {
	require.Empty(t, FormatMemoriesForPrompt(nil))

	got := FormatMemoriesForPrompt([]*store.Memory{
		{Content: "likes pizza", Type: store.MemoryFact},
		{Content: "prefers dark mode", Type: store.MemoryPreference},
	})
	require.Equal(t,
		"[Relevant context from previous conversations:]\n- (fact) likes pizza\n- (preference) prefers dark mode",
		got)
}

func TestFormatStructuredForPrompt(t *testing.T) {
	require.Empty(t, FormatStructuredForPrompt(nil))

	got := FormatStructuredForPrompt([]*store.StructuredMemory{
		{NaturalLanguage: "User hates olives"},
		{NaturalLanguage: "User works at Initech"},
	})
	require.Equal(t, "- User hates olives\n- User works at Initech", got)
}

func TestFormatCombinedForPrompt(t *testing.T) {
	t.Run("nil and empty", func(t *testing.T) {
		require.Empty(t, FormatCombinedForPrompt(nil))
		require.Empty(t, FormatCombinedForPrompt(&CombinedRecall{}))
	})

	t.Run("both sections", func(t *testing.T) {
		got := FormatCombinedForPrompt(&CombinedRecall{
			HighImportance: []*store.StructuredMemory{{NaturalLanguage: "User is allergic to shellfish"}},
			Basic:          []*store.Memory{{Content: "likes pizza"}},
			Structured:     []*store.StructuredMemory{{NaturalLanguage: "User works at Initech"}},
		})
		require.Equal(t,
			"[Critical information about the user:]\n- User is allergic to shellfish\n\n"+
				"[Relevant context from previous conversations:]\n- likes pizza\n- User works at Initech",
			got)
	})

	t.Run("context only", func(t *testing.T) {
		got := FormatCombinedForPrompt(&CombinedRecall{
			Basic: []*store.Memory{{Content: "likes pizza"}},
		})
		require.Equal(t, "[Relevant context from previous conversations:]\n- likes pizza", got)
	})
}

func TestAugmentSystemPrompt(t *testing.T) {
	require.Equal(t, "base", AugmentSystemPrompt("base", ""))
	require.Equal(t, "memory\n\nbase", AugmentSystemPrompt("base", "memory"))
}
