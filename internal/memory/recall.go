// Package memory implements semantic memory recall and structured memory
// extraction over the persistence layer.
package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/babblebuddy/agentcore/internal/embedding"
	"github.com/babblebuddy/agentcore/internal/store"
)

// RecallOptions tune a recall query. Zero values fall back to the engine
// defaults.
type RecallOptions struct {
	Limit            int
	MinSimilarity    float64
	SessionID        string
	ApplicationGroup string
	Predicate        string
}

// CombinedRecall groups the three memory categories returned by
// RecallCombined.
type CombinedRecall struct {
	HighImportance []*store.StructuredMemory `json:"high_importance"`
	Basic          []*store.Memory           `json:"basic"`
	Structured     []*store.StructuredMemory `json:"structured"`
}

// RecallEngine stores and recalls memories using embedding similarity.
type RecallEngine struct {
	store    store.Store
	embedder embedding.Embedder

	defaultLimit            int
	defaultMinSimilarity    float64
	highImportanceThreshold float64
	alwaysInjectHigh        bool
}

// EngineConfig configures a RecallEngine.
type EngineConfig struct {
	RecallLimit             int
	MinSimilarity           float64
	HighImportanceThreshold float64
	AlwaysInjectHigh        bool
}

// NewRecallEngine creates a recall engine over the given store and embedder.
func NewRecallEngine(s store.Store, e embedding.Embedder, cfg EngineConfig) *RecallEngine {
	if cfg.RecallLimit <= 0 {
		cfg.RecallLimit = 5
	}
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = 0.5
	}
	if cfg.HighImportanceThreshold <= 0 {
		cfg.HighImportanceThreshold = 0.8
	}
	return &RecallEngine{
		store:                   s,
		embedder:                e,
		defaultLimit:            cfg.RecallLimit,
		defaultMinSimilarity:    cfg.MinSimilarity,
		highImportanceThreshold: cfg.HighImportanceThreshold,
		alwaysInjectHigh:        cfg.AlwaysInjectHigh,
	}
}

// Store embeds content and persists it as a plain memory.
func (r *RecallEngine) Store(ctx context.Context, tokenID int64, sessionID, content string, memType store.MemoryType) (*store.Memory, error) {
	vector, err := r.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embed memory content: %w", err)
	}

	mem := &store.Memory{
		TokenID:   tokenID,
		SessionID: sessionID,
		Content:   content,
		Embedding: vector,
		Type:      memType,
	}
	if err := r.store.InsertMemory(ctx, mem); err != nil {
		return nil, fmt.Errorf("insert memory: %w", err)
	}
	return mem, nil
}

// Recall returns plain memories semantically similar to query, most similar
// first.
func (r *RecallEngine) Recall(ctx context.Context, tokenID int64, query string, opts RecallOptions) ([]*store.Memory, error) {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed recall query: %w", err)
	}
	return r.recallWithEmbedding(ctx, tokenID, vector, opts)
}

func (r *RecallEngine) recallWithEmbedding(ctx context.Context, tokenID int64, vector []float32, opts RecallOptions) ([]*store.Memory, error) {
	return r.store.SearchMemories(ctx, store.MemorySearch{
		TokenID:       tokenID,
		Embedding:     vector,
		Limit:         r.limit(opts),
		MinSimilarity: r.minSimilarity(opts),
		SessionID:     opts.SessionID,
	})
}

// RecallHighImportance returns non-expired structured memories at or above
// the importance threshold, highest importance first.
func (r *RecallEngine) RecallHighImportance(ctx context.Context, tokenID int64, applicationGroup string) ([]*store.StructuredMemory, error) {
	return r.store.ListHighImportance(ctx, tokenID, r.highImportanceThreshold, applicationGroup)
}

// RecallStructured returns structured memories semantically similar to
// query on their natural-language form.
func (r *RecallEngine) RecallStructured(ctx context.Context, tokenID int64, query string, opts RecallOptions) ([]*store.StructuredMemory, error) {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed recall query: %w", err)
	}
	return r.recallStructuredWithEmbedding(ctx, tokenID, vector, opts)
}

func (r *RecallEngine) recallStructuredWithEmbedding(ctx context.Context, tokenID int64, vector []float32, opts RecallOptions) ([]*store.StructuredMemory, error) {
	return r.store.SearchStructuredMemories(ctx, store.StructuredSearch{
		TokenID:          tokenID,
		Embedding:        vector,
		Limit:            r.limit(opts),
		MinSimilarity:    r.minSimilarity(opts),
		ApplicationGroup: opts.ApplicationGroup,
		Predicate:        opts.Predicate,
	})
}

// RecallCombined gathers the three memory categories for prompt injection:
// high-importance structured memories (when enabled), semantically similar
// plain memories, and semantically similar structured memories with the
// high-importance ones deduplicated out. The query is embedded once and the
// vector shared across both searches.
func (r *RecallEngine) RecallCombined(ctx context.Context, tokenID int64, query string, opts RecallOptions) (*CombinedRecall, error) {
	combined := &CombinedRecall{}

	if r.alwaysInjectHigh {
		high, err := r.RecallHighImportance(ctx, tokenID, opts.ApplicationGroup)
		if err != nil {
			return nil, fmt.Errorf("recall high-importance memories: %w", err)
		}
		combined.HighImportance = high
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed recall query: %w", err)
	}

	basicOpts := opts
	basicOpts.SessionID = ""
	basic, err := r.recallWithEmbedding(ctx, tokenID, vector, basicOpts)
	if err != nil {
		return nil, fmt.Errorf("recall memories: %w", err)
	}
	combined.Basic = basic

	structured, err := r.recallStructuredWithEmbedding(ctx, tokenID, vector, opts)
	if err != nil {
		return nil, fmt.Errorf("recall structured memories: %w", err)
	}

	seen := make(map[string]struct{}, len(combined.HighImportance))
	for _, m := range combined.HighImportance {
		seen[m.ID.String()] = struct{}{}
	}
	for _, m := range structured {
		if _, dup := seen[m.ID.String()]; dup {
			continue
		}
		combined.Structured = append(combined.Structured, m)
	}

	return combined, nil
}

// Clear deletes plain memories for a token, optionally scoped to a session.
// It returns the number of deleted memories.
func (r *RecallEngine) Clear(ctx context.Context, tokenID int64, sessionID string) (int64, error) {
	return r.store.DeleteMemories(ctx, tokenID, sessionID)
}

func (r *RecallEngine) limit(opts RecallOptions) int {
	if opts.Limit > 0 {
		return opts.Limit
	}
	return r.defaultLimit
}

func (r *RecallEngine) minSimilarity(opts RecallOptions) float64 {
	if opts.MinSimilarity > 0 {
		return opts.MinSimilarity
	}
	return r.defaultMinSimilarity
}

// FormatMemoriesForPrompt renders plain memories as a prompt context block.
// Returns the empty string when there is nothing to render.
func FormatMemoriesForPrompt(memories []*store.Memory) string {
	if len(memories) == 0 {
		return ""
	}

	lines := []string{"[Relevant context from previous conversations:]"}
	for _, m := range memories {
		lines = append(lines, fmt.Sprintf("- (%s) %s", m.Type, m.Content))
	}
	return strings.Join(lines, "\n")
}

// FormatStructuredForPrompt renders structured memories by their
// natural-language form, one per line.
func FormatStructuredForPrompt(memories []*store.StructuredMemory) string {
	if len(memories) == 0 {
		return ""
	}

	lines := make([]string, 0, len(memories))
	for _, m := range memories {
		lines = append(lines, "- "+m.NaturalLanguage)
	}
	return strings.Join(lines, "\n")
}

// FormatCombinedForPrompt renders a combined recall as prompt context.
// High-importance memories get their own section ahead of the general
// context section; sections are separated by a blank line.
func FormatCombinedForPrompt(combined *CombinedRecall) string {
	if combined == nil {
		return ""
	}

	var sections []string

	if len(combined.HighImportance) > 0 {
		lines := []string{"[Critical information about the user:]"}
		for _, m := range combined.HighImportance {
			lines = append(lines, "- "+m.NaturalLanguage)
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}

	var context []string
	for _, m := range combined.Basic {
		context = append(context, "- "+m.Content)
	}
	for _, m := range combined.Structured {
		context = append(context, "- "+m.NaturalLanguage)
	}
	if len(context) > 0 {
		sections = append(sections, "[Relevant context from previous conversations:]\n"+strings.Join(context, "\n"))
	}

	return strings.Join(sections, "\n\n")
}

// AugmentSystemPrompt prepends memory context to the base system prompt so
// the model reads it as background before its instructions.
func AugmentSystemPrompt(basePrompt, memoryContext string) string {
	if memoryContext == "" {
		return basePrompt
	}
	return memoryContext + "\n\n" + basePrompt
}
