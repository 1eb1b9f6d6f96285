package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseStyle(t *testing.T) {
	require.Equal(t, StyleBrief, ParseStyle("brief"))
	require.Equal(t, StyleTechnical, ParseStyle("technical"))
	require.Equal(t, StyleDefault, ParseStyle(""))
	require.Equal(t, StyleDefault, ParseStyle("nonsense"))
}

func TestComposer_ModelParams(t *testing.T) {
	c := NewComposer(StyleDefault, nil)

	brief := c.ModelParams(StyleBrief)
	require.Equal(t, 256, brief.MaxTokens)
	require.InDelta(t, 0.3, brief.Temperature, 1e-9)

	technical := c.ModelParams(StyleTechnical)
	require.Equal(t, 4096, technical.NumCtx)

	// Unknown styles fall back to the composer default.
	require.Equal(t, c.ModelParams(StyleDefault), c.ModelParams("bogus"))
}

func TestComposer_BuildSystemPrompt(t *testing.T) {
	c := NewComposer(StyleDefault, nil)

	t.Run("empty context returns the style template", func(t *testing.T) {
		got := c.BuildSystemPrompt(nil, StyleDefault)
		require.Equal(t, "You are a helpful AI assistant.", got)
	})

	t.Run("app name builds a generic identity", func(t *testing.T) {
		got := c.BuildSystemPrompt(map[string]any{"app": "MyApp"}, StyleDefault)
		require.Contains(t, got, "You are the AI assistant for MyApp.")
	})

	t.Run("registered persona replaces the identity", func(t *testing.T) {
		got := c.BuildSystemPrompt(map[string]any{"app": "Exportee"}, StyleDefault)
		require.Contains(t, got, "data export and transformation platform")
		require.NotContains(t, got, "You are the AI assistant for Exportee.")
	})

	t.Run("known role uses its directive", func(t *testing.T) {
		got := c.BuildSystemPrompt(map[string]any{"role": "support"}, StyleDefault)
		require.Contains(t, got, "You help users with questions and troubleshooting.")
	})

	t.Run("unknown role is stated verbatim", func(t *testing.T) {
		got := c.BuildSystemPrompt(map[string]any{"role": "astrologer"}, StyleDefault)
		require.Contains(t, got, "Your role is astrologer.")
	})

	t.Run("page and instructions are appended", func(t *testing.T) {
		got := c.BuildSystemPrompt(map[string]any{
			"page":         "checkout",
			"instructions": "Never discuss refunds.",
		}, StyleDefault)
		require.Contains(t, got, "The user is currently on the checkout page.")
		require.Contains(t, got, "Never discuss refunds.")
	})

	t.Run("schema list is summarized", func(t *testing.T) {
		got := c.BuildSystemPrompt(map[string]any{
			"schema": []any{"orders", "customers"},
		}, StyleDefault)
		require.Contains(t, got, "Available data: orders, customers.")
	})

	t.Run("user details are folded in", func(t *testing.T) {
		got := c.BuildSystemPrompt(map[string]any{
			"user": map[string]any{"name": "John", "plan": "premium"},
		}, StyleDefault)
		require.Contains(t, got, "The user's name is John, on premium plan.")
	})

	t.Run("style directives survive context layering", func(t *testing.T) {
		got := c.BuildSystemPrompt(map[string]any{"app": "MyApp"}, StyleBrief)
		require.Contains(t, got, "Keep responses to 2-3 sentences")
	})

	t.Run("unknown style falls back to default", func(t *testing.T) {
		got := c.BuildSystemPrompt(nil, "bogus")
		require.Equal(t, "You are a helpful AI assistant.", got)
	})
}

func TestNewComposer_CustomPersonas(t *testing.T) {
	c := NewComposer(StyleDefault, map[string]string{
		"MyShop": "You are MyShop's shopping assistant.",
	})

	// Persona lookup is case-insensitive.
	got := c.BuildSystemPrompt(map[string]any{"app": "myshop"}, StyleDefault)
	require.True(t, strings.HasPrefix(got, "You are MyShop's shopping assistant."))
}
