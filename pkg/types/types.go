// Package types defines the wire-level chat types shared between the
// orchestrator, the provider adapters, and the HTTP layer.
package types

import "time"

// Message is a single conversation turn passed to providers as history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// GenerateRequest is the provider-agnostic request built by the
// orchestrator. Each adapter translates it into its native wire format.
type GenerateRequest struct {
	// Prompt is the current user message.
	Prompt string `json:"prompt"`

	// SystemPrompt is the effective system prompt, possibly augmented with
	// recalled memory. Empty means the provider default applies.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// History holds prior turns, oldest first. System entries are filtered
	// out by adapters that carry the system prompt out of band.
	History []Message `json:"history,omitempty"`
}
