// Package prompt builds system prompts from caller-supplied context and
// maps response styles to generation parameter presets.
package prompt

import (
	"fmt"
	"strings"
)

// ResponseStyle selects a prompt template and generation preset.
type ResponseStyle string

// Supported response styles. Unknown styles fall back to StyleDefault.
const (
	StyleDefault   ResponseStyle = "default"
	StyleBrief     ResponseStyle = "brief"
	StyleDetailed  ResponseStyle = "detailed"
	StyleTechnical ResponseStyle = "technical"
	StyleCreative  ResponseStyle = "creative"
)

// ModelParams are the generation parameters attached to a style.
type ModelParams struct {
	MaxTokens     int     `json:"max_tokens"`
	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"top_p"`
	RepeatPenalty float64 `json:"repeat_penalty"`
	NumCtx        int     `json:"num_ctx"`
}

// stylePresets holds the generation presets per style.
var stylePresets = map[ResponseStyle]ModelParams{
	StyleDefault:   {MaxTokens: 512, Temperature: 0.7, TopP: 0.9, RepeatPenalty: 1.1, NumCtx: 2048},
	StyleBrief:     {MaxTokens: 256, Temperature: 0.3, TopP: 0.9, RepeatPenalty: 1.2, NumCtx: 2048},
	StyleDetailed:  {MaxTokens: 1024, Temperature: 0.5, TopP: 0.95, RepeatPenalty: 1.1, NumCtx: 4096},
	StyleTechnical: {MaxTokens: 512, Temperature: 0.2, TopP: 0.85, RepeatPenalty: 1.15, NumCtx: 4096},
	StyleCreative:  {MaxTokens: 768, Temperature: 0.8, TopP: 0.95, RepeatPenalty: 1.0, NumCtx: 2048},
}

// stylePrompts holds the prompt templates per style. The first line is the
// assistant identity; remaining lines are behavioral directives.
var stylePrompts = map[ResponseStyle]string{
	StyleDefault: "You are a helpful AI assistant.",
	StyleBrief: `You are a helpful AI assistant. Be concise and direct.
- Keep responses to 2-3 sentences unless more detail is needed
- Use bullet points for lists
- Skip unnecessary preamble`,
	StyleDetailed: `You are a helpful AI assistant providing thorough explanations.
- Give comprehensive answers with context
- Include relevant examples when helpful
- Structure long responses with headers`,
	StyleTechnical: `You are a technical AI assistant for developers.
- Be precise and accurate
- Use proper terminology
- Include code examples in markdown when relevant
- Skip basic explanations unless asked`,
	StyleCreative: `You are a creative AI assistant.
- Be engaging and conversational
- Use varied language and expressions
- Feel free to use analogies and examples`,
}

// rolePrompts maps well-known assistant roles to directives.
var rolePrompts = map[string]string{
	"support":    "You help users with questions and troubleshooting.",
	"sales":      "You help users understand products and make decisions.",
	"onboarding": "You guide new users through getting started.",
	"technical":  "You provide technical assistance and documentation help.",
}

// builtinPersonas are full app personas shipped with the service, keyed by
// lowercase app name. Config-supplied personas extend or override these.
var builtinPersonas = map[string]string{
	"exportee": `You are the AI assistant for Exportee, a data export and transformation platform.

When helping with SQL queries:
- Write safe, read-only SELECT queries only
- Use proper JOIN syntax for multi-table queries
- Suggest WHERE clauses for filtering
- Explain query logic briefly

When helping with field mappings:
- Suggest transformations (rename, mask, filter)
- Warn about PII data that should be masked (SSN, email, phone)
- Recommend data type conversions when needed

When helping with widgets:
- Available types: mask_ssn, mask_email, filter, rename, redact, hash_pii, truncate_date
- Explain what each widget does
- Suggest widget chains for common use cases (e.g., mask PII before export)

Be concise and technical. Use code blocks for SQL and JSON examples.`,
}

// ParseStyle validates a style string, falling back to the default.
func ParseStyle(s string) ResponseStyle {
	style := ResponseStyle(s)
	if _, ok := stylePresets[style]; ok {
		return style
	}
	return StyleDefault
}

// Composer builds system prompts from request context.
type Composer struct {
	personas     map[string]string
	defaultStyle ResponseStyle
}

// NewComposer creates a Composer. Extra personas are merged over the
// builtins, keys lowercased.
func NewComposer(defaultStyle ResponseStyle, personas map[string]string) *Composer {
	merged := make(map[string]string, len(builtinPersonas)+len(personas))
	for k, v := range builtinPersonas {
		merged[k] = v
	}
	for k, v := range personas {
		merged[strings.ToLower(k)] = v
	}
	if _, ok := stylePresets[defaultStyle]; !ok {
		defaultStyle = StyleDefault
	}
	return &Composer{
		personas:     merged,
		defaultStyle: defaultStyle,
	}
}

// ModelParams returns the generation preset for style, falling back to the
// composer default for unknown styles.
func (c *Composer) ModelParams(style ResponseStyle) ModelParams {
	if preset, ok := stylePresets[style]; ok {
		return preset
	}
	return stylePresets[c.defaultStyle]
}

// BuildSystemPrompt layers caller context into a system prompt. Context
// keys follow the frontend contract:
//
//	{
//	    "app": "MyApp",           // app name for personalization
//	    "page": "checkout",       // current page/section
//	    "role": "support",        // assistant role
//	    "instructions": "...",    // custom instructions from the app owner
//	    "schema": [...],          // data schema hints
//	    "user": {"name": "John", "plan": "premium"}
//	}
//
// Parts are joined with single spaces.
func (c *Composer) BuildSystemPrompt(context map[string]any, style ResponseStyle) string {
	if _, ok := stylePrompts[style]; !ok {
		style = c.defaultStyle
	}
	basePrompt := stylePrompts[style]

	if len(context) == 0 {
		return basePrompt
	}

	var parts []string

	// App persona first: a registered persona replaces the base identity.
	appName, _ := context["app"].(string)
	switch {
	case appName != "" && c.personas[strings.ToLower(appName)] != "":
		parts = append(parts, c.personas[strings.ToLower(appName)])
	case appName != "":
		parts = append(parts, fmt.Sprintf("You are the AI assistant for %s.", appName))
	default:
		identity, _, _ := strings.Cut(basePrompt, "\n")
		parts = append(parts, identity)
	}

	if role, _ := context["role"].(string); role != "" {
		if directive, ok := rolePrompts[role]; ok {
			parts = append(parts, directive)
		} else {
			parts = append(parts, fmt.Sprintf("Your role is %s.", role))
		}
	}

	if page, _ := context["page"].(string); page != "" {
		parts = append(parts, fmt.Sprintf("The user is currently on the %s page.", page))
	}

	if instructions, _ := context["instructions"].(string); instructions != "" {
		parts = append(parts, instructions)
	}

	switch schema := context["schema"].(type) {
	case []any:
		names := make([]string, 0, len(schema))
		for _, item := range schema {
			if s, ok := item.(string); ok {
				names = append(names, s)
			}
		}
		if len(names) > 0 {
			parts = append(parts, fmt.Sprintf("Available data: %s.", strings.Join(names, ", ")))
		}
	case []string:
		if len(schema) > 0 {
			parts = append(parts, fmt.Sprintf("Available data: %s.", strings.Join(schema, ", ")))
		}
	case string:
		if schema != "" {
			parts = append(parts, schema)
		}
	}

	if user, ok := context["user"].(map[string]any); ok {
		var userParts []string
		if name, _ := user["name"].(string); name != "" {
			userParts = append(userParts, fmt.Sprintf("name is %s", name))
		}
		if plan, _ := user["plan"].(string); plan != "" {
			userParts = append(userParts, fmt.Sprintf("on %s plan", plan))
		}
		if len(userParts) > 0 {
			parts = append(parts, fmt.Sprintf("The user's %s.", strings.Join(userParts, ", ")))
		}
	}

	// Style directives (template lines after the identity line).
	if _, directives, found := strings.Cut(basePrompt, "\n"); found {
		parts = append(parts, strings.TrimSpace(directives))
	}

	return strings.Join(parts, " ")
}
