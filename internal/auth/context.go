package auth

import (
	"context"

	"github.com/babblebuddy/agentcore/internal/store"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const tokenContextKey contextKey = "app_token"

// ContextWithToken stores the authenticated app token in the context.
func ContextWithToken(ctx context.Context, token *store.AppToken) context.Context {
	return context.WithValue(ctx, tokenContextKey, token)
}

// TokenFromContext returns the authenticated app token, or nil when the
// request was not authenticated.
func TokenFromContext(ctx context.Context) *store.AppToken {
	token, _ := ctx.Value(tokenContextKey).(*store.AppToken)
	return token
}
