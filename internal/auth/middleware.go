package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/babblebuddy/agentcore/internal/observability"
	"github.com/babblebuddy/agentcore/internal/store"
)

// TokenSource looks up and touches app tokens. The store package satisfies
// this.
type TokenSource interface {
	GetTokenByHash(ctx context.Context, hash string) (*store.AppToken, error)
	TouchToken(ctx context.Context, id int64) error
}

// Middleware provides HTTP middleware for app token authentication.
type Middleware struct {
	tokens    TokenSource
	logger    *observability.Logger
	skipPaths map[string]bool
}

// NewMiddleware creates an authentication middleware. Requests to skipPaths
// pass through unauthenticated.
func NewMiddleware(tokens TokenSource, logger *observability.Logger, skipPaths []string) *Middleware {
	skip := make(map[string]bool, len(skipPaths))
	for _, path := range skipPaths {
		skip[path] = true
	}
	return &Middleware{
		tokens:    tokens,
		logger:    logger,
		skipPaths: skip,
	}
}

// Authenticate validates the Bearer token and injects the resolved app
// token into the request context.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		rawToken, err := ParseAuthHeader(r.Header.Get("Authorization"))
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, "missing or invalid authorization header")
			return
		}

		token, err := m.tokens.GetTokenByHash(r.Context(), HashToken(rawToken))
		if err != nil {
			if err == store.ErrNotFound {
				writeAuthError(w, http.StatusUnauthorized, "invalid app token")
				return
			}
			m.logger.Error("failed to look up app token", "error", err.Error())
			writeAuthError(w, http.StatusInternalServerError, "internal error")
			return
		}

		if !token.IsActive {
			writeAuthError(w, http.StatusUnauthorized, "app token is inactive")
			return
		}

		// Update last used timestamp without blocking the request.
		go func(id int64) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := m.tokens.TouchToken(ctx, id); err != nil {
				m.logger.Warn("failed to update last_used_at", "error", err.Error(), "token_id", id)
			}
		}(token.ID)

		next.ServeHTTP(w, r.WithContext(ContextWithToken(r.Context(), token)))
	})
}

// RequireAdmin validates the X-Admin-Key header against the configured
// admin key. An empty configured key disables all admin routes.
func RequireAdmin(adminKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if adminKey == "" {
			writeAuthError(w, http.StatusForbidden, "admin API is disabled")
			return
		}
		provided := r.Header.Get("X-Admin-Key")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(adminKey)) != 1 {
			writeAuthError(w, http.StatusUnauthorized, "invalid admin key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":{"message":"` + message + `","type":"authentication_error"}}`))
}
