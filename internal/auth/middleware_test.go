package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/babblebuddy/agentcore/internal/observability"
	"github.com/babblebuddy/agentcore/internal/store"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.LoggerConfig{Output: io.Discard}, nil)
}

func newAuthedStore(t *testing.T, active bool) (*store.MemoryStore, string) {
	t.Helper()
	st := store.NewMemoryStore()
	full, hash, err := GenerateToken()
	require.NoError(t, err)
	require.NoError(t, st.CreateToken(context.Background(), &store.AppToken{
		TokenHash: hash,
		Name:      "test",
		IsActive:  active,
	}))
	return st, full
}

func TestMiddleware_Authenticate(t *testing.T) {
	okHandler := func(gotToken **store.AppToken) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*gotToken = TokenFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		})
	}

	t.Run("valid token passes and lands in context", func(t *testing.T) {
		st, full := newAuthedStore(t, true)
		mw := NewMiddleware(st, testLogger(), nil)

		var got *store.AppToken
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", nil)
		req.Header.Set("Authorization", "Bearer "+full)
		rec := httptest.NewRecorder()

		mw.Authenticate(okHandler(&got)).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, got)
		require.Equal(t, "test", got.Name)
	})

	t.Run("missing header", func(t *testing.T) {
		st, _ := newAuthedStore(t, true)
		mw := NewMiddleware(st, testLogger(), nil)

		var got *store.AppToken
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", nil)
		rec := httptest.NewRecorder()

		mw.Authenticate(okHandler(&got)).ServeHTTP(rec, req)

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Contains(t, rec.Body.String(), "authentication_error")
		require.Nil(t, got)
	})

	t.Run("unknown token", func(t *testing.T) {
		st, _ := newAuthedStore(t, true)
		mw := NewMiddleware(st, testLogger(), nil)

		var got *store.AppToken
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", nil)
		req.Header.Set("Authorization", "Bearer bb_not_a_real_token")
		rec := httptest.NewRecorder()

		mw.Authenticate(okHandler(&got)).ServeHTTP(rec, req)

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Contains(t, rec.Body.String(), "invalid app token")
	})

	t.Run("inactive token", func(t *testing.T) {
		st, full := newAuthedStore(t, false)
		mw := NewMiddleware(st, testLogger(), nil)

		var got *store.AppToken
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", nil)
		req.Header.Set("Authorization", "Bearer "+full)
		rec := httptest.NewRecorder()

		mw.Authenticate(okHandler(&got)).ServeHTTP(rec, req)

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Contains(t, rec.Body.String(), "app token is inactive")
	})

	t.Run("skip paths bypass auth", func(t *testing.T) {
		st, _ := newAuthedStore(t, true)
		mw := NewMiddleware(st, testLogger(), []string{"/healthz"})

		var got *store.AppToken
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()

		mw.Authenticate(okHandler(&got)).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Nil(t, got)
	})
}

func TestRequireAdmin(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("disabled without a configured key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/admin/v1/tokens", nil)
		req.Header.Set("X-Admin-Key", "anything")
		rec := httptest.NewRecorder()

		RequireAdmin("", next).ServeHTTP(rec, req)

		require.Equal(t, http.StatusForbidden, rec.Code)
		require.Contains(t, rec.Body.String(), "admin API is disabled")
	})

	t.Run("wrong key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/admin/v1/tokens", nil)
		req.Header.Set("X-Admin-Key", "nope")
		rec := httptest.NewRecorder()

		RequireAdmin("secret", next).ServeHTTP(rec, req)

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Contains(t, rec.Body.String(), "invalid admin key")
	})

	t.Run("correct key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/admin/v1/tokens", nil)
		req.Header.Set("X-Admin-Key", "secret")
		rec := httptest.NewRecorder()

		RequireAdmin("secret", next).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestTokenContext(t *testing.T) {
	require.Nil(t, TokenFromContext(context.Background()))

	tok := &store.AppToken{ID: 7, Name: "ctx"}
	ctx := ContextWithToken(context.Background(), tok)
	require.Equal(t, tok, TokenFromContext(ctx))
}
