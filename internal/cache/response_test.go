package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestResponseKey(t *testing.T) {
	k1 := ResponseKey("agent-1", "system", "prompt")
	k2 := ResponseKey("agent-1", "system", "prompt")
	require.Equal(t, k1, k2, "same parts must produce the same key")

	require.NotEqual(t, k1, ResponseKey("agent-2", "system", "prompt"))

	// The separator prevents ambiguous concatenations from colliding.
	require.NotEqual(t, ResponseKey("ab", "c"), ResponseKey("a", "bc"))
}

func TestMemoryResponseCache(t *testing.T) {
	c := NewMemoryResponseCache(time.Minute)
	defer c.Close()

	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "key", "cached response", time.Minute))

	val, err := c.Get(ctx, "key")
	require.NoError(t, err)
	require.Equal(t, "cached response", val)
}

func TestRedisResponseCache(t *testing.T) {
	srv := miniredis.RunT(t)

	ctx := context.Background()
	c, err := NewRedisResponseCache(ctx, srv.Addr())
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "key", "cached response", time.Minute))

	val, err := c.Get(ctx, "key")
	require.NoError(t, err)
	require.Equal(t, "cached response", val)

	// Entries expire once their TTL elapses.
	srv.FastForward(2 * time.Minute)
	_, err = c.Get(ctx, "key")
	require.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisResponseCache_Unreachable(t *testing.T) {
	_, err := NewRedisResponseCache(context.Background(), "127.0.0.1:1")
	require.Error(t, err)
}
