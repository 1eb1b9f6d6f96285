package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManager_GetOrCreate(t *testing.T) {
	m := NewManager(0)

	t.Run("creates a new session", func(t *testing.T) {
		s := m.GetOrCreate("", 1, map[string]any{"app": "demo"})
		require.NotEmpty(t, s.ID)
		require.Equal(t, int64(1), s.TokenID)
		require.Equal(t, "demo", s.Context["app"])
		require.False(t, s.CreatedAt.IsZero())
	})

	t.Run("unknown id creates a session with a fresh id", func(t *testing.T) {
		s := m.GetOrCreate("does-not-exist", 1, nil)
		require.NotEqual(t, "does-not-exist", s.ID)
	})

	t.Run("merges context over an existing session", func(t *testing.T) {
		s := m.GetOrCreate("", 1, map[string]any{"app": "demo", "page": "home"})
		again := m.GetOrCreate(s.ID, 1, map[string]any{"page": "checkout"})

		require.Equal(t, s.ID, again.ID)
		require.Equal(t, "demo", again.Context["app"])
		require.Equal(t, "checkout", again.Context["page"])
	})
}

func TestManager_Messages(t *testing.T) {
	m := NewManager(0)
	s := m.GetOrCreate("", 1, nil)

	m.AddMessage(s.ID, "user", "hello")
	m.AddMessage(s.ID, "assistant", "hi there")

	msgs := m.Messages(s.ID)
	require.Len(t, msgs, 2)
	require.Equal(t, "user", msgs[0].Role)
	require.Equal(t, "hello", msgs[0].Content)
	require.Equal(t, "assistant", msgs[1].Role)

	// Adding to an unknown session is a no-op.
	m.AddMessage("nope", "user", "lost")
	require.Nil(t, m.Messages("nope"))
}

func TestManager_SnapshotIsolation(t *testing.T) {
	m := NewManager(0)
	s := m.GetOrCreate("", 1, map[string]any{"app": "demo"})

	// Mutating the returned snapshot must not affect stored state.
	s.Context["app"] = "tampered"
	m.AddMessage(s.ID, "user", "hello")

	fresh := m.Get(s.ID)
	require.Equal(t, "demo", fresh.Context["app"])
	require.Len(t, fresh.Messages, 1)

	fresh.Messages[0].Content = "tampered"
	require.Equal(t, "hello", m.Messages(s.ID)[0].Content)
}

func TestManager_Delete(t *testing.T) {
	m := NewManager(0)
	s := m.GetOrCreate("", 1, nil)

	require.True(t, m.Delete(s.ID))
	require.Nil(t, m.Get(s.ID))
	require.False(t, m.Delete(s.ID))
}

func TestManager_Eviction(t *testing.T) {
	m := NewManager(2)

	a := m.GetOrCreate("", 1, nil)
	time.Sleep(time.Millisecond)
	b := m.GetOrCreate("", 1, nil)
	time.Sleep(time.Millisecond)

	// Touch a so b is the least recently active.
	m.GetOrCreate(a.ID, 1, nil)
	time.Sleep(time.Millisecond)

	c := m.GetOrCreate("", 1, nil)

	require.Equal(t, 2, m.Len())
	require.NotNil(t, m.Get(a.ID))
	require.Nil(t, m.Get(b.ID))
	require.NotNil(t, m.Get(c.ID))
}
