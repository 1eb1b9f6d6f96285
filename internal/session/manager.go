// Package session provides in-memory conversation session tracking.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message is one recorded conversation entry.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session holds a conversation's history and caller context.
type Session struct {
	ID         string         `json:"id"`
	TokenID    int64          `json:"token_id"`
	Messages   []Message      `json:"messages"`
	Context    map[string]any `json:"context,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	LastActive time.Time      `json:"last_active"`
}

// Manager tracks sessions in memory. Sessions are unbounded by default;
// setting maxSessions > 0 evicts the least recently active session once
// the limit is exceeded.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	maxSessions int
}

// NewManager creates a session manager. maxSessions 0 means unbounded.
func NewManager(maxSessions int) *Manager {
	return &Manager{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
	}
}

// GetOrCreate returns the session with the given ID, creating it when
// absent. For an existing session the supplied context keys are merged
// over the stored ones. An empty sessionID always creates a new session.
func (m *Manager) GetOrCreate(sessionID string, tokenID int64, context map[string]any) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessionID != "" {
		if s, ok := m.sessions[sessionID]; ok {
			if len(context) > 0 {
				if s.Context == nil {
					s.Context = make(map[string]any, len(context))
				}
				for k, v := range context {
					s.Context[k] = v
				}
			}
			s.LastActive = time.Now().UTC()
			return m.snapshot(s)
		}
	}

	now := time.Now().UTC()
	s := &Session{
		ID:         uuid.NewString(),
		TokenID:    tokenID,
		Context:    context,
		CreatedAt:  now,
		LastActive: now,
	}
	m.sessions[s.ID] = s
	m.evictLocked()
	return m.snapshot(s)
}

// AddMessage appends a message to the session. Unknown sessions are a
// no-op.
func (m *Manager) AddMessage(sessionID, role, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	now := time.Now().UTC()
	s.Messages = append(s.Messages, Message{Role: role, Content: content, Timestamp: now})
	s.LastActive = now
}

// Messages returns a copy of the session's history, or nil for unknown
// sessions.
func (m *Manager) Messages(sessionID string) []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	return append([]Message(nil), s.Messages...)
}

// Get returns a snapshot of the session, or nil when absent.
func (m *Manager) Get(sessionID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	return m.snapshot(s)
}

// Delete removes a session and reports whether it existed.
func (m *Manager) Delete(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return false
	}
	delete(m.sessions, sessionID)
	return true
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// evictLocked drops the least recently active sessions while over the
// limit. Must be called with the write lock held.
func (m *Manager) evictLocked() {
	if m.maxSessions <= 0 {
		return
	}
	for len(m.sessions) > m.maxSessions {
		var oldestID string
		var oldest time.Time
		for id, s := range m.sessions {
			if oldestID == "" || s.LastActive.Before(oldest) {
				oldestID = id
				oldest = s.LastActive
			}
		}
		delete(m.sessions, oldestID)
	}
}

// snapshot copies a session so callers cannot mutate shared state.
func (m *Manager) snapshot(s *Session) *Session {
	cp := *s
	cp.Messages = append([]Message(nil), s.Messages...)
	if s.Context != nil {
		cp.Context = make(map[string]any, len(s.Context))
		for k, v := range s.Context {
			cp.Context[k] = v
		}
	}
	return &cp
}
