package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRegistry keeps sessions in process. It is used when Redis is
// disabled and in tests.
type MemoryRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewMemoryRegistry creates an empty in-memory registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		sessions: make(map[string]*Session),
	}
}

// Register adds a session or refreshes an existing one, keeping its CreatedAt
func (m *MemoryRegistry) Register(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrRegistryClosed
	}

	now := time.Now()
	stored := *session
	if existing, ok := m.sessions[session.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	stored.LastHeartbeat = now
	session.CreatedAt = stored.CreatedAt
	session.LastHeartbeat = now

	m.sessions[session.ID] = &stored
	return nil
}

// Unregister removes a session
func (m *MemoryRegistry) Unregister(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrRegistryClosed
	}

	if _, exists := m.sessions[sessionID]; !exists {
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}

	delete(m.sessions, sessionID)
	return nil
}

// Get retrieves a copy of a session
func (m *MemoryRegistry) Get(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrRegistryClosed
	}

	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}

	copied := *session
	return &copied, nil
}

// List returns copies of all sessions ordered by ID
func (m *MemoryRegistry) List(ctx context.Context) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrRegistryClosed
	}

	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		copied := *session
		sessions = append(sessions, &copied)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions, nil
}

func (m *MemoryRegistry) update(sessionID string, fn func(*Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrRegistryClosed
	}

	session, exists := m.sessions[sessionID]
	if !exists {
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}

	fn(session)
	session.LastHeartbeat = time.Now()
	return nil
}

// UpdateHeartbeat refreshes the heartbeat timestamp
func (m *MemoryRegistry) UpdateHeartbeat(ctx context.Context, sessionID string) error {
	return m.update(sessionID, func(*Session) {})
}

// UpdateState sets the playback state
func (m *MemoryRegistry) UpdateState(ctx context.Context, sessionID string, state SessionState, lastError string) error {
	return m.update(sessionID, func(s *Session) {
		s.State = state
		s.LastError = lastError
	})
}

// UpdateStats records the playback position
func (m *MemoryRegistry) UpdateStats(ctx context.Context, sessionID string, stats *SessionStats) error {
	return m.update(sessionID, func(s *Session) {
		s.applyStats(stats)
	})
}

// Close drops every session
func (m *MemoryRegistry) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrRegistryClosed
	}

	m.closed = true
	m.sessions = nil
	return nil
}

// Ensure MemoryRegistry implements Registry interface
var _ Registry = (*MemoryRegistry)(nil)
