package registry

import (
	"context"
	"errors"
)

var (
	// ErrSessionNotFound is returned when a session is not in the registry
	ErrSessionNotFound = errors.New("session not found")
	// ErrRegistryClosed is returned by every operation after Close
	ErrRegistryClosed = errors.New("registry is closed")
)

// Registry publishes playback sessions so that other processes (and the
// inspection API) can see what is playing.
type Registry interface {
	// Register adds a session, or refreshes it when the ID is already known
	Register(ctx context.Context, session *Session) error

	// Unregister removes a session
	Unregister(ctx context.Context, sessionID string) error

	// Get retrieves a session by ID
	Get(ctx context.Context, sessionID string) (*Session, error)

	// List returns all live sessions
	List(ctx context.Context) ([]*Session, error)

	// UpdateHeartbeat extends the session's lifetime
	UpdateHeartbeat(ctx context.Context, sessionID string) error

	// UpdateState sets the session's playback state
	UpdateState(ctx context.Context, sessionID string, state SessionState, lastError string) error

	// UpdateStats records the session's playback position
	UpdateStats(ctx context.Context, sessionID string, stats *SessionStats) error

	// Close releases any resources held by the registry
	Close() error
}
