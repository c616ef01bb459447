package registry

import (
	"time"

	"github.com/google/uuid"
)

// SessionState is the playback state of a session
type SessionState string

const (
	StateStarting SessionState = "starting"
	StatePlaying  SessionState = "playing"
	StateStopped  SessionState = "stopped"
	StateError    SessionState = "error"
)

// Session is one player instance driving a geometry stream and, optionally,
// a texture video.
type Session struct {
	ID            string       `json:"id"`
	StreamID      string       `json:"stream_id"`
	HeaderPath    string       `json:"header_path"`
	SequencePath  string       `json:"sequence_path"`
	VideoPath     string       `json:"video_path"`
	State         SessionState `json:"state"`
	LastError     string       `json:"last_error"`
	CreatedAt     time.Time    `json:"created_at"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`

	GeometryFrameRate  float64 `json:"geometry_frame_rate"`
	GeometryFrameCount int     `json:"geometry_frame_count"`
	VideoFrameCount    int64   `json:"video_frame_count"`

	// Position, updated by UpdateStats
	GeometryFrame int     `json:"geometry_frame"`
	VideoFrame    int64   `json:"video_frame"`
	DriftMillis   float64 `json:"drift_ms"`
	Loops         int64   `json:"loops"`
	Rendered      int64   `json:"rendered"`
}

// SessionStats is the part of a session that changes every tick
type SessionStats struct {
	GeometryFrame int
	VideoFrame    int64
	Drift         time.Duration
	Loops         int64
	Rendered      int64
}

// NewSessionID returns a fresh session identifier
func NewSessionID() string {
	return uuid.New().String()
}

func (s *Session) applyStats(stats *SessionStats) {
	if stats == nil {
		return
	}
	s.GeometryFrame = stats.GeometryFrame
	s.VideoFrame = stats.VideoFrame
	s.DriftMillis = float64(stats.Drift) / float64(time.Millisecond)
	s.Loops = stats.Loops
	s.Rendered = stats.Rendered
}

// Uptime returns how long the session has existed
func (s *Session) Uptime() time.Duration {
	return time.Since(s.CreatedAt)
}

// Stale reports whether the session missed its heartbeat for longer than ttl
func (s *Session) Stale(ttl time.Duration) bool {
	return time.Since(s.LastHeartbeat) > ttl
}
