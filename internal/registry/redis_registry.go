package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zsiec/volplayer/internal/logger"
)

const keyPrefix = "volplayer:sessions:"

// ActiveSessionsKey is the set holding the ids of live sessions.
const ActiveSessionsKey = keyPrefix + "active"

var (
	registerScript = redis.NewScript(`
		local key = KEYS[1]
		local active_key = KEYS[2]
		local data = ARGV[1]
		local ttl = tonumber(ARGV[2])
		local session_id = ARGV[3]
		local ok = redis.call('SET', key, data, 'PX', ttl, 'NX')
		if not ok then
			return 0
		end
		redis.call('SADD', active_key, session_id)
		return 1
	`)

	listScript = redis.NewScript(`
		local active_key = KEYS[1]
		local prefix = ARGV[1]
		local active = redis.call('SMEMBERS', active_key)
		local result = {}
		local to_remove = {}

		for i, id in ipairs(active) do
			local session = redis.call('GET', prefix .. id)
			if session then
				table.insert(result, session)
			else
				table.insert(to_remove, id)
			end
		end

		for i, id in ipairs(to_remove) do
			redis.call('SREM', active_key, id)
		end

		return result
	`)

	heartbeatScript = redis.NewScript(`
		local key = KEYS[1]
		local ttl = tonumber(ARGV[1])
		local now = ARGV[2]
		local data = redis.call('GET', key)
		if not data then
			return redis.error_reply("session not found")
		end
		local session = cjson.decode(data)
		session.last_heartbeat = now
		redis.call('SET', key, cjson.encode(session), 'PX', ttl)
		return "OK"
	`)

	stateScript = redis.NewScript(`
		local key = KEYS[1]
		local ttl = tonumber(ARGV[1])
		local now = ARGV[2]
		local data = redis.call('GET', key)
		if not data then
			return redis.error_reply("session not found")
		end
		local session = cjson.decode(data)
		session.state = ARGV[3]
		session.last_error = ARGV[4]
		session.last_heartbeat = now
		redis.call('SET', key, cjson.encode(session), 'PX', ttl)
		return "OK"
	`)

	// Position fields are top-level members of the stored session.
	statsScript = redis.NewScript(`
		local key = KEYS[1]
		local ttl = tonumber(ARGV[1])
		local now = ARGV[2]
		local data = redis.call('GET', key)
		if not data then
			return redis.error_reply("session not found")
		end
		local session = cjson.decode(data)
		session.geometry_frame = tonumber(ARGV[3])
		session.video_frame = tonumber(ARGV[4])
		session.drift_ms = tonumber(ARGV[5])
		session.loops = tonumber(ARGV[6])
		session.rendered = tonumber(ARGV[7])
		session.last_heartbeat = now
		redis.call('SET', key, cjson.encode(session), 'PX', ttl)
		return "OK"
	`)
)

// RedisRegistry implements Registry on Redis. Every session is a JSON value
// with a TTL, so a player that dies without unregistering disappears once
// its heartbeats stop.
type RedisRegistry struct {
	client *redis.Client
	logger logger.Logger
	prefix string
	ttl    time.Duration
}

// NewRedisRegistry creates a Redis-backed registry
func NewRedisRegistry(client *redis.Client, log logger.Logger, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &RedisRegistry{
		client: client,
		logger: log,
		prefix: keyPrefix,
		ttl:    ttl,
	}
}

func (r *RedisRegistry) key(sessionID string) string {
	return r.prefix + sessionID
}

func (r *RedisRegistry) activeKey() string {
	return ActiveSessionsKey
}

// Register adds a session, or refreshes it keeping the original CreatedAt
func (r *RedisRegistry) Register(ctx context.Context, session *Session) error {
	key := r.key(session.ID)
	existingData, err := r.client.Get(ctx, key).Bytes()
	isNew := false
	switch {
	case err == nil:
		var existing Session
		if err := json.Unmarshal(existingData, &existing); err == nil {
			session.CreatedAt = existing.CreatedAt
		}
	case errors.Is(err, redis.Nil):
		session.CreatedAt = time.Now()
		isNew = true
	default:
		return fmt.Errorf("failed to check existing session: %w", err)
	}
	session.LastHeartbeat = time.Now()

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if !isNew {
		if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		r.logger.WithField("session_id", session.ID).Debug("Session refreshed")
		return nil
	}

	result, err := registerScript.Run(ctx, r.client,
		[]string{key, r.activeKey()},
		data, r.ttl.Milliseconds(), session.ID).Int()
	if err != nil {
		return fmt.Errorf("failed to register session: %w", err)
	}
	if result == 0 {
		return fmt.Errorf("session %s already exists", session.ID)
	}

	r.logger.WithFields(map[string]interface{}{
		"session_id": session.ID,
		"stream_id":  session.StreamID,
		"video":      session.VideoPath,
	}).Info("Session registered")
	return nil
}

// Unregister removes a session
func (r *RedisRegistry) Unregister(ctx context.Context, sessionID string) error {
	deleted, err := r.client.Del(ctx, r.key(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("failed to unregister session: %w", err)
	}

	if err := r.client.SRem(ctx, r.activeKey(), sessionID).Err(); err != nil {
		r.logger.Warnf("Failed to remove session %s from active set: %v", sessionID, err)
	}

	if deleted == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}

	r.logger.WithField("session_id", sessionID).Info("Session unregistered")
	return nil
}

// Get retrieves a session by ID
func (r *RedisRegistry) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := r.client.Get(ctx, r.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// List returns all live sessions ordered by ID. Expired sessions are pruned
// from the active set as a side effect.
func (r *RedisRegistry) List(ctx context.Context) ([]*Session, error) {
	res, err := listScript.Run(ctx, r.client, []string{r.activeKey()}, r.prefix).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected result type from script")
	}

	sessions := make([]*Session, 0, len(values))
	for _, val := range values {
		data, ok := val.(string)
		if !ok {
			r.logger.Warn("Invalid data type in result")
			continue
		}

		var session Session
		if err := json.Unmarshal([]byte(data), &session); err != nil {
			r.logger.WithError(err).Warn("Failed to unmarshal session")
			continue
		}
		sessions = append(sessions, &session)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions, nil
}

func (r *RedisRegistry) runUpdate(ctx context.Context, script *redis.Script, sessionID, what string, args ...interface{}) error {
	argv := append([]interface{}{r.ttl.Milliseconds(), time.Now().Format(time.RFC3339Nano)}, args...)
	if err := script.Run(ctx, r.client, []string{r.key(sessionID)}, argv...).Err(); err != nil {
		if strings.Contains(err.Error(), "session not found") {
			return fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
		}
		return fmt.Errorf("failed to update %s: %w", what, err)
	}
	return nil
}

// UpdateHeartbeat refreshes the heartbeat and the TTL
func (r *RedisRegistry) UpdateHeartbeat(ctx context.Context, sessionID string) error {
	return r.runUpdate(ctx, heartbeatScript, sessionID, "heartbeat")
}

// UpdateState sets the playback state
func (r *RedisRegistry) UpdateState(ctx context.Context, sessionID string, state SessionState, lastError string) error {
	if err := r.runUpdate(ctx, stateScript, sessionID, "state", string(state), lastError); err != nil {
		return err
	}

	r.logger.WithFields(map[string]interface{}{
		"session_id": sessionID,
		"state":      state,
	}).Debug("Session state updated")
	return nil
}

// UpdateStats records the playback position
func (r *RedisRegistry) UpdateStats(ctx context.Context, sessionID string, stats *SessionStats) error {
	if stats == nil {
		return r.UpdateHeartbeat(ctx, sessionID)
	}
	var s Session
	s.applyStats(stats)
	return r.runUpdate(ctx, statsScript, sessionID, "stats",
		s.GeometryFrame, s.VideoFrame, s.DriftMillis, s.Loops, s.Rendered)
}

// Close closes the Redis client connection
func (r *RedisRegistry) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Ensure RedisRegistry implements Registry interface
var _ Registry = (*RedisRegistry)(nil)
