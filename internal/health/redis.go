package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// slowPing marks the registry degraded: heartbeats still land, but session
// status lags behind playback.
const slowPing = 250 * time.Millisecond

// RedisChecker checks the Redis instance backing the session registry.
type RedisChecker struct {
	client    *redis.Client
	activeKey string

	mu       sync.Mutex
	latency  time.Duration
	sessions int64
	keys     int64
}

// NewRedisChecker creates a checker for client. activeKey is the set the
// registry keeps live session ids in; empty skips the session count.
func NewRedisChecker(client *redis.Client, activeKey string) *RedisChecker {
	return &RedisChecker{
		client:    client,
		activeKey: activeKey,
	}
}

func (r *RedisChecker) Name() string {
	return "redis"
}

// Check pings Redis, then counts live sessions and the keys of the DB.
func (r *RedisChecker) Check(ctx context.Context) error {
	start := time.Now()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	latency := time.Since(start)

	var sessions int64
	if r.activeKey != "" {
		n, err := r.client.SCard(ctx, r.activeKey).Result()
		if err != nil {
			return fmt.Errorf("failed to count registry sessions: %w", err)
		}
		sessions = n
	}
	keys, err := r.client.DBSize(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to get redis db size: %w", err)
	}

	r.mu.Lock()
	r.latency, r.sessions, r.keys = latency, sessions, keys
	r.mu.Unlock()

	if latency > slowPing {
		return Degraded("redis ping took %s", latency.Round(time.Millisecond))
	}
	return nil
}

// Details reports what the last successful check saw.
func (r *RedisChecker) Details() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]interface{}{
		"ping_ms":         r.latency.Milliseconds(),
		"active_sessions": r.sessions,
		"keys":            r.keys,
	}
}
