package health

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/volplayer/internal/logger"
	"github.com/zsiec/volplayer/internal/registry"
)

func TestRedisChecker(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	reg := registry.NewRedisRegistry(client, nil, time.Minute)
	require.NoError(t, reg.Register(ctx, &registry.Session{ID: "session-1", StreamID: "actor"}))
	require.NoError(t, reg.Register(ctx, &registry.Session{ID: "session-2", StreamID: "actor"}))

	checker := NewRedisChecker(client, registry.ActiveSessionsKey)
	assert.Equal(t, "redis", checker.Name())

	manager := NewManager(logger.NewNullLogger())
	manager.Register(checker)

	check := manager.RunChecks(ctx)["redis"]
	assert.Equal(t, StatusOK, check.Status)
	assert.Equal(t, int64(2), check.Details["active_sessions"])
	assert.Equal(t, int64(3), check.Details["keys"], "two sessions and the active set")
	assert.Contains(t, check.Details, "ping_ms")

	require.NoError(t, reg.Unregister(ctx, "session-2"))
	check = manager.RunChecks(ctx)["redis"]
	assert.Equal(t, int64(1), check.Details["active_sessions"])

	mr.Close()
	check = manager.RunChecks(ctx)["redis"]
	assert.Equal(t, StatusDown, check.Status)
	assert.Contains(t, check.Message, "redis ping failed")
	assert.Equal(t, int64(1), check.Details["active_sessions"], "details keep the last good sample")
}

func TestRedisCheckerWithoutRegistry(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	require.NoError(t, mr.Set("unrelated", "x"))

	checker := NewRedisChecker(client, "")
	require.NoError(t, checker.Check(context.Background()))
	assert.Equal(t, int64(0), checker.Details()["active_sessions"])
	assert.Equal(t, int64(1), checker.Details()["keys"])
}
