package server

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/volplayer/internal/health"
)

func TestStartAndShutdown(t *testing.T) {
	env := newTestEnv(t)
	env.server.HealthManager().Register(health.NewStoreChecker(env.store))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.Start(ctx) }()

	require.Eventually(t, func() bool { return env.server.Addr() != nil }, time.Second, 5*time.Millisecond)
	base := fmt.Sprintf("http://%s", env.server.Addr())

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/ready")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond, "ready once the first checks ran")

	resp, err := http.Get(base + "/api/v1/streams/actor")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}

	_, err = http.Get(base + "/live")
	assert.Error(t, err)
}

func TestStartListenError(t *testing.T) {
	env := newTestEnv(t)
	env.server.config.ListenAddr = "256.0.0.1"

	err := env.server.Start(context.Background())
	assert.ErrorContains(t, err, "failed to listen")
	assert.Nil(t, env.server.Addr())
	assert.NoError(t, env.server.Shutdown())
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.server.HealthManager().Register(health.NewStoreChecker(env.store))

	rr := env.do("GET", "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, health.StatusOK, decode[health.Response](t, rr).Status)

	require.NoError(t, env.store.CloseAll())
	rr = env.do("GET", "/health")
	assert.Equal(t, http.StatusOK, rr.Code, "degraded still answers 200")
	assert.Equal(t, health.StatusDegraded, decode[health.Response](t, rr).Status)

	assert.Equal(t, http.StatusOK, env.do("GET", "/live").Code)
}

func TestRegisterRoutes(t *testing.T) {
	env := newTestEnv(t)
	env.server.RegisterRoutes(func(r *mux.Router) {
		r.HandleFunc("/debug/ping", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}).Methods("GET")
	})

	assert.Equal(t, http.StatusTeapot, env.do("GET", "/debug/ping").Code)
}
