package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/volplayer/internal/config"
	"github.com/zsiec/volplayer/internal/fixture"
	"github.com/zsiec/volplayer/internal/geometry"
	"github.com/zsiec/volplayer/internal/registry"
)

func triangle(x float32) fixture.Mesh {
	return fixture.Mesh{
		Positions: []float32{x, 0, 0, x + 1, 0, 0, x, 1, 0},
		Indices:   []uint32{0, 1, 2},
	}
}

// tenFrames has keyframes at 0 and 5; every other frame shifts vertex 0.
func tenFrames() fixture.Geometry {
	g := fixture.Geometry{MeshName: "actor", Scale: 1, Rotation: [4]float32{0, 0, 0, 1}}
	for i := 0; i < 10; i++ {
		if i%5 == 0 {
			g.Frames = append(g.Frames, fixture.Key(triangle(float32(i))))
			continue
		}
		g.Frames = append(g.Frames, fixture.Deltas(fixture.MoveVertices(0, float32(i), 0, 0)))
	}
	return g
}

type testEnv struct {
	server   *Server
	store    *geometry.Store
	sessions *registry.MemoryRegistry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	headerPath, sequencePath, err := fixture.Write(t.TempDir(), tenFrames())
	require.NoError(t, err)

	store := geometry.NewStore()
	t.Cleanup(func() { store.CloseAll() })
	_, err = store.Open(context.Background(), "actor", headerPath, sequencePath, true)
	require.NoError(t, err)

	sessions := registry.NewMemoryRegistry()
	require.NoError(t, sessions.Register(context.Background(), &registry.Session{
		ID:       "session-1",
		StreamID: "actor",
		State:    registry.StatePlaying,
	}))

	log := logrus.New()
	log.SetOutput(io.Discard)
	cfg := &config.ServerConfig{Enabled: true, ListenAddr: "127.0.0.1", ShutdownTimeout: time.Second}
	return &testEnv{
		server:   New(cfg, log, store, sessions),
		store:    store,
		sessions: sessions,
	}
}

func (e *testEnv) do(method, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}](t, rr).Error.Type
}
