package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/volplayer/internal/logger"
)

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantStatus Status
	}{
		{"ok", nil, http.StatusOK, StatusOK},
		{"degraded", Degraded("slow"), http.StatusOK, StatusDegraded},
		{"down", errors.New("broken"), http.StatusServiceUnavailable, StatusDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewManager(logger.NewNullLogger())
			manager.Register(&mockChecker{name: "test", err: tt.err})
			handler := NewHandler(manager)

			rr := httptest.NewRecorder()
			handler.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			assert.Equal(t, "no-cache, no-store, must-revalidate", rr.Header().Get("Cache-Control"))

			var response Response
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
			assert.Equal(t, tt.wantStatus, response.Status)
			assert.NotEmpty(t, response.Version)
			assert.NotEmpty(t, response.Uptime)
			require.Contains(t, response.Checks, "test")
			assert.Equal(t, tt.wantStatus, response.Checks["test"].Status)
		})
	}
}

func TestHandleReady(t *testing.T) {
	manager := NewManager(logger.NewNullLogger())
	checker := &mockChecker{name: "store", err: errors.New("gone")}
	manager.Register(checker)
	handler := NewHandler(manager)

	rr := httptest.NewRecorder()
	handler.HandleReady(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code, "not ready before the first run")
	assert.Zero(t, checker.calls.Load(), "ready never runs checks itself")

	manager.RunChecks(context.Background())
	rr = httptest.NewRecorder()
	handler.HandleReady(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var response ReadyResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, StatusDown, response.Status)
	assert.Equal(t, []string{"store"}, response.Failing)

	checker.err = nil
	manager.RunChecks(context.Background())
	rr = httptest.NewRecorder()
	handler.HandleReady(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHandleLive(t *testing.T) {
	handler := NewHandler(NewManager(logger.NewNullLogger()))

	rr := httptest.NewRecorder()
	handler.HandleLive(rr, httptest.NewRequest(http.MethodGet, "/live", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, "alive", response["status"])
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0 seconds"},
		{time.Second, "1 second"},
		{45 * time.Second, "45 seconds"},
		{time.Minute, "1 minute"},
		{2*time.Hour + 30*time.Second, "2 hours 30 seconds"},
		{25*time.Hour + time.Minute + time.Second, "1 day 1 hour 1 minute 1 second"},
		{72 * time.Hour, "3 days"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, formatUptime(tt.in))
		})
	}
}
