package memory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_RequestRelease(t *testing.T) {
	ctrl := NewController(1024*1024, 256*1024)

	require.NoError(t, ctrl.RequestMemory("stream1", 100*1024))
	require.NoError(t, ctrl.RequestMemory("stream1", 100*1024))
	assert.Equal(t, int64(200*1024), ctrl.GetStreamUsage("stream1"))

	ctrl.ReleaseMemory("stream1", 100*1024)
	assert.Equal(t, int64(100*1024), ctrl.GetStreamUsage("stream1"))
	assert.InDelta(t, 100.0/1024.0, ctrl.GetPressure(), 1e-9)
}

func TestController_Limits(t *testing.T) {
	tests := []struct {
		name      string
		total     int64
		perStream int64
		first     int64
		stream    string
		second    int64
		wantErr   error
	}{
		{"global", 1024, 2048, 1024, "other", 1, ErrGlobalMemoryLimit},
		{"per stream", 4096, 1024, 1024, "same", 1, ErrStreamMemoryLimit},
		{"other stream fits", 4096, 1024, 1024, "other", 1024, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := NewController(tt.total, tt.perStream)
			require.NoError(t, ctrl.RequestMemory("same", tt.first))

			err := ctrl.RequestMemory(tt.stream, tt.second)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				// A refused reservation must not leak into the totals.
				assert.Equal(t, tt.first, ctrl.Stats().GlobalUsage)
				assert.Equal(t, int64(1), ctrl.Stats().RejectionCount)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestController_ReleaseMoreThanHeld(t *testing.T) {
	ctrl := NewController(1024, 1024)
	require.NoError(t, ctrl.RequestMemory("s", 100))

	ctrl.ReleaseMemory("s", 500)
	assert.Equal(t, int64(0), ctrl.GetStreamUsage("s"))
	assert.Equal(t, int64(0), ctrl.Stats().GlobalUsage)

	// Unknown streams and non-positive sizes are ignored.
	ctrl.ReleaseMemory("missing", 10)
	assert.NoError(t, ctrl.RequestMemory("s", 0))
	assert.Equal(t, int64(0), ctrl.Stats().GlobalUsage)
}

func TestController_ResetStreamUsage(t *testing.T) {
	ctrl := NewController(4096, 2048)
	require.NoError(t, ctrl.RequestMemory("a", 1000))
	require.NoError(t, ctrl.RequestMemory("b", 500))

	ctrl.ResetStreamUsage("a")

	stats := ctrl.Stats()
	assert.Equal(t, int64(500), stats.GlobalUsage)
	assert.Equal(t, 1, stats.ActiveStreams)
	require.Len(t, stats.StreamStats, 1)
	assert.Equal(t, "b", stats.StreamStats[0].StreamID)
	assert.InDelta(t, 500.0/2048.0*100, stats.StreamStats[0].Percent, 1e-9)
}

func TestController_Concurrent(t *testing.T) {
	ctrl := NewController(1<<30, 1<<20)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			stream := fmt.Sprintf("stream-%d", id)
			for j := 0; j < 200; j++ {
				if ctrl.RequestMemory(stream, 1024) == nil {
					ctrl.ReleaseMemory(stream, 1024)
				}
			}
		}(i)
	}
	wg.Wait()

	stats := ctrl.Stats()
	assert.Equal(t, int64(0), stats.GlobalUsage)
	assert.Equal(t, stats.AllocationCount, stats.ReleaseCount)
}
