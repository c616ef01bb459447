package health

import (
	"context"
	"fmt"
	"os"

	"github.com/zsiec/volplayer/internal/geometry"
	"github.com/zsiec/volplayer/internal/memory"
)

// MemoryChecker reports the geometry slab budget. Pressure at or above the
// threshold is degraded; a full budget is down.
type MemoryChecker struct {
	controller *memory.Controller
	threshold  float64
}

// NewMemoryChecker creates a checker over controller. threshold is a
// fraction of the global limit, e.g. 0.8.
func NewMemoryChecker(controller *memory.Controller, threshold float64) *MemoryChecker {
	return &MemoryChecker{
		controller: controller,
		threshold:  threshold,
	}
}

// Name returns the name of the checker.
func (m *MemoryChecker) Name() string {
	return "memory"
}

// Check compares the current pressure against the threshold.
func (m *MemoryChecker) Check(ctx context.Context) error {
	pressure := m.controller.GetPressure()
	switch {
	case pressure >= 1:
		return fmt.Errorf("memory budget exhausted")
	case pressure >= m.threshold:
		return Degraded("memory pressure %.0f%% above %.0f%%", pressure*100, m.threshold*100)
	}
	return nil
}

// Details reports usage and rejection counts.
func (m *MemoryChecker) Details() map[string]interface{} {
	stats := m.controller.Stats()
	return map[string]interface{}{
		"usage":          stats.GlobalUsage,
		"limit":          stats.GlobalLimit,
		"pressure":       stats.GlobalPressure,
		"active_streams": stats.ActiveStreams,
		"rejections":     stats.RejectionCount,
	}
}

// StoreChecker checks that the files behind every open geometry stream are
// still readable. Streaming streams read bodies on demand, so a vanished
// sequence file takes them down.
type StoreChecker struct {
	store *geometry.Store
}

// NewStoreChecker creates a checker over store.
func NewStoreChecker(store *geometry.Store) *StoreChecker {
	return &StoreChecker{store: store}
}

// Name returns the name of the checker.
func (s *StoreChecker) Name() string {
	return "geometry_store"
}

// Check stats the sequence file of every streaming stream. An empty store
// is degraded.
func (s *StoreChecker) Check(ctx context.Context) error {
	infos := s.store.List()
	if len(infos) == 0 {
		return Degraded("no geometry streams open")
	}
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !info.Streaming {
			continue
		}
		if _, err := os.Stat(info.SequencePath); err != nil {
			return fmt.Errorf("stream %s: %w", info.ID, err)
		}
	}
	return nil
}

// Details reports the open stream IDs and their frame counts.
func (s *StoreChecker) Details() map[string]interface{} {
	streams := make(map[string]interface{})
	for _, info := range s.store.List() {
		streams[info.ID] = info.FrameCount
	}
	return map[string]interface{}{"streams": streams}
}
