package memory

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/zsiec/volplayer/internal/metrics"
)

var (
	// ErrGlobalMemoryLimit indicates the global memory limit has been reached
	ErrGlobalMemoryLimit = errors.New("global memory limit exceeded")

	// ErrStreamMemoryLimit indicates a stream's memory limit has been reached
	ErrStreamMemoryLimit = errors.New("stream memory limit exceeded")
)

// Controller budgets the byte slabs that geometry streams pack frames into.
// Reservations are made when a slab grows and released when it shrinks or the
// stream closes.
type Controller struct {
	maxMemory      int64
	perStreamLimit int64
	usage          atomic.Int64
	streamUsage    sync.Map // streamID -> *atomic.Int64

	allocationCount atomic.Int64
	releaseCount    atomic.Int64
	rejectionCount  atomic.Int64

	streamInitMu sync.Mutex
}

// NewController creates a new memory controller.
func NewController(maxMemory, perStreamLimit int64) *Controller {
	return &Controller{
		maxMemory:      maxMemory,
		perStreamLimit: perStreamLimit,
	}
}

// RequestMemory reserves size bytes for a stream.
func (c *Controller) RequestMemory(streamID string, size int64) error {
	if size <= 0 {
		return nil
	}

	if c.usage.Add(size) > c.maxMemory {
		c.usage.Add(-size)
		c.reject("total")
		return ErrGlobalMemoryLimit
	}

	usage := c.getOrCreateStreamUsage(streamID)
	if usage.Add(size) > c.perStreamLimit {
		usage.Add(-size)
		c.usage.Add(-size)
		c.reject("stream")
		return ErrStreamMemoryLimit
	}

	c.allocationCount.Add(1)
	c.publish()
	return nil
}

func (c *Controller) reject(limit string) {
	c.rejectionCount.Add(1)
	metrics.IncrementMemoryRejection(limit)
}

func (c *Controller) getOrCreateStreamUsage(streamID string) *atomic.Int64 {
	if val, ok := c.streamUsage.Load(streamID); ok {
		return val.(*atomic.Int64)
	}

	c.streamInitMu.Lock()
	defer c.streamInitMu.Unlock()

	if val, ok := c.streamUsage.Load(streamID); ok {
		return val.(*atomic.Int64)
	}

	usage := &atomic.Int64{}
	c.streamUsage.Store(streamID, usage)
	return usage
}

// ReleaseMemory returns up to size bytes previously reserved by a stream.
// Releasing more than the stream holds releases only what it holds.
func (c *Controller) ReleaseMemory(streamID string, size int64) {
	val, ok := c.streamUsage.Load(streamID)
	if !ok || size <= 0 {
		return
	}

	usage := val.(*atomic.Int64)
	for {
		old := usage.Load()
		if old <= 0 {
			return
		}
		release := size
		if old < size {
			release = old
		}
		if usage.CompareAndSwap(old, old-release) {
			c.usage.Add(-release)
			break
		}
	}

	c.releaseCount.Add(1)
	c.publish()
}

// ResetStreamUsage releases everything a stream holds and forgets it.
func (c *Controller) ResetStreamUsage(streamID string) {
	if val, ok := c.streamUsage.LoadAndDelete(streamID); ok {
		if remaining := val.(*atomic.Int64).Swap(0); remaining > 0 {
			c.usage.Add(-remaining)
		}
	}
	c.publish()
}

// GetPressure returns global usage over the limit.
func (c *Controller) GetPressure() float64 {
	if c.maxMemory <= 0 {
		return 0
	}
	return float64(c.usage.Load()) / float64(c.maxMemory)
}

// GetStreamUsage returns the bytes reserved by a stream.
func (c *Controller) GetStreamUsage(streamID string) int64 {
	if val, ok := c.streamUsage.Load(streamID); ok {
		return val.(*atomic.Int64).Load()
	}
	return 0
}

func (c *Controller) publish() {
	metrics.SetMemoryUsage(c.usage.Load(), c.GetPressure())
}

// Stats returns memory controller statistics.
func (c *Controller) Stats() MemoryStats {
	var streamStats []StreamMemoryStats
	c.streamUsage.Range(func(key, value interface{}) bool {
		if usage := value.(*atomic.Int64).Load(); usage > 0 {
			streamStats = append(streamStats, StreamMemoryStats{
				StreamID: key.(string),
				Usage:    usage,
				Percent:  float64(usage) / float64(c.perStreamLimit) * 100,
			})
		}
		return true
	})
	sort.Slice(streamStats, func(i, j int) bool {
		return streamStats[i].StreamID < streamStats[j].StreamID
	})

	return MemoryStats{
		GlobalUsage:     c.usage.Load(),
		GlobalLimit:     c.maxMemory,
		GlobalPressure:  c.GetPressure(),
		PerStreamLimit:  c.perStreamLimit,
		ActiveStreams:   len(streamStats),
		StreamStats:     streamStats,
		AllocationCount: c.allocationCount.Load(),
		ReleaseCount:    c.releaseCount.Load(),
		RejectionCount:  c.rejectionCount.Load(),
	}
}

// MemoryStats holds memory controller statistics.
type MemoryStats struct {
	GlobalUsage     int64               `json:"global_usage"`
	GlobalLimit     int64               `json:"global_limit"`
	GlobalPressure  float64             `json:"global_pressure"`
	PerStreamLimit  int64               `json:"per_stream_limit"`
	ActiveStreams   int                 `json:"active_streams"`
	StreamStats     []StreamMemoryStats `json:"streams,omitempty"`
	AllocationCount int64               `json:"allocation_count"`
	ReleaseCount    int64               `json:"release_count"`
	RejectionCount  int64               `json:"rejection_count"`
}

// StreamMemoryStats holds per-stream memory statistics.
type StreamMemoryStats struct {
	StreamID string  `json:"stream_id"`
	Usage    int64   `json:"usage"`
	Percent  float64 `json:"percent"`
}
