package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Geometry metrics
	geometryStreamsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "volplayer_geometry_streams_open",
		Help: "Number of open geometry stream handles",
	})

	geometryFramesDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "volplayer_geometry_frames_decoded_total",
		Help: "Geometry frames decoded, by the kind of the requested frame",
	}, []string{"stream_id", "kind"})

	geometryDecodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "volplayer_geometry_decode_duration_seconds",
		Help:    "Time to resolve and pack one geometry frame",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14), // 50µs to ~400ms
	}, []string{"stream_id"})

	geometryChainLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "volplayer_geometry_chain_length",
		Help:    "Deltas replayed per decoded frame",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64, 128},
	})

	geometryCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "volplayer_geometry_cache_lookups_total",
		Help: "Working-mesh cache lookups by result (hit, miss)",
	}, []string{"result"})

	geometryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "volplayer_geometry_errors_total",
		Help: "Geometry decode failures by error type",
	}, []string{"stream_id", "error_type"})

	geometryBlockBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "volplayer_geometry_block_bytes",
		Help: "Size of the current packed geometry block",
	}, []string{"stream_id"})

	// Video metrics
	videoFramesDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "volplayer_video_frames_decoded_total",
		Help: "Video frames decoded by codec",
	}, []string{"codec"})

	videoDecodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "volplayer_video_decode_duration_seconds",
		Help:    "Time to read and convert one video frame",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 100µs to ~200ms
	}, []string{"codec"})

	videoErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "volplayer_video_errors_total",
		Help: "Video read failures by error type",
	}, []string{"codec", "error_type"})

	// Synchronization metrics
	syncVideoDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "volplayer_sync_video_decisions_total",
		Help: "Per-tick video decisions (advance, hold, skip)",
	}, []string{"decision"})

	syncFramesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "volplayer_sync_video_frames_skipped_total",
		Help: "Video frames decoded and discarded to catch up with geometry",
	})

	syncDrift = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "volplayer_sync_drift_seconds",
		Help: "Video timestamp minus geometry clock after the last tick",
	})

	playerLoops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "volplayer_player_loops_total",
		Help: "Number of times playback wrapped to the start",
	})

	handoffDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "volplayer_handoff_dropped_total",
		Help: "Results replaced before the render loop consumed them",
	}, []string{"kind"})

	// Memory metrics
	memoryUsageBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "volplayer_memory_usage_bytes",
		Help: "Bytes reserved for geometry block buffers",
	})

	memoryPressure = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "volplayer_memory_pressure_ratio",
		Help: "Reserved bytes over the configured total",
	})

	memoryRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "volplayer_memory_rejections_total",
		Help: "Buffer reservations refused by limit",
	}, []string{"limit"})
)

// SetGeometryStreamsOpen records how many geometry handles are open.
func SetGeometryStreamsOpen(n int) {
	geometryStreamsOpen.Set(float64(n))
}

// RecordGeometryDecode records one successful ReadFrame.
func RecordGeometryDecode(streamID, kind string, chain int, blockBytes int, elapsed time.Duration) {
	geometryFramesDecoded.WithLabelValues(streamID, kind).Inc()
	geometryDecodeDuration.WithLabelValues(streamID).Observe(elapsed.Seconds())
	geometryChainLength.Observe(float64(chain))
	geometryBlockBytes.WithLabelValues(streamID).Set(float64(blockBytes))
}

// RecordGeometryCache records whether the working mesh could be reused.
func RecordGeometryCache(hit bool) {
	if hit {
		geometryCacheLookups.WithLabelValues("hit").Inc()
		return
	}
	geometryCacheLookups.WithLabelValues("miss").Inc()
}

// IncrementGeometryError counts a failed geometry operation.
func IncrementGeometryError(streamID, errorType string) {
	geometryErrors.WithLabelValues(streamID, errorType).Inc()
}

// ForgetGeometryStream drops per-stream series after a handle closes.
func ForgetGeometryStream(streamID string) {
	geometryBlockBytes.DeleteLabelValues(streamID)
	geometryDecodeDuration.DeleteLabelValues(streamID)
}

// RecordVideoFrame records one decoded video frame.
func RecordVideoFrame(codec string, elapsed time.Duration) {
	videoFramesDecoded.WithLabelValues(codec).Inc()
	videoDecodeDuration.WithLabelValues(codec).Observe(elapsed.Seconds())
}

// IncrementVideoError counts a failed video read.
func IncrementVideoError(codec, errorType string) {
	videoErrors.WithLabelValues(codec, errorType).Inc()
}

// RecordSyncDecision records the video side of one synchronizer tick.
func RecordSyncDecision(pulls int, drift time.Duration) {
	switch {
	case pulls == 0:
		syncVideoDecisions.WithLabelValues("hold").Inc()
	case pulls == 1:
		syncVideoDecisions.WithLabelValues("advance").Inc()
	default:
		syncVideoDecisions.WithLabelValues("skip").Inc()
		syncFramesSkipped.Add(float64(pulls - 1))
	}
	syncDrift.Set(drift.Seconds())
}

// IncrementPlayerLoops counts a wrap to frame zero.
func IncrementPlayerLoops() {
	playerLoops.Inc()
}

// IncrementHandoffDropped counts a result overwritten before it was taken.
func IncrementHandoffDropped(kind string) {
	handoffDropped.WithLabelValues(kind).Inc()
}

// SetMemoryUsage publishes controller usage.
func SetMemoryUsage(used int64, pressure float64) {
	memoryUsageBytes.Set(float64(used))
	memoryPressure.Set(pressure)
}

// IncrementMemoryRejection counts a refused reservation; limit is "total" or "stream".
func IncrementMemoryRejection(limit string) {
	memoryRejections.WithLabelValues(limit).Inc()
}
