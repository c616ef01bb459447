package playback

import (
	"math"
	"time"

	apperrors "github.com/zsiec/volplayer/internal/errors"
	"github.com/zsiec/volplayer/internal/metrics"
)

// clockEpsilon absorbs float error so that FrameTime(n) maps back to n.
const clockEpsilon = 1e-6

// Timing describes the two streams being aligned. A zero VideoFrameRate
// means geometry-only playback.
type Timing struct {
	GeometryFrameRate  float64
	GeometryFrameCount int
	VideoFrameRate     float64
	VideoFrameCount    int64
}

// Decision is what one render tick should do.
type Decision struct {
	// GeometryFrame is the geometry frame for this tick.
	GeometryFrame int
	// DecodeGeometry is false when GeometryFrame is the frame already
	// requested on the previous tick.
	DecodeGeometry bool
	// VideoPulls is how many frames to read from the video stream. Only the
	// last one is shown: 0 repeats the previous frame, more than 1 skips.
	VideoPulls int
	// VideoFrame is the video frame shown after the pulls, -1 before any.
	VideoFrame int64
	// Drift is the shown video frame's time minus the playback clock.
	Drift time.Duration
	// VideoExhausted is set once every video frame has been pulled.
	VideoExhausted bool
}

// Synchronizer maps a playback clock to a geometry frame and decides how
// the sequential video stream should advance to stay within one frame
// period of it. Video is never rewound. A Synchronizer is not safe for
// concurrent use.
type Synchronizer struct {
	timing       Timing
	lastGeometry int
	videoNext    int64
}

// NewSynchronizer validates timing and returns a synchronizer at time zero.
func NewSynchronizer(timing Timing) (*Synchronizer, error) {
	switch {
	case timing.GeometryFrameRate <= 0 || math.IsNaN(timing.GeometryFrameRate) || math.IsInf(timing.GeometryFrameRate, 0):
		return nil, apperrors.NewValidationError("geometry frame rate must be positive")
	case timing.GeometryFrameCount <= 0:
		return nil, apperrors.NewValidationError("geometry frame count must be positive")
	case timing.VideoFrameRate < 0 || math.IsNaN(timing.VideoFrameRate) || math.IsInf(timing.VideoFrameRate, 0):
		return nil, apperrors.NewValidationError("video frame rate must not be negative")
	case timing.VideoFrameCount < 0:
		return nil, apperrors.NewValidationError("video frame count must not be negative")
	}
	return &Synchronizer{timing: timing, lastGeometry: -1}, nil
}

// Timing returns the rates and counts the synchronizer was built with.
func (s *Synchronizer) Timing() Timing {
	return s.timing
}

// GeometryFrameAt returns floor(elapsed * rate) clamped to [0, count).
func (s *Synchronizer) GeometryFrameAt(elapsed time.Duration) int {
	f := math.Floor(elapsed.Seconds()*s.timing.GeometryFrameRate + clockEpsilon)
	switch {
	case f < 0:
		return 0
	case f >= float64(s.timing.GeometryFrameCount):
		return s.timing.GeometryFrameCount - 1
	default:
		return int(f)
	}
}

// FrameTime returns the presentation time of geometry frame n.
func (s *Synchronizer) FrameTime(n int) time.Duration {
	return secondsToDuration(float64(n) / s.timing.GeometryFrameRate)
}

// Duration is the geometry stream's length.
func (s *Synchronizer) Duration() time.Duration {
	return s.FrameTime(s.timing.GeometryFrameCount)
}

func (s *Synchronizer) hasVideo() bool {
	return s.timing.VideoFrameRate > 0 && s.timing.VideoFrameCount > 0
}

func (s *Synchronizer) videoTime(n int64) time.Duration {
	return secondsToDuration(float64(n) / s.timing.VideoFrameRate)
}

// Tick advances the synchronizer to elapsed.
func (s *Synchronizer) Tick(elapsed time.Duration) Decision {
	if elapsed < 0 {
		elapsed = 0
	}
	geometry := s.GeometryFrameAt(elapsed)
	d := Decision{
		GeometryFrame:  geometry,
		DecodeGeometry: geometry != s.lastGeometry,
		VideoFrame:     s.videoNext - 1,
	}
	s.lastGeometry = geometry

	if !s.hasVideo() {
		d.VideoExhausted = true
		return d
	}

	d.VideoPulls = s.videoPulls(elapsed)
	s.videoNext += int64(d.VideoPulls)
	d.VideoFrame = s.videoNext - 1
	d.VideoExhausted = s.videoNext >= s.timing.VideoFrameCount
	if d.VideoFrame >= 0 {
		d.Drift = s.videoTime(d.VideoFrame) - elapsed
	}

	metrics.RecordSyncDecision(d.VideoPulls, d.Drift)
	return d
}

// videoPulls applies the hold/advance/skip policy: one frame per tick,
// none when the next frame would be more than one period ahead of the
// clock, and enough to land on the clock's frame when the next frame would
// be more than one period behind.
func (s *Synchronizer) videoPulls(elapsed time.Duration) int {
	remaining := s.timing.VideoFrameCount - s.videoNext
	if remaining <= 0 {
		return 0
	}

	period := 1 / s.timing.VideoFrameRate
	clock := elapsed.Seconds()
	drift := float64(s.videoNext)/s.timing.VideoFrameRate - clock

	switch {
	case s.videoNext > 0 && drift > period+clockEpsilon:
		return 0
	case drift < -period-clockEpsilon:
		target := int64(math.Floor(clock*s.timing.VideoFrameRate + clockEpsilon))
		if target >= s.timing.VideoFrameCount {
			target = s.timing.VideoFrameCount - 1
		}
		pulls := target - s.videoNext + 1
		if pulls > remaining {
			pulls = remaining
		}
		return int(pulls)
	default:
		return 1
	}
}

// TickFrame is Tick for an explicit geometry frame request.
func (s *Synchronizer) TickFrame(n int) (Decision, error) {
	if n < 0 || n >= s.timing.GeometryFrameCount {
		return Decision{}, apperrors.NewOutOfRangeError(n, s.timing.GeometryFrameCount)
	}
	return s.Tick(s.FrameTime(n)), nil
}

// Reset returns to time zero. The caller must reopen the video stream.
func (s *Synchronizer) Reset() {
	s.lastGeometry = -1
	s.videoNext = 0
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(math.Round(sec * float64(time.Second)))
}
