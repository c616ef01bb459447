package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	apperrors "github.com/zsiec/volplayer/internal/errors"
	"github.com/zsiec/volplayer/internal/geometry"
	"github.com/zsiec/volplayer/internal/logger"
	"github.com/zsiec/volplayer/internal/metrics"
	"github.com/zsiec/volplayer/internal/registry"
	"github.com/zsiec/volplayer/internal/video"
)

// Tick is what the renderer receives once per render tick. Geometry and
// Video are nil when nothing new arrived since the previous tick. Both are
// only valid until Render returns; a renderer that keeps them must copy.
type Tick struct {
	Elapsed  time.Duration
	Decision Decision
	Geometry *geometry.Block
	Video    *video.Frame
}

// Renderer is the host side of playback. An error stops the player.
type Renderer interface {
	Render(tick Tick) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(tick Tick) error

func (f RendererFunc) Render(tick Tick) error { return f(tick) }

// Config describes one playback session.
type Config struct {
	SessionID    string
	StreamID     string
	HeaderPath   string
	SequencePath string
	Streaming    bool
	VideoPath    string // empty for geometry-only playback
	FlipVertical bool

	GeometryFrameRate float64 // 0 = video frame rate
	RenderRate        float64 // 0 = video frame rate, else geometry frame rate
	Loop              bool
	StatusInterval    time.Duration
}

// Option configures a Player.
type Option func(*Player)

// WithLogger sets the player's logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Player) { p.log = l }
}

// WithVideoLogger sets the logger handed to the video stream.
func WithVideoLogger(l logger.Logger) Option {
	return func(p *Player) { p.videoLog = l }
}

// WithRegistry publishes the session while the player runs.
func WithRegistry(r registry.Registry) Option {
	return func(p *Player) { p.registry = r }
}

// Status is a snapshot of a player.
type Status struct {
	SessionID      string                `json:"session_id"`
	State          registry.SessionState `json:"state"`
	Elapsed        time.Duration         `json:"elapsed"`
	GeometryFrame  int                   `json:"geometry_frame"`
	VideoFrame     int64                 `json:"video_frame"`
	Drift          time.Duration         `json:"drift"`
	Loops          int64                 `json:"loops"`
	Rendered       int64                 `json:"rendered"`
	GeometryErrors int64                 `json:"geometry_errors"`
	VideoErrors    int64                 `json:"video_errors"`
	LastError      string                `json:"last_error,omitempty"`
	FrameCount     int                   `json:"frame_count"`
	Duration       time.Duration         `json:"duration"`
}

type geometryResult struct {
	frame int
	block geometry.Block
	err   error
}

type videoRequest struct {
	pulls  int
	reopen bool
}

type videoResult struct {
	frame *video.Frame
	err   error
}

// Player decodes geometry and video off the render goroutine and feeds a
// Renderer at a steady tick rate.
type Player struct {
	cfg      Config
	store    *geometry.Store
	stream   *geometry.Stream
	renderer Renderer
	clock    *Synchronizer
	rate     float64

	log      logger.Logger
	videoLog logger.Logger
	registry registry.Registry

	// video is owned by the video worker while Run is active. It is nil after
	// a failed reopen; hasVideo never changes after NewPlayer.
	video    *video.Stream
	hasVideo bool

	geometryReq chan int
	videoReq    chan videoRequest
	geometryOut *Handoff[geometryResult]
	videoOut    *Handoff[videoResult]

	mu     sync.RWMutex
	status Status
}

// NewPlayer opens the geometry stream through store and the video file, and
// derives the playback timing from them.
func NewPlayer(ctx context.Context, cfg Config, store *geometry.Store, renderer Renderer, opts ...Option) (*Player, error) {
	if renderer == nil {
		return nil, apperrors.NewValidationError("renderer is required")
	}
	p := &Player{
		cfg:         cfg,
		store:       store,
		renderer:    renderer,
		log:         logger.NewNullLogger(),
		videoLog:    logger.NewNullLogger(),
		geometryReq: make(chan int, 1),
		videoReq:    make(chan videoRequest, 1),
		geometryOut: NewHandoff[geometryResult]("geometry"),
		videoOut:    NewHandoff[videoResult]("video"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cfg.SessionID == "" {
		p.cfg.SessionID = registry.NewSessionID()
	}
	p.log = p.log.WithField("session_id", p.cfg.SessionID)

	stream, err := store.Open(ctx, cfg.StreamID, cfg.HeaderPath, cfg.SequencePath, cfg.Streaming)
	if err != nil {
		return nil, err
	}
	p.stream = stream
	frameCount, _ := stream.FrameCount()

	timing := Timing{GeometryFrameRate: cfg.GeometryFrameRate, GeometryFrameCount: frameCount}
	if cfg.VideoPath != "" {
		v, err := video.Open(cfg.VideoPath, video.WithLogger(p.videoLog))
		if err != nil {
			store.Close(stream.ID())
			return nil, err
		}
		p.video = v
		p.hasVideo = true
		timing.VideoFrameRate = v.FrameRate()
		timing.VideoFrameCount = v.FrameCount()
		if timing.GeometryFrameRate == 0 {
			timing.GeometryFrameRate = v.FrameRate()
		}
	}

	p.clock, err = NewSynchronizer(timing)
	if err != nil {
		p.Close()
		return nil, err
	}

	p.rate = cfg.RenderRate
	if p.rate <= 0 {
		p.rate = timing.VideoFrameRate
	}
	if p.rate <= 0 {
		p.rate = timing.GeometryFrameRate
	}

	p.status = Status{
		SessionID:     p.cfg.SessionID,
		State:         registry.StateStarting,
		GeometryFrame: -1,
		VideoFrame:    -1,
		FrameCount:    frameCount,
		Duration:      p.clock.Duration(),
	}
	return p, nil
}

// SessionID identifies the player in the registry.
func (p *Player) SessionID() string {
	return p.cfg.SessionID
}

// Status returns a snapshot of the player's progress.
func (p *Player) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

func (p *Player) updateStatus(fn func(*Status)) {
	p.mu.Lock()
	fn(&p.status)
	p.mu.Unlock()
}

// Run plays until the geometry ends (or forever when looping) or ctx is
// cancelled. A renderer error stops playback and is returned.
func (p *Player) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.register(ctx)
	p.updateStatus(func(s *Status) { s.State = registry.StatePlaying })
	p.log.WithFields(map[string]interface{}{
		"stream_id":   p.stream.ID(),
		"frames":      p.clock.Timing().GeometryFrameCount,
		"render_rate": p.rate,
		"loop":        p.cfg.Loop,
	}).Info("Playback started")

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return p.geometryWorker(gctx)
	})
	if p.hasVideo {
		g.Go(func() error {
			return p.videoWorker(gctx)
		})
	}
	g.Go(func() error {
		defer cancel()
		return p.renderLoop(gctx)
	})
	if p.registry != nil && p.cfg.StatusInterval > 0 {
		g.Go(func() error {
			p.statusLoop(gctx)
			return nil
		})
	}

	err := g.Wait()
	state, lastError := registry.StateStopped, ""
	if err != nil {
		state, lastError = registry.StateError, err.Error()
		p.log.WithError(err).Error("Playback failed")
	} else {
		p.log.Info("Playback stopped")
	}
	p.updateStatus(func(s *Status) {
		s.State = state
		if lastError != "" {
			s.LastError = lastError
		}
	})
	p.unregister(state, lastError)
	return err
}

func (p *Player) renderLoop(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Limit(p.rate), 1)
	start := time.Now()
	// pending is the last requested geometry frame not yet received.
	pending := -1

	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}

		elapsed := time.Since(start)
		if elapsed >= p.clock.Duration() {
			if !p.cfg.Loop {
				return p.finish(ctx, elapsed, pending)
			}
			start = time.Now()
			elapsed = 0
			pending = -1
			p.restart()
		}

		d := p.clock.Tick(elapsed)
		if d.DecodeGeometry {
			pending = d.GeometryFrame
			p.requestGeometry(d.GeometryFrame)
		}
		if d.VideoPulls > 0 {
			p.requestVideo(videoRequest{pulls: d.VideoPulls})
		}

		var geom *geometryResult
		if res, ok := p.geometryOut.Take(); ok {
			geom = &res
			if res.frame == pending {
				pending = -1
			}
		}
		var vid *videoResult
		if res, ok := p.videoOut.Take(); ok {
			vid = &res
		}
		if err := p.render(elapsed, d, geom, vid); err != nil {
			return err
		}
	}
}

// restart rewinds the clock for another pass. Results still waiting from
// the previous pass are dropped.
func (p *Player) restart() {
	p.clock.Reset()
	p.geometryOut.Drain()
	p.videoOut.Drain()
	if p.hasVideo {
		p.requestVideo(videoRequest{reopen: true})
	}
	metrics.IncrementPlayerLoops()
	p.updateStatus(func(s *Status) { s.Loops++ })
	p.log.Debug("Playback looped")
}

// finish makes sure the last geometry frame is requested, then renders
// results until it arrives.
func (p *Player) finish(ctx context.Context, elapsed time.Duration, pending int) error {
	last := p.clock.Timing().GeometryFrameCount - 1
	d, _ := p.clock.TickFrame(last)
	if d.DecodeGeometry {
		pending = last
		p.requestGeometry(last)
	}

	for pending >= 0 {
		res, err := p.geometryOut.Wait(ctx)
		if err != nil {
			return nil
		}
		if res.frame == pending {
			pending = -1
		}
		if err := p.render(elapsed, d, &res, nil); err != nil {
			return err
		}
	}
	return nil
}

// render hands one tick to the renderer, records it in the status and only
// then releases whatever was taken from the handoffs. The workers may
// overwrite a released buffer at any time.
func (p *Player) render(elapsed time.Duration, d Decision, geom *geometryResult, vid *videoResult) error {
	tick := Tick{Elapsed: elapsed, Decision: d}
	if geom != nil && geom.err == nil {
		tick.Geometry = &geom.block
	}
	if vid != nil && vid.err == nil {
		tick.Video = vid.frame
	}

	err := p.renderer.Render(tick)
	p.updateStatus(func(s *Status) {
		s.Elapsed = elapsed
		s.Drift = d.Drift
		s.Rendered++
		if tick.Geometry != nil {
			s.GeometryFrame = tick.Geometry.Frame
		}
		if tick.Video != nil {
			s.VideoFrame = tick.Video.Index
		}
		if geom != nil && geom.err != nil {
			s.GeometryErrors++
			s.LastError = geom.err.Error()
		}
		if vid != nil && vid.err != nil {
			s.VideoErrors++
			s.LastError = vid.err.Error()
		}
	})
	p.geometryOut.Release()
	p.videoOut.Release()
	return err
}

// requestGeometry replaces any request the worker has not picked up yet.
func (p *Player) requestGeometry(n int) {
	for {
		select {
		case p.geometryReq <- n:
			return
		default:
			select {
			case <-p.geometryReq:
			default:
			}
		}
	}
}

// requestVideo merges with a pending request, since every pull advances the
// stream. A reopen discards pulls queued before it.
func (p *Player) requestVideo(req videoRequest) {
	for {
		select {
		case p.videoReq <- req:
			return
		default:
			select {
			case old := <-p.videoReq:
				if !req.reopen {
					req.pulls += old.pulls
					req.reopen = old.reopen
				}
			default:
			}
		}
	}
}

func (p *Player) geometryWorker(ctx context.Context) error {
	for {
		var n int
		select {
		case <-ctx.Done():
			return nil
		case n = <-p.geometryReq:
		}

		if err := p.geometryOut.Acquire(ctx); err != nil {
			return nil
		}
		res := geometryResult{frame: n}
		if res.err = p.stream.ReadFrame(n); res.err == nil {
			res.block, res.err = p.stream.CurrentBlock()
		}
		if res.err != nil {
			p.log.WithError(res.err).WithField("frame", n).Warn("Skipping geometry frame")
		}
		p.geometryOut.Publish(res)
	}
}

func (p *Player) videoWorker(ctx context.Context) error {
	for {
		var req videoRequest
		select {
		case <-ctx.Done():
			return nil
		case req = <-p.videoReq:
		}

		if err := p.videoOut.Acquire(ctx); err != nil {
			return nil
		}
		if req.reopen {
			if err := p.reopenVideo(); err != nil {
				p.log.WithError(err).Warn("Video unavailable until the next loop")
				p.videoOut.Publish(videoResult{err: err})
				continue
			}
		}
		if p.video == nil {
			p.videoOut.Skip()
			continue
		}

		var res videoResult
		for i := 0; i < req.pulls; i++ {
			frame, err := p.video.ReadNextFrame(p.cfg.FlipVertical)
			if errors.Is(err, apperrors.ErrEndOfStream) {
				break
			}
			if err != nil {
				// The bad frame is consumed; keep the last good one.
				p.log.WithError(err).Warn("Skipping video frame")
				res.err = err
				continue
			}
			res = videoResult{frame: frame}
		}
		if res.frame == nil && res.err == nil {
			p.videoOut.Skip()
			continue
		}
		p.videoOut.Publish(res)
	}
}

func (p *Player) reopenVideo() error {
	if p.video != nil {
		p.video.Close()
	}
	v, err := video.Open(p.cfg.VideoPath, video.WithLogger(p.videoLog))
	if err != nil {
		p.video = nil
		return err
	}
	p.video = v
	return nil
}

func (p *Player) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := p.Status()
			err := p.registry.UpdateStats(ctx, p.cfg.SessionID, &registry.SessionStats{
				GeometryFrame: st.GeometryFrame,
				VideoFrame:    st.VideoFrame,
				Drift:         st.Drift,
				Loops:         st.Loops,
				Rendered:      st.Rendered,
			})
			if err != nil && ctx.Err() == nil {
				p.log.WithError(err).Warn("Failed to publish session status")
			}
		}
	}
}

func (p *Player) register(ctx context.Context) {
	if p.registry == nil {
		return
	}
	timing := p.clock.Timing()
	session := &registry.Session{
		ID:                 p.cfg.SessionID,
		StreamID:           p.stream.ID(),
		HeaderPath:         p.cfg.HeaderPath,
		SequencePath:       p.cfg.SequencePath,
		VideoPath:          p.cfg.VideoPath,
		State:              registry.StatePlaying,
		GeometryFrameRate:  timing.GeometryFrameRate,
		GeometryFrameCount: timing.GeometryFrameCount,
		VideoFrameCount:    timing.VideoFrameCount,
		GeometryFrame:      -1,
		VideoFrame:         -1,
	}
	if err := p.registry.Register(ctx, session); err != nil {
		p.log.WithError(err).Warn("Failed to register session")
	}
}

func (p *Player) unregister(state registry.SessionState, lastError string) {
	if p.registry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.registry.UpdateState(ctx, p.cfg.SessionID, state, lastError); err != nil {
		p.log.WithError(err).Debug("Failed to publish final session state")
	}
	if err := p.registry.Unregister(ctx, p.cfg.SessionID); err != nil {
		p.log.WithError(err).Debug("Failed to unregister session")
	}
}

// Close releases the video stream and the geometry stream. It must not be
// called while Run is active.
func (p *Player) Close() error {
	var first error
	if p.video != nil {
		if err := p.video.Close(); err != nil {
			first = err
		}
		p.video = nil
	}
	if err := p.store.Close(p.stream.ID()); err != nil && first == nil {
		first = err
	}
	return first
}
