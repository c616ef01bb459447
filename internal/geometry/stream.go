package geometry

import (
	"context"
	"sync"

	"github.com/google/uuid"

	apperrors "github.com/zsiec/volplayer/internal/errors"
	"github.com/zsiec/volplayer/internal/logger"
	"github.com/zsiec/volplayer/internal/metrics"
)

// Option configures a Stream.
type Option func(*options)

type options struct {
	log    logger.Logger
	budget Budget
}

// WithLogger sets the logger, normally the geometry channel.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithBudget charges the stream's slabs to b.
func WithBudget(b Budget) Option {
	return func(o *options) { o.budget = b }
}

// Stream is one open geometry container. A mutex serializes decoding with
// every other call, so Close waits for an in-flight ReadFrame.
type Stream struct {
	id           string
	headerPath   string
	sequencePath string
	streaming    bool
	log          logger.Logger

	mu     sync.RWMutex
	closed bool
	header Header
	index  *Index
	src    source
	bodies *bodyDecoder
	alloc  *Allocator

	work         *mesh
	workFrame    int // frame the working mesh holds, -1 when invalid
	workKeyframe int
	block        Block
}

// Info summarizes an open stream.
type Info struct {
	ID            string `json:"id"`
	HeaderPath    string `json:"header_path"`
	SequencePath  string `json:"sequence_path"`
	Streaming     bool   `json:"streaming"`
	Compression   string `json:"compression"`
	FrameCount    int    `json:"frame_count"`
	KeyframeCount int    `json:"keyframe_count"`
	CurrentFrame  int    `json:"current_frame"`
	ReservedBytes int64  `json:"reserved_bytes"`
	Header        Header `json:"header"`
}

// Open parses the header, scans the sequence into an index and returns a
// ready stream. An empty id gets a generated one. In streaming mode the
// sequence stays open and bodies are read on demand; otherwise the sequence
// is loaded up front.
func Open(ctx context.Context, id, headerPath, sequencePath string, streaming bool, opts ...Option) (*Stream, error) {
	o := options{log: logger.NewNullLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	if id == "" {
		id = uuid.New().String()
	}
	log := o.log.WithFields(map[string]interface{}{
		"stream_id": id,
		"streaming": streaming,
	})

	header, err := ReadHeaderFile(headerPath)
	if err != nil {
		log.WithError(err).Error("Failed to read geometry header")
		return nil, err
	}

	src, err := openSource(sequencePath, streaming)
	if err != nil {
		log.WithError(err).Error("Failed to open geometry sequence")
		return nil, err
	}

	index, err := scanSequence(ctx, src, header.FrameCount)
	if err != nil {
		src.Close()
		if appErr, ok := apperrors.GetAppError(err); ok {
			appErr.WithDetail("path", sequencePath)
		}
		log.WithError(err).Error("Failed to index geometry sequence")
		return nil, err
	}

	s := &Stream{
		id:           id,
		headerPath:   headerPath,
		sequencePath: sequencePath,
		streaming:    streaming,
		log:          log,
		header:       header,
		index:        index,
		src:          src,
		bodies:       newBodyDecoder(header.Compression),
		alloc:        NewAllocator(id, o.budget),
		work:         newMesh(header),
		workFrame:    -1,
		block:        emptyBlock(),
	}

	log.WithFields(map[string]interface{}{
		"version":     header.Version,
		"frames":      index.Len(),
		"keyframes":   index.KeyframeCount(),
		"compression": header.Compression.String(),
		"mesh":        header.MeshName,
	}).Info("Geometry stream opened")

	return s, nil
}

// ID returns the stream's identifier.
func (s *Stream) ID() string {
	return s.id
}

func (s *Stream) invalid() error {
	return apperrors.NewInvalidHandleError("geometry stream " + s.id)
}

// Header returns the parsed header.
func (s *Stream) Header() (Header, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Header{}, s.invalid()
	}
	return s.header, nil
}

// FrameCount returns the number of frames declared by the header.
func (s *Stream) FrameCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, s.invalid()
	}
	return s.header.FrameCount, nil
}

// KeyframeCount returns how many frames are keyframes.
func (s *Stream) KeyframeCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, s.invalid()
	}
	return s.index.KeyframeCount(), nil
}

// IsKeyframe reports whether frame n is a keyframe.
func (s *Stream) IsKeyframe(n int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, s.invalid()
	}
	return s.index.IsKeyframe(n)
}

// FindPrecedingKeyframe returns the keyframe that frame n is decoded from.
func (s *Stream) FindPrecedingKeyframe(n int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, s.invalid()
	}
	return s.index.FindPrecedingKeyframe(n)
}

// Record returns the index entry for frame n.
func (s *Stream) Record(n int) (FrameRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return FrameRecord{}, s.invalid()
	}
	return s.index.Record(n)
}

// ChainLength returns how many deltas a cold decode of frame n replays.
func (s *Stream) ChainLength(n int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, s.invalid()
	}
	return s.index.ChainLength(n)
}

// CurrentBlock returns the block written by the last successful ReadFrame,
// or an empty block with Frame -1 before the first one.
func (s *Stream) CurrentBlock() (Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Block{}, s.invalid()
	}
	return s.block, nil
}

// Info returns a summary of the stream.
func (s *Stream) Info() (Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Info{}, s.invalid()
	}
	return Info{
		ID:            s.id,
		HeaderPath:    s.headerPath,
		SequencePath:  s.sequencePath,
		Streaming:     s.streaming,
		Compression:   s.header.Compression.String(),
		FrameCount:    s.header.FrameCount,
		KeyframeCount: s.index.KeyframeCount(),
		CurrentFrame:  s.block.Frame,
		ReservedBytes: s.alloc.Reserved(),
		Header:        s.header,
	}, nil
}

// Close releases the slabs, the index and the sequence file or mapping.
// Closing twice returns InvalidHandle.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.invalid()
	}
	s.closed = true

	err := s.src.Close()
	s.alloc.Release()
	s.src = nil
	s.index = nil
	s.work = nil
	s.block = Block{}
	metrics.ForgetGeometryStream(s.id)

	if err != nil {
		s.log.WithError(err).Warn("Error releasing geometry sequence")
		return apperrors.NewIOError(err, "close sequence %s", s.sequencePath)
	}
	s.log.Debug("Geometry stream closed")
	return nil
}
