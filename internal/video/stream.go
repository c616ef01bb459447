package video

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	apperrors "github.com/zsiec/volplayer/internal/errors"
	"github.com/zsiec/volplayer/internal/logger"
	"github.com/zsiec/volplayer/internal/metrics"
)

// maxPayloadSlack bounds how far a stored payload may exceed the raw frame
// size before the frame header is treated as corrupt.
const maxPayloadSlack = 1 << 20

// Option configures a Stream.
type Option func(*Stream)

// WithLogger sets the logger; the default discards everything.
func WithLogger(l logger.Logger) Option {
	return func(s *Stream) {
		s.log = l
	}
}

// Frame is one decoded video frame. Pixels is tightly packed RGBA and is
// overwritten by the next ReadNextFrame on the same stream.
type Frame struct {
	Index     int64
	PTS       uint64
	Timestamp time.Duration
	Pixels    []byte
}

// Info describes an open video stream.
type Info struct {
	Path       string        `json:"path"`
	Codec      string        `json:"codec"`
	Width      int           `json:"width"`
	Height     int           `json:"height"`
	FrameRate  float64       `json:"frame_rate"`
	FrameCount int64         `json:"frame_count"`
	Duration   time.Duration `json:"duration"`
	Position   int64         `json:"position"`
}

// Stream reads an IVF file front to back, one frame per ReadNextFrame.
type Stream struct {
	path string
	log  logger.Logger

	mu      sync.Mutex
	closed  bool
	file    *os.File
	r       *bufio.Reader
	header  fileHeader
	decoder payloadDecoder

	position int64
	payload  []byte
	frame    Frame
	row      []byte
}

// Open reads the file header and prepares sequential decoding.
func Open(path string, opts ...Option) (*Stream, error) {
	s := &Stream{path: path, log: logger.NewNullLogger()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("video", path)

	f, err := os.Open(path)
	if err != nil {
		s.log.WithError(err).Error("Failed to open video")
		return nil, apperrors.NewIOError(err, "open video %s", path)
	}

	r := bufio.NewReaderSize(f, 1<<20)
	header, err := readFileHeader(r, path)
	if err != nil {
		f.Close()
		s.log.WithError(err).Error("Failed to read video header")
		return nil, err
	}

	decoder, ok := newPayloadDecoder(header.codec(), int(header.Width), int(header.Height))
	if !ok {
		f.Close()
		err := apperrors.NewFormatError("%s: unsupported codec %q", path, header.codec())
		s.log.WithError(err).Error("Failed to open video")
		return nil, err
	}

	s.file = f
	s.r = r
	s.header = header
	s.decoder = decoder
	s.frame.Pixels = make([]byte, s.frameByteSize())

	s.log.WithFields(map[string]interface{}{
		"codec":       header.codec(),
		"width":       header.Width,
		"height":      header.Height,
		"frame_rate":  s.frameRate(),
		"frame_count": header.FrameCount,
	}).Info("Video stream opened")

	return s, nil
}

func (s *Stream) frameRate() float64 {
	return float64(s.header.Rate) / float64(s.header.Scale)
}

func (s *Stream) frameByteSize() int {
	return int(s.header.Width) * int(s.header.Height) * 4
}

// The accessors below report header metadata. The header is immutable, so
// they keep answering after Close; only Info, ReadNextFrame and Close check
// the handle.

// Width in pixels.
func (s *Stream) Width() int { return int(s.header.Width) }

// Height in pixels.
func (s *Stream) Height() int { return int(s.header.Height) }

// FrameRate in frames per second.
func (s *Stream) FrameRate() float64 { return s.frameRate() }

// FrameCount is the number of frames the header declares.
func (s *Stream) FrameCount() int64 { return int64(s.header.FrameCount) }

// FrameByteSize is the length of Frame.Pixels.
func (s *Stream) FrameByteSize() int { return s.frameByteSize() }

// Codec returns the payload fourcc.
func (s *Stream) Codec() string { return s.header.codec() }

// Duration is FrameCount / FrameRate.
func (s *Stream) Duration() time.Duration {
	return s.timestamp(uint64(s.header.FrameCount))
}

// timestamp converts time-base units to a duration.
func (s *Stream) timestamp(pts uint64) time.Duration {
	return time.Duration(float64(pts) * float64(s.header.Scale) / float64(s.header.Rate) * float64(time.Second))
}

// Position returns how many frames have been consumed.
func (s *Stream) Position() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// Info returns a snapshot of the stream's properties and position.
func (s *Stream) Info() (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Info{}, s.invalid()
	}
	return Info{
		Path:       s.path,
		Codec:      s.header.codec(),
		Width:      s.Width(),
		Height:     s.Height(),
		FrameRate:  s.frameRate(),
		FrameCount: s.FrameCount(),
		Duration:   s.Duration(),
		Position:   s.position,
	}, nil
}

func (s *Stream) invalid() error {
	return apperrors.NewInvalidHandleError("video stream " + s.path)
}

// ReadNextFrame decodes the next frame. With flipVertical the rows are
// reversed so row 0 is the bottom of the picture. A frame whose header was
// read is consumed even when its payload is rejected; a short read ends the
// stream.
func (s *Stream) ReadNextFrame(flipVertical bool) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, s.invalid()
	}
	if s.position >= int64(s.header.FrameCount) {
		return nil, apperrors.NewEndOfStreamError(int64(s.header.FrameCount))
	}

	start := time.Now()
	codec := s.header.codec()
	index := s.position

	pts, err := s.readPayload()
	if err == nil {
		if err = s.decoder.decode(s.payload, s.frame.Pixels); err != nil {
			err = apperrors.NewDecodeError(err, "frame %d", index)
		}
	}
	if err != nil {
		if appErr, ok := apperrors.GetAppError(err); ok {
			appErr.WithDetail("frame", index)
		}
		metrics.IncrementVideoError(codec, string(apperrors.TypeOf(err)))
		s.log.WithError(err).WithField("frame", index).Warn("Video frame decode failed")
		return nil, err
	}

	if flipVertical {
		s.flip()
	}

	s.frame.Index = index
	s.frame.PTS = pts
	s.frame.Timestamp = s.timestamp(pts)
	metrics.RecordVideoFrame(codec, time.Since(start))
	return &s.frame, nil
}

// readPayload reads the next frame header and payload into s.payload and
// advances the position past the frame.
func (s *Stream) readPayload() (uint64, error) {
	var raw [frameHeaderSize]byte
	if _, err := io.ReadFull(s.r, raw[:]); err != nil {
		return 0, s.readError(err, "frame header")
	}
	h := frameHeader{
		Size: binary.LittleEndian.Uint32(raw[0:4]),
		PTS:  binary.LittleEndian.Uint64(raw[4:12]),
	}

	s.position++

	if int64(h.Size) > int64(s.frameByteSize())+maxPayloadSlack {
		if _, err := s.r.Discard(int(h.Size)); err != nil {
			return 0, s.readError(err, "oversized payload")
		}
		return 0, apperrors.NewDecodeError(nil, "payload of %d bytes exceeds frame size %d", h.Size, s.frameByteSize())
	}
	if cap(s.payload) < int(h.Size) {
		s.payload = make([]byte, h.Size)
	}
	s.payload = s.payload[:h.Size]
	if _, err := io.ReadFull(s.r, s.payload); err != nil {
		return 0, s.readError(err, "payload")
	}
	return h.PTS, nil
}

// readError classifies a failed read. Running out of file leaves nothing
// to resynchronize on, so the remaining frames are dropped.
func (s *Stream) readError(err error, what string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		s.position = int64(s.header.FrameCount)
		return apperrors.NewDecodeError(err, "truncated %s", what)
	}
	return apperrors.NewIOError(err, "read %s from %s", what, s.path)
}

func (s *Stream) flip() {
	stride := int(s.header.Width) * 4
	if cap(s.row) < stride {
		s.row = make([]byte, stride)
	}
	row := s.row[:stride]
	pix := s.frame.Pixels
	for top, bottom := 0, int(s.header.Height)-1; top < bottom; top, bottom = top+1, bottom-1 {
		a := pix[top*stride : (top+1)*stride]
		b := pix[bottom*stride : (bottom+1)*stride]
		copy(row, a)
		copy(a, b)
		copy(b, row)
	}
}

// Close releases the file. Closing twice returns InvalidHandle.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.invalid()
	}
	s.closed = true
	s.r = nil
	s.payload = nil
	s.frame = Frame{}
	if err := s.file.Close(); err != nil {
		return apperrors.NewIOError(err, "close video %s", s.path)
	}
	s.log.Debug("Video stream closed")
	return nil
}
