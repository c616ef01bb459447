package geometry

import (
	"time"

	apperrors "github.com/zsiec/volplayer/internal/errors"
	"github.com/zsiec/volplayer/internal/metrics"
)

// ReadFrame decodes frame n into the stream's block. A keyframe is decoded
// directly; a delta is rebuilt from its preceding keyframe by replaying every
// delta after it in order. When the working mesh already holds an earlier
// frame of the same keyframe run, only the deltas after it are replayed.
//
// On failure the block from the previous successful call stays current.
func (s *Stream) ReadFrame(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.invalid()
	}

	start := time.Now()
	rec, err := s.index.Record(n)
	if err != nil {
		return err
	}

	// Same frame again: the packed block is already byte-identical.
	if s.block.Frame == n && s.workFrame == n {
		return nil
	}

	chain, err := s.resolve(rec)
	if err != nil {
		s.workFrame = -1
		metrics.IncrementGeometryError(s.id, string(apperrors.TypeOf(err)))
		s.log.WithError(err).WithField("frame", n).Warn("Geometry frame decode failed")
		return err
	}

	if err := s.publish(n); err != nil {
		metrics.IncrementGeometryError(s.id, string(apperrors.TypeOf(err)))
		s.log.WithError(err).WithField("frame", n).Warn("Geometry frame pack failed")
		return err
	}

	metrics.RecordGeometryDecode(s.id, rec.Kind.String(), chain, len(s.block.Data), time.Since(start))
	return nil
}

// resolve brings the working mesh to frame rec.Number and returns how many
// deltas were replayed.
func (s *Stream) resolve(rec FrameRecord) (int, error) {
	from := rec.Keyframe
	cached := s.workFrame >= 0 && s.workKeyframe == rec.Keyframe && s.workFrame <= rec.Number
	metrics.RecordGeometryCache(cached)

	if cached {
		from = s.workFrame
	} else {
		if err := s.decodeKeyframe(rec.Keyframe); err != nil {
			return 0, err
		}
		s.workKeyframe = rec.Keyframe
		s.workFrame = rec.Keyframe
	}

	for f := from + 1; f <= rec.Number; f++ {
		if err := s.applyDelta(f); err != nil {
			return 0, err
		}
		s.workFrame = f
	}
	return rec.Number - from, nil
}

func (s *Stream) rawBody(n int) ([]byte, error) {
	rec := s.index.records[n]
	stored, err := s.src.body(rec.Offset, rec.Size)
	if err != nil {
		return nil, err
	}
	return s.bodies.decode(stored, n)
}

func (s *Stream) decodeKeyframe(n int) error {
	body, err := s.rawBody(n)
	if err != nil {
		return err
	}
	return s.work.decodeKeyframe(body, n)
}

func (s *Stream) applyDelta(n int) error {
	body, err := s.rawBody(n)
	if err != nil {
		return err
	}
	return s.work.applyDelta(body, n)
}

// publish packs the working mesh into the back slab and swaps it to the
// front.
func (s *Stream) publish(n int) error {
	dst, err := s.alloc.Back(s.work.packedSize())
	if err != nil {
		e := apperrors.NewCorruptFrameError(n, "packed frame of %d bytes exceeds memory budget", s.work.packedSize())
		e.Err = err
		return e
	}
	block, err := s.work.pack(dst, n)
	if err != nil {
		return err
	}
	s.alloc.Swap()
	s.block = block
	return nil
}
