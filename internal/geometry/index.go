package geometry

import (
	apperrors "github.com/zsiec/volplayer/internal/errors"
)

// FrameKind distinguishes self-contained frames from incremental ones.
type FrameKind uint8

const (
	Delta    FrameKind = 0
	Keyframe FrameKind = 1
)

func (k FrameKind) String() string {
	if k == Keyframe {
		return "keyframe"
	}
	return "delta"
}

// FrameRecord locates one frame in the sequence container.
type FrameRecord struct {
	Number   int       `json:"number"`
	Kind     FrameKind `json:"-"`
	Keyframe int       `json:"keyframe"` // preceding keyframe, self for keyframes
	Offset   int64     `json:"offset"`   // body offset in the sequence file
	Size     uint32    `json:"size"`     // stored body length
}

// Index answers keyframe queries in constant time. It is built once while
// scanning record headers and never changes afterwards.
type Index struct {
	records   []FrameRecord
	keyframes int
}

func newIndex(capacity int) *Index {
	return &Index{records: make([]FrameRecord, 0, capacity)}
}

// add appends the next record. The caller guarantees numbering and that the
// first record is a keyframe.
func (ix *Index) add(kind FrameKind, offset int64, size uint32) {
	n := len(ix.records)
	keyframe := n
	if kind == Delta {
		keyframe = ix.records[n-1].Keyframe
	} else {
		ix.keyframes++
	}
	ix.records = append(ix.records, FrameRecord{
		Number:   n,
		Kind:     kind,
		Keyframe: keyframe,
		Offset:   offset,
		Size:     size,
	})
}

// Len returns the number of indexed frames.
func (ix *Index) Len() int {
	return len(ix.records)
}

// KeyframeCount returns how many frames are keyframes.
func (ix *Index) KeyframeCount() int {
	return ix.keyframes
}

// Record returns the record for frame n.
func (ix *Index) Record(n int) (FrameRecord, error) {
	if n < 0 || n >= len(ix.records) {
		return FrameRecord{}, apperrors.NewOutOfRangeError(n, len(ix.records))
	}
	return ix.records[n], nil
}

// IsKeyframe reports whether frame n is a keyframe.
func (ix *Index) IsKeyframe(n int) (bool, error) {
	rec, err := ix.Record(n)
	if err != nil {
		return false, err
	}
	return rec.Kind == Keyframe, nil
}

// FindPrecedingKeyframe returns the keyframe frame n is rooted at; n itself
// for keyframes.
func (ix *Index) FindPrecedingKeyframe(n int) (int, error) {
	rec, err := ix.Record(n)
	if err != nil {
		return 0, err
	}
	return rec.Keyframe, nil
}

// ChainLength returns the number of deltas replayed to decode frame n from
// scratch.
func (ix *Index) ChainLength(n int) (int, error) {
	rec, err := ix.Record(n)
	if err != nil {
		return 0, err
	}
	return n - rec.Keyframe, nil
}
