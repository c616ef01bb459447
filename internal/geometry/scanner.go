package geometry

import (
	"context"
	"encoding/binary"
	"errors"
	"io"

	apperrors "github.com/zsiec/volplayer/internal/errors"
)

const (
	recordHeaderSize  = 9 // frameNumber u32, kind u8, bodySize u32
	recordTrailerSize = 4
	// scanCheckEvery is how many records the scanner reads between
	// context checks.
	scanCheckEvery = 1024
)

// scanSequence builds the index by reading record headers and trailers.
// Bodies are skipped. Every structural problem is a FormatError.
func scanSequence(ctx context.Context, src source, frameCount int) (*Index, error) {
	size := src.Size()
	// Every record carries at least a header and a trailer, which bounds the
	// count before the index is sized from it.
	if minSize := int64(frameCount) * (recordHeaderSize + recordTrailerSize); minSize > size {
		return nil, apperrors.NewFormatError("header declares %d frames but the sequence holds only %d bytes",
			frameCount, size)
	}
	ix := newIndex(frameCount)

	var (
		head [recordHeaderSize]byte
		tail [recordTrailerSize]byte
		off  int64
	)
	for n := 0; n < frameCount; n++ {
		if n%scanCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		if err := readFull(src, head[:], off); err != nil {
			return nil, scanError(err, n, off, "record header")
		}
		number := binary.LittleEndian.Uint32(head[0:])
		kind := head[4]
		bodySize := binary.LittleEndian.Uint32(head[5:])

		if int64(number) != int64(n) {
			return nil, apperrors.NewFormatError("record %d is numbered %d", n, number).WithDetail("offset", off)
		}
		if kind > uint8(Keyframe) {
			return nil, apperrors.NewFormatError("record %d has unknown kind %d", n, kind).WithDetail("offset", off)
		}
		if n == 0 && FrameKind(kind) != Keyframe {
			return nil, apperrors.NewFormatError("first frame is a delta")
		}

		bodyOff := off + recordHeaderSize
		trailerOff := bodyOff + int64(bodySize)
		if trailerOff+recordTrailerSize > size {
			return nil, apperrors.NewFormatError("record %d body of %d bytes runs past end of sequence", n, bodySize).
				WithDetail("offset", off)
		}
		if err := readFull(src, tail[:], trailerOff); err != nil {
			return nil, scanError(err, n, trailerOff, "record trailer")
		}
		if got := binary.LittleEndian.Uint32(tail[:]); int64(got) != recordHeaderSize+int64(bodySize) {
			return nil, apperrors.NewFormatError("record %d trailer says %d bytes, want %d",
				n, got, recordHeaderSize+int64(bodySize)).WithDetail("offset", trailerOff)
		}

		ix.add(FrameKind(kind), bodyOff, bodySize)
		off = trailerOff + recordTrailerSize
	}

	if off != size {
		return nil, apperrors.NewFormatError("%d bytes follow the last of %d records", size-off, frameCount)
	}
	return ix, nil
}

func readFull(r io.ReaderAt, p []byte, off int64) error {
	n, err := r.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

func scanError(err error, n int, off int64, what string) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return apperrors.WrapFormatError(err, "sequence ends inside %s %d", what, n).WithDetail("offset", off)
	}
	return apperrors.NewIOError(err, "read %s %d", what, n)
}
