package geometry

import (
	"encoding/binary"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	apperrors "github.com/zsiec/volplayer/internal/errors"
)

// maxBodySize bounds the decompressed size a stored body may declare.
const maxBodySize = 1 << 30

var (
	zstdOnce    sync.Once
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

// sharedZstd returns a process-wide decoder. DecodeAll is safe for
// concurrent use, so streams share one. Output is capped at the capacity of
// the destination, so a body never inflates past its declared size.
func sharedZstd() (*zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdDecoder, zstdErr = zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(0),
			zstd.WithDecoderMaxMemory(maxBodySize),
			zstd.WithDecodeAllCapLimit(true),
		)
	})
	return zstdDecoder, zstdErr
}

// bodyDecoder turns stored frame bodies into raw keyframe or delta bytes.
type bodyDecoder struct {
	compression Compression
	buf         []byte
}

func newBodyDecoder(c Compression) *bodyDecoder {
	return &bodyDecoder{compression: c}
}

// decode returns the raw body. With no compression the stored slice is
// returned as is; otherwise the result lives in d.buf until the next call.
func (d *bodyDecoder) decode(stored []byte, frame int) ([]byte, error) {
	if d.compression == CompressionNone {
		return stored, nil
	}

	if len(stored) < 4 {
		return nil, apperrors.NewCorruptFrameError(frame, "compressed body of %d bytes has no size prefix", len(stored))
	}
	rawSize := binary.LittleEndian.Uint32(stored)
	if rawSize > maxBodySize {
		return nil, apperrors.NewCorruptFrameError(frame, "declared body size %d exceeds limit", rawSize)
	}
	payload := stored[4:]

	if cap(d.buf) < int(rawSize) {
		d.buf = make([]byte, rawSize)
	}

	var (
		out []byte
		err error
	)
	switch d.compression {
	case CompressionZstd:
		var dec *zstd.Decoder
		if dec, err = sharedZstd(); err == nil {
			out, err = dec.DecodeAll(payload, d.buf[:0:rawSize])
		}
	case CompressionLZ4:
		var n int
		n, err = lz4.UncompressBlock(payload, d.buf[:rawSize])
		out = d.buf[:n]
	default:
		return nil, apperrors.NewCorruptFrameError(frame, "unknown %s", d.compression)
	}
	if err != nil {
		e := apperrors.NewCorruptFrameError(frame, "%s body does not decompress", d.compression)
		e.Err = err
		return nil, e
	}
	if len(out) != int(rawSize) {
		return nil, apperrors.NewCorruptFrameError(frame, "%s body decompressed to %d bytes, want %d",
			d.compression, len(out), rawSize)
	}
	return out, nil
}
