package video

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Supported payload fourccs.
const (
	CodecRGBA = "RGBA"
	CodecLZ4  = "LZ4B"
	CodecZstd = "ZSTD"
	CodecJPEG = "MJPG"
)

// payloadDecoder writes one frame's pixels into dst, which is exactly
// width*height*4 bytes.
type payloadDecoder interface {
	decode(payload, dst []byte) error
}

func newPayloadDecoder(fourcc string, width, height int) (payloadDecoder, bool) {
	switch fourcc {
	case CodecRGBA:
		return rawDecoder{}, true
	case CodecLZ4:
		return lz4Decoder{}, true
	case CodecZstd:
		return &zstdDecoder{}, true
	case CodecJPEG:
		return &jpegDecoder{rect: image.Rect(0, 0, width, height)}, true
	default:
		return nil, false
	}
}

type rawDecoder struct{}

func (rawDecoder) decode(payload, dst []byte) error {
	if len(payload) != len(dst) {
		return fmt.Errorf("raw payload is %d bytes, want %d", len(payload), len(dst))
	}
	copy(dst, payload)
	return nil
}

type lz4Decoder struct{}

func (lz4Decoder) decode(payload, dst []byte) error {
	n, err := lz4.UncompressBlock(payload, dst)
	if err != nil {
		return err
	}
	if n != len(dst) {
		return fmt.Errorf("lz4 payload decompressed to %d bytes, want %d", n, len(dst))
	}
	return nil
}

// maxZstdFrame bounds any single zstd payload regardless of frame size.
const maxZstdFrame = 1 << 30

var (
	zstdOnce   sync.Once
	zstdShared *zstd.Decoder
	zstdErr    error
)

type zstdDecoder struct{}

func (*zstdDecoder) decode(payload, dst []byte) error {
	zstdOnce.Do(func() {
		zstdShared, zstdErr = zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(0),
			zstd.WithDecoderMaxMemory(maxZstdFrame),
			zstd.WithDecodeAllCapLimit(true),
		)
	})
	if zstdErr != nil {
		return zstdErr
	}
	// The cap limit stops decoding once the output outgrows dst.
	out, err := zstdShared.DecodeAll(payload, dst[:0:len(dst)])
	if err != nil {
		return err
	}
	if len(out) != len(dst) {
		return fmt.Errorf("zstd payload decompressed to %d bytes, want %d", len(out), len(dst))
	}
	return nil
}

type jpegDecoder struct {
	rect image.Rectangle
}

func (d *jpegDecoder) decode(payload, dst []byte) error {
	img, err := jpeg.Decode(bytes.NewReader(payload))
	if err != nil {
		return err
	}
	if img.Bounds().Size() != d.rect.Size() {
		return fmt.Errorf("jpeg frame is %v, want %v", img.Bounds().Size(), d.rect.Size())
	}
	out := &image.RGBA{Pix: dst, Stride: d.rect.Dx() * 4, Rect: d.rect}
	draw.Draw(out, d.rect, img, img.Bounds().Min, draw.Src)
	return nil
}
