package fixture

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/jpeg"
	"os"

	"github.com/klauspost/compress/zstd"
)

// Video describes an IVF file.
type Video struct {
	FourCC     string
	Width      uint16
	Height     uint16
	Rate       uint32
	Scale      uint32 // 1 when zero
	FrameCount uint32 // len(Payloads) when zero
	Payloads   [][]byte
}

// Bytes encodes the whole file. Frame i gets pts i.
func (v Video) Bytes() []byte {
	scale, count := v.Scale, v.FrameCount
	if scale == 0 {
		scale = 1
	}
	if count == 0 {
		count = uint32(len(v.Payloads))
	}

	var b bytes.Buffer
	b.WriteString("DKIF")
	put(&b, uint16(0), uint16(32))
	var fourcc [4]byte
	copy(fourcc[:], v.FourCC)
	put(&b, fourcc, v.Width, v.Height, v.Rate, scale, count, uint32(0))
	for i, p := range v.Payloads {
		put(&b, uint32(len(p)), uint64(i))
		b.Write(p)
	}
	return b.Bytes()
}

// WriteVideo stores v at path.
func WriteVideo(path string, v Video) error {
	return os.WriteFile(path, v.Bytes(), 0o644)
}

// EncodeFrame encodes an RGBA frame for fourcc.
func EncodeFrame(fourcc string, rgba []byte, width, height int) ([]byte, error) {
	switch fourcc {
	case "RGBA":
		return append([]byte(nil), rgba...), nil
	case "LZ4B":
		return LZ4Block(rgba), nil
	case "ZSTD":
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(rgba, nil), nil
	case "MJPG":
		img := &image.RGBA{Pix: rgba, Stride: width * 4, Rect: image.Rect(0, 0, width, height)}
		var b bytes.Buffer
		if err := jpeg.Encode(&b, img, &jpeg.Options{Quality: 95}); err != nil {
			return nil, err
		}
		return b.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown fourcc %q", fourcc)
	}
}

// RowFrame returns an RGBA frame where every pixel of row y is
// (y, seed, 255-y, 255) modulo 256, so row order is visible after a flip.
func RowFrame(width, height, seed int) []byte {
	out := make([]byte, width*height*4)
	for y := 0; y < height; y++ {
		row := out[y*width*4 : (y+1)*width*4]
		for x := 0; x < width; x++ {
			row[x*4+0] = byte(y)
			row[x*4+1] = byte(seed)
			row[x*4+2] = byte(255 - y)
			row[x*4+3] = 255
		}
	}
	return out
}

// SolidFrame returns an RGBA frame filled with c.
func SolidFrame(width, height int, c [4]byte) []byte {
	out := make([]byte, width*height*4)
	for i := 0; i < len(out); i += 4 {
		copy(out[i:], c[:])
	}
	return out
}

// FrameHeaderSize is the IVF per-frame header length.
const FrameHeaderSize = 12

// PayloadOffset returns the file offset of frame i's payload in v.Bytes().
func (v Video) PayloadOffset(i int) int {
	off := 32
	for j := 0; j < i; j++ {
		off += FrameHeaderSize + len(v.Payloads[j])
	}
	return off + FrameHeaderSize
}

// PutUint32 is a helper for tests that patch encoded files in place.
func PutUint32(b []byte, v uint32) {
	binary.LittleEndian.PutUint32(b, v)
}
