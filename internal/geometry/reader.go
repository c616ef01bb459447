package geometry

import (
	"encoding/binary"
	"io"
)

// byteReader walks a little-endian buffer. The first short read sticks in
// err and every later call returns zero values, so parsers check once at
// the end of a section.
type byteReader struct {
	buf []byte
	off int
	err error
}

func newByteReader(buf []byte) *byteReader {
	return &byteReader{buf: buf}
}

func (r *byteReader) remaining() int {
	return len(r.buf) - r.off
}

// bytes returns the next n bytes without copying.
func (r *byteReader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > r.remaining() {
		r.err = io.ErrUnexpectedEOF
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

// span is bytes(count*stride) with overflow-safe sizing.
func (r *byteReader) span(count uint32, stride int) []byte {
	size := uint64(count) * uint64(stride)
	if size > uint64(r.remaining()) {
		if r.err == nil {
			r.err = io.ErrUnexpectedEOF
		}
		return nil
	}
	return r.bytes(int(size))
}

func (r *byteReader) u8() uint8 {
	b := r.bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *byteReader) u16() uint16 {
	b := r.bytes(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *byteReader) u32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *byteReader) f32() float32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return readFloat(b)
}

func (r *byteReader) str() string {
	n := r.u16()
	return string(r.bytes(int(n)))
}
