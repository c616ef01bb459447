package video

import (
	"bytes"
	"encoding/binary"
	"io"

	apperrors "github.com/zsiec/volplayer/internal/errors"
)

const (
	signature       = "DKIF"
	headerSize      = 32
	frameHeaderSize = 12
)

// fileHeader is the IVF file header.
type fileHeader struct {
	Signature  [4]byte
	Version    uint16
	Size       uint16
	FourCC     [4]byte
	Width      uint16
	Height     uint16
	Rate       uint32
	Scale      uint32
	FrameCount uint32
	_          uint32
}

type frameHeader struct {
	Size uint32
	PTS  uint64
}

func readFileHeader(r io.Reader, path string) (fileHeader, error) {
	var raw [headerSize]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return fileHeader{}, apperrors.NewFormatError("%s: truncated video header", path)
		}
		return fileHeader{}, apperrors.NewIOError(err, "read video header %s", path)
	}

	var h fileHeader
	// Decoding a fixed-size struct from a full buffer cannot fail.
	_ = binary.Read(bytes.NewReader(raw[:]), binary.LittleEndian, &h)

	switch {
	case string(h.Signature[:]) != signature:
		return h, apperrors.NewFormatError("%s: bad signature %q", path, h.Signature[:])
	case h.Version != 0:
		return h, apperrors.NewFormatError("%s: unsupported version %d", path, h.Version)
	case h.Size != headerSize:
		return h, apperrors.NewFormatError("%s: header size %d, want %d", path, h.Size, headerSize)
	case h.Width == 0 || h.Height == 0:
		return h, apperrors.NewFormatError("%s: empty frame size %dx%d", path, h.Width, h.Height)
	case h.Rate == 0 || h.Scale == 0:
		return h, apperrors.NewFormatError("%s: invalid time base %d/%d", path, h.Rate, h.Scale)
	}
	return h, nil
}

func (h fileHeader) codec() string {
	return string(h.FourCC[:])
}
