package geometry

import (
	"io"
	"os"

	apperrors "github.com/zsiec/volplayer/internal/errors"
)

// source is the sequence container as seen by the scanner and the decoder.
type source interface {
	io.ReaderAt
	Size() int64
	// body returns n stored bytes at off. The slice may alias the source or
	// a scratch buffer and is valid until the next call.
	body(off int64, n uint32) ([]byte, error)
	Close() error
}

// fileSource reads bodies lazily from an open file.
type fileSource struct {
	f       *os.File
	size    int64
	scratch []byte
}

func openFileSource(path string) (*fileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewIOError(err, "open sequence %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, apperrors.NewIOError(err, "stat sequence %s", path)
	}
	return &fileSource{f: f, size: info.Size()}, nil
}

func (s *fileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

func (s *fileSource) Size() int64 {
	return s.size
}

func (s *fileSource) body(off int64, n uint32) ([]byte, error) {
	if cap(s.scratch) < int(n) {
		s.scratch = make([]byte, n)
	}
	buf := s.scratch[:n]
	if _, err := s.f.ReadAt(buf, off); err != nil {
		return nil, apperrors.NewIOError(err, "read %d bytes at %d", n, off)
	}
	return buf, nil
}

func (s *fileSource) Close() error {
	return s.f.Close()
}

// memSource serves bodies straight out of a preloaded or mapped sequence.
type memSource struct {
	data    []byte
	release func() error
}

func (s *memSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *memSource) Size() int64 {
	return int64(len(s.data))
}

func (s *memSource) body(off int64, n uint32) ([]byte, error) {
	end := off + int64(n)
	if off < 0 || end > int64(len(s.data)) {
		return nil, apperrors.NewIOError(io.ErrUnexpectedEOF, "body [%d, %d) outside sequence", off, end)
	}
	return s.data[off:end], nil
}

func (s *memSource) Close() error {
	data := s.data
	s.data = nil
	if s.release != nil && data != nil {
		return s.release()
	}
	return nil
}

func openSource(path string, streaming bool) (source, error) {
	if streaming {
		return openFileSource(path)
	}
	return openPreloaded(path)
}
