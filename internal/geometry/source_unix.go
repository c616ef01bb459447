//go:build unix

package geometry

import (
	"os"

	"golang.org/x/sys/unix"

	apperrors "github.com/zsiec/volplayer/internal/errors"
)

// openPreloaded maps the whole sequence read-only. Bodies are then sliced
// out of the mapping without copying; decoders never write to them.
func openPreloaded(path string) (source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewIOError(err, "open sequence %s", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, apperrors.NewIOError(err, "stat sequence %s", path)
	}
	size := int(info.Size())
	if size == 0 {
		return &memSource{data: []byte{}}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, apperrors.NewIOError(err, "mmap sequence %s", path)
	}
	return &memSource{
		data:    data,
		release: func() error { return unix.Munmap(data) },
	}, nil
}
