//go:build !unix

package geometry

import (
	"os"

	apperrors "github.com/zsiec/volplayer/internal/errors"
)

func openPreloaded(path string) (source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewIOError(err, "read sequence %s", path)
	}
	return &memSource{data: data}, nil
}
