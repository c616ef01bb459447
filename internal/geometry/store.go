package geometry

import (
	"context"
	"sort"
	"sync"

	apperrors "github.com/zsiec/volplayer/internal/errors"
	"github.com/zsiec/volplayer/internal/logger"
	"github.com/zsiec/volplayer/internal/metrics"
)

// Store owns the open geometry streams, at most one per stream ID.
type Store struct {
	mu      sync.RWMutex
	streams map[string]*Stream
	opts    []Option
	log     logger.Logger
}

// NewStore creates an empty store. opts apply to every stream it opens.
func NewStore(opts ...Option) *Store {
	o := options{log: logger.NewNullLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store{
		streams: make(map[string]*Stream),
		opts:    opts,
		log:     o.log,
	}
}

// Open opens a stream under id. A stream already open under the same id is
// closed first, so a failed reopen leaves nothing registered for id. Opens
// of different ids run concurrently.
func (s *Store) Open(ctx context.Context, id, headerPath, sequencePath string, streaming bool) (*Stream, error) {
	s.mu.Lock()
	prev, replaced := s.streams[id]
	delete(s.streams, id)
	s.mu.Unlock()

	if replaced {
		s.log.WithField("stream_id", id).Info("Replacing open geometry stream")
		if err := prev.Close(); err != nil {
			s.log.WithError(err).WithField("stream_id", id).Warn("Error closing replaced geometry stream")
		}
	}

	stream, err := Open(ctx, id, headerPath, sequencePath, streaming, s.opts...)
	if err != nil {
		s.publishCount()
		return nil, err
	}

	s.mu.Lock()
	raced := s.streams[stream.ID()]
	s.streams[stream.ID()] = stream
	s.mu.Unlock()

	// Another Open of the same id finished in between; the later one wins.
	if raced != nil {
		raced.Close()
	}
	s.publishCount()
	return stream, nil
}

func (s *Store) publishCount() {
	s.mu.RLock()
	n := len(s.streams)
	s.mu.RUnlock()
	metrics.SetGeometryStreamsOpen(n)
}

// Get returns the stream open under id.
func (s *Store) Get(id string) (*Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stream, ok := s.streams[id]
	if !ok {
		return nil, apperrors.NewInvalidHandleError("geometry stream " + id)
	}
	return stream, nil
}

// Close closes and forgets the stream open under id.
func (s *Store) Close(id string) error {
	s.mu.Lock()
	stream, ok := s.streams[id]
	delete(s.streams, id)
	metrics.SetGeometryStreamsOpen(len(s.streams))
	s.mu.Unlock()

	if !ok {
		return apperrors.NewInvalidHandleError("geometry stream " + id)
	}
	return stream.Close()
}

// CloseAll closes every stream and returns the first error.
func (s *Store) CloseAll() error {
	s.mu.Lock()
	streams := s.streams
	s.streams = make(map[string]*Stream)
	metrics.SetGeometryStreamsOpen(0)
	s.mu.Unlock()

	var first error
	for _, stream := range streams {
		if err := stream.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// List returns info for every open stream, sorted by ID.
func (s *Store) List() []Info {
	s.mu.RLock()
	streams := make([]*Stream, 0, len(s.streams))
	for _, stream := range s.streams {
		streams = append(streams, stream)
	}
	s.mu.RUnlock()

	infos := make([]Info, 0, len(streams))
	for _, stream := range streams {
		// A stream closed directly by its holder is skipped.
		if info, err := stream.Info(); err == nil {
			infos = append(infos, info)
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}
