package playback

import (
	"context"
	"sync"

	"github.com/zsiec/volplayer/internal/metrics"
)

// Handoff passes decoded results from one producer goroutine to the render
// loop through a single slot. The producer acquires the slot before it
// starts decoding, and the slot is free only once the consumer has released
// the previous item, so the render loop never reads a buffer mid-write.
type Handoff[T any] struct {
	kind  string
	slot  chan T
	free  chan struct{}
	mu    sync.Mutex
	taken bool
}

// NewHandoff creates an empty handoff. kind labels drop metrics.
func NewHandoff[T any](kind string) *Handoff[T] {
	h := &Handoff[T]{
		kind: kind,
		slot: make(chan T, 1),
		free: make(chan struct{}, 1),
	}
	h.free <- struct{}{}
	return h
}

// Acquire blocks until the consumer has released the previous item. After
// Acquire returns nil the caller must call Publish exactly once.
func (h *Handoff[T]) Acquire(ctx context.Context) error {
	select {
	case <-h.free:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish hands v to the consumer. It must follow a successful Acquire.
func (h *Handoff[T]) Publish(v T) {
	h.slot <- v
}

// Skip gives back a permit obtained by Acquire without publishing.
func (h *Handoff[T]) Skip() {
	h.free <- struct{}{}
}

// Take returns the published item if there is one. It never blocks. The
// caller owns the item until Release.
func (h *Handoff[T]) Take() (T, bool) {
	select {
	case v := <-h.slot:
		h.mu.Lock()
		h.taken = true
		h.mu.Unlock()
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Wait blocks until an item is published, then behaves like Take.
func (h *Handoff[T]) Wait(ctx context.Context) (T, error) {
	select {
	case v := <-h.slot:
		h.mu.Lock()
		h.taken = true
		h.mu.Unlock()
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Release returns the taken item's buffer to the producer. Releasing when
// nothing is taken does nothing.
func (h *Handoff[T]) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.taken {
		return
	}
	h.taken = false
	h.free <- struct{}{}
}

// Drain discards an item that was published but never taken, freeing the
// producer. It reports whether anything was dropped.
func (h *Handoff[T]) Drain() bool {
	select {
	case <-h.slot:
		metrics.IncrementHandoffDropped(h.kind)
		h.free <- struct{}{}
		return true
	default:
		return false
	}
}
