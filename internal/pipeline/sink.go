package pipeline

import (
	"context"

	"hadoji/internal/model"
	"hadoji/internal/ringbuf"
)

// FuncSink adapts a plain callback to model.EventSink.
type FuncSink func(ctx context.Context, ev model.DojiEvent) error

// Emit calls f.
func (f FuncSink) Emit(ctx context.Context, ev model.DojiEvent) error {
	return f(ctx, ev)
}

// RingSink hands events to a bounded SPSC ring. It never blocks; a full ring
// rejects the event with ErrQueueFull.
type RingSink struct {
	ring *ringbuf.Ring
}

// NewRingSink creates a RingSink with the given capacity.
func NewRingSink(capacity int) *RingSink {
	return &RingSink{ring: ringbuf.New(capacity)}
}

// Emit pushes ev onto the ring.
func (s *RingSink) Emit(_ context.Context, ev model.DojiEvent) error {
	if !s.ring.Push(ev) {
		return ErrQueueFull
	}
	return nil
}

// Ring returns the underlying ring for the consumer side.
func (s *RingSink) Ring() *ringbuf.Ring { return s.ring }
