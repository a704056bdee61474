// Package ringbuf provides a lock-free, single-producer single-consumer (SPSC)
// ring buffer for model.DojiEvent. It is the bounded hand-off between a
// pipeline goroutine (producer) and the presentation pump (consumer), so a
// slow consumer can never stall tick processing.
package ringbuf

import (
	"sync/atomic"

	"hadoji/internal/model"
)

// cacheLine is the typical x86-64 cache line size used for padding.
const cacheLine = 64

// Ring is a lock-free SPSC ring buffer for DojiEvent values.
// Size must be a power of two for fast bitwise modulo.
type Ring struct {
	buf  []model.DojiEvent
	mask uint64

	// Separate cache lines to prevent false sharing between producer and consumer.
	_pad0 [cacheLine]byte
	head  atomic.Uint64 // written by producer
	_pad1 [cacheLine]byte
	tail  atomic.Uint64 // written by consumer
	_pad2 [cacheLine]byte

	// Overflow counter (atomic, for metrics)
	overflow atomic.Uint64

	// ready is signalled (non-blocking) after each successful push so the
	// consumer can sleep instead of spinning.
	ready chan struct{}
}

// New creates a ring buffer. capacity is rounded up to the next power of two.
// Minimum capacity is 2.
func New(capacity int) *Ring {
	size := nextPow2(capacity)
	if size < 2 {
		size = 2
	}
	return &Ring{
		buf:   make([]model.DojiEvent, size),
		mask:  uint64(size - 1),
		ready: make(chan struct{}, 1),
	}
}

// Push appends an event. Returns false if the buffer is full
// (the event is NOT written in that case). Non-blocking.
func (r *Ring) Push(ev model.DojiEvent) bool {
	head := r.head.Load()
	tail := r.tail.Load()

	if head-tail >= uint64(len(r.buf)) {
		r.overflow.Add(1)
		return false
	}

	r.buf[head&r.mask] = ev
	r.head.Store(head + 1)

	select {
	case r.ready <- struct{}{}:
	default:
	}
	return true
}

// Pop retrieves the next event. Returns false if the buffer is empty. Non-blocking.
func (r *Ring) Pop() (model.DojiEvent, bool) {
	tail := r.tail.Load()
	head := r.head.Load()

	if tail >= head {
		return model.DojiEvent{}, false
	}

	ev := r.buf[tail&r.mask]
	r.buf[tail&r.mask] = model.DojiEvent{}
	r.tail.Store(tail + 1)
	return ev, true
}

// Ready returns a channel that receives after pushes. Several pushes may
// collapse into one signal, so the consumer must drain with Pop until empty.
func (r *Ring) Ready() <-chan struct{} {
	return r.ready
}

// Len returns the current number of items in the buffer.
func (r *Ring) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Cap returns the buffer capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Overflow returns the total number of dropped pushes due to full buffer.
func (r *Ring) Overflow() uint64 {
	return r.overflow.Load()
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
