package pipeline

import (
	"context"

	"hadoji/internal/model"
	"hadoji/internal/ringbuf"
)

// Pump drains ring into out until ctx is cancelled. It is the single consumer
// of ring; sends to out may block, which only backs up the ring.
func Pump(ctx context.Context, ring *ringbuf.Ring, out chan<- model.DojiEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ring.Ready():
		}
		for {
			ev, ok := ring.Pop()
			if !ok {
				break
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}
