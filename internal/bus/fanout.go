// Package bus broadcasts doji events to the presentation consumers
// (stores, notifiers, gateway).
package bus

import (
	"context"
	"log/slog"
	"sync"

	"hadoji/internal/model"
)

// FanOut broadcasts events from a single input channel to N output channels.
// If an output channel is full, the event is dropped for that consumer so a
// slow consumer cannot hold up the others.
type FanOut struct {
	mu      sync.RWMutex
	outputs []chan model.DojiEvent
	names   []string
	bufSize int

	// OnDrop is called when an event is dropped for a subscriber.
	OnDrop func(subscriber string)
}

// New creates a FanOut with the given buffer size for output channels.
func New(outputBufferSize int) *FanOut {
	return &FanOut{
		bufSize: outputBufferSize,
	}
}

// Subscribe creates and returns a new output channel. name labels the
// subscriber in drop reports and channel stats.
func (f *FanOut) Subscribe(name string) <-chan model.DojiEvent {
	ch := make(chan model.DojiEvent, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, ch)
	f.names = append(f.names, name)
	f.mu.Unlock()
	return ch
}

// Run reads from the input channel and fans out to all subscribers.
// Blocks until ctx is cancelled or input is closed; closes every output on
// return.
func (f *FanOut) Run(ctx context.Context, input <-chan model.DojiEvent) {
	defer func() {
		f.mu.RLock()
		for _, ch := range f.outputs {
			close(ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for i, ch := range f.outputs {
				select {
				case ch <- ev:
				default:
					if f.OnDrop != nil {
						f.OnDrop(f.names[i])
					} else {
						slog.Warn("[bus] subscriber full, dropping event",
							slog.String("subscriber", f.names[i]),
							slog.String("instrument", ev.Instrument),
							slog.String("minute", ev.Minute.String()))
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}

// ChannelStat is the (length, capacity) of one subscriber channel.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

// ChannelStats reports saturation for each subscriber channel.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, ch := range f.outputs {
		stats[i] = ChannelStat{Name: f.names[i], Len: len(ch), Cap: cap(ch)}
	}
	return stats
}
