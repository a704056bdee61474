package redis

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"hadoji/internal/model"
)

// BufferedWriter publishes events through a circuit breaker. Events that
// cannot be written (breaker open or Redis error) are buffered in order and
// flushed before any newer event once Redis accepts writes again.
//
// Write and Flush are called from the Run goroutine only.
type BufferedWriter struct {
	pub           *Publisher
	cb            *CircuitBreaker
	retryInterval time.Duration

	mu     sync.Mutex
	buffer []model.DojiEvent
	maxBuf int // max buffered events before dropping oldest (default: 10000)

	// Callbacks
	OnBuffer func()          // called when an event is buffered (for metrics)
	OnDrop   func()          // called when the oldest buffered event is dropped
	OnFlush  func(count int) // called after flushing buffered events
}

// NewBufferedWriter wraps pub. retryInterval controls how often a non-empty
// buffer is retried while no new events arrive.
func NewBufferedWriter(pub *Publisher, cb *CircuitBreaker, maxBufferSize int, retryInterval time.Duration) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	if retryInterval <= 0 {
		retryInterval = 5 * time.Second
	}
	return &BufferedWriter{
		pub:           pub,
		cb:            cb,
		retryInterval: retryInterval,
		buffer:        make([]model.DojiEvent, 0, 64),
		maxBuf:        maxBufferSize,
	}
}

// Run reads events from ch and writes them to Redis.
// Blocks until ctx is cancelled or ch is closed.
func (bw *BufferedWriter) Run(ctx context.Context, ch <-chan model.DojiEvent) {
	retry := time.NewTicker(bw.retryInterval)
	defer retry.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := bw.Write(ctx, ev); err != nil {
				slog.Warn("[redis] event buffered",
					slog.String("instrument", ev.Instrument),
					slog.String("minute", ev.Minute.String()),
					slog.Int("pending", bw.PendingCount()),
					slog.String("err", err.Error()))
			}
		case <-retry.C:
			if bw.PendingCount() > 0 {
				bw.Flush(ctx)
			}
		}
	}
}

// Write publishes ev, or buffers it if Redis is unavailable or older events
// are still pending. The returned error is informational: the event is kept.
func (bw *BufferedWriter) Write(ctx context.Context, ev model.DojiEvent) error {
	if bw.PendingCount() > 0 {
		bw.bufferEvent(ev)
		return bw.Flush(ctx)
	}
	err := bw.cb.Execute(func() error { return bw.pub.Write(ctx, ev) })
	if err != nil {
		bw.bufferEvent(ev)
	}
	return err
}

func (bw *BufferedWriter) bufferEvent(ev model.DojiEvent) {
	bw.mu.Lock()
	dropped := false
	if len(bw.buffer) >= bw.maxBuf {
		bw.buffer = bw.buffer[1:]
		dropped = true
	}
	bw.buffer = append(bw.buffer, ev)
	bw.mu.Unlock()

	if dropped && bw.OnDrop != nil {
		bw.OnDrop()
	}
	if bw.OnBuffer != nil {
		bw.OnBuffer()
	}
}

// Flush writes buffered events oldest first until the buffer is empty or a
// write fails.
func (bw *BufferedWriter) Flush(ctx context.Context) error {
	flushed := 0
	defer func() {
		if flushed > 0 {
			slog.Info("[redis] flushed buffered events", slog.Int("count", flushed))
			if bw.OnFlush != nil {
				bw.OnFlush(flushed)
			}
		}
	}()

	for {
		bw.mu.Lock()
		if len(bw.buffer) == 0 {
			bw.mu.Unlock()
			return nil
		}
		ev := bw.buffer[0]
		bw.mu.Unlock()

		if err := bw.cb.Execute(func() error { return bw.pub.Write(ctx, ev) }); err != nil {
			return err
		}

		bw.mu.Lock()
		bw.buffer = bw.buffer[1:]
		bw.mu.Unlock()
		flushed++
	}
}

// PendingCount returns the number of buffered events waiting to be flushed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// Recent delegates to the publisher's stream reader.
func (bw *BufferedWriter) Recent(ctx context.Context, instrument string, n int) ([]model.DojiEvent, error) {
	return bw.pub.Recent(ctx, instrument, n)
}

// Close closes the Redis client.
func (bw *BufferedWriter) Close() error {
	return bw.pub.Close()
}
