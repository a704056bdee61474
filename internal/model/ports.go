package model

import (
	"context"
)

// ── Port Interfaces ──
// These decouple the detection core from the presentation side. The core only
// ever talks to an EventSink; everything downstream consumes DojiEvents.

// EventSink receives detected doji events from a pipeline. Emit is called
// synchronously on the ingestion path, so implementations must not block.
type EventSink interface {
	Emit(ctx context.Context, ev DojiEvent) error
}

// EventWriter persists or publishes doji events off the hot path.
type EventWriter interface {
	// Run reads events from ch and writes them.
	// Blocks until ctx is cancelled or ch is closed.
	Run(ctx context.Context, ch <-chan DojiEvent)

	// Close releases underlying resources.
	Close() error
}

// EventReader reads back recently journaled events.
type EventReader interface {
	// Recent returns up to n most recent events for instrument, oldest first.
	Recent(ctx context.Context, instrument string, n int) ([]DojiEvent, error)
}
