package pipeline

import (
	"errors"
	"fmt"

	"hadoji/internal/marketdata/agg"
	"hadoji/internal/model"
)

var (
	// ErrLateTick marks a tick for a minute that can no longer change.
	ErrLateTick = agg.ErrLateTick

	// ErrUnknownInstrument is returned by the Router for ticks it has no
	// pipeline for. It counts as a malformed tick.
	ErrUnknownInstrument = fmt.Errorf("%w: unknown instrument", model.ErrMalformedTick)

	// ErrQueueFull is returned when a bounded queue rejects an item.
	ErrQueueFull = errors.New("queue full")
)

// SinkError reports a failed EventSink invocation. Aggregator and transformer
// state is not rolled back and the event is not retried.
type SinkError struct {
	Instrument string
	Minute     model.MinuteKey
	Err        error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink failed for %s at %v: %v", e.Instrument, e.Minute, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// IsWarning reports whether err is a recoverable per-tick condition
// (malformed or late tick) as opposed to a sink failure.
func IsWarning(err error) bool {
	return errors.Is(err, model.ErrMalformedTick) || errors.Is(err, ErrLateTick)
}
