// Package agg builds one-minute OHLCV candles from a tick stream.
//
// A minute's candle is closed only when a tick for the very next minute
// arrives (adjacency-triggered close). There is no wall-clock flush: a minute
// with no successor tick stays in flight until the lag window evicts it.
package agg

import (
	"errors"
	"fmt"
	"log/slog"

	"hadoji/internal/model"
)

// ErrLateTick is returned for a tick whose minute is at or behind the
// watermark, the newest minute already closed or evicted behind the lag
// window. This includes a still-open minute older than the watermark: once
// M+2 has closed, a tick for M+1 is rejected and M stays open, because
// closing M afterwards would hand candles to the transformer out of order.
var ErrLateTick = errors.New("late tick")

// Aggregator builds one-minute candles for a single instrument.
// Not goroutine-safe: Ingest must be called from one goroutine.
type Aggregator struct {
	instrument string
	win        window

	lastClosed model.MinuteKey
	hasClosed  bool

	// watermark is the newest minute that can no longer change (closed or
	// evicted). Ticks at or behind it are rejected.
	watermark    model.MinuteKey
	hasWatermark bool

	// MaxLag bounds the in-flight window around the minute of the tick just
	// ingested: accumulators more than MaxLag minutes behind or ahead of it
	// are dropped without being emitted. Minutes dropped behind advance the
	// watermark; minutes dropped ahead do not, so a single skewed future tick
	// cannot lock out the live stream. 0 disables eviction.
	MaxLag int

	// Hooks (optional, set externally)
	OnLateTick func(minute model.MinuteKey)
	OnEvicted  func(c model.Candle)
}

// New creates an Aggregator for one instrument.
func New(instrument string, maxLag int) *Aggregator {
	return &Aggregator{
		instrument: instrument,
		MaxLag:     maxLag,
	}
}

// Ingest folds one tick into its minute and returns the candle for the
// immediately preceding minute if that tick closed it.
//
// A malformed tick returns an error wrapping model.ErrMalformedTick and
// leaves the aggregator untouched. At most one candle is closed per call.
func (a *Aggregator) Ingest(tick model.Tick) (model.Candle, bool, error) {
	if err := tick.Validate(); err != nil {
		return model.Candle{}, false, err
	}
	minute, _ := tick.Minute()

	if a.hasWatermark && !a.watermark.Before(minute) {
		if a.OnLateTick != nil {
			a.OnLateTick(minute)
		}
		return model.Candle{}, false, fmt.Errorf("%w: minute %v is at or behind watermark %v", ErrLateTick, minute, a.watermark)
	}

	if c := a.win.get(minute); c != nil {
		if tick.Price > c.High {
			c.High = tick.Price
		}
		if tick.Price < c.Low {
			c.Low = tick.Price
		}
		c.Close = tick.Price
		c.Volume = tick.CumulativeVolume
		c.TicksCount++
	} else {
		a.win.insert(&model.Candle{
			Instrument: a.instrument,
			Minute:     minute,
			Open:       tick.Price,
			High:       tick.Price,
			Low:        tick.Price,
			Close:      tick.Price,
			Volume:     tick.CumulativeVolume,
			TicksCount: 1,
		})
	}

	closed, ok := a.win.take(minute.Prev())
	if ok {
		a.lastClosed = closed.Minute
		a.hasClosed = true
		a.advance(closed.Minute)
	}

	a.evict(minute)

	if !ok {
		return model.Candle{}, false, nil
	}
	return *closed, true, nil
}

// evict drops accumulators outside [current-MaxLag, current+MaxLag].
func (a *Aggregator) evict(current model.MinuteKey) {
	if a.MaxLag <= 0 {
		return
	}
	span := model.MinuteKey(a.MaxLag * 60)
	for _, c := range a.win.evictBefore(current - span) {
		slog.Warn("[agg] evicting unclosed minute behind lag window",
			slog.String("instrument", a.instrument),
			slog.String("minute", c.Minute.String()),
			slog.Int("max_lag", a.MaxLag))
		a.advance(c.Minute)
		if a.OnEvicted != nil {
			a.OnEvicted(*c)
		}
	}
	for _, c := range a.win.evictAfter(current + span) {
		slog.Warn("[agg] dropping minute ahead of lag window",
			slog.String("instrument", a.instrument),
			slog.String("minute", c.Minute.String()),
			slog.String("current", current.String()),
			slog.Int("max_lag", a.MaxLag))
		if a.OnEvicted != nil {
			a.OnEvicted(*c)
		}
	}
}

func (a *Aggregator) advance(m model.MinuteKey) {
	if !a.hasWatermark || a.watermark.Before(m) {
		a.watermark = m
		a.hasWatermark = true
	}
}

// Inflight returns the number of open (unclosed) minutes.
func (a *Aggregator) Inflight() int {
	return a.win.len()
}

// Pending returns a copy of the open candle for minute m, if any.
func (a *Aggregator) Pending(m model.MinuteKey) (model.Candle, bool) {
	if c := a.win.get(m); c != nil {
		return *c, true
	}
	return model.Candle{}, false
}

// LastClosed returns the most recently closed minute.
func (a *Aggregator) LastClosed() (model.MinuteKey, bool) {
	return a.lastClosed, a.hasClosed
}
