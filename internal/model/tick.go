package model

import (
	"errors"
	"fmt"
	"math"
)

// ErrMalformedTick is wrapped by every tick rejection. Callers treat it as a
// non-fatal warning: the tick is skipped and no state changes.
var ErrMalformedTick = errors.New("malformed tick")

// Tick is a single price/volume update for one instrument.
// CumulativeVolume is the volume traded since session start, not a delta.
type Tick struct {
	Instrument       string  `json:"instrument"`
	Price            float64 `json:"price"`
	CumulativeVolume uint64  `json:"cumulative_volume"`
	TimestampEpoch   int64   `json:"ts"` // seconds or milliseconds, see MinuteOf
}

// Minute returns the aggregation window the tick belongs to.
func (t *Tick) Minute() (MinuteKey, error) {
	return MinuteOf(t.TimestampEpoch)
}

// Validate reports whether the tick can be aggregated. A tick that fails
// validation must not mutate any aggregator state.
func (t *Tick) Validate() error {
	if math.IsNaN(t.Price) || math.IsInf(t.Price, 0) {
		return fmt.Errorf("%w: price %v is not finite", ErrMalformedTick, t.Price)
	}
	if t.Price <= 0 {
		return fmt.Errorf("%w: non-positive price %v", ErrMalformedTick, t.Price)
	}
	if _, err := t.Minute(); err != nil {
		return err
	}
	return nil
}
