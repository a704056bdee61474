// Package heikinashi turns closed one-minute candles into Heikin-Ashi candles.
//
// Each HA candle depends on the previous one, so a Transformer must see every
// closed candle of a session in minute order and cannot be reset mid-session.
package heikinashi

import "hadoji/internal/model"

// Transformer holds the previously produced HA candle. O(1) per candle.
// Not goroutine-safe.
type Transformer struct {
	prev    model.HACandle
	hasPrev bool
	count   int
}

// New creates a Transformer with no prior state.
func New() *Transformer {
	return &Transformer{}
}

// Transform produces the HA candle for c and stores it as the new prior.
//
//	haOpen  = (c.Open + c.Close) / 2            first candle
//	haOpen  = (prev.Open + prev.Close) / 2      afterwards
//	haClose = (c.Open + c.High + c.Low + c.Close) / 4
//	haHigh  = max(c.High, haOpen, haClose)
//	haLow   = min(c.Low, haOpen, haClose)
func (t *Transformer) Transform(c model.Candle) model.HACandle {
	var haOpen float64
	if t.hasPrev {
		haOpen = (t.prev.Open + t.prev.Close) / 2
	} else {
		haOpen = (c.Open + c.Close) / 2
	}
	haClose := (c.Open + c.High + c.Low + c.Close) / 4

	ha := model.HACandle{
		Instrument: c.Instrument,
		Minute:     c.Minute,
		Open:       haOpen,
		High:       max3(c.High, haOpen, haClose),
		Low:        min3(c.Low, haOpen, haClose),
		Close:      haClose,
		Volume:     c.Volume,
	}

	t.prev = ha
	t.hasPrev = true
	t.count++
	return ha
}

// Last returns the most recent HA candle, if any.
func (t *Transformer) Last() (model.HACandle, bool) {
	return t.prev, t.hasPrev
}

// Count returns how many candles have been transformed this session.
func (t *Transformer) Count() int { return t.count }

func max3(a, b, c float64) float64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

func min3(a, b, c float64) float64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
