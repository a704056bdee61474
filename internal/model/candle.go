package model

import (
	"encoding/json"
)

// Candle is a one-minute OHLCV summary for a single instrument.
// Volume is the last cumulative session volume observed in the minute.
type Candle struct {
	Instrument string    `json:"instrument"`
	Minute     MinuteKey `json:"minute"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     uint64    `json:"volume"`
	TicksCount int       `json:"ticks_count"`
}

// HACandle is a Heikin-Ashi candle derived from one closed Candle.
type HACandle struct {
	Instrument string    `json:"instrument"`
	Minute     MinuteKey `json:"minute"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     uint64    `json:"volume"`
}

// Body returns |open - close|.
func (c *HACandle) Body() float64 {
	if c.Open > c.Close {
		return c.Open - c.Close
	}
	return c.Close - c.Open
}

// Range returns high - low.
func (c *HACandle) Range() float64 { return c.High - c.Low }

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
