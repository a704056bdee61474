// Package doji classifies Heikin-Ashi candles whose body is tiny relative to
// their range.
package doji

import "hadoji/internal/model"

// DefaultThreshold is the body/range ratio below which a candle is a doji.
const DefaultThreshold = 0.1

// IsDoji reports whether body/range < threshold. A zero-range candle is never
// a doji.
func IsDoji(c model.HACandle, threshold float64) bool {
	rng := c.Range()
	if rng <= 0 {
		return false
	}
	return c.Body()/rng < threshold
}

// Detector applies IsDoji with a fixed threshold.
type Detector struct {
	Threshold float64
}

// NewDetector returns a Detector; a non-positive threshold means DefaultThreshold.
func NewDetector(threshold float64) Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Detector{Threshold: threshold}
}

// Detect reports whether c is a doji.
func (d Detector) Detect(c model.HACandle) bool {
	return IsDoji(c, d.Threshold)
}

// Ratio returns body/range, or 0 for a zero-range candle.
func Ratio(c model.HACandle) float64 {
	rng := c.Range()
	if rng <= 0 {
		return 0
	}
	return c.Body() / rng
}
