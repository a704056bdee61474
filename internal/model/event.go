package model

import (
	"encoding/json"
	"time"
)

// DojiEvent is emitted at most once per minute when the Heikin-Ashi candle for
// that minute is a doji.
type DojiEvent struct {
	Instrument string    `json:"instrument"`
	Minute     MinuteKey `json:"minute"`
	Candle     HACandle  `json:"candle"`
	DetectedAt time.Time `json:"detected_at"`
}

// StreamKey returns the Redis stream key: "doji:{instrument}".
func (e *DojiEvent) StreamKey() string { return "doji:" + e.Instrument }

// LatestKey returns the Redis key holding the newest event for the instrument.
func (e *DojiEvent) LatestKey() string { return "doji:latest:" + e.Instrument }

// PubSubChannel returns the Redis pubsub channel: "pub:doji:{instrument}".
func (e *DojiEvent) PubSubChannel() string { return "pub:doji:" + e.Instrument }

// JSON returns the JSON-encoded event.
func (e *DojiEvent) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}
