package gateway

import (
	"encoding/json"
	"strconv"
	"time"

	"hadoji/internal/model"
)

// ChannelPrefix prefixes the per-instrument envelope channel.
const ChannelPrefix = "doji:"

// Broadcaster constructs envelope JSON and sends filtered messages to clients.
type Broadcaster struct {
	hub *Hub
	now func() time.Time
}

// NewBroadcaster creates a Broadcaster backed by the given Hub.
func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub, now: time.Now}
}

// Broadcast sends ev to every client subscribed to its instrument.
// Envelopes are {"channel":"doji:ID","data":{...},"ts":"...","seq":N}; seq is
// global and strictly increasing so clients can detect gaps.
func (b *Broadcaster) Broadcast(ev model.DojiEvent) {
	now := b.now().UTC()
	if !ev.DetectedAt.IsZero() {
		b.hub.Latency.Observe(ev.Instrument, now.Sub(ev.DetectedAt))
	}

	channel := ChannelPrefix + ev.Instrument
	data := ev.JSON()

	b.hub.mu.Lock()
	defer b.hub.mu.Unlock()

	b.hub.remember(ev)
	b.hub.seq++
	buf := buildEnvelope(channel, data, now, b.hub.seq)
	b.hub.replay.Push(b.hub.seq, ev.Instrument, buf)

	for client := range b.hub.clients {
		if !client.wants(ev.Instrument) {
			continue
		}
		select {
		case client.send <- buf:
		default:
			client.dropped++
		}
	}
}

// buildEnvelope hand-crafts the envelope JSON; data must already be valid JSON.
func buildEnvelope(channel string, data []byte, now time.Time, seq int64) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+96)
	quoted, _ := json.Marshal(channel)
	buf = append(buf, `{"channel":`...)
	buf = append(buf, quoted...)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	return buf
}
