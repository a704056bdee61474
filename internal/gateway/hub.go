package gateway

import (
	"context"
	"log/slog"
	"sync"

	"hadoji/internal/model"
)

// DefaultHistory is the number of events retained per instrument.
const DefaultHistory = 100

// Hub manages WebSocket clients and fans doji events out to them.
// It retains the last N events per instrument for /api/doji and replays
// recent envelopes to clients as they connect.
type Hub struct {
	historySize int

	mu       sync.RWMutex
	clients  map[*Client]bool
	seq      int64
	history  map[string][]model.DojiEvent
	replay   *ReplayBuffer
	instSet  map[string]bool
	instList []string

	// End-to-end latency from detection to broadcast.
	Latency *LatencyTracker

	Broadcaster *Broadcaster

	// OnClientCount is called with the new count whenever a client joins or leaves.
	OnClientCount func(n int)
}

// NewHub creates a hub retaining historySize events per instrument.
// A known instrument list lets /api/doji reject unknown ids; it may be empty.
func NewHub(historySize int, instruments []string) *Hub {
	if historySize <= 0 {
		historySize = DefaultHistory
	}
	replayCap := historySize * len(instruments)
	if replayCap < 500 {
		replayCap = 500
	}
	h := &Hub{
		historySize: historySize,
		clients:     make(map[*Client]bool),
		history:     make(map[string][]model.DojiEvent),
		replay:      NewReplayBuffer(replayCap),
		instSet:     make(map[string]bool, len(instruments)),
		Latency:     NewLatencyTracker(1000),
	}
	for _, id := range instruments {
		if !h.instSet[id] {
			h.instSet[id] = true
			h.instList = append(h.instList, id)
		}
	}
	h.Broadcaster = NewBroadcaster(h)
	return h
}

// Run consumes events from ch and broadcasts each one.
// Blocks until ctx is cancelled or ch is closed.
func (h *Hub) Run(ctx context.Context, ch <-chan model.DojiEvent) {
	slog.Info("[gateway] hub started", "history", h.historySize)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			h.Publish(ev)
		}
	}
}

// Publish records ev in the instrument history and broadcasts it.
func (h *Hub) Publish(ev model.DojiEvent) {
	h.Broadcaster.Broadcast(ev)
}

// remember appends ev to the bounded per-instrument history. Caller holds h.mu.
func (h *Hub) remember(ev model.DojiEvent) {
	hist := append(h.history[ev.Instrument], ev)
	if len(hist) > h.historySize {
		hist = append([]model.DojiEvent(nil), hist[len(hist)-h.historySize:]...)
	}
	h.history[ev.Instrument] = hist
}

// Recent returns up to n of the most recent events for instrument, oldest first.
func (h *Hub) Recent(instrument string, n int) []model.DojiEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	hist := h.history[instrument]
	if n <= 0 || n > len(hist) {
		n = len(hist)
	}
	out := make([]model.DojiEvent, n)
	copy(out, hist[len(hist)-n:])
	return out
}

// Known reports whether instrument is configured. With no configured list
// every instrument is accepted.
func (h *Hub) Known(instrument string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.instSet) == 0 || h.instSet[instrument]
}

// Instruments returns the configured instrument ids.
func (h *Hub) Instruments() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string(nil), h.instList...)
}

// Seq returns the sequence number of the last broadcast envelope.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// register adds c and queues the retained envelopes newer than afterSeq,
// under the hub lock so no live envelope can overtake the history.
func (h *Hub) register(c *Client, afterSeq int64) {
	h.mu.Lock()
	if afterSeq > h.seq {
		// Seq from a previous process; replay everything retained.
		afterSeq = 0
	}
	entries, truncated := h.replay.After(afterSeq, c.wants)
	if truncated && afterSeq > 0 {
		slog.Warn("[gateway] client resumed past replay window", "last_seq", afterSeq, "replayed", len(entries))
	}
	for _, e := range entries {
		select {
		case c.send <- e.Envelope:
		default:
		}
	}
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()

	slog.Info("[gateway] ws client connected", "clients", count)
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()

	slog.Info("[gateway] ws client disconnected", "clients", count)
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() error {
	h.mu.RLock()
	conns := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.conn.Close()
	}
	return nil
}
