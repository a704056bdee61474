package gateway

import (
	"sort"
	"sync"
)

// replayEntry is one broadcast envelope as it was sent to live clients.
type replayEntry struct {
	Seq        int64
	Instrument string
	Envelope   []byte
}

// ReplayBuffer retains the most recent envelopes across all instruments so a
// reconnecting client can resume from its last seen seq. Seqs are pushed in
// strictly increasing order.
type ReplayBuffer struct {
	mu      sync.RWMutex
	entries []replayEntry
	start   int
	size    int
}

// NewReplayBuffer creates a buffer holding up to capacity envelopes.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{entries: make([]replayEntry, capacity)}
}

// Push stores an envelope, discarding the oldest one when full.
func (rb *ReplayBuffer) Push(seq int64, instrument string, envelope []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	e := replayEntry{Seq: seq, Instrument: instrument, Envelope: envelope}
	if rb.size < len(rb.entries) {
		rb.entries[(rb.start+rb.size)%len(rb.entries)] = e
		rb.size++
		return
	}
	rb.entries[rb.start] = e
	rb.start = (rb.start + 1) % len(rb.entries)
}

// After returns the envelopes with seq > afterSeq whose instrument passes
// keep, oldest first. truncated reports that envelopes between afterSeq and
// the oldest retained one were already discarded.
func (rb *ReplayBuffer) After(afterSeq int64, keep func(instrument string) bool) (out []replayEntry, truncated bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.size == 0 {
		return nil, false
	}
	truncated = rb.at(0).Seq > afterSeq+1
	first := sort.Search(rb.size, func(i int) bool { return rb.at(i).Seq > afterSeq })
	for i := first; i < rb.size; i++ {
		e := rb.at(i)
		if keep == nil || keep(e.Instrument) {
			out = append(out, e)
		}
	}
	return out, truncated
}

// Len returns the number of retained envelopes.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

func (rb *ReplayBuffer) at(i int) replayEntry {
	return rb.entries[(rb.start+i)%len(rb.entries)]
}
