package gateway

import (
	"sort"
	"sync"
	"time"
)

// LatencySummary describes the detection-to-broadcast delay for one
// instrument over the retained window of samples.
type LatencySummary struct {
	Count int     `json:"count"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
	Max   float64 `json:"max_ms"`
}

// LatencyTracker keeps the most recent delivery delays per instrument.
// Safe for concurrent use.
type LatencyTracker struct {
	mu     sync.Mutex
	window int
	series map[string]*latencySeries
}

type latencySeries struct {
	samples []time.Duration
	next    int
	full    bool
}

func (s *latencySeries) add(d time.Duration) {
	s.samples[s.next] = d
	s.next++
	if s.next == len(s.samples) {
		s.next = 0
		s.full = true
	}
}

func (s *latencySeries) snapshot() []time.Duration {
	n := s.next
	if s.full {
		n = len(s.samples)
	}
	out := make([]time.Duration, n)
	copy(out, s.samples[:n])
	return out
}

// NewLatencyTracker retains up to window samples per instrument.
func NewLatencyTracker(window int) *LatencyTracker {
	if window <= 0 {
		window = 1000
	}
	return &LatencyTracker{window: window, series: make(map[string]*latencySeries)}
}

// Observe records how long the event for instrument took to reach the hub.
// Negative delays (clock skew) are ignored.
func (lt *LatencyTracker) Observe(instrument string, d time.Duration) {
	if d < 0 {
		return
	}
	lt.mu.Lock()
	s, ok := lt.series[instrument]
	if !ok {
		s = &latencySeries{samples: make([]time.Duration, lt.window)}
		lt.series[instrument] = s
	}
	s.add(d)
	lt.mu.Unlock()
}

// Summary returns the percentiles for one instrument.
func (lt *LatencyTracker) Summary(instrument string) LatencySummary {
	lt.mu.Lock()
	s, ok := lt.series[instrument]
	var samples []time.Duration
	if ok {
		samples = s.snapshot()
	}
	lt.mu.Unlock()
	return summarize(samples)
}

// Summaries returns a summary for every instrument observed so far.
func (lt *LatencyTracker) Summaries() map[string]LatencySummary {
	lt.mu.Lock()
	raw := make(map[string][]time.Duration, len(lt.series))
	for id, s := range lt.series {
		raw[id] = s.snapshot()
	}
	lt.mu.Unlock()

	out := make(map[string]LatencySummary, len(raw))
	for id, samples := range raw {
		out[id] = summarize(samples)
	}
	return out
}

func summarize(samples []time.Duration) LatencySummary {
	if len(samples) == 0 {
		return LatencySummary{}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return LatencySummary{
		Count: len(samples),
		P50:   millis(nearestRank(samples, 0.50)),
		P95:   millis(nearestRank(samples, 0.95)),
		P99:   millis(nearestRank(samples, 0.99)),
		Max:   millis(samples[len(samples)-1]),
	}
}

// nearestRank picks the smallest sample with at least p of the set at or
// below it.
func nearestRank(sorted []time.Duration, p float64) time.Duration {
	idx := int(p*float64(len(sorted))+0.999999) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
