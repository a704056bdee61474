package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"hadoji/internal/model"
)

// Router owns one Pipeline and one bounded tick queue per instrument.
// Each queue is consumed by exactly one goroutine, which serialises the
// transport's ticks into the single-producer path a Pipeline requires.
//
// Add must not be called after Run.
type Router struct {
	pipelines map[string]*Pipeline
	queues    map[string]chan model.Tick
	queueSize int

	// OnQueueDrop is called when an instrument's queue is full (optional).
	OnQueueDrop func(instrument string)
}

// NewRouter creates a Router whose per-instrument queues hold queueSize ticks.
func NewRouter(queueSize int) *Router {
	if queueSize <= 0 {
		queueSize = 10000
	}
	return &Router{
		pipelines: make(map[string]*Pipeline),
		queues:    make(map[string]chan model.Tick),
		queueSize: queueSize,
	}
}

// Add registers a pipeline under its instrument ID.
func (r *Router) Add(p *Pipeline) {
	id := p.Instrument()
	r.pipelines[id] = p
	r.queues[id] = make(chan model.Tick, r.queueSize)
}

// Pipeline returns the pipeline for id.
func (r *Router) Pipeline(id string) (*Pipeline, bool) {
	p, ok := r.pipelines[id]
	return p, ok
}

// Instruments returns the registered instrument IDs, sorted.
func (r *Router) Instruments() []string {
	ids := make([]string, 0, len(r.pipelines))
	for id := range r.pipelines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// resolve picks the instrument for a tick. A tick without an instrument is
// accepted only when exactly one pipeline is registered.
func (r *Router) resolve(tick model.Tick) (string, error) {
	if tick.Instrument == "" && len(r.pipelines) == 1 {
		for id := range r.pipelines {
			return id, nil
		}
	}
	if _, ok := r.pipelines[tick.Instrument]; !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownInstrument, tick.Instrument)
	}
	return tick.Instrument, nil
}

// Enqueue hands a tick to its instrument's queue without blocking.
// Safe for concurrent use by multiple transport goroutines.
func (r *Router) Enqueue(tick model.Tick) error {
	id, err := r.resolve(tick)
	if err != nil {
		return err
	}
	tick.Instrument = id
	select {
	case r.queues[id] <- tick:
		return nil
	default:
		if r.OnQueueDrop != nil {
			r.OnQueueDrop(id)
		}
		return fmt.Errorf("%w: tick queue for %s", ErrQueueFull, id)
	}
}

// Route processes a tick synchronously on the caller's goroutine.
// Used by offline sources that already provide a single ordered stream.
func (r *Router) Route(ctx context.Context, tick model.Tick) error {
	id, err := r.resolve(tick)
	if err != nil {
		return err
	}
	tick.Instrument = id
	return r.pipelines[id].Ingest(ctx, tick)
}

// QueueStats returns (length, capacity) per instrument queue.
func (r *Router) QueueStats() map[string][2]int {
	out := make(map[string][2]int, len(r.queues))
	for id, q := range r.queues {
		out[id] = [2]int{len(q), cap(q)}
	}
	return out
}

// Run starts one consumer goroutine per instrument and blocks until ctx is
// cancelled and all consumers have returned.
func (r *Router) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for id, q := range r.queues {
		wg.Add(1)
		go func(p *Pipeline, q <-chan model.Tick) {
			defer wg.Done()
			consume(ctx, p, q)
		}(r.pipelines[id], q)
	}
	wg.Wait()
}

func consume(ctx context.Context, p *Pipeline, q <-chan model.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-q:
			logResult(p.Instrument(), p.Ingest(ctx, tick))
		}
	}
}

// logResult logs a non-nil Ingest result at the level its class warrants.
func logResult(instrument string, err error) {
	switch {
	case err == nil:
	case IsWarning(err):
		slog.Warn("[pipeline] tick skipped", slog.String("instrument", instrument), slog.String("err", err.Error()))
	default:
		slog.Error("[pipeline] sink failure", slog.String("instrument", instrument), slog.String("err", err.Error()))
	}
}
