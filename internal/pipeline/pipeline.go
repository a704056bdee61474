// Package pipeline composes minute aggregation, the Heikin-Ashi transform and
// doji detection for one instrument, and routes ticks to per-instrument
// pipelines.
//
//	Tick → agg.Aggregator → Candle → heikinashi.Transformer → HACandle → doji → EventSink
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"hadoji/internal/doji"
	"hadoji/internal/heikinashi"
	"hadoji/internal/logger"
	"hadoji/internal/marketdata/agg"
	"hadoji/internal/model"
	"hadoji/internal/trace"
)

// Config is the per-instrument configuration surface.
type Config struct {
	Instrument    string
	DojiThreshold float64 // <= 0 selects doji.DefaultThreshold
	MaxLagMinutes int     // 0 keeps every in-flight minute
}

// Hooks are optional callbacks, typically wired to metrics.
// They run synchronously on the pipeline goroutine.
type Hooks struct {
	OnTick      func()
	OnMalformed func(err error)
	OnLateTick  func(minute model.MinuteKey)
	OnEvicted   func(c model.Candle)
	OnCandle    func(c model.Candle, ha model.HACandle)
	OnDoji      func(ev model.DojiEvent)
	OnSinkError func(err error)
}

// Stats are cumulative counters for one pipeline. Safe to read concurrently.
type Stats struct {
	Ticks        uint64 `json:"ticks"`
	Malformed    uint64 `json:"malformed"`
	Late         uint64 `json:"late"`
	Evicted      uint64 `json:"evicted"`
	Candles      uint64 `json:"candles"`
	Dojis        uint64 `json:"dojis"`
	SinkFailures uint64 `json:"sink_failures"`
	Inflight     int64  `json:"inflight"`
}

// Pipeline processes one instrument's tick stream.
// Ingest must be called from a single goroutine.
type Pipeline struct {
	cfg      Config
	agg      *agg.Aggregator
	ha       *heikinashi.Transformer
	detector doji.Detector
	sink     model.EventSink
	hooks    Hooks

	now func() time.Time

	ticks, malformed, late, evicted atomic.Uint64
	candles, dojis, sinkFailures    atomic.Uint64
	inflight                        atomic.Int64
}

// New creates a pipeline for cfg.Instrument emitting to sink.
// A nil sink drops events (detections are still counted and logged).
func New(cfg Config, sink model.EventSink, hooks Hooks) *Pipeline {
	d := doji.NewDetector(cfg.DojiThreshold)
	cfg.DojiThreshold = d.Threshold

	p := &Pipeline{
		cfg:      cfg,
		agg:      agg.New(cfg.Instrument, cfg.MaxLagMinutes),
		ha:       heikinashi.New(),
		detector: d,
		sink:     sink,
		hooks:    hooks,
		now:      time.Now,
	}
	p.agg.OnLateTick = func(m model.MinuteKey) {
		p.late.Add(1)
		if p.hooks.OnLateTick != nil {
			p.hooks.OnLateTick(m)
		}
	}
	p.agg.OnEvicted = func(c model.Candle) {
		p.evicted.Add(1)
		if p.hooks.OnEvicted != nil {
			p.hooks.OnEvicted(c)
		}
	}
	return p
}

// Instrument returns the instrument this pipeline serves.
func (p *Pipeline) Instrument() string { return p.cfg.Instrument }

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Ingest feeds one tick through the pipeline.
//
// It returns nil on success, a warning wrapping model.ErrMalformedTick or
// ErrLateTick for a skipped tick, or a *SinkError if a doji was detected and
// the sink failed. No error stops the stream.
func (p *Pipeline) Ingest(ctx context.Context, tick model.Tick) error {
	p.ticks.Add(1)
	if p.hooks.OnTick != nil {
		p.hooks.OnTick()
	}

	candle, closed, err := p.agg.Ingest(tick)
	p.inflight.Store(int64(p.agg.Inflight()))
	if err != nil {
		if errors.Is(err, model.ErrMalformedTick) {
			p.malformed.Add(1)
			if p.hooks.OnMalformed != nil {
				p.hooks.OnMalformed(err)
			}
		}
		return err
	}
	if !closed {
		return nil
	}
	return p.onClosed(ctx, candle)
}

// onClosed transforms a closed candle and emits a doji event if it qualifies.
func (p *Pipeline) onClosed(ctx context.Context, c model.Candle) error {
	ha := p.ha.Transform(c)
	p.candles.Add(1)
	if p.hooks.OnCandle != nil {
		p.hooks.OnCandle(c, ha)
	}

	if !p.detector.Detect(ha) {
		return nil
	}

	ev := model.DojiEvent{
		Instrument: p.cfg.Instrument,
		Minute:     c.Minute,
		Candle:     ha,
		DetectedAt: p.now().UTC(),
	}
	p.dojis.Add(1)

	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(p.cfg.Instrument, c.Minute.Time()))
	slog.Info("[pipeline] doji detected", append(logger.LogWithTrace(ctx),
		slog.String("instrument", ev.Instrument),
		slog.String("minute", ev.Minute.String()),
		slog.Float64("ha_open", ha.Open),
		slog.Float64("ha_high", ha.High),
		slog.Float64("ha_low", ha.Low),
		slog.Float64("ha_close", ha.Close),
		slog.Float64("ratio", doji.Ratio(ha)))...)

	if p.hooks.OnDoji != nil {
		p.hooks.OnDoji(ev)
	}
	if p.sink == nil {
		return nil
	}

	ctx, span := trace.StartSpan(ctx, "pipeline.emit")
	err := p.sink.Emit(ctx, ev)
	span.End()
	if err != nil {
		p.sinkFailures.Add(1)
		serr := &SinkError{Instrument: ev.Instrument, Minute: ev.Minute, Err: err}
		if p.hooks.OnSinkError != nil {
			p.hooks.OnSinkError(serr)
		}
		return serr
	}
	return nil
}

// LastHA returns the most recent Heikin-Ashi candle, if any.
func (p *Pipeline) LastHA() (model.HACandle, bool) {
	return p.ha.Last()
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Ticks:        p.ticks.Load(),
		Malformed:    p.malformed.Load(),
		Late:         p.late.Load(),
		Evicted:      p.evicted.Load(),
		Candles:      p.candles.Load(),
		Dojis:        p.dojis.Load(),
		SinkFailures: p.sinkFailures.Load(),
		Inflight:     p.inflight.Load(),
	}
}
