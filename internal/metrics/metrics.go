// Package metrics exposes Prometheus metrics and the /healthz endpoint.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"hadoji/internal/bus"
	"hadoji/internal/model"
	"hadoji/internal/pipeline"
	redisstore "hadoji/internal/store/redis"
)

// Metrics holds all Prometheus metrics for the doji engine.
type Metrics struct {
	// Per-instrument pipeline counters
	TicksTotal      *prometheus.CounterVec
	MalformedTicks  *prometheus.CounterVec
	LateTicks       *prometheus.CounterVec
	EvictedMinutes  *prometheus.CounterVec
	CandlesTotal    *prometheus.CounterVec
	DojiTotal       *prometheus.CounterVec
	SinkFailures    *prometheus.CounterVec
	TickQueueDrops  *prometheus.CounterVec
	InflightMinutes *prometheus.GaugeVec

	// Detection latency: wall clock at detection minus the end of the minute.
	DetectionLag prometheus.Histogram

	// Core -> presentation queue
	RingBufOverflow prometheus.Counter

	// Backpressure
	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	// Feed
	WSReconnects prometheus.Counter

	// Redis circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedEvents      prometheus.Counter

	// Journal and notifications
	JournaledEvents    prometheus.Counter
	NotificationsSent  prometheus.Counter
	NotificationErrors prometheus.Counter

	// Gateway
	GatewayClients prometheus.Gauge

	// Market session state
	MarketState prometheus.Gauge // 0=closed, 1=open
}

// NewMetrics creates all metrics and registers them with reg
// (prometheus.DefaultRegisterer in the binaries, a fresh registry in tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	perInstrument := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, []string{"instrument"})
	}

	m := &Metrics{
		TicksTotal:     perInstrument("hadoji_ticks_total", "Ticks ingested by the pipeline"),
		MalformedTicks: perInstrument("hadoji_malformed_ticks_total", "Ticks rejected as malformed"),
		LateTicks:      perInstrument("hadoji_late_ticks_total", "Ticks for minutes already closed or evicted"),
		EvictedMinutes: perInstrument("hadoji_evicted_minutes_total", "Unclosed minutes dropped by the lag window"),
		CandlesTotal:   perInstrument("hadoji_candles_total", "One-minute candles closed"),
		DojiTotal:      perInstrument("hadoji_doji_events_total", "Doji events detected"),
		SinkFailures:   perInstrument("hadoji_sink_failures_total", "Doji events the sink rejected"),
		TickQueueDrops: perInstrument("hadoji_tick_queue_drops_total", "Ticks dropped because the instrument queue was full"),
		InflightMinutes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hadoji_inflight_minutes",
			Help: "Open minute accumulators per instrument",
		}, []string{"instrument"}),

		DetectionLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hadoji_detection_lag_seconds",
			Help:    "Delay between the end of a minute and its doji detection",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),

		RingBufOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hadoji_ringbuf_overflow_total",
			Help: "Doji events rejected because the event ring was full",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hadoji_fanout_drops_total",
			Help: "Events dropped by the FanOut bus per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hadoji_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hadoji_ws_reconnects_total",
			Help: "Total feed reconnection attempts",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hadoji_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hadoji_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hadoji_redis_buffered_events_total",
			Help: "Events buffered locally while Redis was unavailable",
		}),

		JournaledEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hadoji_journaled_events_total",
			Help: "Events committed to the SQLite journal",
		}),
		NotificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hadoji_notifications_sent_total",
			Help: "Alerts delivered",
		}),
		NotificationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hadoji_notification_errors_total",
			Help: "Alert deliveries that failed",
		}),

		GatewayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hadoji_gateway_clients",
			Help: "Connected websocket clients",
		}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hadoji_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.MalformedTicks,
		m.LateTicks,
		m.EvictedMinutes,
		m.CandlesTotal,
		m.DojiTotal,
		m.SinkFailures,
		m.TickQueueDrops,
		m.InflightMinutes,
		m.DetectionLag,
		m.RingBufOverflow,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.WSReconnects,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedEvents,
		m.JournaledEvents,
		m.NotificationsSent,
		m.NotificationErrors,
		m.GatewayClients,
		m.MarketState,
	)

	return m
}

// PipelineHooks returns pipeline hooks that feed the per-instrument metrics.
func (m *Metrics) PipelineHooks(instrument string) pipeline.Hooks {
	ticks := m.TicksTotal.WithLabelValues(instrument)
	malformed := m.MalformedTicks.WithLabelValues(instrument)
	late := m.LateTicks.WithLabelValues(instrument)
	evicted := m.EvictedMinutes.WithLabelValues(instrument)
	candles := m.CandlesTotal.WithLabelValues(instrument)
	dojis := m.DojiTotal.WithLabelValues(instrument)
	sinkFailures := m.SinkFailures.WithLabelValues(instrument)

	return pipeline.Hooks{
		OnTick:      ticks.Inc,
		OnMalformed: func(error) { malformed.Inc() },
		OnLateTick:  func(model.MinuteKey) { late.Inc() },
		OnEvicted:   func(model.Candle) { evicted.Inc() },
		OnCandle:    func(model.Candle, model.HACandle) { candles.Inc() },
		OnDoji: func(ev model.DojiEvent) {
			dojis.Inc()
			lag := ev.DetectedAt.Sub(ev.Minute.Next().Time())
			if lag >= 0 {
				m.DetectionLag.Observe(lag.Seconds())
			}
		},
		OnSinkError: func(err error) {
			sinkFailures.Inc()
			if errors.Is(err, pipeline.ErrQueueFull) {
				m.RingBufOverflow.Inc()
			}
		},
	}
}

// ObservePipelines copies the in-flight window sizes into the gauge.
func (m *Metrics) ObservePipelines(r *pipeline.Router) {
	for _, id := range r.Instruments() {
		if p, ok := r.Pipeline(id); ok {
			m.InflightMinutes.WithLabelValues(id).Set(float64(p.Stats().Inflight))
		}
	}
	for id, q := range r.QueueStats() {
		if q[1] > 0 {
			m.ChannelSaturationPct.WithLabelValues("ticks:" + id).Set(float64(q[0]) / float64(q[1]) * 100)
		}
	}
}

// ObserveFanOut records subscriber channel saturation.
func (m *Metrics) ObserveFanOut(stats []bus.ChannelStat) {
	for _, s := range stats {
		if s.Cap > 0 {
			m.ChannelSaturationPct.WithLabelValues("fanout:" + s.Name).Set(float64(s.Len) / float64(s.Cap) * 100)
		}
	}
}

// BreakerHook returns an OnStateChange callback for the Redis circuit breaker.
func (m *Metrics) BreakerHook() func(from, to redisstore.State) {
	return func(from, to redisstore.State) {
		m.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			m.RedisCircuitBreakerTrips.Inc()
		}
	}
}

// SetMarketOpen records the market session state.
func (m *Metrics) SetMarketOpen(open bool) {
	if open {
		m.MarketState.Set(1)
	} else {
		m.MarketState.Set(0)
	}
}
