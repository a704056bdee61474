package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"hadoji/internal/bus"
	"hadoji/internal/model"
	"hadoji/internal/pipeline"
	redisstore "hadoji/internal/store/redis"
)

const nifty = "NSE_INDEX|Nifty 50"

var base = time.Date(2024, 1, 15, 3, 45, 0, 0, time.UTC)

func tickAt(minute, sec int, price float64) model.Tick {
	ts := base.Add(time.Duration(minute)*time.Minute + time.Duration(sec)*time.Second)
	return model.Tick{Instrument: nifty, Price: price, CumulativeVolume: 100, TimestampEpoch: ts.Unix()}
}

func TestPipelineHooks_CountsOutcomes(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	sink := pipeline.NewRingSink(4)
	p := pipeline.New(pipeline.Config{Instrument: nifty}, sink, m.PipelineHooks(nifty))
	ctx := context.Background()

	// Minute 0: O=100 H=102 L=98 C=100.1, a doji on the first HA candle.
	for _, tk := range []model.Tick{
		tickAt(0, 1, 100), tickAt(0, 10, 102), tickAt(0, 20, 98), tickAt(0, 50, 100.1),
		tickAt(1, 0, 101),
	} {
		if err := p.Ingest(ctx, tk); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}
	if err := p.Ingest(ctx, tickAt(0, 59, 100)); !pipeline.IsWarning(err) {
		t.Fatalf("expected late tick warning, got %v", err)
	}
	bad := tickAt(1, 5, 0)
	if err := p.Ingest(ctx, bad); !pipeline.IsWarning(err) {
		t.Fatalf("expected malformed warning, got %v", err)
	}

	checks := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"ticks", m.TicksTotal.WithLabelValues(nifty), 7},
		{"late", m.LateTicks.WithLabelValues(nifty), 1},
		{"malformed", m.MalformedTicks.WithLabelValues(nifty), 1},
		{"candles", m.CandlesTotal.WithLabelValues(nifty), 1},
		{"dojis", m.DojiTotal.WithLabelValues(nifty), 1},
		{"sink failures", m.SinkFailures.WithLabelValues(nifty), 0},
	}
	for _, c := range checks {
		if got := testutil.ToFloat64(c.c); got != c.want {
			t.Errorf("%s: expected %v, got %v", c.name, c.want, got)
		}
	}

	m.ObservePipelines(pipelineRouter(p))
	if got := testutil.ToFloat64(m.InflightMinutes.WithLabelValues(nifty)); got != 1 {
		t.Errorf("expected 1 in-flight minute, got %v", got)
	}
}

func pipelineRouter(p *pipeline.Pipeline) *pipeline.Router {
	r := pipeline.NewRouter(8)
	r.Add(p)
	return r
}

func TestPipelineHooks_RingOverflow(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	hooks := m.PipelineHooks(nifty)

	hooks.OnSinkError(fmt.Errorf("emit: %w", pipeline.ErrQueueFull))
	hooks.OnSinkError(fmt.Errorf("redis down"))

	if got := testutil.ToFloat64(m.SinkFailures.WithLabelValues(nifty)); got != 2 {
		t.Errorf("expected 2 sink failures, got %v", got)
	}
	if got := testutil.ToFloat64(m.RingBufOverflow); got != 1 {
		t.Errorf("expected 1 ring overflow, got %v", got)
	}
}

func TestBreakerHook(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	hook := m.BreakerHook()

	hook(redisstore.StateClosed, redisstore.StateOpen)
	if got := testutil.ToFloat64(m.RedisCircuitBreakerState); got != 1 {
		t.Errorf("expected state 1, got %v", got)
	}
	hook(redisstore.StateOpen, redisstore.StateHalfOpen)
	hook(redisstore.StateHalfOpen, redisstore.StateOpen)
	if got := testutil.ToFloat64(m.RedisCircuitBreakerTrips); got != 2 {
		t.Errorf("expected 2 trips, got %v", got)
	}
}

func TestObserveFanOut(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveFanOut([]bus.ChannelStat{{Name: "redis", Len: 25, Cap: 100}, {Name: "empty", Len: 0, Cap: 0}})

	if got := testutil.ToFloat64(m.ChannelSaturationPct.WithLabelValues("fanout:redis")); got != 25 {
		t.Errorf("expected 25%%, got %v", got)
	}
	if n := testutil.CollectAndCount(m.ChannelSaturationPct); n != 1 {
		t.Errorf("zero-capacity channel should be skipped, got %d series", n)
	}
}

func TestSetMarketOpen(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.SetMarketOpen(true)
	if got := testutil.ToFloat64(m.MarketState); got != 1 {
		t.Errorf("expected 1, got %v", got)
	}
	m.SetMarketOpen(false)
	if got := testutil.ToFloat64(m.MarketState); got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
}

func TestHealthStatus_Status(t *testing.T) {
	h := NewHealthStatus()
	if got := h.Status(); got != "degraded" {
		t.Errorf("feed down: expected degraded, got %s", got)
	}

	h.SetFeedConnected(true)
	if got := h.Status(); got != "healthy" {
		t.Errorf("no stores enabled: expected healthy, got %s", got)
	}

	h.SetRedisConnected(false)
	if got := h.Status(); got != "degraded" {
		t.Errorf("redis down: expected degraded, got %s", got)
	}

	h.SetSQLiteOK(false)
	if got := h.Status(); got != "unhealthy" {
		t.Errorf("both stores down: expected unhealthy, got %s", got)
	}
}

func TestHealthStatus_ServeHTTP(t *testing.T) {
	h := NewHealthStatus()
	now := time.Date(2024, 1, 15, 4, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }
	h.StartedAt = now.Add(-time.Hour)
	h.SetFeedConnected(true)
	h.SetRedisConnected(true)
	h.SetLastTickTime(now.Add(-1500 * time.Millisecond))
	h.SetInstruments([]string{nifty})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body["status"])
	}
	if body["tick_age"] != "1.5s" {
		t.Errorf("expected tick_age 1.5s, got %v", body["tick_age"])
	}
	if body["uptime"] != "1h0m0s" {
		t.Errorf("expected uptime 1h0m0s, got %v", body["uptime"])
	}

	h.SetFeedConnected(false)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when degraded, got %d", rec.Code)
	}
}

func TestServer_ServesMetricsAndHealth(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.TicksTotal.WithLabelValues(nifty).Add(3)

	h := NewHealthStatus()
	h.SetFeedConnected(true)
	srv := httptest.NewServer(NewServer(":0", h, reg).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(raw), `hadoji_ticks_total{instrument="NSE_INDEX|Nifty 50"} 3`) {
		t.Errorf("metrics output missing tick counter:\n%s", raw)
	}

	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from /healthz, got %d", resp.StatusCode)
	}
}
