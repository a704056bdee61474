package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zerodha/gokiteconnect/v4/models"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"

	"hadoji/internal/model"
)

// KiteConfig configures the Zerodha ticker source.
type KiteConfig struct {
	APIKey      string
	AccessToken string
	// Tokens maps Kite instrument tokens to the instrument IDs used by the
	// pipelines.
	Tokens map[uint32]string
}

// KiteSource streams ticks from the Zerodha kiteticker websocket.
type KiteSource struct {
	cfg    KiteConfig
	ticker *kiteticker.Ticker
	now    func() time.Time

	OnConnect    func()
	OnDisconnect func(err error)
	OnReconnect  func()
	OnTick       func()
}

// NewKiteSource validates cfg.
func NewKiteSource(cfg KiteConfig) (*KiteSource, error) {
	if cfg.APIKey == "" || cfg.AccessToken == "" {
		return nil, fmt.Errorf("feed: kite api key and access token are required")
	}
	if len(cfg.Tokens) == 0 {
		return nil, fmt.Errorf("feed: no kite instrument tokens configured")
	}
	return &KiteSource{cfg: cfg, now: time.Now}, nil
}

// Start runs the ticker until ctx is cancelled. kiteticker handles its own
// reconnects; subscriptions are renewed on every connect.
func (k *KiteSource) Start(ctx context.Context, handle TickHandler) error {
	k.ticker = kiteticker.New(k.cfg.APIKey, k.cfg.AccessToken)

	tokens := make([]uint32, 0, len(k.cfg.Tokens))
	for tok := range k.cfg.Tokens {
		tokens = append(tokens, tok)
	}

	k.ticker.OnConnect(func() {
		slog.Info("[feed] kite ticker connected", slog.Int("tokens", len(tokens)))
		if k.OnConnect != nil {
			k.OnConnect()
		}
		if err := k.ticker.Subscribe(tokens); err != nil {
			slog.Error("[feed] kite subscribe failed", slog.String("err", err.Error()))
			return
		}
		if err := k.ticker.SetMode(kiteticker.ModeFull, tokens); err != nil {
			slog.Error("[feed] kite set mode failed", slog.String("err", err.Error()))
		}
	})
	k.ticker.OnError(func(err error) {
		slog.Warn("[feed] kite ticker error", slog.String("err", err.Error()))
	})
	k.ticker.OnClose(func(code int, reason string) {
		slog.Warn("[feed] kite ticker closed", slog.Int("code", code), slog.String("reason", reason))
		if k.OnDisconnect != nil {
			k.OnDisconnect(fmt.Errorf("closed: %d %s", code, reason))
		}
	})
	k.ticker.OnReconnect(func(attempt int, delay time.Duration) {
		slog.Info("[feed] kite ticker reconnecting", slog.Int("attempt", attempt), slog.Duration("delay", delay))
		if k.OnReconnect != nil {
			k.OnReconnect()
		}
	})
	k.ticker.OnNoReconnect(func(attempt int) {
		slog.Error("[feed] kite ticker gave up reconnecting", slog.Int("attempts", attempt))
	})
	k.ticker.OnTick(func(t models.Tick) {
		tick, ok := k.convert(t)
		if !ok {
			return
		}
		if k.OnTick != nil {
			k.OnTick()
		}
		if err := handle(tick); err != nil {
			slog.Warn("[feed] tick rejected", slog.String("instrument", tick.Instrument), slog.String("err", err.Error()))
		}
	})

	done := make(chan struct{})
	go func() {
		k.ticker.ServeWithContext(ctx)
		close(done)
	}()

	select {
	case <-ctx.Done():
		k.ticker.Stop()
	case <-done:
	}
	return nil
}

// convert maps a kite tick to model.Tick. Ticks for unknown tokens are
// dropped. Index ticks may carry no exchange timestamp; receive time is used
// instead.
func (k *KiteSource) convert(t models.Tick) (model.Tick, bool) {
	id, ok := k.cfg.Tokens[t.InstrumentToken]
	if !ok {
		return model.Tick{}, false
	}
	ts := t.Timestamp.Time
	if ts.IsZero() {
		ts = k.now()
	}
	return model.Tick{
		Instrument:       id,
		Price:            t.LastPrice,
		CumulativeVolume: uint64(t.VolumeTraded),
		TimestampEpoch:   ts.Unix(),
	}, true
}
