package feed

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// WSConfig holds configuration for the websocket tick source.
type WSConfig struct {
	// URL of the tick server, e.g. "ws://localhost:9001/ws".
	URL string

	// AccessToken is appended as the access_token query parameter if set.
	AccessToken string

	// Instruments are sent in the "sub" message on every (re)connect.
	// The first one is also the fallback for messages without
	// instrument_token.
	Instruments []string

	// GUID identifies the subscription request. Defaults to "hadoji".
	GUID string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *WSConfig) defaults() {
	if c.GUID == "" {
		c.GUID = "hadoji"
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// WSIngest reads Upstox-format JSON ticks from a websocket and reconnects
// with exponential backoff on disconnect.
type WSIngest struct {
	cfg      WSConfig
	url      string
	fallback string

	// Optional hooks.
	OnConnect    func()
	OnDisconnect func(err error)
	OnReconnect  func()
	OnTick       func()
}

// NewWSIngest validates cfg and builds the dial URL.
func NewWSIngest(cfg WSConfig) (*WSIngest, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errors.New("feed: websocket URL must use ws or wss")
	}
	if cfg.AccessToken != "" {
		q := u.Query()
		q.Set("access_token", cfg.AccessToken)
		u.RawQuery = q.Encode()
	}
	ing := &WSIngest{cfg: cfg, url: u.String()}
	if len(cfg.Instruments) > 0 {
		ing.fallback = cfg.Instruments[0]
	}
	return ing, nil
}

// Start connects and streams ticks into handle. Blocks until ctx is
// cancelled. Reconnects automatically on disconnect.
func (ing *WSIngest) Start(ctx context.Context, handle TickHandler) error {
	delay := ing.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		connected, err := ing.runOnce(ctx, handle)
		if err == nil {
			return nil
		}
		if connected {
			delay = ing.cfg.ReconnectDelay
		}

		slog.Warn("[feed] websocket disconnected, reconnecting",
			slog.String("err", err.Error()),
			slog.Duration("delay", delay))
		if ing.OnDisconnect != nil {
			ing.OnDisconnect(err)
		}
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > ing.cfg.MaxReconnectDelay {
			delay = ing.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel. connected reports whether the dial succeeded.
func (ing *WSIngest) runOnce(ctx context.Context, handle TickHandler) (connected bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ing.url, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	slog.Info("[feed] websocket connected", slog.String("url", ing.cfg.URL))
	if ing.OnConnect != nil {
		ing.OnConnect()
	}

	if len(ing.cfg.Instruments) > 0 {
		sub, err := SubscribeMessage(ing.cfg.GUID, ing.cfg.Instruments)
		if err != nil {
			return true, err
		}
		if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
			return true, err
		}
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return true, nil
			default:
			}
			return true, err
		}

		tick, err := ParseUpstox(raw, ing.fallback)
		if errors.Is(err, ErrNoData) {
			continue
		}
		if err != nil {
			slog.Warn("[feed] parse error", slog.String("err", err.Error()), slog.String("raw", string(raw)))
			continue
		}
		if ing.OnTick != nil {
			ing.OnTick()
		}
		if err := handle(tick); err != nil {
			slog.Warn("[feed] tick rejected",
				slog.String("instrument", tick.Instrument),
				slog.String("err", err.Error()))
		}
	}
}
