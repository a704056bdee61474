// cmd/tickserver is a demo WebSocket tick server.
// It broadcasts simulated Upstox-format ticks so dojiengine can run without
// broker credentials:
//
//	{"data":{"instrument_token":"NSE_INDEX|Nifty 50","last_price":22000.5,
//	         "volume_traded_today":123456,"exchange_time":1705290310000}}
//
// Config (env vars):
//
//	TICK_SERVER_ADDR  listen address (default ":9001")
//	TICK_INSTRUMENTS  comma-separated ID=START_PRICE pairs
//	                  (default "NSE_INDEX|Nifty 50=22000")
//	TICK_INTERVAL_MS  broadcast interval in milliseconds (default 250)
//	TICK_RECORD       optional JSONL file every broadcast tick is appended to
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"hadoji/internal/logger"
)

// upstoxMsg is the wire shape consumed by feed.ParseUpstox.
type upstoxMsg struct {
	Data upstoxData `json:"data"`
}

type upstoxData struct {
	InstrumentToken   string  `json:"instrument_token"`
	LastPrice         float64 `json:"last_price"`
	VolumeTradedToday uint64  `json:"volume_traded_today"`
	ExchangeTime      int64   `json:"exchange_time"`
}

// instrument holds per-symbol simulation state.
type instrument struct {
	ID     string
	Price  float64
	Volume uint64
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client, drop tick
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("[tickserver] upgrade error", "error", err)
			return
		}
		slog.Info("[tickserver] client connected", "remote", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			slog.Info("[tickserver] client disconnected", "remote", r.RemoteAddr)
		}()

		// Read loop: log subscription requests, detect disconnects.
		go func() {
			defer h.unregister(conn)
			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}
				slog.Debug("[tickserver] client message", "msg", string(msg))
			}
		}()

		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Tick generator ──────────────────────────────────────────────────────────

// walkPrice applies a small random walk (±0.05%), rounded to the 0.05 tick size.
func walkPrice(rng *rand.Rand, price float64) float64 {
	pct := (rng.Float64()*0.1 - 0.05) / 100.0
	next := math.Round(price*(1+pct)*20) / 20
	if next < 0.05 {
		next = 0.05
	}
	return next
}

func runGenerator(ctx context.Context, h *hub, instruments []instrument, interval time.Duration, record *os.File) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for i := range instruments {
				in := &instruments[i]
				in.Price = walkPrice(rng, in.Price)
				in.Volume += uint64(rng.Intn(100) + 1)
				b, err := json.Marshal(upstoxMsg{Data: upstoxData{
					InstrumentToken:   in.ID,
					LastPrice:         in.Price,
					VolumeTradedToday: in.Volume,
					ExchangeTime:      now.UnixMilli(),
				}})
				if err != nil {
					continue
				}
				h.broadcast(b)
				if record != nil {
					record.Write(append(b, '\n'))
				}
			}
		}
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("[tickserver] .env not loaded", "error", err)
	}
	logger.Init("tickserver", logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	addr := envOrDefault("TICK_SERVER_ADDR", ":9001")
	instruments, err := parseInstruments(envOrDefault("TICK_INSTRUMENTS", "NSE_INDEX|Nifty 50=22000"))
	if err != nil {
		slog.Error("[tickserver] bad TICK_INSTRUMENTS", "error", err)
		os.Exit(1)
	}
	interval := time.Duration(envIntOrDefault("TICK_INTERVAL_MS", 250)) * time.Millisecond

	var record *os.File
	if path := os.Getenv("TICK_RECORD"); path != "" {
		record, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			slog.Error("[tickserver] cannot open record file", "path", path, "error", err)
			os.Exit(1)
		}
		defer record.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	h := newHub()
	go runGenerator(ctx, h, instruments, interval, record)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(h))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tickserver"}`)
	})
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("[tickserver] listening", "addr", addr, "instruments", len(instruments), "interval", interval.String())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("[tickserver] server error", "error", err)
		os.Exit(1)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func parseInstruments(s string) ([]instrument, error) {
	var result []instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, priceStr, ok := strings.Cut(part, "=")
		price := 1000.0
		if ok {
			p, err := strconv.ParseFloat(strings.TrimSpace(priceStr), 64)
			if err != nil || p <= 0 {
				return nil, fmt.Errorf("invalid start price in %q", part)
			}
			price = p
		}
		result = append(result, instrument{ID: strings.TrimSpace(id), Price: price})
	}
	if len(result) == 0 {
		return nil, errors.New("no instruments")
	}
	return result, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
