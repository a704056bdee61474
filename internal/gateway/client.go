package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Instrument filter; empty means every instrument.
	subMu sync.RWMutex
	subs  map[string]bool

	dropped int // envelopes skipped because send was full; guarded by hub.mu
}

// SubscribeMsg replaces the client's instrument filter.
// {"type":"SUBSCRIBE","instruments":["NSE_INDEX|Nifty 50"]}
type SubscribeMsg struct {
	Type        string   `json:"type"`
	Instruments []string `json:"instruments"`
}

func newClient(hub *Hub, conn *websocket.Conn, instruments []string, buffer int) *Client {
	c := &Client{
		conn: conn,
		send: make(chan []byte, buffer),
		hub:  hub,
		subs: make(map[string]bool),
	}
	c.setFilter(instruments)
	return c
}

func (c *Client) setFilter(instruments []string) {
	c.subMu.Lock()
	c.subs = make(map[string]bool, len(instruments))
	for _, id := range instruments {
		if id != "" {
			c.subs[id] = true
		}
	}
	c.subMu.Unlock()
}

// matches reports whether an envelope channel passes the client's filter.
func (c *Client) wants(instrument string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if len(c.subs) == 0 {
		return true
	}
	return c.subs[instrument]
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			// Queued envelopes are coalesced into one frame, newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var base struct {
			Type string `json:"type"`
			Ping int64  `json:"ping"`
		}
		if json.Unmarshal(msg, &base) != nil {
			continue
		}

		switch base.Type {
		case "SUBSCRIBE":
			var sub SubscribeMsg
			if err := json.Unmarshal(msg, &sub); err != nil {
				continue
			}
			c.setFilter(sub.Instruments)
			slog.Debug("[gateway] client subscribed", "instruments", sub.Instruments)
		default:
			if base.Ping > 0 {
				pong, _ := json.Marshal(map[string]interface{}{
					"type":      "pong",
					"ping":      base.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				c.hub.mu.RLock()
				if c.hub.clients[c] {
					select {
					case c.send <- pong:
					default:
					}
				}
				c.hub.mu.RUnlock()
			}
		}
	}
}
