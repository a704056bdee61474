package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"hadoji/internal/markethours"
	"hadoji/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// RegisterRoutes registers the gateway routes on mux. reader, if non-nil,
// answers /api/doji for instruments with no retained history (after a restart).
func RegisterRoutes(mux *http.ServeMux, hub *Hub, reader model.EventReader) {
	// WebSocket endpoint. ?instrument=ID (repeatable) filters the stream;
	// ?last_seq=N replays only envelopes newer than N.
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("[gateway] ws upgrade error", "error", err)
			return
		}
		var lastSeq int64
		if s := r.URL.Query().Get("last_seq"); s != "" {
			lastSeq, _ = strconv.ParseInt(s, 10, 64)
		}
		hub.ServeClient(conn, r.URL.Query()["instrument"], lastSeq)
	})

	// REST: recent doji events for one instrument, oldest first.
	mux.HandleFunc("/api/doji", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			SetCORS(w)
			w.WriteHeader(http.StatusOK)
			return
		}
		id := r.URL.Query().Get("instrument")
		if id == "" {
			writeError(w, http.StatusBadRequest, "instrument is required")
			return
		}
		if !hub.Known(id) {
			writeError(w, http.StatusNotFound, "unknown instrument")
			return
		}
		limit := hub.historySize
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			if n < limit {
				limit = n
			}
		}

		events := hub.Recent(id, limit)
		if len(events) == 0 && reader != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			stored, err := reader.Recent(ctx, id, limit)
			if err != nil {
				slog.Warn("[gateway] history read failed", "instrument", id, "error", err)
			} else {
				events = stored
			}
		}
		if events == nil {
			events = []model.DojiEvent{}
		}
		writeJSON(w, http.StatusOK, events)
	})

	// REST: configured instruments
	mux.HandleFunc("/api/instruments", func(w http.ResponseWriter, r *http.Request) {
		ids := hub.Instruments()
		if ids == nil {
			ids = []string{}
		}
		writeJSON(w, http.StatusOK, ids)
	})

	// REST: gateway status
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"clients":      hub.ClientCount(),
			"seq":          hub.Seq(),
			"marketOpen":   markethours.IsMarketOpen(now),
			"marketStatus": markethours.StatusString(now),
			"latency":      hub.Latency.Summaries(),
		})
	})
}

// ServeClient registers an upgraded connection and starts its pumps.
func (h *Hub) ServeClient(conn *websocket.Conn, instruments []string, lastSeq int64) {
	buffer := 256
	if n := h.replay.Len(); n > buffer {
		buffer = n + 64
	}
	client := newClient(h, conn, instruments, buffer)
	conn.EnableWriteCompression(true)

	h.register(client, lastSeq)

	go client.writePump()
	go client.readPump()
}

// Server serves the gateway routes over HTTP.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a gateway server on addr.
func NewServer(addr string, hub *Hub, reader model.EventReader) *Server {
	mux := http.NewServeMux()
	RegisterRoutes(mux, hub, reader)
	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Handler exposes the route mux.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("[gateway] listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("[gateway] server error", "error", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
