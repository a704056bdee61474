package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"hadoji/internal/model"
)

func TestWSIngest_SubscribesAndStreams(t *testing.T) {
	subs := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("access_token") != "tok" {
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, sub, err := conn.ReadMessage()
		if err != nil {
			return
		}
		subs <- string(sub)
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ack"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`bad`))
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"data":{"last_price":100.5,"volume_traded_today":10,"exchange_time":1705290310000}}`))
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ing, err := NewWSIngest(WSConfig{
		URL:         "ws" + strings.TrimPrefix(srv.URL, "http"),
		AccessToken: "tok",
		Instruments: []string{"NSE_INDEX|Nifty 50"},
	})
	if err != nil {
		t.Fatal(err)
	}

	ticks := make(chan model.Tick, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ing.Start(ctx, func(tk model.Tick) error {
		ticks <- tk
		return nil
	})

	select {
	case sub := <-subs:
		if !strings.Contains(sub, `"method":"sub"`) || !strings.Contains(sub, "Nifty 50") {
			t.Errorf("unexpected subscribe message %s", sub)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no subscribe message")
	}

	select {
	case tk := <-ticks:
		want := model.Tick{Instrument: "NSE_INDEX|Nifty 50", Price: 100.5, CumulativeVolume: 10, TimestampEpoch: 1705290310000}
		if tk != want {
			t.Errorf("got %+v, want %+v", tk, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no tick received")
	}
}

func TestNewWSIngest_RejectsBadScheme(t *testing.T) {
	if _, err := NewWSIngest(WSConfig{URL: "http://localhost:9001/ws"}); err == nil {
		t.Error("expected error for http scheme")
	}
}
