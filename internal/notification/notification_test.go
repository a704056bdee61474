package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"hadoji/internal/markethours"
	"hadoji/internal/model"
)

// 2024-01-15 09:15 IST
const minute915 model.MinuteKey = 1705290300

func dojiEvent() model.DojiEvent {
	return model.DojiEvent{
		Instrument: "NSE_INDEX|Nifty 50",
		Minute:     minute915,
		Candle:     model.HACandle{Open: 100, High: 102, Low: 98, Close: 100.1},
	}
}

func TestAlertFromEvent(t *testing.T) {
	a := AlertFromEvent(dojiEvent(), markethours.IST)

	if a.Level != AlertInfo {
		t.Errorf("expected INFO, got %s", a.Level)
	}
	if a.Title != "Doji on NSE_INDEX|Nifty 50 at 2024-01-15 09:15" {
		t.Errorf("unexpected title %q", a.Title)
	}
	if !strings.Contains(a.Message, "body/range=0.025") {
		t.Errorf("expected ratio in message, got %q", a.Message)
	}
	if a.Instrument != "NSE_INDEX|Nifty 50" || a.Minute != minute915 {
		t.Errorf("unexpected alert fields %+v", a)
	}
}

func TestWebhookNotifier_Send(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	n.now = func() time.Time { return time.Date(2024, 1, 15, 3, 46, 0, 0, time.UTC) }

	if err := n.Send(context.Background(), AlertFromEvent(dojiEvent(), markethours.IST)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got["level"] != "INFO" || got["instrument"] != "NSE_INDEX|Nifty 50" || got["ts"] != "2024-01-15T03:46:00Z" {
		t.Errorf("unexpected payload %v", got)
	}
	if got["minute"] != float64(minute915) {
		t.Errorf("expected minute %d, got %v", minute915, got["minute"])
	}
}

func TestWebhookNotifier_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{Title: "x"}); err == nil {
		t.Error("expected error for 502")
	}
}

func TestTelegramNotifier_Send(t *testing.T) {
	var path string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &body)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42")
	n.baseURL = srv.URL

	alert := Alert{Level: AlertInfo, Title: "Doji on A.1", Message: "O=1.5", Instrument: "NSE_INDEX|Nifty 50"}
	if err := n.Send(context.Background(), alert); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if path != "/botTOKEN/sendMessage" {
		t.Errorf("unexpected path %q", path)
	}
	if body["chat_id"] != "42" || body["parse_mode"] != "MarkdownV2" {
		t.Errorf("unexpected body %v", body)
	}
	text, _ := body["text"].(string)
	for _, want := range []string{`*Doji on A\.1*`, "```\nO=1.5\n```", `\#NSE\_INDEX\_Nifty50`} {
		if !strings.Contains(text, want) {
			t.Errorf("text %q missing %q", text, want)
		}
	}
}

func TestTelegramNotifier_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"ok":false,"description":"Too Many Requests","parameters":{"retry_after":7}}`)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42")
	n.baseURL = srv.URL
	err := n.Send(context.Background(), Alert{Title: "x"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if !strings.Contains(err.Error(), "retry after 7s") {
		t.Errorf("retry hint missing: %v", err)
	}
}

func TestEscapeMarkdown(t *testing.T) {
	if got := escapeMarkdown("a_b*c.d|e"); got != `a\_b\*c\.d\|e` {
		t.Errorf("unexpected escape %q", got)
	}
}

func TestHashtag(t *testing.T) {
	if got := hashtag("NSE_FO|BANKNIFTY 24JAN"); got != "NSE_FO_BANKNIFTY24JAN" {
		t.Errorf("hashtag = %q", got)
	}
}

type stubNotifier struct {
	err   error
	calls int
}

func (s *stubNotifier) Send(context.Context, Alert) error {
	s.calls++
	return s.err
}

func TestDispatcher_ContinuesPastFailures(t *testing.T) {
	bad := &stubNotifier{err: errors.New("down")}
	good := &stubNotifier{}
	d := NewDispatcher(markethours.IST, bad, good)

	var sent, failed int
	d.OnSent = func() { sent++ }
	d.OnError = func(error) { failed++ }

	ch := make(chan model.DojiEvent, 2)
	ch <- dojiEvent()
	ch <- dojiEvent()
	close(ch)
	d.Run(context.Background(), ch)

	if bad.calls != 2 || good.calls != 2 {
		t.Errorf("expected every notifier called twice, got bad=%d good=%d", bad.calls, good.calls)
	}
	if sent != 2 || failed != 2 {
		t.Errorf("expected sent=2 failed=2, got %d %d", sent, failed)
	}
}
