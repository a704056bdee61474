// Package notification delivers doji alerts to external channels
// (log, Telegram, generic webhooks).
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"hadoji/internal/doji"
	"hadoji/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level      AlertLevel      `json:"level"`
	Title      string          `json:"title"`
	Message    string          `json:"message"`
	Instrument string          `json:"instrument,omitempty"`
	Minute     model.MinuteKey `json:"minute,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// AlertFromEvent renders a doji event as an info alert. Minute labels are
// formatted in loc (exchange local time).
func AlertFromEvent(ev model.DojiEvent, loc *time.Location) Alert {
	c := ev.Candle
	return Alert{
		Level: AlertInfo,
		Title: fmt.Sprintf("Doji on %s at %s", ev.Instrument, ev.Minute.Label(loc)),
		Message: fmt.Sprintf("HA O=%.2f H=%.2f L=%.2f C=%.2f body/range=%.3f",
			c.Open, c.High, c.Low, c.Close, doji.Ratio(c)),
		Instrument: ev.Instrument,
		Minute:     ev.Minute,
	}
}

// LogNotifier logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	slog.Info("[notify] "+alert.Title,
		slog.String("level", string(alert.Level)),
		slog.String("instrument", alert.Instrument),
		slog.String("message", alert.Message))
	return nil
}
