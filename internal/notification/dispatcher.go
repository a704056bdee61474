package notification

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"hadoji/internal/model"
	"hadoji/internal/trace"
)

// Dispatcher turns doji events into alerts and sends each one to every
// notifier. A failing notifier does not stop the others.
type Dispatcher struct {
	notifiers []Notifier
	loc       *time.Location
	timeout   time.Duration

	// OnSent and OnError are optional metric hooks.
	OnSent  func()
	OnError func(err error)
}

// NewDispatcher creates a dispatcher that labels minutes in loc.
func NewDispatcher(loc *time.Location, notifiers ...Notifier) *Dispatcher {
	if loc == nil {
		loc = time.UTC
	}
	return &Dispatcher{notifiers: notifiers, loc: loc, timeout: 10 * time.Second}
}

// Run reads events from ch until ctx is cancelled or ch is closed.
func (d *Dispatcher) Run(ctx context.Context, ch <-chan model.DojiEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			d.Dispatch(ctx, ev)
		}
	}
}

// Dispatch sends the alert for ev to all notifiers and returns the number
// of successful deliveries.
func (d *Dispatcher) Dispatch(ctx context.Context, ev model.DojiEvent) int {
	alert := AlertFromEvent(ev, d.loc)
	sent := 0
	for _, n := range d.notifiers {
		if err := d.send(ctx, n, alert); err != nil {
			slog.Warn("[notify] delivery failed",
				slog.String("instrument", ev.Instrument),
				slog.String("minute", ev.Minute.String()),
				slog.String("err", err.Error()))
			if d.OnError != nil {
				d.OnError(err)
			}
			continue
		}
		sent++
		if d.OnSent != nil {
			d.OnSent()
		}
	}
	return sent
}

func (d *Dispatcher) send(ctx context.Context, n Notifier, alert Alert) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	ctx, span := trace.StartSpan(ctx, "notify.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("instrument", alert.Instrument),
		attribute.Int64("minute", int64(alert.Minute)),
	)

	err := n.Send(ctx, alert)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// Close is a no-op; notifiers hold no resources.
func (d *Dispatcher) Close() error { return nil }
