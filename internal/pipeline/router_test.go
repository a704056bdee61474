package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"hadoji/internal/model"
)

func TestRouter_UnknownInstrument(t *testing.T) {
	r := NewRouter(4)
	r.Add(New(Config{Instrument: "A"}, nil, Hooks{}))
	r.Add(New(Config{Instrument: "B"}, nil, Hooks{}))

	err := r.Enqueue(model.Tick{Instrument: "C", Price: 1, TimestampEpoch: base.Unix()})
	if !errors.Is(err, ErrUnknownInstrument) || !errors.Is(err, model.ErrMalformedTick) {
		t.Errorf("expected unknown-instrument malformed error, got %v", err)
	}

	err = r.Route(context.Background(), model.Tick{Price: 1, TimestampEpoch: base.Unix()})
	if !errors.Is(err, ErrUnknownInstrument) {
		t.Errorf("empty instrument must not route with several pipelines, got %v", err)
	}

	if ids := r.Instruments(); len(ids) != 2 || ids[0] != "A" || ids[1] != "B" {
		t.Errorf("unexpected instruments %v", ids)
	}
}

func TestRouter_SingleInstrumentFallback(t *testing.T) {
	r := NewRouter(4)
	p := New(Config{Instrument: nifty}, nil, Hooks{})
	r.Add(p)

	tk := tickAt(0, 1, 100, 1)
	tk.Instrument = ""
	if err := r.Route(context.Background(), tk); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if p.Stats().Ticks != 1 {
		t.Error("expected tick routed to the only pipeline")
	}
}

func TestRouter_EnqueueFullDrops(t *testing.T) {
	r := NewRouter(1)
	r.Add(New(Config{Instrument: nifty}, nil, Hooks{}))
	var drops int
	r.OnQueueDrop = func(string) { drops++ }

	if err := r.Enqueue(tickAt(0, 1, 100, 1)); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	if err := r.Enqueue(tickAt(0, 2, 100, 1)); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
	if drops != 1 {
		t.Errorf("expected 1 drop, got %d", drops)
	}
	if qs := r.QueueStats()[nifty]; qs != [2]int{1, 1} {
		t.Errorf("unexpected queue stats %v", qs)
	}
}

func TestRouter_RunDeliversToRing(t *testing.T) {
	ring := NewRingSink(8)
	r := NewRouter(16)
	r.Add(New(Config{Instrument: nifty}, ring, Hooks{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	out := make(chan model.DojiEvent, 1)
	go Pump(ctx, ring.Ring(), out)

	for _, tk := range []model.Tick{
		tickAt(0, 5, 100, 10),
		tickAt(0, 10, 102, 20),
		tickAt(0, 20, 98, 30),
		tickAt(0, 30, 100, 40),
		tickAt(1, 1, 101, 50),
	} {
		if err := r.Enqueue(tk); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	select {
	case ev := <-out:
		if ev.Instrument != nifty || ev.Minute.Time() != base {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for doji event")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRingSink_FullReturnsErrQueueFull(t *testing.T) {
	s := NewRingSink(2)
	ev := model.DojiEvent{Instrument: nifty}
	for i := 0; i < 2; i++ {
		if err := s.Emit(context.Background(), ev); err != nil {
			t.Fatalf("Emit %d: %v", i, err)
		}
	}
	if err := s.Emit(context.Background(), ev); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
	if s.Ring().Overflow() != 1 {
		t.Errorf("expected overflow 1, got %d", s.Ring().Overflow())
	}
}

func TestFuncSink(t *testing.T) {
	var got string
	s := FuncSink(func(_ context.Context, ev model.DojiEvent) error {
		got = ev.Instrument
		return nil
	})
	if err := s.Emit(context.Background(), model.DojiEvent{Instrument: nifty}); err != nil {
		t.Fatal(err)
	}
	if got != nifty {
		t.Errorf("expected %q, got %q", nifty, got)
	}
}
