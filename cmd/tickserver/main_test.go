package main

import (
	"encoding/json"
	"math/rand"
	"testing"

	"hadoji/internal/feed"
)

func TestParseInstruments(t *testing.T) {
	got, err := parseInstruments("NSE_INDEX|Nifty 50=22000, NSE_INDEX|Nifty Bank")
	if err != nil {
		t.Fatalf("parseInstruments: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 instruments, got %d", len(got))
	}
	if got[0].ID != "NSE_INDEX|Nifty 50" || got[0].Price != 22000 {
		t.Errorf("unexpected first instrument %+v", got[0])
	}
	if got[1].Price != 1000 {
		t.Errorf("missing price should default to 1000, got %v", got[1].Price)
	}

	for _, bad := range []string{"", "X=abc", "X=-1"} {
		if _, err := parseInstruments(bad); err == nil {
			t.Errorf("parseInstruments(%q): expected error", bad)
		}
	}
}

func TestWireFormatMatchesFeedParser(t *testing.T) {
	b, err := json.Marshal(upstoxMsg{Data: upstoxData{
		InstrumentToken:   "NSE_INDEX|Nifty 50",
		LastPrice:         22000.55,
		VolumeTradedToday: 1234,
		ExchangeTime:      1705290310000,
	}})
	if err != nil {
		t.Fatal(err)
	}

	tick, err := feed.ParseUpstox(b, "")
	if err != nil {
		t.Fatalf("ParseUpstox: %v", err)
	}
	if tick.Instrument != "NSE_INDEX|Nifty 50" || tick.Price != 22000.55 || tick.CumulativeVolume != 1234 {
		t.Errorf("unexpected tick %+v", tick)
	}
	if err := tick.Validate(); err != nil {
		t.Errorf("generated tick should validate: %v", err)
	}
}

func TestWalkPriceStaysOnTickGrid(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	p := 22000.0
	for i := 0; i < 1000; i++ {
		p = walkPrice(rng, p)
		if p <= 0 {
			t.Fatalf("price went non-positive: %v", p)
		}
		cents := p * 20
		if diff := cents - float64(int64(cents+0.5)); diff > 1e-6 || diff < -1e-6 {
			t.Fatalf("price %v is not a multiple of 0.05", p)
		}
	}
}
