package model

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestMinuteOf_SecondsAndMillis(t *testing.T) {
	ts := time.Date(2024, 1, 15, 9, 15, 40, 0, time.UTC)
	want := MinuteKey(time.Date(2024, 1, 15, 9, 15, 0, 0, time.UTC).Unix())

	got, err := MinuteOf(ts.Unix())
	if err != nil {
		t.Fatalf("seconds: unexpected error: %v", err)
	}
	if got != want {
		t.Errorf("seconds: got %v, want %v", got, want)
	}

	got, err = MinuteOf(ts.UnixMilli() + 999)
	if err != nil {
		t.Fatalf("millis: unexpected error: %v", err)
	}
	if got != want {
		t.Errorf("millis: got %v, want %v", got, want)
	}
}

func TestMinuteOf_Implausible(t *testing.T) {
	for _, epoch := range []int64{0, -5, 946684799, 4102444800} {
		if _, err := MinuteOf(epoch); !errors.Is(err, ErrMalformedTick) {
			t.Errorf("MinuteOf(%d): expected ErrMalformedTick, got %v", epoch, err)
		}
	}
}

func TestMinuteKey_Adjacency(t *testing.T) {
	m := MinuteFromTime(time.Date(2024, 1, 15, 9, 15, 0, 0, time.UTC))
	if m.Next().Prev() != m {
		t.Error("Next/Prev should be inverse")
	}
	if m.Next().Sub(m) != 1 {
		t.Errorf("expected 1 minute apart, got %d", m.Next().Sub(m))
	}
	if !m.Before(m.Next()) {
		t.Error("m should be before m.Next()")
	}
	if m.String() != "2024-01-15T09:15:00Z" {
		t.Errorf("unexpected String(): %s", m.String())
	}
	ist := time.FixedZone("IST", 5*3600+30*60)
	if m.Label(ist) != "2024-01-15 14:45" {
		t.Errorf("unexpected Label(): %s", m.Label(ist))
	}
}

func TestTick_Validate(t *testing.T) {
	ts := time.Date(2024, 1, 15, 9, 15, 0, 0, time.UTC).Unix()
	cases := []struct {
		name string
		tick Tick
		ok   bool
	}{
		{"valid", Tick{Price: 100, TimestampEpoch: ts}, true},
		{"nan price", Tick{Price: math.NaN(), TimestampEpoch: ts}, false},
		{"inf price", Tick{Price: math.Inf(1), TimestampEpoch: ts}, false},
		{"zero price", Tick{Price: 0, TimestampEpoch: ts}, false},
		{"bad timestamp", Tick{Price: 100, TimestampEpoch: 12}, false},
	}
	for _, tc := range cases {
		err := tc.tick.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrMalformedTick) {
			t.Errorf("%s: expected ErrMalformedTick, got %v", tc.name, err)
		}
	}
}

func TestHACandle_BodyRange(t *testing.T) {
	c := HACandle{Open: 99.5, High: 101, Low: 99, Close: 99.75}
	if c.Body() != 0.25 {
		t.Errorf("expected body 0.25, got %v", c.Body())
	}
	if c.Range() != 2 {
		t.Errorf("expected range 2, got %v", c.Range())
	}
}
