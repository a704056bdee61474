package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"

	"hadoji/internal/model"
)

func testEvent(minute model.MinuteKey) model.DojiEvent {
	return model.DojiEvent{
		Instrument: "NSE_INDEX|Nifty 50",
		Minute:     minute,
		Candle: model.HACandle{
			Instrument: "NSE_INDEX|Nifty 50",
			Minute:     minute,
			Open:       100, High: 102, Low: 98, Close: 100,
			Volume: 40,
		},
		DetectedAt: time.Date(2024, 1, 15, 3, 46, 1, 0, time.UTC),
	}
}

func expectWrite(mock redismock.ClientMock, ev model.DojiEvent) {
	data := string(ev.JSON())
	mock.ExpectXAdd(&goredis.XAddArgs{
		Stream: ev.StreamKey(),
		MaxLen: defaultStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": data},
	}).SetVal("1-0")
	mock.ExpectSet(ev.LatestKey(), data, defaultLatestTTL).SetVal("OK")
	mock.ExpectPublish(ev.PubSubChannel(), data).SetVal(1)
}

func TestPublisher_Write(t *testing.T) {
	client, mock := redismock.NewClientMock()
	p := NewWithClient(client, Config{})
	ev := testEvent(1705290300)

	expectWrite(mock, ev)
	if err := p.Write(context.Background(), ev); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPublisher_WriteError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	p := NewWithClient(client, Config{})
	ev := testEvent(1705290300)

	mock.ExpectXAdd(&goredis.XAddArgs{
		Stream: ev.StreamKey(),
		MaxLen: defaultStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(ev.JSON())},
	}).SetErr(errors.New("READONLY"))

	if err := p.Write(context.Background(), ev); err == nil {
		t.Fatal("expected error")
	}
}

func TestPublisher_Recent(t *testing.T) {
	client, mock := redismock.NewClientMock()
	p := NewWithClient(client, Config{})
	older, newer := testEvent(1705290300), testEvent(1705290360)

	mock.ExpectXRevRangeN("doji:NSE_INDEX|Nifty 50", "+", "-", 2).SetVal([]goredis.XMessage{
		{ID: "2-0", Values: map[string]interface{}{"data": string(newer.JSON())}},
		{ID: "1-0", Values: map[string]interface{}{"data": string(older.JSON())}},
	})

	got, err := p.Recent(context.Background(), "NSE_INDEX|Nifty 50", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].Minute != older.Minute || got[1].Minute != newer.Minute {
		t.Errorf("expected oldest-first [%v %v], got %+v", older.Minute, newer.Minute, got)
	}
	if !got[0].DetectedAt.Equal(older.DetectedAt) || got[0].Candle.High != 102 {
		t.Errorf("event not decoded: %+v", got[0])
	}
}

func TestPublisher_Latest(t *testing.T) {
	client, mock := redismock.NewClientMock()
	p := NewWithClient(client, Config{})
	ev := testEvent(1705290300)

	mock.ExpectGet(ev.LatestKey()).RedisNil()
	if _, ok, err := p.Latest(context.Background(), ev.Instrument); ok || err != nil {
		t.Errorf("expected miss, got ok=%v err=%v", ok, err)
	}

	mock.ExpectGet(ev.LatestKey()).SetVal(string(ev.JSON()))
	got, ok, err := p.Latest(context.Background(), ev.Instrument)
	if err != nil || !ok || got.Minute != ev.Minute {
		t.Errorf("expected hit for %v, got %+v ok=%v err=%v", ev.Minute, got, ok, err)
	}
}
