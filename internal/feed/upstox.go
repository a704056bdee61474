// Package feed holds the tick sources: the Upstox-format JSON websocket, the
// Zerodha kiteticker stream and JSONL files. Every source turns its wire
// format into model.Tick and hands it to a TickHandler.
package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"hadoji/internal/model"
)

// TickHandler receives decoded ticks. Router.Enqueue satisfies it.
type TickHandler func(model.Tick) error

// ErrNoData is returned for messages without a "data" object (acks,
// heartbeats). Sources skip them silently.
var ErrNoData = errors.New("message has no data")

// ParseUpstox decodes one market-data message of the form
//
//	{"data":{"instrument_token":"NSE_INDEX|Nifty 50","last_price":22000.5,
//	         "volume_traded_today":123456,"exchange_time":1705290310000}}
//
// Numeric fields may be JSON numbers or strings. A missing instrument_token
// falls back to fallbackInstrument. Missing numeric fields decode as zero and
// are rejected later by tick validation.
func ParseUpstox(raw []byte, fallbackInstrument string) (model.Tick, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var msg struct {
		Data map[string]any `json:"data"`
	}
	if err := dec.Decode(&msg); err != nil {
		return model.Tick{}, fmt.Errorf("%w: %v", model.ErrMalformedTick, err)
	}
	if msg.Data == nil {
		return model.Tick{}, ErrNoData
	}
	d := msg.Data

	tick := model.Tick{Instrument: fallbackInstrument}
	if s, ok := d["instrument_token"].(string); ok && s != "" {
		tick.Instrument = s
	}

	var err error
	if tick.Price, err = toFloat64(d["last_price"]); err != nil {
		return model.Tick{}, fmt.Errorf("%w: last_price: %v", model.ErrMalformedTick, err)
	}
	vol, err := toInt64(d["volume_traded_today"])
	if err != nil || vol < 0 {
		return model.Tick{}, fmt.Errorf("%w: volume_traded_today %v", model.ErrMalformedTick, d["volume_traded_today"])
	}
	tick.CumulativeVolume = uint64(vol)
	if tick.TimestampEpoch, err = toInt64(d["exchange_time"]); err != nil {
		return model.Tick{}, fmt.Errorf("%w: exchange_time: %v", model.ErrMalformedTick, err)
	}
	return tick, nil
}

// SubscribeMessage builds the "sub" request sent after connecting.
func SubscribeMessage(guid string, instruments []string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"guid":   guid,
		"method": "sub",
		"data":   map[string]any{"instrumentKeys": instruments},
	})
}

func toFloat64(v any) (float64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case json.Number:
		return t.Float64()
	case float64:
		return t, nil
	case string:
		return strconv.ParseFloat(t, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func toInt64(v any) (int64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, nil
		}
		f, err := t.Float64()
		if err != nil {
			return 0, err
		}
		return floatToInt64(f)
	case float64:
		return floatToInt64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, err
		}
		return floatToInt64(f)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func floatToInt64(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("out of range: %v", f)
	}
	return int64(f), nil
}
