package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/go-redis/redis/v8"

	"hadoji/internal/model"
)

// Recent returns up to n of the newest events in doji:{instrument}, oldest
// first.
func (p *Publisher) Recent(ctx context.Context, instrument string, n int) ([]model.DojiEvent, error) {
	if n <= 0 {
		return nil, nil
	}
	key := (&model.DojiEvent{Instrument: instrument}).StreamKey()
	msgs, err := p.client.XRevRangeN(ctx, key, "+", "-", int64(n)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis XREVRANGE %s: %w", key, err)
	}

	out := make([]model.DojiEvent, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		ev, err := decodeMessage(msgs[i])
		if err != nil {
			return nil, fmt.Errorf("stream %s entry %s: %w", key, msgs[i].ID, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// Latest returns the newest event for instrument if it has not expired.
func (p *Publisher) Latest(ctx context.Context, instrument string) (model.DojiEvent, bool, error) {
	key := (&model.DojiEvent{Instrument: instrument}).LatestKey()
	raw, err := p.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return model.DojiEvent{}, false, nil
	}
	if err != nil {
		return model.DojiEvent{}, false, fmt.Errorf("redis GET %s: %w", key, err)
	}
	var ev model.DojiEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return model.DojiEvent{}, false, err
	}
	return ev, true, nil
}

func decodeMessage(msg goredis.XMessage) (model.DojiEvent, error) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return model.DojiEvent{}, errors.New("missing data field")
	}
	var ev model.DojiEvent
	err := json.Unmarshal([]byte(data), &ev)
	return ev, err
}
