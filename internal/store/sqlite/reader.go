package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"hadoji/internal/model"
)

// Recent returns up to n of the newest journaled events for instrument,
// oldest first.
func (j *Journal) Recent(ctx context.Context, instrument string, n int) ([]model.DojiEvent, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT instrument, minute, ha_open, ha_high, ha_low, ha_close, volume, detected_at
		FROM doji_events
		WHERE instrument = ?
		ORDER BY minute DESC
		LIMIT ?
	`, instrument, n)
	if err != nil {
		return nil, fmt.Errorf("sqlite query doji_events: %w", err)
	}
	defer rows.Close()

	var events []model.DojiEvent
	for rows.Next() {
		var (
			ev         model.DojiEvent
			minute     int64
			volume     int64
			detectedMs int64
		)
		if err := rows.Scan(&ev.Instrument, &minute, &ev.Candle.Open, &ev.Candle.High,
			&ev.Candle.Low, &ev.Candle.Close, &volume, &detectedMs); err != nil {
			return nil, fmt.Errorf("sqlite scan doji_events: %w", err)
		}
		ev.Minute = model.MinuteKey(minute)
		ev.Candle.Instrument = ev.Instrument
		ev.Candle.Minute = ev.Minute
		ev.Candle.Volume = uint64(volume)
		ev.DetectedAt = time.UnixMilli(detectedMs).UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, k := 0, len(events)-1; i < k; i, k = i+1, k-1 {
		events[i], events[k] = events[k], events[i]
	}
	return events, nil
}

// LastMinute returns the newest journaled minute for instrument.
func (j *Journal) LastMinute(ctx context.Context, instrument string) (model.MinuteKey, bool, error) {
	var m sql.NullInt64
	err := j.db.QueryRowContext(ctx,
		`SELECT MAX(minute) FROM doji_events WHERE instrument = ?`, instrument,
	).Scan(&m)
	if err != nil {
		return 0, false, err
	}
	if !m.Valid {
		return 0, false, nil
	}
	return model.MinuteKey(m.Int64), true, nil
}

// Count returns the number of journaled events for instrument.
func (j *Journal) Count(ctx context.Context, instrument string) (int, error) {
	var n int
	err := j.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM doji_events WHERE instrument = ?`, instrument,
	).Scan(&n)
	return n, err
}
