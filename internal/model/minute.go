package model

import (
	"fmt"
	"time"
)

// millisThreshold separates millisecond epochs from second epochs. The feed
// delivers either; anything above this is treated as milliseconds.
const millisThreshold = 1e12

var (
	minPlausible = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	maxPlausible = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
)

// MinuteKey identifies a one-minute aggregation window.
// It is a Unix timestamp in seconds aligned to a minute boundary.
type MinuteKey int64

// MinuteOf normalises a raw feed epoch (seconds or milliseconds) and
// truncates it to its minute.
func MinuteOf(epoch int64) (MinuteKey, error) {
	sec := NormalizeEpoch(epoch)
	if sec < minPlausible || sec >= maxPlausible {
		return 0, fmt.Errorf("%w: implausible timestamp %d", ErrMalformedTick, epoch)
	}
	return MinuteKey(sec - sec%60), nil
}

// NormalizeEpoch converts a millisecond epoch to seconds. Second epochs are
// returned unchanged.
func NormalizeEpoch(epoch int64) int64 {
	if epoch > millisThreshold {
		return epoch / 1000
	}
	return epoch
}

// MinuteFromTime truncates t to its minute.
func MinuteFromTime(t time.Time) MinuteKey {
	sec := t.Unix()
	return MinuteKey(sec - sec%60)
}

// Prev returns the immediately preceding minute.
func (m MinuteKey) Prev() MinuteKey { return m - 60 }

// Next returns the immediately following minute.
func (m MinuteKey) Next() MinuteKey { return m + 60 }

// Before reports whether m is earlier than o.
func (m MinuteKey) Before(o MinuteKey) bool { return m < o }

// Sub returns the number of whole minutes between m and o.
func (m MinuteKey) Sub(o MinuteKey) int64 { return int64(m-o) / 60 }

// Time returns the minute as a UTC time.
func (m MinuteKey) Time() time.Time { return time.Unix(int64(m), 0).UTC() }

// Label formats the minute in loc the way the presentation layer shows it.
func (m MinuteKey) Label(loc *time.Location) string {
	return m.Time().In(loc).Format("2006-01-02 15:04")
}

func (m MinuteKey) String() string { return m.Time().Format(time.RFC3339) }
