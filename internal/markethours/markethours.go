// Package markethours is the NSE cash-session calendar (IST). It gates the
// broker feed, drives the market-state gauge and renders minute labels.
package markethours

import (
	"fmt"
	"time"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// Session boundaries in IST.
const (
	OpenHour    = 9
	OpenMinute  = 15
	CloseHour   = 15
	CloseMinute = 30
)

// maxClosedRun bounds the search for the next trading day.
const maxClosedRun = 15

// Session is one trading day's continuous session, [Open, Close).
type Session struct {
	Open  time.Time
	Close time.Time
}

// Contains reports whether t falls inside the session.
func (s Session) Contains(t time.Time) bool {
	return !t.Before(s.Open) && t.Before(s.Close)
}

// Minutes is the number of one-minute candles the session produces.
func (s Session) Minutes() int {
	return int(s.Close.Sub(s.Open) / time.Minute)
}

func sessionOn(year int, month time.Month, day int) Session {
	return Session{
		Open:  time.Date(year, month, day, OpenHour, OpenMinute, 0, 0, IST),
		Close: time.Date(year, month, day, CloseHour, CloseMinute, 0, 0, IST),
	}
}

// SessionOn returns the session for t's IST calendar day. ok is false on
// weekends and holidays.
func SessionOn(t time.Time) (s Session, ok bool) {
	ist := t.In(IST)
	if !IsTradingDay(ist) {
		return Session{}, false
	}
	return sessionOn(ist.Year(), ist.Month(), ist.Day()), true
}

// Upcoming returns the session that contains t, or the next one to open.
func Upcoming(t time.Time) Session {
	if s, ok := SessionOn(t); ok && t.Before(s.Close) {
		return s
	}
	d := t.In(IST)
	for i := 0; i < maxClosedRun; i++ {
		d = d.AddDate(0, 0, 1)
		if s, ok := SessionOn(d); ok {
			return s
		}
	}
	return sessionOn(d.Year(), d.Month(), d.Day())
}

// IsMarketOpen reports whether t is inside an NSE session.
func IsMarketOpen(t time.Time) bool {
	s, ok := SessionOn(t)
	return ok && s.Contains(t)
}

// IsTradingDay returns true if t is Mon-Fri and not a holiday.
func IsTradingDay(t time.Time) bool {
	ist := t.In(IST)
	wd := ist.Weekday()
	return wd >= time.Monday && wd <= time.Friday && !IsHoliday(ist)
}

// NextOpen returns the next time the market opens after t. While the market
// is open this is the following session's open.
func NextOpen(t time.Time) time.Time {
	s := Upcoming(t)
	if s.Contains(t) {
		s = Upcoming(s.Close)
	}
	return s.Open
}

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string {
	s := Upcoming(t)
	if s.Contains(t) {
		return fmt.Sprintf("Market Open, closes in %s", fmtDur(s.Close.Sub(t)))
	}
	open := s.Open.In(IST)
	return fmt.Sprintf("Market Closed, opens %s %s (%s)",
		open.Weekday().String()[:3], open.Format("15:04"), fmtDur(s.Open.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
