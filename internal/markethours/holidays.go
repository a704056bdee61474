package markethours

import (
	"fmt"
	"sync"
	"time"
)

// NSE holidays for 2026 (NSE circular; some dates tentative).
var nseHolidays2026 = []struct {
	month time.Month
	day   int
}{
	{time.January, 26},  // Republic Day
	{time.February, 17}, // Mahashivratri
	{time.March, 14},    // Holi
	{time.March, 31},    // Id-ul-Fitr
	{time.April, 2},     // Ram Navami
	{time.April, 6},     // Mahavir Jayanti
	{time.April, 10},    // Good Friday
	{time.April, 14},    // Dr. Ambedkar Jayanti
	{time.May, 1},       // Maharashtra Day
	{time.June, 7},      // Bakrid
	{time.July, 6},      // Muharram
	{time.August, 15},   // Independence Day
	{time.August, 16},   // Janmashtami
	{time.September, 5}, // Milad-un-Nabi
	{time.October, 2},   // Mahatma Gandhi Jayanti
	{time.October, 20},  // Dussehra
	{time.October, 21},  // Dussehra
	{time.November, 5},  // Diwali
	{time.November, 6},  // Diwali Balipratipada
	{time.November, 7},  // Bhai Dooj
	{time.November, 19}, // Guru Nanak Jayanti
	{time.December, 25}, // Christmas
}

var (
	holidayMu  sync.RWMutex
	holidaySet map[string]bool
)

func init() {
	holidaySet = make(map[string]bool, len(nseHolidays2026))
	for _, h := range nseHolidays2026 {
		holidaySet[dateKey(2026, h.month, h.day)] = true
	}
}

// IsHoliday returns true if the date (in IST) is an NSE holiday.
func IsHoliday(t time.Time) bool {
	ist := t.In(IST)
	holidayMu.RLock()
	defer holidayMu.RUnlock()
	return holidaySet[dateKey(ist.Year(), ist.Month(), ist.Day())]
}

// AddHolidays registers extra closed dates in "2006-01-02" form.
func AddHolidays(dates ...string) error {
	keys := make([]string, 0, len(dates))
	for _, d := range dates {
		t, err := time.ParseInLocation("2006-01-02", d, IST)
		if err != nil {
			return fmt.Errorf("markethours: bad holiday %q: %w", d, err)
		}
		keys = append(keys, dateKey(t.Year(), t.Month(), t.Day()))
	}
	holidayMu.Lock()
	for _, k := range keys {
		holidaySet[k] = true
	}
	holidayMu.Unlock()
	return nil
}

func dateKey(year int, month time.Month, day int) string {
	return time.Date(year, month, day, 0, 0, 0, 0, IST).Format("2006-01-02")
}
