package period

import (
	"fmt"
	"time"

	"github.com/gridpulse/meterledger/internal/domain"
)

// Recognized period names for consumption queries.
const (
	Last30Min = "last_30min"
	Today     = "today"
	ThisWeek  = "this_week"
	ThisMonth = "this_month"
	LastMonth = "last_month"
)

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Normalize rounds t down to the nearest permitted reading offset (minute 0 or
// 30) with seconds and sub-seconds zeroed.
func Normalize(t time.Time) time.Time {
	min := 0
	if t.Minute() >= 30 {
		min = 30
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), min, 0, 0, t.Location())
}

// Resolve maps a symbolic period name and the current instant to a concrete
// window. All windows except last_month end at the normalized now; last_month
// is a fully closed historical month independent of now's time of day.
func Resolve(name string, now time.Time) (Window, error) {
	n := Normalize(now)
	midnight := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, n.Location())

	switch name {
	case Last30Min:
		return Window{Start: n.Add(-30 * time.Minute), End: n}, nil
	case Today:
		return Window{Start: midnight, End: n}, nil
	case ThisWeek:
		// Week starts Monday. time.Weekday has Sunday == 0.
		offset := (int(n.Weekday()) + 6) % 7
		return Window{Start: midnight.AddDate(0, 0, -offset), End: n}, nil
	case ThisMonth:
		return Window{Start: firstOfMonth(n), End: n}, nil
	case LastMonth:
		first := firstOfMonth(n)
		return Window{Start: first.AddDate(0, -1, 0), End: first}, nil
	default:
		return Window{}, fmt.Errorf("%w: %q", domain.ErrInvalidPeriod, name)
	}
}

// DailyWindow is the closed prior calendar day relative to now:
// [midnight yesterday, midnight today).
func DailyWindow(now time.Time) Window {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return Window{Start: midnight.AddDate(0, 0, -1), End: midnight}
}

// MonthlyWindow is the closed prior calendar month relative to now.
func MonthlyWindow(now time.Time) Window {
	first := firstOfMonth(now)
	return Window{Start: first.AddDate(0, -1, 0), End: first}
}

func firstOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
