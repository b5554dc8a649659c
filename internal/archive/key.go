package archive

import (
	"fmt"
	"strings"
	"time"
)

// Kind selects the archival cadence.
type Kind string

const (
	Daily   Kind = "daily"
	Monthly Kind = "monthly"
)

func (k Kind) Valid() bool { return k == Daily || k == Monthly }

const (
	dailyLayout   = "2006-01-02"
	monthlyLayout = "2006-01"
)

// Key identifies one archive partition: a kind plus its normalized period key
// (YYYY-MM-DD for daily, YYYY-MM for monthly). Lookups and repeated archival
// runs address partitions by Key, never by parsing ad-hoc strings.
type Key struct {
	Kind   Kind
	Period string
}

// DailyKey keys the partition for the calendar day containing t.
func DailyKey(t time.Time) Key {
	return Key{Kind: Daily, Period: t.Format(dailyLayout)}
}

// MonthlyKey keys the partition for the calendar month containing t.
func MonthlyKey(t time.Time) Key {
	return Key{Kind: Monthly, Period: t.Format(monthlyLayout)}
}

func (k Key) String() string { return string(k.Kind) + "/" + k.Period }

// Filename is the partition's name within the archive directory.
func (k Key) Filename() string {
	return fmt.Sprintf("%s_%s.csv", k.Kind, k.Period)
}

// ParseFilename recovers a Key from a partition filename. Returns false for
// anything that is not a well-formed partition name.
func ParseFilename(name string) (Key, bool) {
	rest, ok := strings.CutSuffix(name, ".csv")
	if !ok {
		return Key{}, false
	}
	kind, period, ok := strings.Cut(rest, "_")
	if !ok {
		return Key{}, false
	}
	k := Key{Kind: Kind(kind), Period: period}
	switch k.Kind {
	case Daily:
		if _, err := time.Parse(dailyLayout, period); err != nil {
			return Key{}, false
		}
	case Monthly:
		if _, err := time.Parse(monthlyLayout, period); err != nil {
			return Key{}, false
		}
	default:
		return Key{}, false
	}
	return k, true
}

// DayTime returns the day a daily key covers. Only meaningful for Kind == Daily.
func (k Key) DayTime() (time.Time, error) {
	return time.ParseInLocation(dailyLayout, k.Period, time.UTC)
}
