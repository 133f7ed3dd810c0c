package schedule

import (
	"fmt"
	"slices"
	"time"
)

// Date is a calendar date without a time or zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

// DateOf returns t's calendar date in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return DateOf(t), nil
}

// In returns midnight of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) AddDays(n int) Date {
	return DateOf(time.Date(d.Year, d.Month, d.Day+n, 0, 0, 0, 0, time.UTC))
}

func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Date) UnmarshalText(b []byte) error {
	v, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// DayStatus is the rendered state of a calendar day.
type DayStatus uint8

const (
	StatusNone DayStatus = iota
	StatusProjected
	StatusSucceeded
	StatusPartiallyFailed
)

func (s DayStatus) String() string {
	switch s {
	case StatusProjected:
		return "projectedOnly"
	case StatusSucceeded:
		return "succeeded"
	case StatusPartiallyFailed:
		return "partiallyFailed"
	default:
		return "none"
	}
}

func (s DayStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// CalendarDay is derived on demand and never stored.
type CalendarDay struct {
	Date        Date         `json:"date"`
	Status      DayStatus    `json:"status"`
	Runs        int          `json:"runs,omitempty"`
	Occurrences []Occurrence `json:"occurrences,omitempty"`
}

// Project builds the day-indexed calendar using from as "now".
func Project(cfg Config, history []Record, from time.Time, horizonDays int) map[Date]CalendarDay {
	return ProjectAt(cfg, history, from, horizonDays, from)
}

// ProjectAt merges history with the occurrences in (from, from+horizonDays]
// that are still after now. Every date from from's date through the end of
// the window is present, along with every date that has history. Dates are
// taken in from's location.
//
// A date with history keeps its past status even when a later occurrence
// is still pending that same day; the pending occurrence is listed in
// Occurrences.
func ProjectAt(cfg Config, history []Record, from time.Time, horizonDays int, now time.Time) map[Date]CalendarDay {
	loc := from.Location()
	days := make(map[Date]CalendarDay)

	if horizonDays < 0 {
		horizonDays = 0
	}
	start := DateOf(from)
	last := DateOf(from.AddDate(0, 0, horizonDays))
	for d := start; !last.Before(d); d = d.AddDays(1) {
		days[d] = CalendarDay{Date: d}
	}

	for _, r := range history {
		d := DateOf(r.CompletedAt.In(loc))
		day := days[d]
		day.Date = d
		day.Runs++
		switch {
		case r.Degraded():
			day.Status = StatusPartiallyFailed
		case day.Status != StatusPartiallyFailed:
			day.Status = StatusSucceeded
		}
		days[d] = day
	}

	for _, o := range OccurrencesInWindow(cfg, from, horizonDays) {
		if !o.At.After(now) {
			continue
		}
		d := DateOf(o.At)
		day := days[d]
		day.Date = d
		day.Occurrences = append(day.Occurrences, o)
		if day.Status == StatusNone {
			day.Status = StatusProjected
		}
		days[d] = day
	}
	return days
}

// SortedDays flattens a projection into ascending date order.
func SortedDays(days map[Date]CalendarDay) []CalendarDay {
	out := make([]CalendarDay, 0, len(days))
	for _, d := range days {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b CalendarDay) int {
		switch {
		case a.Date.Before(b.Date):
			return -1
		case b.Date.Before(a.Date):
			return 1
		default:
			return 0
		}
	})
	return out
}
