package schedule

import (
	"slices"
	"time"
)

// Occurrence is one scheduled point in time for a cadence.
type Occurrence struct {
	Cadence Cadence   `json:"cadence"`
	At      time.Time `json:"at"`
}

// daysIn returns the number of days in the given month.
func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// monthlyDayIn clamps the configured monthly day to the length of the month.
func monthlyDayIn(day, year int, month time.Month) int {
	return min(day, daysIn(year, month))
}

// OccurrencesInWindow lists every occurrence t with from < t <= from+horizonDays,
// computed in from's location. The result is sorted by time, then by cadence.
// A disabled config or a non-positive horizon yields nil.
func OccurrencesInWindow(cfg Config, from time.Time, horizonDays int) []Occurrence {
	if !cfg.Enabled || horizonDays <= 0 {
		return nil
	}
	loc := from.Location()
	end := from.AddDate(0, 0, horizonDays)
	y, m, d := from.Date()

	var out []Occurrence
	emit := func(c Cadence, t time.Time) {
		if t.After(from) && !t.After(end) {
			out = append(out, Occurrence{Cadence: c, At: t})
		}
	}
	// One extra day covers an end instant that lands past the last wall-clock
	// midnight (DST shifts); emit filters anything beyond end.
	for i := 0; i <= horizonDays+1; i++ {
		day := time.Date(y, m, d+i, 0, 0, 0, 0, loc)
		dy, dm, dd := day.Date()
		emit(Daily, cfg.DailyTime.On(dy, dm, dd, loc))
		if day.Weekday() == cfg.WeeklyDay {
			emit(Weekly, cfg.WeeklyTime.On(dy, dm, dd, loc))
		}
		if dd == monthlyDayIn(cfg.MonthlyDay, dy, dm) {
			emit(Monthly, cfg.MonthlyTime.On(dy, dm, dd, loc))
		}
	}
	slices.SortStableFunc(out, func(a, b Occurrence) int {
		if c := a.At.Compare(b.At); c != 0 {
			return c
		}
		return int(a.Cadence) - int(b.Cadence)
	})
	return out
}

// Next returns the first occurrence of the cadence strictly after now, in
// now's location. It ignores cfg.Enabled so callers can preview a stopped
// schedule.
func Next(cfg Config, c Cadence, now time.Time) time.Time {
	loc := now.Location()
	y, m, d := now.Date()
	switch c {
	case Daily:
		t := cfg.DailyTime.On(y, m, d, loc)
		if !t.After(now) {
			t = cfg.DailyTime.On(y, m, d+1, loc)
		}
		return t
	case Weekly:
		ahead := (int(cfg.WeeklyDay) - int(now.Weekday()) + 7) % 7
		t := cfg.WeeklyTime.On(y, m, d+ahead, loc)
		if !t.After(now) {
			t = cfg.WeeklyTime.On(y, m, d+ahead+7, loc)
		}
		return t
	case Monthly:
		t := cfg.MonthlyTime.On(y, m, monthlyDayIn(cfg.MonthlyDay, y, m), loc)
		if !t.After(now) {
			first := time.Date(y, m+1, 1, 0, 0, 0, 0, loc)
			ny, nm, _ := first.Date()
			t = cfg.MonthlyTime.On(ny, nm, monthlyDayIn(cfg.MonthlyDay, ny, nm), loc)
		}
		return t
	default:
		return time.Time{}
	}
}

// NextScheduled holds the next occurrence of every cadence.
type NextScheduled struct {
	Daily   time.Time `json:"daily"`
	Weekly  time.Time `json:"weekly"`
	Monthly time.Time `json:"monthly"`
}

func NextAll(cfg Config, now time.Time) NextScheduled {
	return NextScheduled{
		Daily:   Next(cfg, Daily, now),
		Weekly:  Next(cfg, Weekly, now),
		Monthly: Next(cfg, Monthly, now),
	}
}

// For returns the entry for one cadence.
func (n NextScheduled) For(c Cadence) time.Time {
	switch c {
	case Daily:
		return n.Daily
	case Weekly:
		return n.Weekly
	case Monthly:
		return n.Monthly
	default:
		return time.Time{}
	}
}
