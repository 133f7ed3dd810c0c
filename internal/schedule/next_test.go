package schedule

import (
	"reflect"
	"testing"
	"time"
)

func scenarioConfig() Config {
	return Config{
		Enabled:           true,
		DailyTime:         MustLocalTime("09:00"),
		WeeklyDay:         time.Monday,
		WeeklyTime:        MustLocalTime("09:00"),
		MonthlyDay:        1,
		MonthlyTime:       MustLocalTime("09:00"),
		DefaultEvaluator:  "gpt",
		ConcurrentQueries: 1,
	}
}

func TestOccurrencesInWindowScenario(t *testing.T) {
	t.Parallel()
	from := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	got := OccurrencesInWindow(scenarioConfig(), from, 10)

	var daily, weekly, monthly []time.Time
	for _, o := range got {
		switch o.Cadence {
		case Daily:
			daily = append(daily, o.At)
		case Weekly:
			weekly = append(weekly, o.At)
		case Monthly:
			monthly = append(monthly, o.At)
		}
	}
	if len(daily) != 10 {
		t.Fatalf("expected 10 daily occurrences, got %d", len(daily))
	}
	for i, at := range daily {
		want := time.Date(2024, 1, 16+i, 9, 0, 0, 0, time.UTC)
		if !at.Equal(want) {
			t.Fatalf("daily[%d] = %v, want %v", i, at, want)
		}
	}
	if len(weekly) != 1 || !weekly[0].Equal(time.Date(2024, 1, 22, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected weekly occurrences: %v", weekly)
	}
	if len(monthly) != 0 {
		t.Fatalf("expected no monthly occurrences, got %v", monthly)
	}
}

func TestOccurrencesInWindowSortedAndPure(t *testing.T) {
	t.Parallel()
	cfg := scenarioConfig()
	cfg.WeeklyDay = time.Wednesday
	cfg.MonthlyDay = 5
	from := time.Date(2024, 2, 20, 8, 30, 0, 0, time.UTC)

	a := OccurrencesInWindow(cfg, from, 90)
	b := OccurrencesInWindow(cfg, from, 90)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("expected identical results across calls")
	}
	seen := map[Date]bool{}
	for i, o := range a {
		if i > 0 {
			prev := a[i-1]
			if o.At.Before(prev.At) || (o.At.Equal(prev.At) && o.Cadence < prev.Cadence) {
				t.Fatalf("occurrences not sorted at %d: %v then %v", i, prev, o)
			}
		}
		if !o.At.After(from) || o.At.After(from.AddDate(0, 0, 90)) {
			t.Fatalf("occurrence %v outside window", o.At)
		}
		switch o.Cadence {
		case Daily:
			d := DateOf(o.At)
			if seen[d] {
				t.Fatalf("duplicate daily date %s", d)
			}
			seen[d] = true
		case Weekly:
			if o.At.Weekday() != time.Wednesday {
				t.Fatalf("weekly occurrence on %s", o.At.Weekday())
			}
		}
	}
}

func TestOccurrencesMonthlyClampAndOnePerMonth(t *testing.T) {
	t.Parallel()
	cfg := scenarioConfig()
	cfg.MonthlyDay = 28
	from := time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)

	perMonth := map[time.Month]int{}
	for _, o := range OccurrencesInWindow(cfg, from, 366) {
		if o.Cadence != Monthly {
			continue
		}
		y, m, d := o.At.Date()
		if want := min(28, daysIn(y, m)); d != want {
			t.Fatalf("monthly on day %d of %s, want %d", d, m, want)
		}
		perMonth[m]++
	}
	if len(perMonth) != 12 {
		t.Fatalf("expected occurrences in 12 months, got %d", len(perMonth))
	}
	for m, n := range perMonth {
		if n != 1 {
			t.Fatalf("month %s has %d occurrences", m, n)
		}
	}
}

func TestOccurrencesNeverAtOrBeforeFrom(t *testing.T) {
	t.Parallel()
	from := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	got := OccurrencesInWindow(scenarioConfig(), from, 1)
	// 09:00 on Mar 1 equals from and is excluded; Mar 2 09:00 is inside.
	if len(got) != 1 || got[0].Cadence != Daily || !got[0].At.Equal(from.AddDate(0, 0, 1)) {
		t.Fatalf("unexpected occurrences: %+v", got)
	}
}

func TestOccurrencesDisabledOrEmptyHorizon(t *testing.T) {
	t.Parallel()
	cfg := scenarioConfig()
	from := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	if got := OccurrencesInWindow(cfg, from, 0); len(got) != 0 {
		t.Fatalf("expected empty for zero horizon, got %d", len(got))
	}
	cfg.Enabled = false
	if got := OccurrencesInWindow(cfg, from, 30); len(got) != 0 {
		t.Fatalf("expected empty for disabled config, got %d", len(got))
	}
}

func TestOccurrencesUseFromLocation(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+7", 7*3600)
	from := time.Date(2024, 1, 15, 10, 0, 0, 0, loc)
	got := OccurrencesInWindow(scenarioConfig(), from, 1)
	if len(got) != 1 {
		t.Fatalf("expected 1 occurrence, got %d", len(got))
	}
	if got[0].At.Location() != loc || got[0].At.Hour() != 9 {
		t.Fatalf("occurrence not at 09:00 in from's zone: %v", got[0].At)
	}
}

func TestNext(t *testing.T) {
	t.Parallel()
	cfg := scenarioConfig()
	cfg.MonthlyDay = 28
	tests := []struct {
		name string
		c    Cadence
		now  time.Time
		want time.Time
	}{
		{"daily later today", Daily, time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC), time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)},
		{"daily exactly now rolls", Daily, time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC), time.Date(2024, 1, 16, 9, 0, 0, 0, time.UTC)},
		{"daily year end", Daily, time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC), time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)},
		{"weekly same day before", Weekly, time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC), time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)},
		{"weekly same day after", Weekly, time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), time.Date(2024, 1, 22, 9, 0, 0, 0, time.UTC)},
		{"weekly midweek", Weekly, time.Date(2024, 1, 17, 10, 0, 0, 0, time.UTC), time.Date(2024, 1, 22, 9, 0, 0, 0, time.UTC)},
		{"monthly this month", Monthly, time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC), time.Date(2024, 2, 28, 9, 0, 0, 0, time.UTC)},
		{"monthly next month", Monthly, time.Date(2024, 2, 28, 10, 0, 0, 0, time.UTC), time.Date(2024, 3, 28, 9, 0, 0, 0, time.UTC)},
		{"monthly december", Monthly, time.Date(2024, 12, 29, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 28, 9, 0, 0, 0, time.UTC)},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Next(cfg, tc.c, tc.now); !got.Equal(tc.want) {
				t.Fatalf("Next(%s, %v) = %v, want %v", tc.c, tc.now, got, tc.want)
			}
		})
	}
}

func TestNextAllMatchesWindow(t *testing.T) {
	t.Parallel()
	cfg := scenarioConfig()
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	next := NextAll(cfg, now)
	first := map[Cadence]time.Time{}
	for _, o := range OccurrencesInWindow(cfg, now, 40) {
		if _, ok := first[o.Cadence]; !ok {
			first[o.Cadence] = o.At
		}
	}
	for _, c := range Cadences {
		if !next.For(c).Equal(first[c]) {
			t.Fatalf("%s: NextAll=%v window=%v", c, next.For(c), first[c])
		}
	}
}
