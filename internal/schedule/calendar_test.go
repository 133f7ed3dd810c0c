package schedule

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func rec(id string, completed time.Time, processed, failed int) Record {
	return Record{
		ID:          id,
		Cadence:     Daily,
		StartedAt:   completed.Add(-time.Minute),
		CompletedAt: completed,
		Processed:   processed,
		Succeeded:   processed - failed,
		Failed:      failed,
	}
}

func TestProjectMergesHistoryAndFuture(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	history := []Record{
		rec("a", time.Date(2024, 1, 14, 9, 1, 0, 0, time.UTC), 3, 0),
		rec("b", time.Date(2024, 1, 13, 9, 1, 0, 0, time.UTC), 3, 0),
		rec("c", time.Date(2024, 1, 13, 15, 0, 0, 0, time.UTC), 2, 1),
		rec("d", time.Date(2024, 1, 15, 9, 1, 0, 0, time.UTC), 0, 0),
	}
	days := Project(scenarioConfig(), history, now, 10)

	check := func(d Date, want DayStatus) CalendarDay {
		t.Helper()
		day, ok := days[d]
		if !ok {
			t.Fatalf("missing day %s", d)
		}
		if day.Status != want {
			t.Fatalf("%s: status %s, want %s", d, day.Status, want)
		}
		return day
	}
	check(Date{2024, 1, 14}, StatusSucceeded)
	if day := check(Date{2024, 1, 13}, StatusPartiallyFailed); day.Runs != 2 {
		t.Fatalf("expected 2 runs on Jan 13, got %d", day.Runs)
	}
	check(Date{2024, 1, 15}, StatusSucceeded)
	if day := check(Date{2024, 1, 22}, StatusProjected); len(day.Occurrences) != 2 {
		t.Fatalf("expected daily+weekly on Jan 22, got %+v", day.Occurrences)
	}
	check(Date{2024, 1, 25}, StatusProjected)
	if _, ok := days[Date{2024, 1, 26}]; ok {
		t.Fatalf("day past the window should not be present")
	}
}

func TestProjectPartiallyFailedWinsRegardlessOfOrder(t *testing.T) {
	t.Parallel()
	day := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	orders := [][]Record{
		{rec("1", day.Add(9*time.Hour), 2, 1), rec("2", day.Add(12*time.Hour), 2, 0)},
		{rec("2", day.Add(12*time.Hour), 2, 0), rec("1", day.Add(9*time.Hour), 2, 1)},
	}
	for _, h := range orders {
		days := Project(scenarioConfig(), h, day.AddDate(0, 0, 1), 1)
		if got := days[Date{2024, 5, 2}].Status; got != StatusPartiallyFailed {
			t.Fatalf("status %s, want partiallyFailed", got)
		}
	}
}

func TestProjectRunErrorMarksDayFailed(t *testing.T) {
	t.Parallel()
	day := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	errored := rec("1", day.Add(9*time.Hour), 0, 0)
	errored.Error = "load probes: database is locked"
	empty := rec("2", day.AddDate(0, 0, 1).Add(9*time.Hour), 0, 0)

	days := Project(scenarioConfig(), []Record{errored, empty}, day.AddDate(0, 0, 2), 1)
	if got := days[Date{2024, 5, 2}].Status; got != StatusPartiallyFailed {
		t.Fatalf("errored run: status %s, want partiallyFailed", got)
	}
	if got := days[Date{2024, 5, 3}].Status; got != StatusSucceeded {
		t.Fatalf("empty run: status %s, want succeeded", got)
	}
}

func TestProjectAtKeepsPastDaysOutOfFuture(t *testing.T) {
	t.Parallel()
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	days := ProjectAt(scenarioConfig(), nil, from, 30, now)
	if got := days[Date{2024, 1, 5}].Status; got != StatusNone {
		t.Fatalf("past day without history should be none, got %s", got)
	}
	if got := days[Date{2024, 1, 10}].Status; got != StatusNone {
		t.Fatalf("09:00 on the current day already passed, got %s", got)
	}
	if got := days[Date{2024, 1, 11}].Status; got != StatusProjected {
		t.Fatalf("tomorrow should be projected, got %s", got)
	}
}

func TestProjectDisabledShowsHistoryOnly(t *testing.T) {
	t.Parallel()
	cfg := scenarioConfig()
	cfg.Enabled = false
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	days := Project(cfg, []Record{rec("x", now.Add(-time.Hour), 1, 0)}, now, 5)
	for d, day := range days {
		if d == (Date{2024, 1, 15}) {
			if day.Status != StatusSucceeded {
				t.Fatalf("expected today succeeded, got %s", day.Status)
			}
			continue
		}
		if day.Status != StatusNone {
			t.Fatalf("%s: expected none, got %s", d, day.Status)
		}
	}
}

func TestCalendarJSON(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	b, err := json.Marshal(Project(scenarioConfig(), nil, now, 1))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, `"2024-01-16":{"date":"2024-01-16","status":"projectedOnly"`) {
		t.Fatalf("unexpected json: %s", s)
	}
	if !strings.Contains(s, `"2024-01-15":{"date":"2024-01-15","status":"none"}`) {
		t.Fatalf("unexpected json: %s", s)
	}
}

func TestSortedDays(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 2, 27, 10, 0, 0, 0, time.UTC)
	sorted := SortedDays(Project(scenarioConfig(), nil, now, 4))
	want := []string{"2024-02-27", "2024-02-28", "2024-02-29", "2024-03-01", "2024-03-02"}
	if len(sorted) != len(want) {
		t.Fatalf("got %d days", len(sorted))
	}
	for i, d := range sorted {
		if d.Date.String() != want[i] {
			t.Fatalf("day %d = %s, want %s", i, d.Date, want[i])
		}
	}
}
