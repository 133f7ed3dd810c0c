package schedule

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestParseLocalTime(t *testing.T) {
	t.Parallel()
	good := map[string]LocalTime{
		"09:00": {9, 0},
		"9:05":  {9, 5},
		"23:59": {23, 59},
		"00:00": {0, 0},
	}
	for in, want := range good {
		got, err := ParseLocalTime(in)
		if err != nil || got != want {
			t.Fatalf("ParseLocalTime(%q) = %v, %v", in, got, err)
		}
	}
	for _, in := range []string{"", "24:00", "12:60", "12", "12:5", "ab:cd", "1:2:3"} {
		if _, err := ParseLocalTime(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestParseCadence(t *testing.T) {
	t.Parallel()
	for _, c := range Cadences {
		got, err := ParseCadence(strings.ToUpper(c.String()))
		if err != nil || got != c {
			t.Fatalf("ParseCadence(%q) = %v, %v", c, got, err)
		}
	}
	if _, err := ParseCadence("hourly"); err == nil {
		t.Fatalf("expected error for hourly")
	}
}

func TestDefaultConfigValid(t *testing.T) {
	t.Parallel()
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateReportsEveryField(t *testing.T) {
	t.Parallel()
	cfg := Config{
		DailyTime:   LocalTime{Hour: 25},
		WeeklyDay:   time.Weekday(9),
		WeeklyTime:  LocalTime{Minute: 61},
		MonthlyDay:  29,
		MonthlyTime: LocalTime{Hour: -1},
	}
	errs := ValidationErrors(cfg.Validate())
	fields := map[string]bool{}
	for _, e := range errs {
		fields[e.Field] = true
	}
	for _, f := range []string{"dailyTime", "weeklyDay", "weeklyTime", "monthlyDay", "monthlyTime", "defaultEvaluator", "concurrentQueries"} {
		if !fields[f] {
			t.Fatalf("missing validation error for %s (got %v)", f, errs)
		}
	}
}

func TestApplyPatch(t *testing.T) {
	t.Parallel()
	base := DefaultConfig()
	daily := "07:30"
	day := 15
	next, err := base.Apply(Patch{DailyTime: &daily, MonthlyDay: &day})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if next.DailyTime != (LocalTime{7, 30}) || next.MonthlyDay != 15 {
		t.Fatalf("patch not applied: %+v", next)
	}
	if base.DailyTime != (LocalTime{9, 0}) {
		t.Fatalf("receiver mutated: %+v", base)
	}
}

func TestApplyPatchRejectsInvalid(t *testing.T) {
	t.Parallel()
	base := DefaultConfig()
	bad := "25:00"
	day := 31
	_, err := base.Apply(Patch{WeeklyTime: &bad})
	if errs := ValidationErrors(err); len(errs) != 1 || errs[0].Field != "weeklyTime" {
		t.Fatalf("expected weeklyTime error, got %v", err)
	}
	_, err = base.Apply(Patch{MonthlyDay: &day})
	if errs := ValidationErrors(err); len(errs) != 1 || errs[0].Field != "monthlyDay" {
		t.Fatalf("expected monthlyDay error, got %v", err)
	}
}

func TestConfigJSON(t *testing.T) {
	t.Parallel()
	b, err := json.Marshal(DefaultConfig())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"dailyTime":"09:00"`) || !strings.Contains(string(b), `"weeklyDay":1`) {
		t.Fatalf("unexpected json: %s", b)
	}
	got, err := DecodeConfig(b)
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	if got != DefaultConfig() {
		t.Fatalf("decoded %+v", got)
	}
	if _, err := DecodeConfig([]byte(`{"dailyTime":"9am"}`)); err == nil {
		t.Fatalf("expected decode error")
	}
}
