package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	MinMonthlyDay = 1
	MaxMonthlyDay = 28
)

// Config is the cadence configuration. It is treated as an immutable value:
// updates go through Apply which returns a new Config.
type Config struct {
	Enabled           bool         `json:"enabled"`
	DailyTime         LocalTime    `json:"dailyTime"`
	WeeklyDay         time.Weekday `json:"weeklyDay"`
	WeeklyTime        LocalTime    `json:"weeklyTime"`
	MonthlyDay        int          `json:"monthlyDay"`
	MonthlyTime       LocalTime    `json:"monthlyTime"`
	DefaultEvaluator  string       `json:"defaultEvaluator"`
	ConcurrentQueries int          `json:"concurrentQueries"`
}

// DefaultConfig is used when no configuration has been stored yet.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		DailyTime:         LocalTime{Hour: 9},
		WeeklyDay:         time.Monday,
		WeeklyTime:        LocalTime{Hour: 9},
		MonthlyDay:        1,
		MonthlyTime:       LocalTime{Hour: 9},
		DefaultEvaluator:  "gpt",
		ConcurrentQueries: 1,
	}
}

// ValidationError describes one rejected field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Reason }

// ValidationErrors unpacks the field errors from an error returned by Validate or Apply.
func ValidationErrors(err error) []*ValidationError {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []*ValidationError
		for _, e := range joined.Unwrap() {
			out = append(out, ValidationErrors(e)...)
		}
		return out
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return []*ValidationError{ve}
	}
	return nil
}

// Validate checks every field and reports all violations at once.
func (c Config) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}
	if !c.DailyTime.Valid() {
		add("dailyTime", "must be a 24-hour HH:MM time")
	}
	if c.WeeklyDay < time.Sunday || c.WeeklyDay > time.Saturday {
		add("weeklyDay", "must be 0 (Sunday) through 6 (Saturday), got %d", int(c.WeeklyDay))
	}
	if !c.WeeklyTime.Valid() {
		add("weeklyTime", "must be a 24-hour HH:MM time")
	}
	if c.MonthlyDay < MinMonthlyDay || c.MonthlyDay > MaxMonthlyDay {
		add("monthlyDay", "must be between %d and %d, got %d", MinMonthlyDay, MaxMonthlyDay, c.MonthlyDay)
	}
	if !c.MonthlyTime.Valid() {
		add("monthlyTime", "must be a 24-hour HH:MM time")
	}
	if strings.TrimSpace(c.DefaultEvaluator) == "" {
		add("defaultEvaluator", "must not be empty")
	}
	if c.ConcurrentQueries < 1 {
		add("concurrentQueries", "must be at least 1, got %d", c.ConcurrentQueries)
	}
	return errors.Join(errs...)
}

// TimeFor returns the configured time of day for a cadence.
func (c Config) TimeFor(cad Cadence) LocalTime {
	switch cad {
	case Weekly:
		return c.WeeklyTime
	case Monthly:
		return c.MonthlyTime
	default:
		return c.DailyTime
	}
}

// Patch is a partial update. Time fields are kept as raw strings so that a
// malformed value is reported as a field error rather than a decode failure.
type Patch struct {
	Enabled           *bool   `json:"enabled,omitempty"`
	DailyTime         *string `json:"dailyTime,omitempty"`
	WeeklyDay         *int    `json:"weeklyDay,omitempty"`
	WeeklyTime        *string `json:"weeklyTime,omitempty"`
	MonthlyDay        *int    `json:"monthlyDay,omitempty"`
	MonthlyTime       *string `json:"monthlyTime,omitempty"`
	DefaultEvaluator  *string `json:"defaultEvaluator,omitempty"`
	ConcurrentQueries *int    `json:"concurrentQueries,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p == Patch{}
}

// Apply returns c with the patch applied. The receiver is never modified; on
// any validation error the zero Config is returned alongside the error.
func (c Config) Apply(p Patch) (Config, error) {
	next := c
	var errs []error
	parseTime := func(field string, raw *string, dst *LocalTime) {
		if raw == nil {
			return
		}
		t, err := ParseLocalTime(*raw)
		if err != nil {
			errs = append(errs, &ValidationError{Field: field, Reason: err.Error()})
			return
		}
		*dst = t
	}
	if p.Enabled != nil {
		next.Enabled = *p.Enabled
	}
	parseTime("dailyTime", p.DailyTime, &next.DailyTime)
	if p.WeeklyDay != nil {
		next.WeeklyDay = time.Weekday(*p.WeeklyDay)
	}
	parseTime("weeklyTime", p.WeeklyTime, &next.WeeklyTime)
	if p.MonthlyDay != nil {
		next.MonthlyDay = *p.MonthlyDay
	}
	parseTime("monthlyTime", p.MonthlyTime, &next.MonthlyTime)
	if p.DefaultEvaluator != nil {
		next.DefaultEvaluator = strings.TrimSpace(*p.DefaultEvaluator)
	}
	if p.ConcurrentQueries != nil {
		next.ConcurrentQueries = *p.ConcurrentQueries
	}
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	if err := next.Validate(); err != nil {
		return Config{}, err
	}
	return next, nil
}

// DecodeConfig parses a full JSON config and validates it.
func DecodeConfig(b []byte) (Config, error) {
	var c Config
	if err := json.Unmarshal(b, &c); err != nil {
		return Config{}, fmt.Errorf("decode cadence config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
