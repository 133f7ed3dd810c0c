package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LocalTime is a wall-clock time of day (HH:MM, 24-hour) in the scheduler zone.
type LocalTime struct {
	Hour   int
	Minute int
}

// ParseLocalTime parses "HH:MM". A single-digit hour ("9:30") is accepted.
func ParseLocalTime(s string) (LocalTime, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return LocalTime{}, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return LocalTime{}, fmt.Errorf("invalid hour in %q", s)
	}
	if len(parts[1]) != 2 {
		return LocalTime{}, fmt.Errorf("invalid minute in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return LocalTime{}, fmt.Errorf("invalid minute in %q", s)
	}
	return LocalTime{Hour: h, Minute: m}, nil
}

// MustLocalTime is ParseLocalTime for literals; it panics on bad input.
func MustLocalTime(s string) LocalTime {
	t, err := ParseLocalTime(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t LocalTime) Valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

func (t LocalTime) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// On returns the instant this time of day falls on the given calendar date.
func (t LocalTime) On(year int, month time.Month, day int, loc *time.Location) time.Time {
	return time.Date(year, month, day, t.Hour, t.Minute, 0, 0, loc)
}

func (t LocalTime) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid time %02d:%02d", t.Hour, t.Minute)
	}
	return []byte(t.String()), nil
}

func (t *LocalTime) UnmarshalText(b []byte) error {
	v, err := ParseLocalTime(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
