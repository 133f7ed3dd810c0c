package schedule

import (
	"fmt"
	"strings"
)

// Cadence is the recurrence class of a run.
type Cadence uint8

const (
	CadenceNone Cadence = iota
	Daily
	Weekly
	Monthly
)

// Cadences lists every valid cadence in execution order.
var Cadences = []Cadence{Daily, Weekly, Monthly}

func (c Cadence) String() string {
	switch c {
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	default:
		return ""
	}
}

func (c Cadence) Valid() bool { return c >= Daily && c <= Monthly }

// ParseCadence accepts "daily", "weekly" or "monthly" (case-insensitive).
func ParseCadence(raw string) (Cadence, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "daily":
		return Daily, nil
	case "weekly":
		return Weekly, nil
	case "monthly":
		return Monthly, nil
	default:
		return CadenceNone, fmt.Errorf("invalid cadence %q (use daily, weekly or monthly)", raw)
	}
}

func (c Cadence) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid cadence %d", uint8(c))
	}
	return []byte(c.String()), nil
}

func (c *Cadence) UnmarshalText(b []byte) error {
	v, err := ParseCadence(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}
