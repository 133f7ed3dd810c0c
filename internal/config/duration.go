package config

import (
	"fmt"
	"strings"
	"time"
)

// Defaults for duration fields left empty or "0s".
const (
	DefaultTick        = time.Minute
	DefaultReadTimeout = 10 * time.Second
	DefaultBusyTimeout = time.Second
	DefaultRegistryTTL = 5 * time.Minute
)

type durationRule struct {
	def time.Duration
	min time.Duration
}

// durationRules covers the fields where zero means "default". Fields not
// listed here (scheduler.probe_timeout, http.write_timeout,
// evaluators.<id>.timeout) treat zero as "no limit".
var durationRules = map[string]durationRule{
	"scheduler.tick":       {def: DefaultTick, min: time.Second},
	"http.read_timeout":    {def: DefaultReadTimeout},
	"storage.busy_timeout": {def: DefaultBusyTimeout},
	"registry.ttl":         {def: DefaultRegistryTTL, min: time.Second},
}

// ParseDurationField parses a Go duration string for the field at path.
// Empty is zero. Negative values and values under the field's minimum are
// rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q (want e.g. 30s, 5m, 1h30m)", path, raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	if r, ok := durationRules[path]; ok && d > 0 && d < r.min {
		return 0, fmt.Errorf("%s: must be at least %s, got %s", path, r.min, d)
	}
	return d, nil
}

// ResolveDuration is ParseDurationField with the field's default applied.
func ResolveDuration(path, raw string) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return durationRules[path].def, nil
	}
	return d, nil
}
