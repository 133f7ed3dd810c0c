package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// coerceToJSONBytes turns a YAML config into JSON so both formats go through
// the same strict decoder. JSON input is returned as is.
//
// YAML also accepts a couple of hand-written shortcuts, rewritten here:
//   - schedule.weekly_day as a weekday name ("monday", "Mon")
//   - duration fields as bare integers, meaning seconds (tick: 90)
func coerceToJSONBytes(path string, data []byte) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	v = normalizeYAML(v)
	if root, ok := v.(map[string]any); ok {
		if err := rewriteShortcuts(root); err != nil {
			return nil, err
		}
	}

	j, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s: yaml->json: %w", filepath.Base(path), err)
	}
	return j, nil
}

// normalizeYAML makes every map key a string so the tree can be JSON-marshaled.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = normalizeYAML(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}

// durationPaths are the section/key pairs holding durations.
var durationPaths = [][2]string{
	{"http", "read_timeout"},
	{"http", "write_timeout"},
	{"scheduler", "tick"},
	{"scheduler", "probe_timeout"},
	{"storage", "busy_timeout"},
	{"registry", "ttl"},
}

func rewriteShortcuts(root map[string]any) error {
	for _, p := range durationPaths {
		if sec, ok := root[p[0]].(map[string]any); ok {
			secondsToDuration(sec, p[1])
		}
	}
	if evs, ok := root["evaluators"].(map[string]any); ok {
		for _, ev := range evs {
			if m, ok := ev.(map[string]any); ok {
				secondsToDuration(m, "timeout")
			}
		}
	}

	sched, ok := root["schedule"].(map[string]any)
	if !ok {
		return nil
	}
	name, ok := sched["weekly_day"].(string)
	if !ok {
		return nil
	}
	day, err := parseWeekday(name)
	if err != nil {
		return fmt.Errorf("schedule.weekly_day: %w", err)
	}
	sched["weekly_day"] = int(day)
	return nil
}

func secondsToDuration(m map[string]any, key string) {
	switch n := m[key].(type) {
	case int:
		m[key] = (time.Duration(n) * time.Second).String()
	case float64:
		m[key] = time.Duration(n * float64(time.Second)).String()
	}
}

func parseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n <= 6 {
		return time.Weekday(n), nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if s == full || (len(s) >= 3 && strings.HasPrefix(full, s)) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}
