package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"geoprobe/internal/schedule"
)

var knownDrivers = map[string]bool{"": true, "memory": true, "none": true, "file": true, "sqlite": true, "sqlite3": true, "redis": true}

var knownProviders = map[string]bool{"openai": true, "gemini": true, "anthropic": true}

// Validate checks the whole file. It is used on load and as the hot reload
// validator, so a bad edit never replaces a running config.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	_, err := ParseDurationField("http.read_timeout", cfg.HTTP.ReadTimeout)
	check(err)
	_, err = ParseDurationField("http.write_timeout", cfg.HTTP.WriteTimeout)
	check(err)
	if pp := cfg.HTTP.Pprof; pp.Enabled && strings.TrimSpace(pp.Token) == "" && !pp.AllowInsecure && !IsLoopbackAddr(cfg.HTTP.Addr) {
		check(fmt.Errorf("http.pprof: non-loopback addr %q requires token or allow_insecure", cfg.HTTP.Addr))
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			check(fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err))
		}
	}
	_, err = ParseDurationField("scheduler.tick", cfg.Scheduler.Tick)
	check(err)
	_, err = ParseDurationField("scheduler.probe_timeout", cfg.Scheduler.ProbeTimeout)
	check(err)
	if cfg.Scheduler.HistoryWindow < 0 {
		check(fmt.Errorf("scheduler.history_window must be >= 0"))
	}
	if cfg.Scheduler.CalendarHorizonDays < 0 {
		check(fmt.Errorf("scheduler.calendar_horizon_days must be >= 0"))
	}

	if cfg.Schedule != nil {
		if _, err := cfg.Schedule.Build(); err != nil {
			check(fmt.Errorf("schedule: %w", err))
		}
	}

	if sc := cfg.Storage; sc != nil {
		driver := strings.ToLower(strings.TrimSpace(sc.Driver))
		if !knownDrivers[driver] {
			check(fmt.Errorf("unknown storage.driver: %s", sc.Driver))
		}
		_, err := ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
		check(err)
		if sc.HistoryRetention < 0 || sc.ResultRetention < 0 {
			check(fmt.Errorf("storage retention must be >= 0"))
		}
	}

	_, err = ParseDurationField("registry.ttl", cfg.Registry.TTL)
	check(err)

	for id, ev := range cfg.Evaluators {
		if strings.TrimSpace(id) == "" {
			check(fmt.Errorf("evaluators: empty id"))
			continue
		}
		if !knownProviders[strings.ToLower(strings.TrimSpace(ev.Provider))] {
			check(fmt.Errorf("evaluators.%s.provider: unknown %q", id, ev.Provider))
		}
		if ev.MaxTokens < 0 {
			check(fmt.Errorf("evaluators.%s.max_tokens must be >= 0", id))
		}
		if ev.RatePerSec < 0 {
			check(fmt.Errorf("evaluators.%s.rate_per_sec must be >= 0", id))
		}
		_, err := ParseDurationField("evaluators."+id+".timeout", ev.Timeout)
		check(err)
	}

	seenBrand := map[string]bool{}
	for i, b := range cfg.Brands {
		if strings.TrimSpace(b.Name) == "" {
			check(fmt.Errorf("brands[%d].name is required", i))
		}
		if b.ID != "" && seenBrand[b.ID] {
			check(fmt.Errorf("brands[%d].id %q is duplicated", i, b.ID))
		}
		seenBrand[b.ID] = true
	}

	seenProbe := map[string]bool{}
	for i, p := range cfg.Probes {
		if strings.TrimSpace(p.ID) == "" {
			check(fmt.Errorf("probes[%d].id is required", i))
		} else if seenProbe[p.ID] {
			check(fmt.Errorf("probes[%d].id %q is duplicated", i, p.ID))
		}
		seenProbe[p.ID] = true
		if strings.TrimSpace(p.Text) == "" {
			check(fmt.Errorf("probes[%d].text is required", i))
		}
		if _, err := schedule.ParseCadence(p.Cadence); err != nil {
			check(fmt.Errorf("probes[%d].cadence: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

// Build turns the seed into a cadence config, filling omitted fields from
// schedule.DefaultConfig.
func (s *ScheduleSeed) Build() (schedule.Config, error) {
	cfg := schedule.DefaultConfig()
	if s == nil {
		return cfg, nil
	}
	p := schedule.Patch{
		Enabled:   s.Enabled,
		WeeklyDay: s.WeeklyDay,
	}
	if s.DailyTime != "" {
		p.DailyTime = &s.DailyTime
	}
	if s.WeeklyTime != "" {
		p.WeeklyTime = &s.WeeklyTime
	}
	if s.MonthlyDay != 0 {
		p.MonthlyDay = &s.MonthlyDay
	}
	if s.MonthlyTime != "" {
		p.MonthlyTime = &s.MonthlyTime
	}
	if s.DefaultEvaluator != "" {
		p.DefaultEvaluator = &s.DefaultEvaluator
	}
	if s.ConcurrentQueries != 0 {
		p.ConcurrentQueries = &s.ConcurrentQueries
	}
	return cfg.Apply(p)
}

// IsLoopbackAddr reports whether a listen address only binds loopback.
// An empty addr means the default 127.0.0.1:8080.
func IsLoopbackAddr(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return true
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}
