package app

import (
	"os"
	"strings"
	"time"

	"geoprobe/internal/config"
	"geoprobe/internal/evaluator"
	"geoprobe/internal/httpapi"
	"geoprobe/internal/probe"
	"geoprobe/internal/runner"
	"geoprobe/internal/schedule"
	logx "geoprobe/pkg/logx"
)

type Config = config.Config

func mapLoggingConfig(cfg *Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		JSON:    lc.JSON,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Recent: logx.RecentConfig{
			Enabled:    lc.Recent.Enabled,
			Size:       lc.Recent.Size,
			MinLevel:   lc.Recent.MinLevel,
			RatePerSec: lc.Recent.RatePerSec,
		},
	}
}

// schedulerSettings is the parsed scheduler section.
type schedulerSettings struct {
	trigger       runner.TriggerConfig
	probeTimeout  time.Duration
	historyWindow int
	horizonDays   int
}

func mapSchedulerConfig(cfg *Config) (schedulerSettings, error) {
	sc := cfg.Scheduler
	tick, err := config.ResolveDuration("scheduler.tick", sc.Tick)
	if err != nil {
		return schedulerSettings{}, err
	}
	pt, err := config.ParseDurationField("scheduler.probe_timeout", sc.ProbeTimeout)
	if err != nil {
		return schedulerSettings{}, err
	}
	s := schedulerSettings{
		trigger:       runner.TriggerConfig{Timezone: sc.Timezone, Tick: tick},
		probeTimeout:  pt,
		historyWindow: sc.HistoryWindow,
		horizonDays:   sc.CalendarHorizonDays,
	}
	if s.historyWindow <= 0 {
		s.historyWindow = schedule.DefaultHistoryWindow
	}
	return s, nil
}

// mapEvaluatorSpecs resolves keys from api_key or api_key_env. With no
// evaluators configured the built-in "gpt" and "gemini" entries are used.
func mapEvaluatorSpecs(cfg *Config, getenv func(string) string) (map[string]evaluator.Spec, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if len(cfg.Evaluators) == 0 {
		return evaluator.DefaultSpecs(getenv), nil
	}
	out := make(map[string]evaluator.Spec, len(cfg.Evaluators))
	for id, ec := range cfg.Evaluators {
		timeout, err := config.ParseDurationField("evaluators."+id+".timeout", ec.Timeout)
		if err != nil {
			return nil, err
		}
		key := strings.TrimSpace(ec.APIKey)
		if key == "" && strings.TrimSpace(ec.APIKeyEnv) != "" {
			key = strings.TrimSpace(getenv(strings.TrimSpace(ec.APIKeyEnv)))
		}
		out[id] = evaluator.Spec{
			Provider:   ec.Provider,
			APIKey:     key,
			Model:      ec.Model,
			BaseURL:    ec.BaseURL,
			MaxTokens:  ec.MaxTokens,
			RatePerSec: ec.RatePerSec,
			Timeout:    timeout,
		}
	}
	return out, nil
}

func mapBrands(cfg *Config) []evaluator.Brand {
	out := make([]evaluator.Brand, 0, len(cfg.Brands))
	for _, b := range cfg.Brands {
		id := strings.TrimSpace(b.ID)
		if id == "" {
			id = strings.ToLower(strings.TrimSpace(b.Name))
		}
		out = append(out, evaluator.Brand{ID: id, Name: strings.TrimSpace(b.Name), Competitors: b.Competitors})
	}
	return out
}

func mapProbeSeeds(cfg *Config) ([]probe.Probe, error) {
	out := make([]probe.Probe, 0, len(cfg.Probes))
	for _, ps := range cfg.Probes {
		c, err := schedule.ParseCadence(ps.Cadence)
		if err != nil {
			return nil, err
		}
		active := true
		if ps.Active != nil {
			active = *ps.Active
		}
		out = append(out, probe.Probe{
			ID:       strings.TrimSpace(ps.ID),
			Text:     strings.TrimSpace(ps.Text),
			Category: ps.Category,
			Cadence:  c,
			Active:   active,
		})
	}
	return out, nil
}

func mapRegistryTTL(cfg *Config) (time.Duration, error) {
	return config.ResolveDuration("registry.ttl", cfg.Registry.TTL)
}

type httpSettings struct {
	addr         string
	readTimeout  time.Duration
	writeTimeout time.Duration
	pprof        *httpapi.PprofOptions
}

func mapHTTPConfig(cfg *Config) (httpSettings, error) {
	hc := cfg.HTTP
	rt, err := config.ResolveDuration("http.read_timeout", hc.ReadTimeout)
	if err != nil {
		return httpSettings{}, err
	}
	wt, err := config.ParseDurationField("http.write_timeout", hc.WriteTimeout)
	if err != nil {
		return httpSettings{}, err
	}
	addr := strings.TrimSpace(hc.Addr)
	if addr == "" {
		addr = "127.0.0.1:8080"
	}
	hs := httpSettings{addr: addr, readTimeout: rt, writeTimeout: wt}
	if pp := hc.Pprof; pp.Enabled {
		hs.pprof = &httpapi.PprofOptions{
			Token:                strings.TrimSpace(pp.Token),
			MutexProfileFraction: pp.MutexProfileFraction,
			BlockProfileRate:     pp.BlockProfileRate,
		}
	}
	return hs, nil
}
