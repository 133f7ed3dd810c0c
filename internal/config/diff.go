package config

import (
	"reflect"
	"sort"
	"strings"

	logx "geoprobe/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging. API keys are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 20)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.recent_enabled", newCfg.Logging.Recent.Enabled),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs, logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)))
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.tick", strings.TrimSpace(newCfg.Scheduler.Tick)),
			logx.String("scheduler.probe_timeout", strings.TrimSpace(newCfg.Scheduler.ProbeTimeout)),
			logx.Int("scheduler.history_window", newCfg.Scheduler.HistoryWindow),
		)
	}

	if !reflect.DeepEqual(oldCfg.Schedule, newCfg.Schedule) {
		changed = append(changed, "schedule")
	}

	var oldS, newS StorageConfig
	if oldCfg.Storage != nil {
		oldS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		newS = *newCfg.Storage
	}
	if oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
			logx.Bool("storage.url_set", strings.TrimSpace(newS.URL) != ""),
		)
	}

	if oldCfg.Registry != newCfg.Registry {
		changed = append(changed, "registry")
		attrs = append(attrs, logx.String("registry.ttl", strings.TrimSpace(newCfg.Registry.TTL)))
	}

	if ev := diffEvaluators(oldCfg.Evaluators, newCfg.Evaluators); len(ev) > 0 {
		changed = append(changed, "evaluators")
		attrs = append(attrs,
			logx.String("evaluators.changed", strings.Join(ev, ",")),
			logx.Int("evaluators.count", len(newCfg.Evaluators)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Brands, newCfg.Brands) {
		changed = append(changed, "brands")
		attrs = append(attrs, logx.Int("brands.count", len(newCfg.Brands)))
	}

	if !reflect.DeepEqual(oldCfg.Probes, newCfg.Probes) {
		changed = append(changed, "probes")
		attrs = append(attrs, logx.Int("probes.seed_count", len(newCfg.Probes)))
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired reports whether any of the changed sections only take
// effect on the next start.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "storage", "http", "registry":
			out = append(out, s)
		}
	}
	return out
}

// diffEvaluators lists evaluator ids that were added, removed or changed.
func diffEvaluators(oldM, newM map[string]EvaluatorConfig) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		o, oOK := oldM[id]
		n, nOK := newM[id]
		if oOK != nOK {
			out = append(out, id)
			continue
		}
		if o != n {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
