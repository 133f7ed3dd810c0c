package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"geoprobe/internal/probe"
	"geoprobe/internal/schedule"
)

// Memory is a process-local Store. The file driver builds on it.
type Memory struct {
	mu sync.RWMutex

	probes  map[string]probe.Probe
	runs    []schedule.Record // oldest first
	results []probe.Result    // oldest first
	cfg     *schedule.Config

	historyKeep int
	resultKeep  int
	closed      bool
}

func NewMemory(cfg Config) *Memory {
	return &Memory{
		probes:      map[string]probe.Probe{},
		historyKeep: cfg.historyRetention(),
		resultKeep:  cfg.resultRetention(),
	}
}

func copyProbe(p probe.Probe) probe.Probe {
	if p.LastRunAt != nil {
		t := *p.LastRunAt
		p.LastRunAt = &t
	}
	return p
}

func (m *Memory) ListProbes(context.Context) ([]probe.Probe, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]probe.Probe, 0, len(m.probes))
	for _, p := range m.probes {
		out = append(out, copyProbe(p))
	}
	return out, nil
}

func (m *Memory) GetProbe(_ context.Context, id string) (probe.Probe, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return probe.Probe{}, ErrClosed
	}
	p, ok := m.probes[id]
	if !ok {
		return probe.Probe{}, fmt.Errorf("%w: %s", probe.ErrUnknownProbe, id)
	}
	return copyProbe(p), nil
}

func (m *Memory) PutProbe(_ context.Context, p probe.Probe) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.probes[p.ID] = copyProbe(p)
	return nil
}

func (m *Memory) MarkProbesRun(_ context.Context, runs map[string]time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.markLocked(runs)
	return nil
}

func (m *Memory) markLocked(runs map[string]time.Time) {
	for id, at := range runs {
		p, ok := m.probes[id]
		if !ok {
			continue
		}
		t := at
		p.LastRunAt = &t
		m.probes[id] = p
	}
}

func (m *Memory) AppendRun(_ context.Context, r schedule.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.runs = trimOldest(append(m.runs, r), m.historyKeep)
	return nil
}

func (m *Memory) RecentRuns(_ context.Context, limit int) ([]schedule.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return newestFirst(m.runs, limit), nil
}

func (m *Memory) AppendResults(_ context.Context, rs []probe.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.results = trimOldest(append(m.results, rs...), m.resultKeep)
	return nil
}

func (m *Memory) RecentResults(_ context.Context, probeID string, limit int) ([]probe.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return filterResults(newestFirst(m.results, 0), probeID, limit), nil
}

func filterResults(newest []probe.Result, probeID string, limit int) []probe.Result {
	out := make([]probe.Result, 0, min(len(newest), max(limit, 0)))
	for _, r := range newest {
		if probeID != "" && r.ProbeID != probeID {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (m *Memory) LoadCadenceConfig(context.Context) (schedule.Config, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return schedule.Config{}, false, ErrClosed
	}
	if m.cfg == nil {
		return schedule.Config{}, false, nil
	}
	return *m.cfg, true, nil
}

func (m *Memory) SaveCadenceConfig(_ context.Context, cfg schedule.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.cfg = &cfg
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
