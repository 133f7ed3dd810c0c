package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"geoprobe/internal/eventbus"
	"geoprobe/internal/schedule"
	logx "geoprobe/pkg/logx"
)

const (
	DefaultTick = time.Minute
	minTick     = time.Second

	dropLogEvery = time.Minute
)

type TriggerConfig struct {
	Timezone string
	Tick     time.Duration
}

// TriggerState describes the timer loop for status output.
type TriggerState struct {
	Started  bool                   `json:"started"`
	Timezone string                 `json:"timezone"`
	Tick     time.Duration          `json:"tick"`
	Prev     time.Time              `json:"prev,omitzero"`
	Next     time.Time              `json:"next,omitzero"`
	Due      schedule.NextScheduled `json:"due"`
	Dropped  uint64                 `json:"dropped"`
}

// Trigger is the timer loop. Every tick it checks whether now has crossed
// the next occurrence of any cadence and, if so, asks the runner for a run.
// Attempts that find the runner busy are dropped; the crossed occurrence is
// not retried.
type Trigger struct {
	runner *Runner
	log    logx.Logger
	now    func() time.Time

	mu      sync.Mutex
	cfg     TriggerConfig
	loc     *time.Location
	c       *cron.Cron
	entry   cron.EntryID
	ctx     context.Context
	due     schedule.NextScheduled
	dropped uint64
	lastLog time.Time
}

func NewTrigger(r *Runner, cfg TriggerConfig, log logx.Logger) *Trigger {
	t := &Trigger{runner: r, log: log, now: r.now, cfg: cfg}
	t.loc = t.loadLocation(cfg.Timezone)
	t.due = schedule.NextAll(r.Config(), t.now().In(t.loc))
	r.OnConfigChange(t.Recompute)
	return t
}

func (t *Trigger) loadLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		t.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func tickOf(cfg TriggerConfig) time.Duration {
	if cfg.Tick <= 0 {
		return DefaultTick
	}
	return max(cfg.Tick, minTick)
}

// Location is the zone occurrences are computed in.
func (t *Trigger) Location() *time.Location {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loc
}

// Start begins ticking. Calling Start twice is a no-op.
func (t *Trigger) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c != nil {
		return
	}
	t.ctx = ctx
	t.startLocked()
	t.log.Info("trigger started", logx.String("tz", t.loc.String()), logx.Duration("tick", tickOf(t.cfg)))
}

func (t *Trigger) startLocked() {
	t.c = cron.New(cron.WithLocation(t.loc))
	t.entry = t.c.Schedule(cron.Every(tickOf(t.cfg)), cron.FuncJob(func() {
		t.mu.Lock()
		ctx := t.ctx
		t.mu.Unlock()
		t.Check(ctx, t.now())
	}))
	t.c.Start()
}

// Stop halts ticking and waits for in-flight checks until ctx expires.
func (t *Trigger) Stop(ctx context.Context) {
	t.mu.Lock()
	c := t.c
	t.c = nil
	t.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	t.log.Info("trigger stopped")
}

// Apply swaps timezone and tick, restarting the cron loop when running.
func (t *Trigger) Apply(cfg TriggerConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.cfg
	t.cfg = cfg
	if strings.TrimSpace(old.Timezone) == strings.TrimSpace(cfg.Timezone) && tickOf(old) == tickOf(cfg) {
		return
	}
	t.loc = t.loadLocation(cfg.Timezone)
	t.due = schedule.NextAll(t.runner.Config(), t.now().In(t.loc))
	if t.c != nil {
		// In-flight checks finish on their own; the runner guard keeps them
		// from overlapping a new tick's run.
		t.c.Stop()
		t.startLocked()
	}
	t.log.Info("trigger reconfigured", logx.String("tz", t.loc.String()), logx.Duration("tick", tickOf(cfg)))
}

// Recompute resets the pending occurrences from cfg. It runs after every
// cadence config change.
func (t *Trigger) Recompute(cfg schedule.Config) {
	t.mu.Lock()
	t.due = schedule.NextAll(cfg, t.now().In(t.loc))
	t.mu.Unlock()
}

// Check fires every cadence whose pending occurrence is at or before now.
// Due cadences are advanced before any run starts, so a crossing is
// attempted once. A disabled config advances without running.
func (t *Trigger) Check(ctx context.Context, now time.Time) {
	cfg := t.runner.Config()

	t.mu.Lock()
	now = now.In(t.loc)
	var fire []schedule.Cadence
	for _, c := range schedule.Cadences {
		at := t.due.For(c)
		if at.IsZero() || at.After(now) {
			continue
		}
		fire = append(fire, c)
		next := schedule.Next(cfg, c, now)
		switch c {
		case schedule.Daily:
			t.due.Daily = next
		case schedule.Weekly:
			t.due.Weekly = next
		case schedule.Monthly:
			t.due.Monthly = next
		}
	}
	t.mu.Unlock()

	if !cfg.Enabled || len(fire) == 0 {
		return
	}
	for _, c := range fire {
		t.runner.publish(eventbus.TriggerFired, map[string]any{"cadence": c})
		_, err := t.runner.TryRun(ctx, c, schedule.TriggerTimer)
		if errors.Is(err, ErrAlreadyRunning) {
			t.noteDrop(c, now)
			continue
		}
		if err != nil {
			t.log.Error("timer run failed", logx.String("cadence", c.String()), logx.Err(err))
		}
	}
}

func (t *Trigger) noteDrop(c schedule.Cadence, now time.Time) {
	t.mu.Lock()
	t.dropped++
	n := t.dropped
	quiet := !t.lastLog.IsZero() && now.Sub(t.lastLog) < dropLogEvery
	if !quiet {
		t.lastLog = now
	}
	t.mu.Unlock()
	if !quiet {
		t.log.Debug("runner busy; tick dropped", logx.String("cadence", c.String()), logx.Uint64("dropped_total", n))
	}
}

func (t *Trigger) Snapshot() TriggerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := TriggerState{
		Started:  t.c != nil,
		Timezone: t.loc.String(),
		Tick:     tickOf(t.cfg),
		Due:      t.due,
		Dropped:  t.dropped,
	}
	if t.c != nil {
		e := t.c.Entry(t.entry)
		st.Prev, st.Next = e.Prev, e.Next
	}
	return st
}
