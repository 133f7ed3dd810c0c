// Package runner executes probe runs. A Runner allows at most one run at a
// time; the Trigger drives it from a cron tick.
package runner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"geoprobe/internal/evaluator"
	"geoprobe/internal/eventbus"
	"geoprobe/internal/probe"
	"geoprobe/internal/schedule"
	"geoprobe/internal/storage"
	logx "geoprobe/pkg/logx"
)

var (
	ErrAlreadyRunning = errors.New("already running")
	ErrInvalidCadence = errors.New("invalid cadence")
)

// Evaluator answers one probe.
type Evaluator interface {
	Evaluate(ctx context.Context, text, evaluatorID string) (evaluator.Answer, error)
}

// Probes selects and marks the probes of a run.
type Probes interface {
	EligibleFor(ctx context.Context, c schedule.Cadence) ([]probe.Probe, error)
	MarkRun(ctx context.Context, runs map[string]time.Time) error
}

// Store is the persistence the runner writes to.
type Store interface {
	storage.HistoryStore
	storage.ResultStore
	storage.ConfigStore
}

type Options struct {
	Probes    Probes
	Evaluator Evaluator
	Store     Store
	History   *schedule.History
	Bus       eventbus.Bus
	Log       logx.Logger

	// ProbeTimeout bounds one evaluation; 0 means no limit.
	ProbeTimeout time.Duration
	Now          func() time.Time
}

// State is the externally visible runner state. CurrentCadence is
// CadenceNone whenever Running is false.
type State struct {
	Running         bool             `json:"running"`
	CurrentCadence  schedule.Cadence `json:"currentCadence,omitzero"`
	LastCompletedAt *time.Time       `json:"lastCompletedAt,omitempty"`
}

type Runner struct {
	probes  Probes
	eval    Evaluator
	store   Store
	history *schedule.History
	bus     eventbus.Bus
	log     logx.Logger
	now     func() time.Time

	// mu guards the run state and the cadence config. It is never held
	// while probes execute.
	mu            sync.Mutex
	running       bool
	current       schedule.Cadence
	lastCompleted time.Time
	cfg           schedule.Config
	probeTimeout  time.Duration
	listeners     []func(schedule.Config)
}

func New(opts Options, cfg schedule.Config) *Runner {
	r := &Runner{
		probes:       opts.Probes,
		eval:         opts.Evaluator,
		store:        opts.Store,
		history:      opts.History,
		bus:          opts.Bus,
		log:          opts.Log,
		now:          opts.Now,
		cfg:          cfg,
		probeTimeout: opts.ProbeTimeout,
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.history == nil {
		r.history = schedule.NewHistory(schedule.DefaultHistoryWindow, nil)
	}
	if last, ok := r.history.Last(); ok {
		r.lastCompleted = last.CompletedAt
	}
	return r
}

func (r *Runner) History() *schedule.History { return r.history }

func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := State{Running: r.running, CurrentCadence: r.current}
	if !r.lastCompleted.IsZero() {
		t := r.lastCompleted
		st.LastCompletedAt = &t
	}
	return st
}

func (r *Runner) Config() schedule.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// OnConfigChange registers fn to be called after every accepted config update.
func (r *Runner) OnConfigChange(fn func(schedule.Config)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Runner) SetProbeTimeout(d time.Duration) {
	r.mu.Lock()
	r.probeTimeout = d
	r.mu.Unlock()
}

// UpdateConfig validates and persists a partial update. On error the
// current config is unchanged; validation failures unpack with
// schedule.ValidationErrors.
func (r *Runner) UpdateConfig(ctx context.Context, p schedule.Patch) (schedule.Config, error) {
	r.mu.Lock()
	next, err := r.cfg.Apply(p)
	if err != nil {
		r.mu.Unlock()
		return schedule.Config{}, err
	}
	if r.store != nil {
		if err := r.store.SaveCadenceConfig(ctx, next); err != nil {
			r.mu.Unlock()
			return schedule.Config{}, fmt.Errorf("save cadence config: %w", err)
		}
	}
	r.cfg = next
	listeners := slices.Clone(r.listeners)
	r.mu.Unlock()

	r.log.Info("cadence config updated",
		logx.Bool("enabled", next.Enabled),
		logx.String("daily", next.DailyTime.String()),
		logx.String("weekly", next.WeeklyDay.String()+" "+next.WeeklyTime.String()),
		logx.Int("monthly_day", next.MonthlyDay),
		logx.String("evaluator", next.DefaultEvaluator),
	)
	r.publish(eventbus.ConfigChanged, next)
	for _, fn := range listeners {
		fn(next)
	}
	return next, nil
}

// SetEnabled flips the master switch.
func (r *Runner) SetEnabled(ctx context.Context, enabled bool) (schedule.Config, error) {
	return r.UpdateConfig(ctx, schedule.Patch{Enabled: &enabled})
}

// TryRun executes one run for cadence c unless another run is active, in
// which case it returns ErrAlreadyRunning without side effects. The run
// itself ignores ctx cancellation; only per-probe timeouts apply.
func (r *Runner) TryRun(ctx context.Context, c schedule.Cadence, trigger schedule.Trigger) (schedule.Record, error) {
	if !c.Valid() {
		return schedule.Record{}, fmt.Errorf("%w: %q", ErrInvalidCadence, c.String())
	}

	r.mu.Lock()
	if r.running {
		busy := r.current
		r.mu.Unlock()
		r.publish(eventbus.RunSkipped, map[string]any{"cadence": c, "trigger": trigger, "busy": busy})
		return schedule.Record{}, ErrAlreadyRunning
	}
	r.running, r.current = true, c
	cfg := r.cfg
	timeout := r.probeTimeout
	r.mu.Unlock()

	rec := r.execute(context.WithoutCancel(ctx), c, trigger, cfg, timeout)

	r.mu.Lock()
	r.running, r.current = false, schedule.CadenceNone
	r.lastCompleted = rec.CompletedAt
	r.mu.Unlock()

	r.publish(eventbus.RunCompleted, rec)
	return rec, nil
}

// execute runs while the guard is held, so history appends never race.
func (r *Runner) execute(ctx context.Context, c schedule.Cadence, trigger schedule.Trigger, cfg schedule.Config, timeout time.Duration) schedule.Record {
	rec := schedule.Record{
		ID:        uuid.NewString(),
		Cadence:   c,
		Trigger:   trigger,
		StartedAt: r.now(),
	}
	log := r.log.With(logx.String("run", rec.ID), logx.String("cadence", c.String()), logx.String("trigger", string(trigger)))
	r.publish(eventbus.RunStarted, rec)

	probes, err := r.probes.EligibleFor(ctx, c)
	if err != nil {
		log.Error("probe snapshot failed", logx.Err(err))
		rec.Error = "load probes: " + err.Error()
		probes = nil
	}
	log.Info("run started", logx.Int("probes", len(probes)), logx.String("evaluator", cfg.DefaultEvaluator))

	results := r.evaluateAll(ctx, log, rec.ID, probes, cfg, timeout)

	rec.Processed = len(results)
	for _, res := range results {
		if res.Error == "" {
			rec.Succeeded++
		} else {
			rec.Failed++
		}
	}
	rec.CompletedAt = r.now()
	if rec.CompletedAt.Before(rec.StartedAt) {
		rec.CompletedAt = rec.StartedAt
	}

	r.history.Append(rec)
	r.persist(ctx, log, rec, results)

	log.Info("run finished",
		logx.Bool("errored", rec.Error != ""),
		logx.Int("processed", rec.Processed),
		logx.Int("succeeded", rec.Succeeded),
		logx.Int("failed", rec.Failed),
		logx.Duration("took", rec.Duration()),
	)
	return rec
}

func (r *Runner) evaluateAll(ctx context.Context, log logx.Logger, runID string, probes []probe.Probe, cfg schedule.Config, timeout time.Duration) []probe.Result {
	results := make([]probe.Result, len(probes))
	var g errgroup.Group
	g.SetLimit(max(1, cfg.ConcurrentQueries))
	for i, p := range probes {
		g.Go(func() error {
			results[i] = r.evaluateOne(ctx, log, runID, p, cfg.DefaultEvaluator, timeout)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Runner) evaluateOne(ctx context.Context, log logx.Logger, runID string, p probe.Probe, evalID string, timeout time.Duration) (res probe.Result) {
	res = probe.Result{ID: uuid.NewString(), RunID: runID, ProbeID: p.ID, Evaluator: evalID}
	defer func() {
		if v := recover(); v != nil {
			res.Error = fmt.Sprintf("panic: %v", v)
			log.Error("probe evaluation panicked", logx.String("probe", p.ID), logx.Any("panic", v))
		}
		res.TestedAt = r.now()
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ans, err := r.eval.Evaluate(ctx, p.Text, evalID)
	if err != nil {
		res.Error = err.Error()
		log.Warn("probe evaluation failed", logx.String("probe", p.ID), logx.Err(err))
		r.publish(eventbus.ProbeFailed, map[string]any{"run": runID, "probe": p.ID, "error": res.Error})
		return res
	}
	res.Cited = ans.Cited()
	res.CitedBrands = ans.CitedBrands
	res.Competitors = ans.Competitors
	res.Response = probe.Preview(ans.RawResponse)
	res.FullResponse = ans.RawResponse
	return res
}

// persist writes the record, results and lastRunAt marks. Failures are
// logged; the in-memory history already holds the record.
func (r *Runner) persist(ctx context.Context, log logx.Logger, rec schedule.Record, results []probe.Result) {
	if r.store != nil {
		if err := r.store.AppendRun(ctx, rec); err != nil {
			log.Error("history append failed", logx.Err(err))
		}
		if err := r.store.AppendResults(ctx, results); err != nil {
			log.Error("result append failed", logx.Err(err))
		}
	}
	if len(results) == 0 {
		return
	}
	marks := make(map[string]time.Time, len(results))
	for _, res := range results {
		marks[res.ProbeID] = res.TestedAt
	}
	if err := r.probes.MarkRun(ctx, marks); err != nil {
		log.Error("lastRunAt update failed", logx.Err(err))
	}
}

func (r *Runner) publish(typ string, data any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Time: r.now(), Data: data})
}
