package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"geoprobe/internal/config"
	"geoprobe/internal/evaluator"
	"geoprobe/internal/eventbus"
	"geoprobe/internal/httpapi"
	"geoprobe/internal/probe"
	"geoprobe/internal/runner"
	"geoprobe/internal/runtime/supervisor"
	"geoprobe/internal/schedule"
	"geoprobe/internal/storage"
	logx "geoprobe/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	registry *probe.Registry
	evals    *evaluator.Service
	runner   *runner.Runner
	trigger  *runner.Trigger
	http     *httpapi.Server
	httpCfg  httpSettings
	getenv   func(string) string
}

// Options tweak NewApp for tests and one-shot CLI commands.
type Options struct {
	// Getenv resolves api_key_env; defaults to os.Getenv.
	Getenv func(string) string
	// Completers replaces the SDK backend for the given evaluator ids.
	Completers map[string]evaluator.Completer
	Now        func() time.Time
}

func NewApp(cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	a, err := build(cfg, opts, logSvc, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	a.cfgPath = cfgPath
	a.cfgm = cfgm
	return a, nil
}

func build(cfg *Config, opts Options, logSvc *logx.Service, log logx.Logger) (*App, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	sched, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	hs, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}
	ttl, err := mapRegistryTTL(cfg)
	if err != nil {
		return nil, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	ok := false
	defer func() {
		if !ok {
			_ = store.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	registry := probe.NewRegistry(store, ttl, log.With(logx.String("comp", "registry")))
	seeds, err := mapProbeSeeds(cfg)
	if err != nil {
		return nil, err
	}
	if n, err := registry.Seed(ctx, seeds); err != nil {
		return nil, fmt.Errorf("seed probes: %w", err)
	} else if n > 0 {
		log.Info("probes seeded", logx.Int("inserted", n))
	}

	cadence, err := loadCadenceConfig(ctx, store, cfg, log)
	if err != nil {
		return nil, err
	}

	past, err := store.RecentRuns(ctx, sched.historyWindow)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	history := schedule.NewHistory(sched.historyWindow, past)

	evals := evaluator.New(log.With(logx.String("comp", "evaluator")))
	specs, err := mapEvaluatorSpecs(cfg, opts.Getenv)
	if err != nil {
		return nil, err
	}
	if err := evals.Apply(specs); err != nil {
		return nil, err
	}
	for id, c := range opts.Completers {
		evals.Register(id, c, specs[id])
	}
	evals.SetBrands(mapBrands(cfg))
	if !evals.Has(cadence.DefaultEvaluator) {
		log.Warn("default evaluator is not configured; runs will fail every probe",
			logx.String("evaluator", cadence.DefaultEvaluator), logx.Any("known", evals.IDs()))
	}

	run := runner.New(runner.Options{
		Probes:       registry,
		Evaluator:    evals,
		Store:        store,
		History:      history,
		Bus:          bus,
		Log:          log.With(logx.String("comp", "runner")),
		ProbeTimeout: sched.probeTimeout,
		Now:          opts.Now,
	}, cadence)
	trig := runner.NewTrigger(run, sched.trigger, log.With(logx.String("comp", "trigger")))

	a := &App{
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		registry: registry,
		evals:    evals,
		runner:   run,
		trigger:  trig,
		httpCfg:  hs,
		getenv:   opts.Getenv,
	}
	deps := httpapi.Deps{
		Runner:      run,
		Trigger:     trig,
		Registry:    registry,
		Results:     store,
		Bus:         bus,
		Log:         log.With(logx.String("comp", "http")),
		Evaluators:  evals.Has,
		Health:      a.health,
		Pprof:       hs.pprof,
		HorizonDays: sched.horizonDays,
		Now:         opts.Now,
	}
	if logSvc != nil && cfg.Logging.Recent.Enabled {
		deps.Logs = logSvc.Recent
	}
	a.http = httpapi.New(deps)
	ok = true
	return a, nil
}

// loadCadenceConfig prefers the stored config. The file's schedule section
// only seeds an empty store.
func loadCadenceConfig(ctx context.Context, store storage.ConfigStore, cfg *Config, log logx.Logger) (schedule.Config, error) {
	stored, found, err := store.LoadCadenceConfig(ctx)
	if err != nil {
		return schedule.Config{}, fmt.Errorf("load cadence config: %w", err)
	}
	if found {
		err := stored.Validate()
		if err == nil {
			return stored, nil
		}
		log.Warn("stored cadence config is invalid; reseeding", logx.Err(err))
	}
	seed, err := cfg.Schedule.Build()
	if err != nil {
		return schedule.Config{}, fmt.Errorf("schedule: %w", err)
	}
	if err := store.SaveCadenceConfig(ctx, seed); err != nil {
		return schedule.Config{}, fmt.Errorf("save cadence config: %w", err)
	}
	return seed, nil
}

func (a *App) Runner() *runner.Runner   { return a.runner }
func (a *App) Trigger() *runner.Trigger { return a.trigger }
func (a *App) Logger() logx.Logger      { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) health() supervisor.Snapshot {
	if a.sup == nil {
		return supervisor.Snapshot{}
	}
	return a.sup.Snapshot()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		_, err := mapEvaluatorSpecs(cfg, a.getenv)
		return err
	})

	a.trigger.Start(a.sup.Context())

	a.sup.Go("http", func(c context.Context) error {
		return a.http.Serve(c, a.httpCfg.addr, a.httpCfg.readTimeout, a.httpCfg.writeTimeout)
	})

	// Run lifecycle events at debug level; the runner logs its own summary.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.GoRestart("config.watch", a.cfgm.Watch,
		supervisor.WithRestartBackoff(time.Second, 30*time.Second))

	a.log.Info("app started", logx.String("config", a.cfgPath), logx.String("http", a.httpCfg.addr),
		logx.Bool("pprof", a.httpCfg.pprof != nil))
	return nil
}

// applyConfig pushes the live-reloadable sections to running components.
func (a *App) applyConfig(oldCfg, newCfg *Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	if slices.Contains(sections, "logging") {
		a.logs.Apply(mapLoggingConfig(newCfg))
	}
	if slices.Contains(sections, "scheduler") {
		if sc, err := mapSchedulerConfig(newCfg); err != nil {
			a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		} else {
			a.trigger.Apply(sc.trigger)
			a.runner.SetProbeTimeout(sc.probeTimeout)
		}
	}
	if slices.Contains(sections, "evaluators") {
		specs, err := mapEvaluatorSpecs(newCfg, a.getenv)
		if err == nil {
			err = a.evals.Apply(specs)
		}
		if err != nil {
			a.log.Warn("invalid evaluators config; keeping previous", logx.Err(err))
		}
	}
	if slices.Contains(sections, "brands") {
		a.evals.SetBrands(mapBrands(newCfg))
	}
	if slices.Contains(sections, "probes") {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if seeds, err := mapProbeSeeds(newCfg); err == nil {
			if n, err := a.registry.Seed(ctx, seeds); err != nil {
				a.log.Warn("probe seed failed", logx.Err(err))
			} else if n > 0 {
				a.log.Info("probes seeded", logx.Int("inserted", n))
			}
		}
		cancel()
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// RunOnce executes a single manual run without starting the timer or HTTP.
func (a *App) RunOnce(ctx context.Context, c schedule.Cadence) (schedule.Record, error) {
	return a.runner.TryRun(ctx, c, schedule.TriggerManual)
}

// Close releases resources of an app that was never started.
func (a *App) Close() error {
	err := a.store.Close()
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the app run context first so background loops start unwinding.
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
			max = time.Until(dl)
		}
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
			go func() {
				if err := <-done; err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
		}
	}

	step("trigger", 2*time.Second, func(c context.Context) error { a.trigger.Stop(c); return nil })
	// HTTP shuts down from the canceled supervisor context; waiting here
	// also covers any in-flight run-now request.
	step("supervisor", 6*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}
