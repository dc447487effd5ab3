package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stoerbot/internal/config"
	"stoerbot/internal/eventbus"
	"stoerbot/internal/httpapi"
	"stoerbot/internal/metrics"
	"stoerbot/internal/monitor"
	"stoerbot/internal/notifier"
	"stoerbot/internal/runtime/supervisor"
	"stoerbot/internal/source"
	"stoerbot/internal/storage"
	"stoerbot/internal/task/scheduler"
	logx "stoerbot/pkg/logx"
)

// passSchedule names the recurring pass in the scheduler.
const passSchedule = "pass"

type Options struct {
	Version string
}

// App wires the pass runner to its schedule, state, sinks and HTTP surface.
type App struct {
	cfgm    *config.ConfigManager
	cfg     *config.Config
	version string

	logs *logx.Service
	log  logx.Logger

	bus     *eventbus.MemBus
	metrics *metrics.Metrics
	keeper  *storage.Keeper
	notif   *notifier.Service
	runner  *monitor.Runner
	sched   *scheduler.Service
	http    *httpapi.Server

	sup *supervisor.Supervisor
}

// New loads and validates the configuration and builds every component.
// Only configuration problems are fatal; an unusable state store degrades
// to in-memory state.
func New(cfgm *config.ConfigManager, opts Options) (*App, error) {
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLogConfig(cfg))
	a := &App{
		cfgm:    cfgm,
		cfg:     cfg,
		version: opts.Version,
		logs:    logs,
		log:     log,
		bus:     eventbus.New(),
		metrics: metrics.New(),
	}
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	store, err := storage.Open(mapStorageConfig(cfg), log)
	if err != nil {
		log.Warn("state store unavailable, continuing with in-memory state",
			logx.String("driver", cfg.Driver()), logx.Err(err))
		store = nil
	}
	a.keeper = storage.NewKeeper(store, log)

	a.notif = notifier.New(mapNotifierConfig(cfg), log, a.bus, buildSinks(cfg, log)...)
	a.notif.SetObserver(func(sink string, kind notifier.Kind, err error) {
		a.metrics.ObserveNotification(sink, string(kind), err)
	})

	fetchers := buildFetchers(cfg, source.NewHTTPClient(cfg.HTTPTimeout()))
	a.runner = monitor.New(monitor.Deps{
		Log:      log,
		Fetchers: fetchers,
		State:    a.keeper,
		Notifier: a.notif,
		Bus:      a.bus,
		Metrics:  a.metrics,
	}, mapRunnerOptions(cfg))

	a.sched = scheduler.New(mapSchedulerConfig(cfg), log, a.bus)
	if !cfg.SinglePass() {
		if err := a.sched.Add(passSchedule, cfg.Schedule(), 0, a.passJob); err != nil {
			return nil, fmt.Errorf("check schedule: %w", err)
		}
	}

	a.http = httpapi.New(mapHTTPConfig(cfg), httpapi.Deps{
		Log:        log,
		Passes:     a.runner,
		Notifier:   a.notif,
		Metrics:    a.metrics.Handler(),
		Supervisor: a.supervisorSnapshot,
		Scheduler:  a.sched.Snapshot,
		Dropped:    a.bus.Dropped,
		Driver:     a.keeper.Driver(),
		Version:    opts.Version,
	})

	log.Info("configured",
		logx.String("version", opts.Version),
		logx.String("sources", source.Names(fetchers)),
		logx.Strings("sinks", a.notif.Sinks()),
		logx.Secret("webhook", cfg.WebhookURL),
		logx.String("state", a.keeper.Driver()),
		logx.Bool("single_pass", cfg.SinglePass()),
	)
	return a, nil
}

func (a *App) Logger() logx.Logger { return a.log }

// SinglePass reports whether the startup config asks for one pass and exit.
func (a *App) SinglePass() bool { return a.cfg.SinglePass() }

// Done is closed once the supervisor stops, either on Stop or a fatal task error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return nil
	}
	return a.sup.Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) supervisorSnapshot() supervisor.Snapshot {
	if a.sup == nil {
		return supervisor.Snapshot{}
	}
	return a.sup.Snapshot()
}

func (a *App) passJob(ctx context.Context) error {
	_, err := a.runner.TryRunPass(ctx)
	if errors.Is(err, monitor.ErrPassInProgress) {
		return nil
	}
	return err
}

// RunOnce runs a single pass in the foreground. It reports an error when the
// pass was cut short.
func (a *App) RunOnce(ctx context.Context) (monitor.Report, error) {
	rep := a.runner.RunPass(ctx)
	if rep.Interrupted {
		return rep, fmt.Errorf("pass interrupted: %w", context.Cause(ctx))
	}
	return rep, nil
}

// Start launches the HTTP server, the schedule, an immediate first pass and
// the config watcher. It returns once everything is running.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	a.sup.GoRestart("http.serve", a.http.Serve, supervisor.WithMaxRestarts(5), supervisor.WithPublishFirstError(true))
	a.sup.Go("scheduler", a.sched.Run)
	a.sup.Go("pass.initial", func(c context.Context) error {
		return a.passJob(c)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfg
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				if next == nil {
					continue
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})

	a.log.Info("started", logx.String("addr", a.cfg.ListenAddr()), logx.String("schedule", a.cfg.Schedule()))
	return nil
}

// applyConfig hot-applies what a running process can change and warns about
// the rest.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	has := func(name string) bool {
		for _, s := range sections {
			if s == name {
				return true
			}
		}
		return false
	}

	if has("logging") {
		if err := a.logs.Apply(mapLogConfig(next)); err != nil {
			a.log.Warn("log file not reopened", logx.Err(err))
		}
	}
	if has("notify") || has("schedule") {
		a.notif.Apply(mapNotifierConfig(next))
	}
	if has("pass") {
		a.runner.Apply(mapRunnerOptions(next))
	}
	if has("schedule") {
		a.sched.Apply(mapSchedulerConfig(next))
		switch {
		case next.SinglePass():
			a.log.Warn("single-pass mode only takes effect on restart; keeping current schedule")
		case prev.Schedule() != next.Schedule() || prev.SinglePass():
			if err := a.sched.Add(passSchedule, next.Schedule(), 0, a.passJob); err != nil {
				a.log.Warn("check schedule not applied", logx.String("schedule", next.Schedule()), logx.Err(err))
			}
		}
	}
	if pending := config.NeedsRestart(sections); len(pending) > 0 {
		a.log.Warn("config changes require a restart", logx.String("sections", strings.Join(pending, ",")))
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigApplied, Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

// Stop cancels background work and shuts components down in order, each
// step bounded so one component cannot stall the whole stop.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.sup != nil {
		a.sup.Cancel()
	}

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
				max = time.Until(dl)
			}
			var cancel context.CancelFunc
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
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	if a.sup != nil {
		// Waits for the in-flight pass, which saves state on its way out.
		step("supervisor", 15*time.Second, a.sup.Wait)
	}
	step("storage", 2*time.Second, func(context.Context) error { return a.keeper.Close() })

	a.log.Info("stopped", logx.String("reason", string(reason)))
	if a.logs != nil {
		return a.logs.Close()
	}
	return nil
}
