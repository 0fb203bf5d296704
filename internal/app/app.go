package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"funbot/internal/config"
	"funbot/internal/eventbus"
	"funbot/internal/handler"
	"funbot/internal/observability/metrics"
	"funbot/internal/observability/server"
	rtsup "funbot/internal/runtime/supervisor"
	"funbot/internal/storage"
	"funbot/internal/task/engine"
	"funbot/internal/task/scheduler"
	"funbot/internal/throttle"
	"funbot/internal/toggle"
	kit "funbot/internal/transport"
	"funbot/internal/transport/delivery"
	telegram "funbot/internal/transport/telegram/adapter"
	"funbot/internal/transport/telegram/router"
	logx "funbot/pkg/logx"
)

// StopReason is logged when the app shuts down.
type StopReason string

const (
	StopSignal StopReason = "signal"
	StopFatal  StopReason = "fatal"
)

type Option func(*options)

type options struct {
	offline bool
}

// WithOffline builds the Telegram adapter without contacting the API.
func WithOffline() Option { return func(o *options) { o.offline = true } }

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	// docs is nil when storage.driver is "none".
	docs storage.DocStore

	adapter *telegram.Adapter
	content *Content
	toggles *toggle.Store
	ledger  *throttle.Ledger
	handler *handler.Handler
	engine  *engine.Service
	// sched is nil when scheduler.enabled is false.
	sched   *scheduler.Service
	cmds    *commandSet
	router  *router.CommandManager
	metrics *metrics.Metrics
	server  *server.Service

	updates chan kit.Update
}

// New loads the config at cfgPath and wires every component. Nothing runs
// until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// the Telegram log sink gets its sender once the adapter exists
	logSvc, log := logx.New(mapLogConfig(cfg), nil)
	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     eventbus.New(),
		updates: make(chan kit.Update, 256),
	}
	if err := a.wire(cfg, log, o); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(cfg *config.Config, log logx.Logger, o options) error {
	tc, err := mapTelegramConfig(cfg)
	if err != nil {
		return err
	}
	tc.Offline = o.offline
	ad, err := telegram.New(tc, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return err
	}
	a.adapter = ad
	a.logs.SetSender(ad)

	docs, err := OpenStorage(cfg, log.With(logx.String("comp", "storage")))
	switch {
	case errors.Is(err, storage.ErrDisabled):
		a.log.Warn("storage disabled, toggles and schedules will not survive a restart")
	case err != nil:
		return err
	default:
		a.docs = docs
	}

	a.toggles = toggle.New(a.docs, log.With(logx.String("comp", "toggle")))
	loadCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = a.toggles.Load(loadCtx)
	cancel()
	if err != nil {
		return err
	}

	lc, err := mapLedgerConfig(cfg)
	if err != nil {
		return err
	}
	a.ledger = throttle.New(lc, log.With(logx.String("comp", "throttle")))

	if a.content, err = OpenContent(cfg, a.bus, log); err != nil {
		return err
	}

	out := delivery.New(ad, log.With(logx.String("comp", "delivery")))
	a.handler = handler.New(handler.Config{ScheduledParams: mapScheduledParams(cfg)},
		a.content.Resolver, a.toggles, a.ledger, out, log.With(logx.String("comp", "handler")), a.bus)

	ec, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return err
	}
	a.engine = engine.New(ec, log.With(logx.String("comp", "taskengine")), a.bus)

	if cfg.Scheduler.IsEnabled() {
		schc, err := mapSchedulerConfig(cfg)
		if err != nil {
			return err
		}
		a.sched = scheduler.New(schc, a.docs, a.engine, a.fire, log.With(logx.String("comp", "scheduler")), a.bus)
	}

	rc, err := mapRouterConfig(cfg)
	if err != nil {
		return err
	}
	a.router = router.NewCommandManager(rc, log.With(logx.String("comp", "commands")), ad, cfg.Telegram.OwnerUserIDs)
	a.cmds = newCommandSet(contentCommands(cfg), a.handler, a.ledger, a.sched, a.statusText)
	a.router.SetRegistry(a.cmds.Registry())

	a.metrics = metrics.New(log.With(logx.String("comp", "metrics")))
	srvc, err := mapServerConfig(cfg)
	if err != nil {
		return err
	}
	a.server = server.New(srvc, a.metrics.Handler(), a.health, log.With(logx.String("comp", "httpdebug")))
	return nil
}

// OpenStorage opens the toggle and schedule document store. It returns
// storage.ErrDisabled for driver "none".
func OpenStorage(cfg *config.Config, log logx.Logger) (storage.DocStore, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	docs, err := storage.Open(sc, log)
	if err != nil {
		return nil, err
	}
	log.Info("storage enabled", logx.String("driver", sc.Driver))
	return docs, nil
}

// fire runs one scheduled delivery inside the task engine.
func (a *App) fire(ctx context.Context, j scheduler.Job) error {
	out, err := a.handler.RunScheduled(ctx, j.Group, j.Command)
	if err != nil {
		return err
	}
	if out != handler.OutcomeDelivered {
		return fmt.Errorf("scheduled %s: %s", j.ID(), out)
	}
	return nil
}

func (a *App) health() error {
	if a.sup == nil {
		return errors.New("not started")
	}
	if err := a.sup.Err(); err != nil {
		return err
	}
	return a.sup.Context().Err()
}

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

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	// reject reloads the live components could not apply
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapLedgerConfig(cfg); err != nil {
			return err
		}
		_, err := mapServerConfig(cfg)
		return err
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.engine.Start(a.sup.Context())
	if a.sched != nil {
		if err := a.sched.Start(a.sup.Context()); err != nil {
			return err
		}
	}
	a.server.Start(a.sup.Context())

	menuCtx, cancel := context.WithTimeout(a.sup.Context(), 10*time.Second)
	if err := a.router.UpdateMenu(menuCtx); err != nil {
		a.log.Warn("command menu update failed", logx.Err(err))
	}
	cancel()

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.sup.Go("metrics.observe", func(c context.Context) error {
		return a.metrics.Run(c, a.bus)
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
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Int("commands", len(a.cmds.content)),
		logx.Bool("scheduler", a.sched != nil),
		logx.Bool("local_store", a.content.Local != nil),
	)
	return nil
}

// applyConfig applies the live sections of a reloaded config and warns
// about the rest.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if def, per, err := newCfg.CooldownDurations(); err != nil {
		a.log.Warn("invalid cooldowns; keeping previous", logx.Err(err))
	} else {
		a.ledger.SetDurations(def, per)
	}

	a.router.SetOwners(newCfg.Telegram.OwnerUserIDs)

	if sc, err := mapServerConfig(newCfg); err != nil {
		a.log.Warn("invalid pprof/metrics config; keeping previous", logx.Err(err))
	} else {
		a.server.Reconfigure(ctx, sc)
	}

	if rest := config.RestartRequired(sections); len(rest) > 0 {
		a.log.Warn("config changes need a restart", logx.Strings("sections", rest))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

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
			// fn must honor stepCtx; anything still running here is a leak
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error {
		if a.sched != nil {
			a.sched.Stop(c)
		}
		return nil
	})
	step("taskengine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("httpdebug", time.Second, func(c context.Context) error { a.server.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("flush", 2*time.Second, func(c context.Context) error {
		g, gctx := errgroup.WithContext(c)
		g.Go(func() error { return a.toggles.Flush(gctx) })
		if a.sched != nil {
			g.Go(func() error { return a.sched.Flush(gctx) })
		}
		return g.Wait()
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	a.closeResources()
	return nil
}

// closeResources releases files and pools. Safe on a partially wired app.
func (a *App) closeResources() {
	if a.content != nil {
		if err := a.content.Close(); err != nil {
			a.log.Warn("content store close failed", logx.Err(err))
		}
	}
	if a.docs != nil {
		if err := a.docs.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}
