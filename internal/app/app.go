package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"naptime/internal/admin"
	"naptime/internal/config"
	"naptime/internal/eventbus"
	"naptime/internal/host"
	"naptime/internal/naptime"
	"naptime/internal/notifier"
	"naptime/internal/observability/status"
	"naptime/internal/pause"
	"naptime/internal/runtime/supervisor"
	"naptime/internal/storage"
	"naptime/internal/task/scheduler"
	"naptime/internal/transport/telegram"
	logx "naptime/pkg/logx"
	"naptime/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor
	reg  *pause.Registry

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	host   *host.Host
	ctl    *naptime.Controller
	driver *naptime.Driver
	admin  *admin.Service
	sched  *scheduler.Service
	status *status.Service
	notify *systemd.Notifier
	notif  *notifier.Service

	watchdog bool

	tgMu sync.Mutex
	tg   *telegram.Bot
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	a := &App{
		cfgm:     cfgm,
		reg:      pause.NewRegistry(),
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		bus:      eventbus.New(),
		watchdog: cfg.Systemd.Watchdog,
	}

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	hcfg, err := mapHostConfig(cfg)
	if err != nil {
		return nil, a.abort(err)
	}
	// The authorizer is installed below, once the admin service exists;
	// until then only the console may run commands.
	a.host, err = host.New(hcfg, a.reg, nil, a.bus, log.With(logx.String("comp", "host")))
	if err != nil {
		return nil, a.abort(err)
	}

	a.notify = systemd.New(cfg.Systemd.Notify, log.With(logx.String("comp", "systemd")))

	nlog := log.With(logx.String("comp", "naptime"))
	a.ctl = naptime.NewController(naptimeSettings(cfg, nlog), naptime.Deps{
		Activity: a.host,
		Engine:   pause.NewEngine(a.reg, log.With(logx.String("comp", "pause"))),
		Caller:   a.host.Loop.Worker(),
		Unloader: naptime.NewUnloader(worldSource{a.host.Worlds}, nlog),
		Commands: naptime.NewCommandRunner(a.host, nlog),
		Bus:      a.bus,
		Store:    a.store,
		Log:      nlog,
		OnPhase: func(_, to naptime.Phase) {
			a.notify.Status("%s, %d online", to, a.host.Online())
		},
	})
	a.driver = naptime.NewDriver(a.host, nlog)

	a.admin = admin.New(cfg.Admin, a.ctl, a.store, log.With(logx.String("comp", "admin")))
	a.host.Console.SetAuthorizer(a.admin)
	if err := a.admin.Register(a.host.Console); err != nil {
		return nil, a.abort(err)
	}
	a.host.AddStatus(a.consoleStatusLine)

	a.sched = scheduler.New(mapScheduleConfig(cfg), a.ctl, a.admin, log.With(logx.String("comp", "schedule")), a.bus)

	stcfg, err := mapStatusConfig(cfg)
	if err != nil {
		return nil, a.abort(err)
	}
	a.status = status.New(stcfg, a.statusDoc, log.With(logx.String("comp", "status")))

	if tcfg, enabled, err := mapTelegramConfig(cfg); err != nil {
		return nil, a.abort(err)
	} else if enabled {
		if a.tg, err = a.newTelegram(tcfg); err != nil {
			return nil, a.abort(err)
		}
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, a.abort(err)
	}
	a.notif = notifier.New(ncfg, senderFor(a.tg), a.bus, log.With(logx.String("comp", "notifier")))
	return a, nil
}

// senderFor avoids wrapping a nil bot in a non-nil interface.
func senderFor(tg *telegram.Bot) notifier.Sender {
	if tg == nil {
		return nil
	}
	return tg
}

func (a *App) abort(err error) error {
	if a.store != nil {
		_ = a.store.Close()
	}
	return err
}

func (a *App) newTelegram(cfg telegram.Config) (*telegram.Bot, error) {
	return telegram.New(cfg, a.admin, a.statusText, a.log.With(logx.String("comp", "telegram")))
}

// Host exposes the running host, mainly for tests.
func (a *App) Host() *host.Host { return a.host }

func (a *App) Controller() *naptime.Controller { return a.ctl }

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
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "sup"))),
		supervisor.WithRegistry(a.reg),
		supervisor.WithCancelOnError(true),
	)
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	if err := a.host.Start(a.sup); err != nil {
		return err
	}

	// A failed binding leaves the feature off; the host keeps running.
	_ = a.driver.Bind(a.ctl, a.ctl.Settings())

	if a.sched.Enabled() {
		if err := a.sched.Start(a.sup.Context()); err != nil {
			a.log.Warn("toggle windows not started", logx.Err(err))
		}
	}
	a.status.SetHealth(func() error {
		if !a.host.Loop.Running() {
			return errors.New("tick loop not running")
		}
		return nil
	})
	if err := a.status.Start(a.sup.Context()); err != nil {
		a.log.Warn("status server not started", logx.Err(err))
	}
	if tg := a.telegram(); tg != nil {
		if err := tg.Start(a.sup.Context()); err != nil {
			a.log.Warn("telegram not started", logx.Err(err))
		}
	}
	a.notif.Start(a.sup.Context())

	a.startEventLog()
	a.startReload()
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.notify.Ready()
	a.notify.Status("%s, %d online", a.ctl.Phase(), a.host.Online())
	if a.watchdog {
		health := a.tickHealth()
		a.sup.Go("systemd.watchdog", func(c context.Context) error {
			return a.notify.Watchdog(c, health)
		})
	}

	a.log.Info("app started", logx.Bool("naptime_bound", a.driver.Bound()))
	return nil
}

func (a *App) telegram() *telegram.Bot {
	a.tgMu.Lock()
	defer a.tgMu.Unlock()
	return a.tg
}

// tickHealth reports unhealthy when the tick counter stalls outside a
// sleep episode. It is not safe for concurrent use.
func (a *App) tickHealth() func() bool {
	var last uint64
	return func() bool {
		t := a.host.Loop.Tick()
		ok := t != last || a.ctl.Phase().Asleep()
		last = t
		return ok
	}
}

func (a *App) startEventLog() {
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
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notify.Stopping()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

		stepCtx := ctx
		if limit > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < limit {
					limit = max(rem, 0)
				}
			}
			if limit > 0 {
				var cancel context.CancelFunc
				stepCtx, cancel = context.WithTimeout(ctx, limit)
				defer cancel()
			}
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
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				a.log.Info("stop step finished after deadline",
					logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	// Unbind waits for an in-flight tick, so a micro-sleep runs to its end.
	// The loops are cancelled only after that.
	step("naptime.unbind", 3*time.Second, func(context.Context) error { a.driver.Unbind(); return nil })
	a.sup.Cancel()
	step("naptime.flush", time.Second, func(c context.Context) error { a.ctl.Flush(c); return nil })
	step("notifier", time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("telegram", 3*time.Second, func(c context.Context) error {
		if tg := a.telegram(); tg != nil {
			return tg.Stop(c)
		}
		return nil
	})
	step("schedule", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("status", time.Second, func(c context.Context) error { a.status.Stop(c); return nil })

	// Wait for the tick loop and workers before the final save.
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("host.save", 5*time.Second, func(context.Context) error { return a.host.Save() })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped", logx.Uint64("ticks", a.host.Loop.Tick()))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
