package app

import (
	"context"
	"slices"
	"strings"

	"naptime/internal/config"
	"naptime/internal/eventbus"
	logx "naptime/pkg/logx"
)

// restartOnly lists sections whose changes need a process restart.
var restartOnly = []string{"host", "storage", "systemd"}

func (a *App) startReload() {
	// Runs before the watcher starts, so last is the config the services
	// were built from.
	last := a.cfgm.Get()
	sub, unsub := a.cfgm.Subscribe()
	a.sup.Go0("config.reload", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
}

// applyConfig pushes a validated config into the running services. The
// enabled flag is runtime state and survives every reload.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.notify.Reloading()
	defer a.notify.Ready()

	for _, s := range restartOnly {
		if slices.Contains(sections, s) {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLoggingConfig(next))

	nlog := a.log.With(logx.String("comp", "naptime"))
	before := a.ctl.Settings()
	settings := naptimeSettings(next, nlog)
	a.ctl.Apply(settings)
	if !settings.SameBinding(before) {
		_ = a.driver.Bind(a.ctl, settings)
	}

	a.admin.Apply(next.Admin)

	if err := a.sched.Apply(ctx, mapScheduleConfig(next)); err != nil {
		a.log.Warn("toggle windows not applied", logx.Err(err))
	}

	if stcfg, err := mapStatusConfig(next); err != nil {
		a.log.Warn("invalid status config; keeping previous", logx.Err(err))
	} else if err := a.status.Reconfigure(ctx, stcfg); err != nil {
		a.log.Warn("status server not restarted", logx.Err(err))
	}

	a.applyTelegram(ctx, prev, next)
	a.applyNotifier(ctx, next)

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReload, Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// applyTelegram starts, stops or updates the bot. A token change rebuilds it.
func (a *App) applyTelegram(ctx context.Context, prev, next *config.Config) {
	tcfg, enabled, err := mapTelegramConfig(next)
	if err != nil {
		a.log.Warn("invalid telegram config; keeping previous", logx.Err(err))
		return
	}
	oldCfg, _, _ := mapTelegramConfig(prev)

	a.tgMu.Lock()
	defer a.tgMu.Unlock()

	if a.tg != nil && (!enabled || tcfg.Token != oldCfg.Token) {
		if err := a.tg.Stop(ctx); err != nil {
			a.log.Warn("telegram stop failed", logx.Err(err))
		}
		a.tg = nil
		a.log.Info("telegram stopped via config")
	}
	if !enabled {
		return
	}
	if a.tg != nil {
		a.tg.Apply(tcfg.OwnerUserIDs, tcfg.RatePerMin)
		return
	}
	bot, err := a.newTelegram(tcfg)
	if err != nil {
		a.log.Warn("telegram not started", logx.Err(err))
		return
	}
	if err := bot.Start(ctx); err != nil {
		a.log.Warn("telegram not started", logx.Err(err))
		return
	}
	a.tg = bot
	a.log.Info("telegram started via config")
}

func (a *App) applyNotifier(ctx context.Context, next *config.Config) {
	ncfg, err := mapNotifierConfig(next)
	if err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		return
	}
	a.notif.SetSender(senderFor(a.telegram()))
	was := a.notif.Enabled()
	if was && !ncfg.Enabled {
		a.notif.Stop(ctx)
	}
	a.notif.Apply(ncfg)
	if !was && ncfg.Enabled {
		a.notif.Start(ctx)
	}
}
