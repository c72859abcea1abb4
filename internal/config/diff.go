package config

import (
	"bytes"
	"reflect"
	"sort"
	"strings"

	logx "naptime/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if !bytes.Equal(canonicalJSON(oldCfg.Naptime), canonicalJSON(newCfg.Naptime)) {
		nc, _ := newCfg.NaptimeSection()
		changed = append(changed, "naptime")
		attrs = append(attrs,
			logx.Int("naptime.sleep_ms", nc.SleepTime),
			logx.Int("naptime.start_delay_ticks", nc.StartSleepDelay),
			logx.Int("naptime.period_ticks", nc.TicksAwakeBetweenSleep),
			logx.Bool("naptime.suspend_workers", nc.AlsoSleepSomeInternalProcesses),
			logx.Bool("naptime.suspend_all", nc.SleepAllInternalProcesses),
			logx.Int("naptime.on_sleep_cmds", len(nc.CommandsToExecuteOnSleep)),
			logx.Int("naptime.on_wake_cmds", len(nc.CommandsToExecuteOnWake)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Host, newCfg.Host) {
		changed = append(changed, "host")
		attrs = append(attrs,
			logx.Int("host.tps", newCfg.Host.TPS),
			logx.String("host.listen", strings.TrimSpace(newCfg.Host.Listen)),
			logx.Int("host.workers", newCfg.Host.Workers),
		)
	}

	if !reflect.DeepEqual(oldCfg.Admin, newCfg.Admin) {
		changed = append(changed, "admin")
		attrs = append(attrs,
			logx.Int("admin.operator_count", len(newCfg.Admin.Operators)),
			logx.Int("admin.permission_holders", len(newCfg.Admin.Permissions)),
		)
	}

	// Telegram (never log token)
	oT, nT := derefTelegram(oldCfg.Telegram), derefTelegram(newCfg.Telegram)
	if oT.Enabled != nT.Enabled ||
		strings.TrimSpace(oT.PollTimeout) != strings.TrimSpace(nT.PollTimeout) ||
		oT.RatePerMin != nT.RatePerMin ||
		oT.Notify != nT.Notify ||
		oT.NotifyDedup != nT.NotifyDedup ||
		!reflect.DeepEqual(oT.OwnerUserIDs, nT.OwnerUserIDs) ||
		strings.TrimSpace(oT.Token) != strings.TrimSpace(nT.Token) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", nT.Enabled),
			logx.Int("telegram.owner_count", len(nT.OwnerUserIDs)),
			logx.Bool("telegram.token_set", strings.TrimSpace(nT.Token) != ""),
		)
	}

	oS, nS := derefSchedule(oldCfg.Schedule), derefSchedule(newCfg.Schedule)
	if oS != nS {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.String("schedule.timezone", strings.TrimSpace(nS.Timezone)),
			logx.String("schedule.enable_cron", strings.TrimSpace(nS.EnableCron)),
			logx.String("schedule.disable_cron", strings.TrimSpace(nS.DisableCron)),
		)
	}

	// Status (never log token)
	oSt, nSt := derefStatus(oldCfg.Status), derefStatus(newCfg.Status)
	if oSt != nSt {
		changed = append(changed, "status")
		attrs = append(attrs,
			logx.Bool("status.enabled", nSt.Enabled),
			logx.String("status.addr", strings.TrimSpace(nSt.Addr)),
			logx.Bool("status.token_set", strings.TrimSpace(nSt.Token) != ""),
			logx.Bool("status.pprof", nSt.Pprof),
		)
	}

	var oDriver, nDriver string
	if oldCfg.Storage != nil {
		oDriver = strings.TrimSpace(oldCfg.Storage.Driver)
	}
	if newCfg.Storage != nil {
		nDriver = strings.TrimSpace(newCfg.Storage.Driver)
	}
	if oDriver != nDriver || !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", nDriver))
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs,
			logx.Bool("systemd.notify", newCfg.Systemd.Notify),
			logx.Bool("systemd.watchdog", newCfg.Systemd.Watchdog),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefTelegram(t *TelegramConfig) TelegramConfig {
	if t == nil {
		return TelegramConfig{}
	}
	return *t
}

func derefSchedule(s *ScheduleConfig) ScheduleConfig {
	if s == nil {
		return ScheduleConfig{}
	}
	return *s
}

func derefStatus(s *StatusConfig) StatusConfig {
	if s == nil {
		return StatusConfig{}
	}
	return *s
}
