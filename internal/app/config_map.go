package app

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"naptime/internal/config"
	"naptime/internal/host"
	"naptime/internal/naptime"
	"naptime/internal/notifier"
	"naptime/internal/observability/status"
	"naptime/internal/storage"
	"naptime/internal/task/scheduler"
	"naptime/internal/transport/telegram"
	logx "naptime/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	recent := cfg.Logging.Recent
	if recent == 0 {
		recent = 50
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Recent: max(recent, 0),
	}
}

// mapHostConfig fills the documented host defaults.
func mapHostConfig(cfg *config.Config) (host.Config, error) {
	h := cfg.Host
	out := host.Config{
		TPS:          h.TPS,
		WorldDir:     strings.TrimSpace(h.WorldDir),
		Worlds:       h.Worlds,
		SpawnRegions: h.SpawnRegions,
		Clients: host.ClientConfig{
			Addr:        strings.TrimSpace(h.Listen),
			AcceptRate:  float64(h.AcceptRatePerSec),
			AcceptBurst: h.AcceptBurst,
		},
		Workers: host.WorkerConfig{Workers: h.Workers},
	}
	if out.TPS <= 0 {
		out.TPS = config.DefaultTPS
	}
	if out.WorldDir == "" {
		out.WorldDir = "./worlds"
	}
	if len(out.Worlds) == 0 {
		out.Worlds = []string{"world"}
	}
	if out.SpawnRegions <= 0 {
		out.SpawnRegions = 4
	}
	if out.Clients.Addr == "" {
		out.Clients.Addr = config.DefaultListen
	}
	if out.Clients.AcceptRate <= 0 {
		out.Clients.AcceptRate = 5
	}
	if out.Clients.AcceptBurst <= 0 {
		out.Clients.AcceptBurst = 10
	}
	if out.Workers.Workers <= 0 {
		out.Workers.Workers = 2
	}
	autosave, err := config.DurationOr("host.autosave_interval", h.AutosaveInterval, 5*time.Minute)
	if err != nil {
		return out, err
	}
	out.Workers.AutosaveInterval = autosave
	return out, nil
}

// mapStorageConfig reports enabled=false when storage is off.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, errors.New("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.DurationOr("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapStatusConfig validates and converts the status section. It never
// starts the server.
func mapStatusConfig(cfg *config.Config) (status.Config, error) {
	var out status.Config
	if cfg == nil || cfg.Status == nil {
		return out, nil
	}
	sc := cfg.Status

	out.Enabled = sc.Enabled
	out.AllowInsecure = sc.AllowInsecure
	out.Pprof = sc.Pprof
	out.Token = strings.TrimSpace(sc.Token)
	out.Addr = strings.TrimSpace(sc.Addr)
	if out.Addr == "" {
		out.Addr = "127.0.0.1:6060"
	}
	out.Prefix = "/debug/pprof/"

	var err error
	if out.ReadTimeout, err = config.DurationOr("status.read_timeout", sc.ReadTimeout, 5*time.Second); err != nil {
		return out, err
	}
	if out.WriteTimeout, err = config.Duration("status.write_timeout", sc.WriteTimeout); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = config.DurationOr("status.idle_timeout", sc.IdleTimeout, 120*time.Second); err != nil {
		return out, err
	}

	if sc.MutexProfileFraction < 0 {
		return out, errors.New("status.mutex_profile_fraction must be >= 0")
	}
	if sc.BlockProfileRate < 0 {
		return out, errors.New("status.block_profile_rate must be >= 0")
	}
	out.MutexProfileFraction = sc.MutexProfileFraction
	out.BlockProfileRate = sc.BlockProfileRate

	if out.Enabled {
		if _, _, err := net.SplitHostPort(out.Addr); err != nil {
			return out, fmt.Errorf("status.addr: invalid %q (expected host:port): %w", out.Addr, err)
		}
		if !out.AllowInsecure && out.Token == "" && !isLoopback(out.Addr) {
			return out, errors.New("status: binding to non-loopback addr requires token or allow_insecure=true")
		}
	}
	return out, nil
}

func isLoopback(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

func mapScheduleConfig(cfg *config.Config) scheduler.Config {
	if cfg == nil || cfg.Schedule == nil {
		return scheduler.Config{}
	}
	return scheduler.Config{
		Timezone:    strings.TrimSpace(cfg.Schedule.Timezone),
		EnableCron:  strings.TrimSpace(cfg.Schedule.EnableCron),
		DisableCron: strings.TrimSpace(cfg.Schedule.DisableCron),
	}
}

// mapTelegramConfig reports enabled=false when the section is absent or off.
func mapTelegramConfig(cfg *config.Config) (telegram.Config, bool, error) {
	if cfg == nil || cfg.Telegram == nil || !cfg.Telegram.Enabled {
		return telegram.Config{}, false, nil
	}
	t := cfg.Telegram
	poll, err := config.DurationOr("telegram.poll_timeout", t.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, false, err
	}
	return telegram.Config{
		Token:        strings.TrimSpace(t.Token),
		OwnerUserIDs: append([]int64(nil), t.OwnerUserIDs...),
		PollTimeout:  poll,
		RatePerMin:   t.RatePerMin,
	}, true, nil
}

// mapNotifierConfig enables owner notifications only while telegram is on.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	if cfg == nil || cfg.Telegram == nil {
		return notifier.Config{}, nil
	}
	t := cfg.Telegram
	dedup, err := config.DurationOr("telegram.notify_dedup", t.NotifyDedup, time.Minute)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:     t.Enabled && t.Notify,
		RetryMax:    2,
		DedupWindow: dedup,
	}, nil
}

// naptimeSettings decodes the hibernation section. Bad values are logged
// and replaced by their defaults; the result is always usable.
func naptimeSettings(cfg *config.Config, log logx.Logger) naptime.Settings {
	nc, errs := cfg.NaptimeSection()
	for _, err := range errs {
		log.Warn("naptime config value ignored; using default", logx.Err(err))
	}
	return naptime.SettingsFrom(nc)
}

// validate is the hot-reload gate. The naptime section is never rejected.
func validate(cfg *config.Config) error {
	errs := []error{config.Validate(cfg)}
	if _, err := mapHostConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapStatusConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, _, err := mapTelegramConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if err := scheduler.Validate(mapScheduleConfig(cfg)); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
