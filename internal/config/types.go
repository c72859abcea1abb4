package config

import "encoding/json"

type Config struct {
	// Naptime is decoded leniently by NaptimeSection(): bad values warn and fall
	// back to defaults instead of failing the whole file.
	Naptime json.RawMessage `json:"naptime,omitempty"`

	Logging  LoggingConfig   `json:"logging"`
	Host     HostConfig      `json:"host"`
	Admin    AdminConfig     `json:"admin"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
	Schedule *ScheduleConfig `json:"schedule,omitempty"`
	Status   *StatusConfig   `json:"status,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Systemd  SystemdConfig   `json:"systemd"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	// Recent is how many warning lines /status keeps (default 50, -1 off).
	Recent int `json:"recent,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// HostConfig controls the simulated tick host.
//
// Defaults (when fields are omitted/zero):
//   - tps: 20
//   - listen: "127.0.0.1:7878"
//   - world_dir: "./worlds"
//   - worlds: ["world"]
//   - spawn_regions: 4
//   - workers: 2
//   - autosave_interval: "5m"
//   - accept_rate_per_sec: 5, accept_burst: 10
type HostConfig struct {
	TPS              int      `json:"tps,omitempty"`
	Listen           string   `json:"listen,omitempty"`
	WorldDir         string   `json:"world_dir,omitempty"`
	Worlds           []string `json:"worlds,omitempty"`
	SpawnRegions     int      `json:"spawn_regions,omitempty"`
	Workers          int      `json:"workers,omitempty"`
	AutosaveInterval string   `json:"autosave_interval,omitempty"`
	AcceptRatePerSec int      `json:"accept_rate_per_sec,omitempty"`
	AcceptBurst      int      `json:"accept_burst,omitempty"`
}

// AdminConfig authorizes the toggle command.
//
// Operators may run every command. Permissions grants individual nodes
// (e.g. "naptime.toggle") to named actors.
type AdminConfig struct {
	Operators   []string            `json:"operators,omitempty"`
	Permissions map[string][]string `json:"permissions,omitempty"`
}

type TelegramConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// RatePerMin bounds commands accepted per owner.
	RatePerMin int `json:"rate_per_min,omitempty"`
	// Notify pushes sleep, wake and toggle events to the owners.
	Notify bool `json:"notify,omitempty"`
	// NotifyDedup suppresses identical notifications within this window
	// (Go duration string, default "1m").
	NotifyDedup string `json:"notify_dedup,omitempty"`
}

// ScheduleConfig forces naptime on or off at wall-clock times.
//
// Example:
//
//	"schedule": { "timezone": "Europe/Berlin", "enable_cron": "0 1 * * *", "disable_cron": "0 17 * * *" }
type ScheduleConfig struct {
	Timezone    string `json:"timezone,omitempty"`
	EnableCron  string `json:"enable_cron,omitempty"`
	DisableCron string `json:"disable_cron,omitempty"`
}

// StatusConfig controls the optional status/debug HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type StatusConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./naptime_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type SystemdConfig struct {
	Notify   bool `json:"notify"`
	Watchdog bool `json:"watchdog,omitempty"`
}

// Default returns the config written on first start.
func Default() *Config {
	raw, _ := json.Marshal(DefaultNaptime())
	return &Config{
		Naptime: raw,
		Logging: LoggingConfig{Level: "info", Console: true},
		Host: HostConfig{
			TPS:              DefaultTPS,
			Listen:           DefaultListen,
			WorldDir:         "./worlds",
			Worlds:           []string{"world"},
			SpawnRegions:     4,
			Workers:          2,
			AutosaveInterval: "5m",
			AcceptRatePerSec: 5,
			AcceptBurst:      10,
		},
		Admin:   AdminConfig{Operators: []string{}},
		Storage: &StorageConfig{Driver: "file", Path: "./naptime_store"},
		Systemd: SystemdConfig{Notify: true, Watchdog: true},
	}
}

const (
	DefaultTPS    = 20
	DefaultListen = "127.0.0.1:7878"
)
