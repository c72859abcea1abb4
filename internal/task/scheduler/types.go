package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"naptime/internal/eventbus"
	"naptime/internal/storage"
	logx "naptime/pkg/logx"
)

// Config controls the toggle windows.
type Config struct {
	Timezone    string // IANA TZ, e.g. "Europe/Berlin"
	EnableCron  string
	DisableCron string
}

// Enabled reports whether any window is configured.
func (c Config) Enabled() bool { return c.EnableCron != "" || c.DisableCron != "" }

// Setter is the part of the controller the windows drive.
type Setter interface {
	SetEnabled(v bool) (changed bool)
}

// Auditor records a window firing.
type Auditor interface {
	Audit(ctx context.Context, e storage.AuditEntry)
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	bus    eventbus.Bus
	target Setter
	audit  Auditor

	parser cron.Parser
	c      *cron.Cron

	last    time.Time
	lastSet bool
	fired   uint64
	changed uint64
}

type Snapshot struct {
	Enabled     bool      `json:"enabled"`
	Timezone    string    `json:"timezone"`
	EnableCron  string    `json:"enable_cron,omitempty"`
	DisableCron string    `json:"disable_cron,omitempty"`
	NextEnable  time.Time `json:"next_enable,omitempty"`
	NextDisable time.Time `json:"next_disable,omitempty"`
	LastFire    time.Time `json:"last_fire,omitempty"`
	LastSet     bool      `json:"last_set"`
	Fired       uint64    `json:"fired"`
	Changed     uint64    `json:"changed"`
}
