package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one toggle of the naptime feature.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At      time.Time `json:"at"`
	Actor   string    `json:"actor"`
	Source  string    `json:"source"` // console | client | telegram | schedule
	Action  string    `json:"action"`
	Enabled bool      `json:"enabled"`
	Error   string    `json:"error,omitempty"`
}

// Episode is one continuous span of hibernation.
type Episode struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	Ticks       uint64    `json:"ticks"`
	MicroSleeps uint64    `json:"micro_sleeps"`
	Slept       int64     `json:"slept_ms"`
	Unloaded    int       `json:"unloaded"`
	Errors      int       `json:"errors"`
}

func (e Episode) Duration() time.Duration { return e.EndedAt.Sub(e.StartedAt) }
