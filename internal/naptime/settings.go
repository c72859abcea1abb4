package naptime

import (
	"time"

	"naptime/internal/config"
	"naptime/internal/pause"
)

// Settings is an immutable snapshot of the hibernation config. A reload
// builds a new value; the controller never mutates one.
type Settings struct {
	SleepTime  time.Duration
	StartDelay int // ticks
	Period     int // ticks

	SuspendWorkers bool
	Selector       pause.Selector

	UnloadOnSleep   bool
	PersistOnUnload bool
	GCHint          bool

	OnSleep []string
	OnWake  []string
}

func SettingsFrom(c config.NaptimeConfig) Settings {
	return Settings{
		SleepTime:       time.Duration(c.SleepTime) * time.Millisecond,
		StartDelay:      c.StartSleepDelay,
		Period:          max(c.TicksAwakeBetweenSleep, 1),
		SuspendWorkers:  c.AlsoSleepSomeInternalProcesses,
		Selector:        pause.SelectorFor(c.SleepAllInternalProcesses, c.InternalProcessesToSleep),
		UnloadOnSleep:   c.UnloadChunks,
		PersistOnUnload: c.SaveOnUnload,
		GCHint:          c.CallGarbageCollect,
		OnSleep:         append([]string(nil), c.CommandsToExecuteOnSleep...),
		OnWake:          append([]string(nil), c.CommandsToExecuteOnWake...),
	}
}

func DefaultSettings() Settings { return SettingsFrom(config.DefaultNaptime()) }

// SameBinding reports whether s and o schedule the tick identically.
func (s Settings) SameBinding(o Settings) bool {
	return s.StartDelay == o.StartDelay && s.Period == o.Period
}
