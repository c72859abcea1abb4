package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// NaptimeConfig is the hibernation section. Key names match the plugin-era
// config so existing files keep working.
type NaptimeConfig struct {
	SleepTime                      int      `json:"sleepTime"`              // ms per micro-sleep
	StartSleepDelay                int      `json:"startSleepDelay"`        // ticks before first evaluation
	TicksAwakeBetweenSleep         int      `json:"ticksAwakeBetweenSleep"` // ticks between evaluations
	AlsoSleepSomeInternalProcesses bool     `json:"alsoSleepSomeInternalProcesses"`
	SleepAllInternalProcesses      bool     `json:"sleepAllInternalProcesses"`
	InternalProcessesToSleep       []string `json:"internalProcessesToSleep"`
	UnloadChunks                   bool     `json:"unloadChunks"`
	CallGarbageCollect             bool     `json:"callGarbageCollect"`
	SaveOnUnload                   bool     `json:"saveOnUnload"`
	CommandsToExecuteOnSleep       []string `json:"commandsToExecuteOnSleep"`
	CommandsToExecuteOnWake        []string `json:"commandsToExecuteOnWake"`
}

// DefaultInternalProcesses are the worker name prefixes paused by default.
var DefaultInternalProcesses = []string{"Server-Worker", "Async Region Task", "Autosave"}

func DefaultNaptime() NaptimeConfig {
	return NaptimeConfig{
		SleepTime:                      1000,
		StartSleepDelay:                600,
		TicksAwakeBetweenSleep:         1,
		AlsoSleepSomeInternalProcesses: true,
		SleepAllInternalProcesses:      false,
		InternalProcessesToSleep:       append([]string(nil), DefaultInternalProcesses...),
		UnloadChunks:                   true,
		CallGarbageCollect:             true,
		SaveOnUnload:                   true,
		CommandsToExecuteOnSleep:       []string{},
		CommandsToExecuteOnWake:        []string{},
	}
}

var ErrUnknownKey = errors.New("unknown key")

// ConfigError reports one naptime value that could not be used. The default
// was applied in its place.
type ConfigError struct {
	Key   string
	Value string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("naptime.%s: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("naptime.%s: %v (got %s)", e.Key, e.Err, e.Value)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NaptimeSection decodes the naptime section leniently. Each malformed or
// out-of-range value yields a *ConfigError and keeps its default; unknown keys
// are reported and ignored. The returned config is always usable.
func (c *Config) NaptimeSection() (NaptimeConfig, []error) {
	out := DefaultNaptime()
	if c == nil {
		return out, nil
	}
	return DecodeNaptime(c.Naptime)
}

func DecodeNaptime(raw json.RawMessage) (NaptimeConfig, []error) {
	out := DefaultNaptime()
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return out, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return out, []error{&ConfigError{Key: "*", Err: fmt.Errorf("section is not an object: %w", err)}}
	}

	var errs []error
	fail := func(key string, v json.RawMessage, err error) {
		errs = append(errs, &ConfigError{Key: key, Value: string(v), Err: err})
	}

	intField := func(key string, dst *int, min int) {
		v, ok := fields[key]
		if !ok || isNull(v) {
			return
		}
		var n int
		if err := json.Unmarshal(v, &n); err != nil {
			fail(key, v, errors.New("not an integer"))
			return
		}
		if n < min {
			fail(key, v, fmt.Errorf("must be >= %d", min))
			return
		}
		*dst = n
	}
	boolField := func(key string, dst *bool) {
		v, ok := fields[key]
		if !ok || isNull(v) {
			return
		}
		var b bool
		if err := json.Unmarshal(v, &b); err != nil {
			fail(key, v, errors.New("not a boolean"))
			return
		}
		*dst = b
	}
	listField := func(key string, dst *[]string) {
		v, ok := fields[key]
		if !ok || isNull(v) {
			return
		}
		var l []string
		if err := json.Unmarshal(v, &l); err != nil {
			fail(key, v, errors.New("not a list of strings"))
			return
		}
		clean := make([]string, 0, len(l))
		for _, s := range l {
			if s = strings.TrimSpace(s); s != "" {
				clean = append(clean, s)
			}
		}
		*dst = clean
	}

	intField("sleepTime", &out.SleepTime, 0)
	intField("startSleepDelay", &out.StartSleepDelay, 0)
	intField("ticksAwakeBetweenSleep", &out.TicksAwakeBetweenSleep, 1)
	boolField("alsoSleepSomeInternalProcesses", &out.AlsoSleepSomeInternalProcesses)
	boolField("sleepAllInternalProcesses", &out.SleepAllInternalProcesses)
	listField("internalProcessesToSleep", &out.InternalProcessesToSleep)
	boolField("unloadChunks", &out.UnloadChunks)
	boolField("callGarbageCollect", &out.CallGarbageCollect)
	boolField("saveOnUnload", &out.SaveOnUnload)
	listField("commandsToExecuteOnSleep", &out.CommandsToExecuteOnSleep)
	listField("commandsToExecuteOnWake", &out.CommandsToExecuteOnWake)

	var unknown []string
	for k := range fields {
		if _, ok := naptimeKeys[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		errs = append(errs, &ConfigError{Key: k, Err: ErrUnknownKey})
	}
	return out, errs
}

var naptimeKeys = map[string]struct{}{
	"sleepTime": {}, "startSleepDelay": {}, "ticksAwakeBetweenSleep": {},
	"alsoSleepSomeInternalProcesses": {}, "sleepAllInternalProcesses": {},
	"internalProcessesToSleep": {}, "unloadChunks": {}, "callGarbageCollect": {},
	"saveOnUnload": {}, "commandsToExecuteOnSleep": {}, "commandsToExecuteOnWake": {},
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
