package naptime

import (
	"errors"
	"fmt"
)

var (
	ErrLoopStopped   = errors.New("tick loop stopped")
	ErrBadPeriod     = errors.New("period must be at least one tick")
	ErrNoDispatcher  = errors.New("no command dispatcher")
	ErrNoWorldSource = errors.New("no world source")
)

// SchedulerBindingError means the tick callback could not be registered.
// The feature stays disabled until the next successful bind.
type SchedulerBindingError struct {
	Delay  int
	Period int
	Err    error
}

func (e *SchedulerBindingError) Error() string {
	return fmt.Sprintf("bind naptime tick (delay=%d period=%d): %v", e.Delay, e.Period, e.Err)
}

func (e *SchedulerBindingError) Unwrap() error { return e.Err }

// CommandExecutionError reports one failed hook command.
type CommandExecutionError struct {
	Command string
	Err     error
}

func (e *CommandExecutionError) Error() string {
	return fmt.Sprintf("command %q: %v", e.Command, e.Err)
}

func (e *CommandExecutionError) Unwrap() error { return e.Err }

// UnloadError reports one region or world that failed to unload or save.
type UnloadError struct {
	World  string
	Region string // empty for a world save
	Err    error
}

func (e *UnloadError) Error() string {
	if e.Region == "" {
		return fmt.Sprintf("save world %s: %v", e.World, e.Err)
	}
	return fmt.Sprintf("unload region %s/%s: %v", e.World, e.Region, e.Err)
}

func (e *UnloadError) Unwrap() error { return e.Err }
