package naptime

import "context"

// ActivitySource reports the number of connected clients.
type ActivitySource interface {
	Online() int
}

// World is a container of independently loadable regions.
type World interface {
	Name() string
	LoadedRegions() []string
	UnloadRegion(key string, save bool) error
	Save() error
}

// WorldSource lists the host's loaded worlds.
type WorldSource interface {
	Worlds() []World
}

// Dispatcher runs an administrative command line as the console actor.
type Dispatcher interface {
	DispatchConsole(ctx context.Context, line string) (string, error)
}

// TickScheduler runs fn on the host tick clock, first after delay ticks and
// then every period ticks. The returned cancel stops further runs and waits
// for an in-flight one.
type TickScheduler interface {
	ScheduleRepeating(name string, delay, period int, fn func(ctx context.Context, tick uint64)) (cancel func(), err error)
}

// TickCounter is implemented by schedulers that expose the current tick.
type TickCounter interface {
	Tick() uint64
}
