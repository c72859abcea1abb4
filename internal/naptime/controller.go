package naptime

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"naptime/internal/eventbus"
	"naptime/internal/pause"
	"naptime/internal/storage"
	logx "naptime/pkg/logx"
)

// Deps are the collaborators a Controller drives. Activity and Engine are
// required; the rest may be nil.
type Deps struct {
	Activity ActivitySource
	Engine   *pause.Engine
	// Caller is the worker Tick runs on. It is never suspended by a micro-sleep.
	Caller   *pause.Worker
	Unloader *Unloader
	Commands *CommandRunner
	Bus      eventbus.Bus
	Store    storage.Store
	Log      logx.Logger

	// OnPhase is called on the tick goroutine after every phase change.
	OnPhase func(from, to Phase)
}

// Stats is a point-in-time view for status output.
type Stats struct {
	Enabled        bool      `json:"enabled"`
	Phase          string    `json:"phase"`
	Ticks          uint64    `json:"ticks"`
	Episodes       uint64    `json:"episodes"`
	MicroSleeps    uint64    `json:"micro_sleeps"`
	Slept          string    `json:"slept"`
	SuspendErrors  uint64    `json:"suspend_errors"`
	HookErrors     uint64    `json:"hook_errors"`
	UnloadErrors   uint64    `json:"unload_errors"`
	Panics         uint64    `json:"panics"`
	CurrentEpisode string    `json:"current_episode,omitempty"`
	LastSleepAt    time.Time `json:"last_sleep_at,omitempty"`
	LastWakeAt     time.Time `json:"last_wake_at,omitempty"`
}

// Controller is the sleep/wake state machine.
//
// enabled is the only state written from outside the tick goroutine. phase
// is written only by Tick and mirrored atomically for readers.
type Controller struct {
	enabled  atomic.Bool
	phase    atomic.Uint32
	settings atomic.Pointer[Settings]

	d        Deps
	log      logx.Logger
	warnOnce logx.Logger

	mu    sync.Mutex
	stats Stats
	slept time.Duration
	ep    *storage.Episode
}

func NewController(s Settings, d Deps) *Controller {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Engine == nil {
		d.Engine = pause.NewEngine(nil, d.Log)
	}
	c := &Controller{
		d:        d,
		log:      d.Log,
		warnOnce: d.Log.Throttle(30 * time.Second),
	}
	c.settings.Store(&s)
	c.enabled.Store(true)
	c.phase.Store(uint32(Awake))
	return c
}

func (c *Controller) Settings() Settings { return *c.settings.Load() }

// Apply swaps in new settings; they take effect on the next tick.
func (c *Controller) Apply(s Settings) { c.settings.Store(&s) }

func (c *Controller) Enabled() bool { return c.enabled.Load() }

func (c *Controller) Phase() Phase { return Phase(c.phase.Load()) }

// ToggleEnabled flips the enabled flag and returns the new value.
// It only changes what the next tick decides; it never runs hooks itself.
func (c *Controller) ToggleEnabled() bool {
	for {
		old := c.enabled.Load()
		if c.enabled.CompareAndSwap(old, !old) {
			c.publish(eventbus.TypeToggle, map[string]any{"enabled": !old})
			return !old
		}
	}
}

// SetEnabled sets the flag and reports whether it changed.
func (c *Controller) SetEnabled(v bool) bool {
	changed := c.enabled.Swap(v) != v
	if changed {
		c.publish(eventbus.TypeToggle, map[string]any{"enabled": v})
	}
	return changed
}

func (c *Controller) Stats() Stats {
	c.mu.Lock()
	st := c.stats
	st.Slept = c.slept.String()
	if c.ep != nil {
		st.CurrentEpisode = c.ep.ID
	}
	c.mu.Unlock()
	st.Enabled = c.Enabled()
	st.Phase = c.Phase().String()
	return st
}

// Tick evaluates the sleep predicate once and performs the resulting action.
// It never panics; failures are logged and the next tick runs normally.
func (c *Controller) Tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.mu.Lock()
			c.stats.Panics++
			c.mu.Unlock()
			c.warnOnce.Error("naptime tick panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()

	s := c.settings.Load()
	c.mu.Lock()
	c.stats.Ticks++
	if c.ep != nil {
		c.ep.Ticks++
	}
	c.mu.Unlock()

	shouldSleep := c.enabled.Load() && c.d.Activity.Online() == 0

	from := c.Phase()
	to, act := Transition(from, shouldSleep)
	// The phase moves before side effects run so a failing hook can never
	// make the next tick repeat it.
	if to != from {
		c.phase.Store(uint32(to))
		if c.d.OnPhase != nil {
			c.d.OnPhase(from, to)
		}
	}

	switch act {
	case ActEnterSleep:
		c.enterSleep(ctx, s)
	case ActMicroSleep:
		c.microSleep(ctx, s)
	case ActWake:
		c.wake(ctx, s)
	}
}

func (c *Controller) enterSleep(ctx context.Context, s *Settings) {
	now := time.Now()
	ep := &storage.Episode{ID: uuid.NewString(), StartedAt: now, Ticks: 1}
	c.mu.Lock()
	c.ep = ep
	c.stats.Episodes++
	c.stats.LastSleepAt = now
	c.mu.Unlock()

	c.log.Info("no clients connected; sleep cycle started", logx.String("episode", ep.ID))
	c.publish(eventbus.TypeSleep, map[string]any{"episode": ep.ID})

	if err := c.d.Commands.Run(ctx, s.OnSleep); err != nil {
		c.count(func(st *Stats) { st.HookErrors++ })
	}

	if s.UnloadOnSleep {
		res := c.d.Unloader.Unload(ctx, s.PersistOnUnload)
		c.mu.Lock()
		ep.Unloaded = res.Unloaded
		c.mu.Unlock()
		if res.Err != nil {
			c.count(func(st *Stats) { st.UnloadErrors++ })
		}
	}
	if s.GCHint {
		c.d.Unloader.CollectGarbage()
	}

	c.microSleep(ctx, s)
}

func (c *Controller) microSleep(ctx context.Context, s *Settings) {
	var sel pause.Selector
	if s.SuspendWorkers {
		sel = s.Selector
	}
	rep := c.d.Engine.PauseOthersFor(ctx, c.d.Caller, s.SleepTime, sel)

	c.mu.Lock()
	c.stats.MicroSleeps++
	c.slept += rep.Slept
	if c.ep != nil {
		c.ep.MicroSleeps++
		c.ep.Slept += rep.Slept.Milliseconds()
		if rep.Err != nil {
			c.ep.Errors++
		}
	}
	if rep.Err != nil {
		c.stats.SuspendErrors++
	}
	c.mu.Unlock()
}

func (c *Controller) wake(ctx context.Context, s *Settings) {
	if err := c.d.Commands.Run(ctx, s.OnWake); err != nil {
		c.count(func(st *Stats) { st.HookErrors++ })
	}

	now := time.Now()
	c.mu.Lock()
	ep := c.ep
	c.ep = nil
	c.stats.LastWakeAt = now
	c.mu.Unlock()
	if ep == nil {
		return
	}
	ep.EndedAt = now
	c.log.Info("client connected; woke up",
		logx.String("episode", ep.ID),
		logx.Duration("asleep", ep.Duration()),
		logx.Uint64("micro_sleeps", ep.MicroSleeps),
	)
	c.publish(eventbus.TypeWake, map[string]any{"episode": ep.ID})
	c.record(ctx, *ep)
}

// Flush records an episode that is still open, e.g. at shutdown. Call it
// only after the driver has been cancelled.
func (c *Controller) Flush(ctx context.Context) {
	c.mu.Lock()
	ep := c.ep
	c.ep = nil
	c.mu.Unlock()
	if ep == nil {
		return
	}
	ep.EndedAt = time.Now()
	c.record(ctx, *ep)
}

func (c *Controller) record(ctx context.Context, ep storage.Episode) {
	c.publish(eventbus.TypeEpisodeEnded, ep)
	if c.d.Store == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := c.d.Store.AppendEpisode(sctx, ep); err != nil {
		c.warnOnce.Warn("episode not recorded", logx.String("episode", ep.ID), logx.Err(err))
	}
}

// count bumps a stats counter and charges the error to the open episode.
func (c *Controller) count(fn func(*Stats)) {
	c.mu.Lock()
	fn(&c.stats)
	if c.ep != nil {
		c.ep.Errors++
	}
	c.mu.Unlock()
}

func (c *Controller) publish(typ string, data any) {
	if c.d.Bus == nil {
		return
	}
	c.d.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}
