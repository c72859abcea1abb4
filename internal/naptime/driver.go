package naptime

import (
	"context"
	"sync"
	"sync/atomic"

	logx "naptime/pkg/logx"
)

// Handle identifies one binding made by Driver.Start.
type Handle struct {
	once   sync.Once
	cancel func()
	Delay  int
	Period int
}

// Driver binds a callback to the host tick clock.
//
// Callbacks run inline on the tick loop, so at most one is in flight and a
// long callback delays the host's next tick.
type Driver struct {
	sched TickScheduler
	log   logx.Logger

	mu      sync.Mutex
	current *Handle

	// The start delay belongs to the first binding only. due is the tick
	// it ends at, when the scheduler exposes a counter.
	armed  bool
	due    uint64
	hasDue bool
	fired  atomic.Bool
}

func NewDriver(sched TickScheduler, log logx.Logger) *Driver {
	return &Driver{sched: sched, log: log}
}

// Start schedules cb after delay ticks and then every period ticks. A
// failure is a *SchedulerBindingError; nothing is scheduled in that case.
func (d *Driver) Start(delay, period int, cb func(ctx context.Context)) (*Handle, error) {
	if delay < 0 {
		delay = 0
	}
	if period < 1 {
		return nil, d.bindErr(delay, period, ErrBadPeriod)
	}
	if d.sched == nil {
		return nil, d.bindErr(delay, period, ErrLoopStopped)
	}
	cancel, err := d.sched.ScheduleRepeating("naptime", delay, period, func(ctx context.Context, _ uint64) {
		cb(ctx)
	})
	if err != nil {
		return nil, d.bindErr(delay, period, err)
	}
	d.log.Debug("naptime tick bound", logx.Int("delay_ticks", delay), logx.Int("period_ticks", period))
	return &Handle{cancel: cancel, Delay: delay, Period: period}, nil
}

// Cancel stops h. Once it returns no further callback runs, and a callback
// that was in flight has finished. It is safe to call more than once and
// with a nil handle. It must not be called from inside the callback.
func (d *Driver) Cancel(h *Handle) {
	if h == nil {
		return
	}
	h.once.Do(func() {
		if h.cancel != nil {
			h.cancel()
		}
	})
}

// Bind replaces the current binding with one that ticks c using s. The old
// binding is cancelled and drained first. On failure the feature stays
// unbound until the next successful Bind.
//
// Only the first successful binding waits s.StartDelay. A rebind after the
// controller has ticked fires on the next tick; a rebind before that keeps
// the remaining delay.
func (d *Driver) Bind(c *Controller, s Settings) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Cancel(d.current)
	d.current = nil

	delay := d.delayFor(s.StartDelay)
	h, err := d.Start(delay, s.Period, func(ctx context.Context) {
		d.fired.Store(true)
		c.Tick(ctx)
	})
	if err != nil {
		return err
	}
	if !d.armed {
		d.armed = true
		if tc, ok := d.sched.(TickCounter); ok {
			d.due, d.hasDue = tc.Tick()+uint64(delay), true
		}
	}
	d.current = h
	d.log.Info("naptime scheduled",
		logx.Int("period_ticks", s.Period),
		logx.Int("start_delay_ticks", delay),
		logx.Duration("sleep", s.SleepTime),
	)
	return nil
}

func (d *Driver) delayFor(startDelay int) int {
	switch {
	case !d.armed:
		return startDelay
	case d.fired.Load() || !d.hasDue:
		return 0
	}
	now := d.sched.(TickCounter).Tick()
	if now >= d.due {
		return 0
	}
	return int(d.due - now)
}

// Unbind cancels the current binding, if any.
func (d *Driver) Unbind() {
	d.mu.Lock()
	h := d.current
	d.current = nil
	d.mu.Unlock()
	d.Cancel(h)
}

// Bound reports whether a binding is active.
func (d *Driver) Bound() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current != nil
}

func (d *Driver) bindErr(delay, period int, err error) error {
	be := &SchedulerBindingError{Delay: delay, Period: period, Err: err}
	d.log.Error("naptime disabled: tick binding failed", logx.Err(be))
	return be
}
