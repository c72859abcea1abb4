package naptime

import (
	"context"
	"errors"
	"testing"

	logx "naptime/pkg/logx"
)

// fakeClock is a manually advanced tick scheduler.
type fakeClock struct {
	tick      uint64
	firstFire uint64
	tasks     []*fakeTask
	err       error

	onFire, afterFire func()
}

type fakeTask struct {
	next      uint64
	period    uint64
	fn        func(context.Context, uint64)
	cancelled bool
}

func newFakeClock() *fakeClock { return &fakeClock{} }

func (c *fakeClock) ScheduleRepeating(_ string, delay, period int, fn func(context.Context, uint64)) (func(), error) {
	if c.err != nil {
		return nil, c.err
	}
	t := &fakeTask{next: c.tick + uint64(delay), period: uint64(period), fn: fn}
	c.tasks = append(c.tasks, t)
	return func() { t.cancelled = true }, nil
}

func (c *fakeClock) Tick() uint64 { return c.tick }

func (c *fakeClock) Advance() {
	c.tick++
	for _, t := range c.tasks {
		if t.cancelled || c.tick < t.next {
			continue
		}
		if c.firstFire == 0 {
			c.firstFire = c.tick
		}
		if c.onFire != nil {
			c.onFire()
		}
		t.fn(context.Background(), c.tick)
		if c.afterFire != nil {
			c.afterFire()
		}
		t.next = c.tick + t.period
	}
}

func (c *fakeClock) live() int {
	n := 0
	for _, t := range c.tasks {
		if !t.cancelled {
			n++
		}
	}
	return n
}

func TestDriverRejectsBadPeriod(t *testing.T) {
	d := NewDriver(newFakeClock(), logx.Nop())
	_, err := d.Start(0, 0, func(context.Context) {})
	var be *SchedulerBindingError
	if !errors.As(err, &be) || !errors.Is(err, ErrBadPeriod) {
		t.Fatalf("err = %v", err)
	}
}

func TestDriverWrapsSchedulerFailure(t *testing.T) {
	clock := newFakeClock()
	clock.err = ErrLoopStopped
	d := NewDriver(clock, logx.Nop())
	h := newHarness(t, nil)
	err := d.Bind(h.ctl, h.ctl.Settings())
	var be *SchedulerBindingError
	if !errors.As(err, &be) || !errors.Is(err, ErrLoopStopped) {
		t.Fatalf("err = %v", err)
	}
	if d.Bound() {
		t.Fatalf("driver reports bound after failure")
	}
}

func TestDriverCancelStopsInvocations(t *testing.T) {
	clock := newFakeClock()
	d := NewDriver(clock, logx.Nop())
	calls := 0
	h, err := d.Start(1, 2, func(context.Context) { calls++ })
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 5; i++ {
		clock.Advance()
	}
	// ticks 1, 3, 5
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	d.Cancel(h)
	d.Cancel(h)
	d.Cancel(nil)
	for i := 0; i < 5; i++ {
		clock.Advance()
	}
	if calls != 3 {
		t.Fatalf("callback ran after cancel")
	}
}

func TestDriverRebindCancelsPrevious(t *testing.T) {
	clock := newFakeClock()
	d := NewDriver(clock, logx.Nop())
	h := newHarness(t, nil)
	s := h.ctl.Settings()
	if err := d.Bind(h.ctl, s); err != nil {
		t.Fatalf("bind: %v", err)
	}
	s.Period = 5
	if err := d.Bind(h.ctl, s); err != nil {
		t.Fatalf("rebind: %v", err)
	}
	if clock.live() != 1 {
		t.Fatalf("live bindings = %d, want 1", clock.live())
	}
	d.Unbind()
	if clock.live() != 0 || d.Bound() {
		t.Fatalf("unbind left a live binding")
	}
}

func TestDriverRebindWhileSleepingWakesNextTick(t *testing.T) {
	h := newHarness(t, func(s *Settings) { s.StartDelay = 600; s.Period = 1 })
	clock := newFakeClock()
	d := NewDriver(clock, logx.Nop())
	if err := d.Bind(h.ctl, h.ctl.Settings()); err != nil {
		t.Fatalf("bind: %v", err)
	}
	for i := 0; i < 605; i++ {
		clock.Advance()
	}
	if h.ctl.Phase() != Sleeping {
		t.Fatalf("phase = %v, want SLEEPING", h.ctl.Phase())
	}

	s := h.ctl.Settings()
	s.Period = 2
	h.ctl.Apply(s)
	if err := d.Bind(h.ctl, s); err != nil {
		t.Fatalf("rebind: %v", err)
	}
	h.act.n.Store(1)

	waited := 0
	for h.ctl.Phase() != Awake && waited < 10 {
		clock.Advance()
		waited++
	}
	if waited != 1 {
		t.Fatalf("woke after %d ticks, want 1", waited)
	}
	if count(h.disp.commands(), "say awake") != 1 {
		t.Fatalf("wake hooks = %v", h.disp.commands())
	}
}

func TestDriverRebindBeforeFirstTickKeepsRemainingDelay(t *testing.T) {
	h := newHarness(t, func(s *Settings) { s.StartDelay = 10; s.Period = 1 })
	clock := newFakeClock()
	d := NewDriver(clock, logx.Nop())
	if err := d.Bind(h.ctl, h.ctl.Settings()); err != nil {
		t.Fatalf("bind: %v", err)
	}
	for i := 0; i < 4; i++ {
		clock.Advance()
	}
	s := h.ctl.Settings()
	s.Period = 3
	if err := d.Bind(h.ctl, s); err != nil {
		t.Fatalf("rebind: %v", err)
	}
	for clock.firstFire == 0 && clock.tick < 50 {
		clock.Advance()
	}
	if clock.firstFire != 10 {
		t.Fatalf("first evaluation at tick %d, want 10", clock.firstFire)
	}
}
