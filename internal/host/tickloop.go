package host

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"naptime/internal/pause"
	logx "naptime/pkg/logx"
)

var ErrLoopStopped = errors.New("tick loop stopped")

// MainWorkerName is the name of the tick loop's own worker.
const MainWorkerName = "Server thread"

// TickLoop drives the host simulation at a fixed rate. Repeating tasks run
// inline on the loop goroutine, in registration order, so two runs never
// overlap.
type TickLoop struct {
	tps      int
	interval time.Duration
	log      logx.Logger
	worker   *pause.Worker

	tick     atomic.Uint64
	lastMSPT atomic.Int64 // nanoseconds spent in the last tick
	overruns atomic.Uint64
	stopped  atomic.Bool
	running  atomic.Bool

	mu    sync.Mutex
	seq   uint64
	tasks map[uint64]*syncTask

	onTick func(ctx context.Context, tick uint64)
}

type syncTask struct {
	id     uint64
	name   string
	next   uint64
	period uint64
	fn     func(ctx context.Context, tick uint64)

	// run is held for the whole callback; cancel takes it to wait out a
	// run in flight.
	run       sync.Mutex
	cancelled atomic.Bool
}

// NewTickLoop registers the loop's worker in reg. The worker is closed when
// Run returns.
func NewTickLoop(reg *pause.Registry, tps int, log logx.Logger) *TickLoop {
	if tps <= 0 {
		tps = 20
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if reg == nil {
		reg = pause.NewRegistry()
	}
	return &TickLoop{
		tps:      tps,
		interval: time.Second / time.Duration(tps),
		log:      log,
		worker:   reg.Register(MainWorkerName),
		tasks:    map[uint64]*syncTask{},
	}
}

// Worker is the loop goroutine's worker. A micro-sleep issued from a sync
// task passes it as the caller.
func (l *TickLoop) Worker() *pause.Worker { return l.worker }

func (l *TickLoop) TPS() int { return l.tps }

// Running reports whether Run has started and not yet returned.
func (l *TickLoop) Running() bool { return l.running.Load() && !l.stopped.Load() }

// Tick returns the number of completed ticks.
func (l *TickLoop) Tick() uint64 { return l.tick.Load() }

// LastTickDuration is the time the most recent tick took, tasks included.
func (l *TickLoop) LastTickDuration() time.Duration { return time.Duration(l.lastMSPT.Load()) }

// Overruns counts ticks that took longer than one interval.
func (l *TickLoop) Overruns() uint64 { return l.overruns.Load() }

// OnTick sets per-tick host work. It runs before the sync tasks. Set it
// before Run.
func (l *TickLoop) OnTick(fn func(ctx context.Context, tick uint64)) { l.onTick = fn }

// ScheduleRepeating runs fn on the loop, first after delay ticks and then
// every period ticks. The returned cancel stops further runs; if a run is in
// flight it waits for it. cancel must not be called from inside fn.
func (l *TickLoop) ScheduleRepeating(name string, delay, period int, fn func(ctx context.Context, tick uint64)) (func(), error) {
	if l.stopped.Load() {
		return nil, ErrLoopStopped
	}
	if fn == nil {
		return nil, errors.New("nil task")
	}
	if period < 1 {
		return nil, errors.New("period must be >= 1 tick")
	}
	if delay < 0 {
		delay = 0
	}

	l.mu.Lock()
	l.seq++
	t := &syncTask{
		id:     l.seq,
		name:   name,
		next:   l.tick.Load() + uint64(delay),
		period: uint64(period),
		fn:     fn,
	}
	l.tasks[t.id] = t
	l.mu.Unlock()

	l.log.Debug("sync task scheduled", logx.String("task", name), logx.Int("delay", delay), logx.Int("period", period))

	var once sync.Once
	return func() {
		once.Do(func() {
			t.cancelled.Store(true)
			// Wait out a run in flight.
			t.run.Lock()
			t.run.Unlock()
			l.mu.Lock()
			delete(l.tasks, t.id)
			l.mu.Unlock()
		})
	}, nil
}

// Tasks returns the names of scheduled sync tasks.
func (l *TickLoop) Tasks() []string {
	l.mu.Lock()
	out := make([]string, 0, len(l.tasks))
	for _, t := range l.tasks {
		out = append(out, t.name)
	}
	l.mu.Unlock()
	sort.Strings(out)
	return out
}

// Run ticks until ctx ends. It may be called once.
func (l *TickLoop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("tick loop already running")
	}
	defer func() {
		l.stopped.Store(true)
		l.worker.Close()
	}()

	l.log.Info("tick loop started", logx.Int("tps", l.tps))
	t := time.NewTicker(l.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			l.log.Info("tick loop stopped", logx.Uint64("ticks", l.tick.Load()))
			return nil
		case <-t.C:
		}
		if err := l.worker.Checkpoint(ctx); err != nil {
			return nil
		}
		l.step(ctx)
	}
}

// step runs one tick. Tests drive it directly.
func (l *TickLoop) step(ctx context.Context) {
	start := time.Now()
	n := l.tick.Add(1)

	if l.onTick != nil {
		l.onTick(ctx, n)
	}
	for _, t := range l.due(n) {
		l.runTask(ctx, t, n)
	}

	took := time.Since(start)
	l.lastMSPT.Store(int64(took))
	if took > l.interval {
		l.overruns.Add(1)
	}
}

func (l *TickLoop) due(n uint64) []*syncTask {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*syncTask
	for _, t := range l.tasks {
		if !t.cancelled.Load() && n >= t.next {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (l *TickLoop) runTask(ctx context.Context, t *syncTask, n uint64) {
	t.run.Lock()
	defer t.run.Unlock()
	if t.cancelled.Load() {
		return
	}
	t.next = n + t.period
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("sync task panicked", logx.String("task", t.name), logx.Any("panic", r))
		}
	}()
	t.fn(ctx, n)
}
