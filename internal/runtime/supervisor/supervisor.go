package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"naptime/internal/pause"
	logx "naptime/pkg/logx"
)

// Supervisor runs named goroutines under one context. It recovers panics,
// keeps per-name statistics, restarts loops with backoff and registers
// pausable workers so a micro-sleep can park them.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	reg         *pause.Registry
	cancelOnErr bool

	wg       sync.WaitGroup
	started  atomic.Uint64
	active   atomic.Int64
	firstErr atomic.Pointer[error]
	waitOnce sync.Once
	done     chan struct{}

	mu    sync.Mutex
	stats map[string]*GoroutineStats
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option { return func(s *Supervisor) { s.log = log } }

// WithRegistry sets the registry GoWorker registers pausable workers in.
func WithRegistry(reg *pause.Registry) Option { return func(s *Supervisor) { s.reg = reg } }

// WithCancelOnError makes the first goroutine error (or panic) cancel every
// goroutine of the supervisor.
func WithCancelOnError(enabled bool) Option { return func(s *Supervisor) { s.cancelOnErr = enabled } }

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		stats:  map[string]*GoroutineStats{},
		log:    logx.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.reg == nil {
		s.reg = pause.NewRegistry()
	}
	return s
}

func (s *Supervisor) Context() context.Context  { return s.ctx }
func (s *Supervisor) Registry() *pause.Registry { return s.reg }

// Cancel cancels the context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Err is the first error any goroutine returned, or nil.
func (s *Supervisor) Err() error {
	if p := s.firstErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *Supervisor) fail(err error) {
	if s.firstErr.CompareAndSwap(nil, &err) {
		s.log.Warn("first goroutine failure", logx.Err(err))
	}
	if s.cancelOnErr {
		s.cancel()
	}
}

// Go runs fn in a goroutine. A non-nil error other than context.Canceled
// counts as a failure.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.spawn(func() {
		if err := s.run(name, false, false, fn); err != nil {
			s.fail(err)
		}
	})
}

func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error { fn(ctx); return nil })
}

// GoWorker runs fn as a pausable worker. The worker is registered before fn
// starts and closed when fn returns or panics, so a pause never waits on a
// worker that is gone. fn calls w.Checkpoint between units of work.
func (s *Supervisor) GoWorker(name string, fn func(ctx context.Context, w *pause.Worker) error) {
	if fn == nil {
		return
	}
	w := s.reg.Register(name)
	s.spawn(func() {
		defer w.Close()
		err := s.run(name, true, false, func(ctx context.Context) error { return fn(ctx, w) })
		if err != nil {
			s.fail(err)
		}
	})
}

func (s *Supervisor) spawn(body func()) {
	s.wg.Add(1)
	s.started.Add(1)
	s.active.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)
		body()
	}()
}

// run calls fn once with panic recovery and bookkeeping. It returns the
// failure, wrapped with name, or nil for a clean or canceled stop.
func (s *Supervisor) run(name string, pausable, restart bool, fn func(ctx context.Context) error) (err error) {
	st := s.noteStart(name, pausable, restart)
	s.log.Debug("goroutine started", logx.String("name", name), logx.Bool("pausable", pausable))
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("%s: panic: %v", name, r)
			s.mu.Lock()
			st.Panics++
			st.LastPanic = fmt.Sprint(r)
			s.mu.Unlock()
		}
		s.mu.Lock()
		st.Active--
		if err != nil {
			st.LastErr = err.Error()
		}
		s.mu.Unlock()
		s.log.Debug("goroutine stopped", logx.String("name", name), logx.Err(err))
	}()

	if err := fn(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// RestartOption configures GoRestart.
type RestartOption func(*restartPolicy)

type restartPolicy struct {
	min, max    time.Duration
	maxRestarts int // <= 0 is unlimited
}

// WithRestartBackoff bounds the exponential delay between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.min = min
		}
		if max > 0 {
			p.max = max
		}
	}
}

// WithMaxRestarts gives up after n restarts; the first run is not counted.
func WithMaxRestarts(n int) RestartOption { return func(p *restartPolicy) { p.maxRestarts = n } }

// stableRun resets the backoff: a run that lasted this long was healthy.
const stableRun = 30 * time.Second

// GoRestart runs fn again after each failure or panic, with jittered
// exponential backoff, until it returns nil or the context ends.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{min: 250 * time.Millisecond, max: 30 * time.Second}
	for _, o := range opts {
		o(&p)
	}
	p.max = max(p.max, p.min)

	s.spawn(func() {
		backoff := p.min
		for restarts := 0; s.ctx.Err() == nil; restarts++ {
			began := time.Now()
			err := s.run(name, false, restarts > 0, fn)
			if err == nil || s.ctx.Err() != nil {
				return
			}
			if p.maxRestarts > 0 && restarts >= p.maxRestarts {
				s.log.Error("goroutine gave up", logx.String("name", name), logx.Int("restarts", restarts), logx.Err(err))
				s.fail(err)
				return
			}
			if time.Since(began) >= stableRun {
				backoff = p.min
			}
			wait := backoff + rand.N(backoff/5+1)
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))
			t := time.NewTimer(wait)
			select {
			case <-s.ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			backoff = min(backoff*2, p.max)
		}
	})
}

// Stop cancels and waits.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine returned or ctx ends. It returns Err()
// in the first case and ctx.Err() in the second.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}
