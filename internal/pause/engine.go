package pause

import (
	"context"
	"errors"
	"time"

	logx "naptime/pkg/logx"
)

// Report summarizes one PauseOthersFor call.
type Report struct {
	Selector    string
	Targets     int
	Suspended   int
	Resumed     int
	Slept       time.Duration
	Interrupted bool

	// Err joins every *SuspensionError observed during the call.
	Err error
}

type Engine struct {
	reg   *Registry
	log   logx.Logger
	sleep func(ctx context.Context, d time.Duration) error
}

func NewEngine(reg *Registry, log logx.Logger) *Engine {
	if reg == nil {
		reg = NewRegistry()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		reg:   reg,
		log:   log.Throttle(10 * time.Second),
		sleep: sleepCtx,
	}
}

func (e *Engine) Registry() *Registry { return e.reg }

// PauseOthersFor suspends the workers chosen by sel, blocks the caller for d,
// then resumes every worker it suspended. A nil sel pauses only the caller.
//
// Resumption runs in a deferred step: it happens when the pause completes,
// when ctx ends early, and when the pause panics. The caller's own worker is
// never suspended.
func (e *Engine) PauseOthersFor(ctx context.Context, caller *Worker, d time.Duration, sel Selector) (rep Report) {
	start := time.Now()
	var (
		held []*Worker
		errs []error
	)

	defer func() {
		for _, w := range held {
			if err := w.resume(); err != nil {
				errs = append(errs, &SuspensionError{Worker: w.name, ID: w.id, Op: "resume", Err: err})
				continue
			}
			rep.Resumed++
		}
		rep.Slept = time.Since(start)
		rep.Err = errors.Join(errs...)
		if rep.Err != nil {
			e.log.Warn("micro-sleep suspension errors",
				logx.String("selector", rep.Selector),
				logx.Int("targets", rep.Targets),
				logx.Int("suspended", rep.Suspended),
				logx.Int("resumed", rep.Resumed),
				logx.Err(rep.Err),
			)
		}
	}()

	if sel != nil {
		rep.Selector = sel.String()
		for _, w := range e.reg.Snapshot() {
			if w == caller || !sel.Select(caller, w) {
				continue
			}
			rep.Targets++
			if err := w.suspend(); err != nil {
				errs = append(errs, &SuspensionError{Worker: w.name, ID: w.id, Op: "suspend", Err: err})
				continue
			}
			held = append(held, w)
		}
		rep.Suspended = len(held)
	}

	if err := e.sleep(ctx, d); err != nil {
		rep.Interrupted = true
	}
	return rep
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
