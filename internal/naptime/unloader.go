package naptime

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"

	logx "naptime/pkg/logx"
)

// Unloader releases loaded regions when the host goes to sleep.
type Unloader struct {
	worlds WorldSource
	log    logx.Logger

	gc func()
}

func NewUnloader(ws WorldSource, log logx.Logger) *Unloader {
	return &Unloader{worlds: ws, log: log, gc: collectGarbage}
}

// UnloadResult summarizes one Unload call.
type UnloadResult struct {
	Worlds   int
	Unloaded int
	Err      error // joined *UnloadError values
}

// Unload unloads every loaded region of every world, saving regions and
// then their world when persist is set. Failures are logged and the
// remaining regions are still processed.
func (u *Unloader) Unload(ctx context.Context, persist bool) UnloadResult {
	var res UnloadResult
	if u == nil {
		res.Err = &UnloadError{World: "*", Err: ErrNoWorldSource}
		return res
	}
	if u.worlds == nil {
		res.Err = &UnloadError{World: "*", Err: ErrNoWorldSource}
		u.log.Warn("region unload failed", logx.Err(res.Err))
		return res
	}
	var errs []error
	for _, w := range u.worlds.Worlds() {
		if ctx.Err() != nil {
			errs = append(errs, &UnloadError{World: w.Name(), Err: ctx.Err()})
			break
		}
		res.Worlds++
		for _, key := range w.LoadedRegions() {
			if err := safeCall(func() error { return w.UnloadRegion(key, persist) }); err != nil {
				u.log.Warn("region unload failed", logx.String("world", w.Name()), logx.String("region", key), logx.Err(err))
				errs = append(errs, &UnloadError{World: w.Name(), Region: key, Err: err})
				continue
			}
			res.Unloaded++
		}
		if persist {
			if err := safeCall(w.Save); err != nil {
				u.log.Warn("world save failed", logx.String("world", w.Name()), logx.Err(err))
				errs = append(errs, &UnloadError{World: w.Name(), Err: err})
			}
		}
	}
	res.Err = errors.Join(errs...)
	u.log.Info("regions unloaded",
		logx.Int("worlds", res.Worlds),
		logx.Int("regions", res.Unloaded),
		logx.Bool("saved", persist),
		logx.Int("errors", len(errs)),
	)
	return res
}

// CollectGarbage runs the GC hint.
func (u *Unloader) CollectGarbage() {
	if u == nil || u.gc == nil {
		collectGarbage()
		return
	}
	u.gc()
}

func collectGarbage() {
	runtime.GC()
	debug.FreeOSMemory()
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicError(p)
		}
	}()
	return fn()
}

func panicError(p any) error {
	if err, ok := p.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", p)
}
