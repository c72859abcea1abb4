package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "naptime/pkg/logx"
)

const (
	reloadDebounce = 250 * time.Millisecond
	rewatchMin     = 250 * time.Millisecond
	rewatchMax     = 5 * time.Second
)

const relevantOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod

// Watch reloads the file whenever it changes until ctx ends. The parent
// directory is watched so editors that replace the file are followed. A
// broken watcher is rebuilt with jittered backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	d := &debouncer{delay: reloadDebounce, fn: func() { _ = m.Reload(ctx) }}
	defer d.stop()

	backoff := rewatchMin
	for ctx.Err() == nil {
		healthy, err := m.watchOnce(ctx, d)
		if ctx.Err() != nil {
			return nil
		}
		if healthy {
			backoff = rewatchMin
		}
		m.log.Warn("config watcher restarting", logx.String("path", m.path), logx.Err(err), logx.Duration("in", backoff))
		t := time.NewTimer(backoff + rand.N(backoff/2+1))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		backoff = min(backoff*2, rewatchMax)
	}
	return nil
}

// watchOnce runs one fsnotify watcher until it breaks or ctx ends. healthy
// reports whether it got as far as watching.
func (m *ConfigManager) watchOnce(ctx context.Context, d *debouncer) (healthy bool, err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return false, err
	}
	defer w.Close()

	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return false, err
	}
	m.log.Debug("watching config", logx.String("dir", dir), logx.String("file", file))

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case ev, ok := <-w.Events:
			if !ok {
				return true, errors.New("event channel closed")
			}
			if ev.Op&relevantOps != 0 && strings.EqualFold(filepath.Base(ev.Name), file) {
				d.trigger()
			}
		case err, ok := <-w.Errors:
			switch {
			case !ok:
				return true, errors.New("error channel closed")
			case errors.Is(err, fsnotify.ErrEventOverflow):
				// events were lost; the file may have changed
				m.log.Warn("config watch overflow", logx.Err(err))
				d.trigger()
			case errors.Is(err, fsnotify.ErrClosed):
				return true, err
			case err != nil:
				m.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}

// debouncer runs fn once a burst of triggers has been quiet for delay.
type debouncer struct {
	delay time.Duration
	fn    func()

	mu    sync.Mutex
	timer *time.Timer
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer == nil {
		d.timer = time.AfterFunc(d.delay, d.fn)
		return
	}
	d.timer.Reset(d.delay)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}
