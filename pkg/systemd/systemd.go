// Package systemd speaks the sd_notify protocol for Type=notify units.
//
// Every call is a no-op when notifications are disabled or the process was
// not started by systemd (NOTIFY_SOCKET unset).
package systemd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "naptime/pkg/logx"
)

type Notifier struct {
	enabled bool
	log     logx.Logger

	notify   func(state string) (bool, error)
	watchdog func() (time.Duration, error)

	mu         sync.Mutex
	lastStatus string
}

func New(enabled bool, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		enabled:  enabled,
		log:      log,
		notify:   func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		watchdog: func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
}

func (n *Notifier) send(state string) {
	if n == nil || !n.enabled {
		return
	}
	sent, err := n.notify(state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if !sent {
		n.log.Trace("sd_notify skipped: no socket", logx.String("state", state))
	}
}

func (n *Notifier) Ready()     { n.send(daemon.SdNotifyReady) }
func (n *Notifier) Stopping()  { n.send(daemon.SdNotifyStopping) }
func (n *Notifier) Reloading() { n.send(daemon.SdNotifyReloading) }

// Status sets the unit's status line. Repeats of the same text are skipped.
func (n *Notifier) Status(format string, args ...any) {
	if n == nil || !n.enabled {
		return
	}
	msg := fmt.Sprintf(format, args...)
	n.mu.Lock()
	same := msg == n.lastStatus
	n.lastStatus = msg
	n.mu.Unlock()
	if same {
		return
	}
	n.send("STATUS=" + msg)
}

// Watchdog pings systemd at half the configured WatchdogSec until ctx ends.
// healthy gates each ping; a false result skips it so systemd can restart a
// wedged process. It returns at once when no watchdog is configured.
func (n *Notifier) Watchdog(ctx context.Context, healthy func() bool) error {
	if n == nil || !n.enabled {
		return nil
	}
	every, err := n.watchdog()
	if err != nil {
		return fmt.Errorf("watchdog: %w", err)
	}
	if every <= 0 {
		return nil
	}
	every /= 2
	n.log.Info("systemd watchdog enabled", logx.Duration("ping_every", every))

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		if healthy != nil && !healthy() {
			n.log.Warn("watchdog ping skipped: unhealthy")
			continue
		}
		n.send(daemon.SdNotifyWatchdog)
	}
}
