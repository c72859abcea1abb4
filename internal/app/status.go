package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"naptime/internal/eventbus"
	"naptime/internal/host"
	"naptime/internal/naptime"
	"naptime/internal/notifier"
	"naptime/internal/runtime/supervisor"
	"naptime/internal/storage"
	"naptime/internal/task/scheduler"
)

// worldSource adapts the host worlds to the unloader.
type worldSource struct{ w *host.Worlds }

func (s worldSource) Worlds() []naptime.World {
	all := s.w.All()
	out := make([]naptime.World, 0, len(all))
	for _, w := range all {
		out = append(out, w)
	}
	return out
}

type statusDoc struct {
	Naptime    naptime.Stats        `json:"naptime"`
	Bound      bool                 `json:"bound"`
	Host       host.Snapshot        `json:"host"`
	Schedule   scheduler.Snapshot   `json:"schedule"`
	Supervisor supervisor.Snapshot  `json:"supervisor"`
	Events     eventbus.Stats       `json:"events"`
	Episodes   []storage.Episode    `json:"episodes,omitempty"`
	Audit      []storage.AuditEntry `json:"audit,omitempty"`

	Notifications  []notifier.HistoryItem `json:"notifications,omitempty"`
	RecentWarnings []string               `json:"recent_warnings,omitempty"`
}

const recentLimit = 10

func (a *App) statusDoc(ctx context.Context) any {
	doc := statusDoc{
		Naptime:  a.ctl.Stats(),
		Bound:    a.driver.Bound(),
		Host:     a.host.Snapshot(),
		Schedule: a.sched.Snapshot(),
		Events:   a.bus.Stats(),

		Notifications:  a.notif.Snapshot(),
		RecentWarnings: a.logs.Recent(),
	}
	if a.sup != nil {
		doc.Supervisor = a.sup.Snapshot()
	}
	if a.store != nil {
		sctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		doc.Episodes, _ = a.store.RecentEpisodes(sctx, recentLimit)
		doc.Audit, _ = a.store.RecentAudit(sctx, recentLimit)
	}
	return doc
}

// consoleStatusLine is appended to the host status command.
func (a *App) consoleStatusLine() string {
	st := a.ctl.Stats()
	return fmt.Sprintf("naptime %s (enabled %t, episodes %d, micro-sleeps %d, slept %s)",
		st.Phase, st.Enabled, st.Episodes, st.MicroSleeps, st.Slept)
}

func (a *App) statusText(context.Context) string {
	h := a.host.Snapshot()
	lines := []string{
		fmt.Sprintf("tick %d @ %d tps, %d online", h.Tick, h.TPS, h.Online),
		a.consoleStatusLine(),
	}
	if len(h.Players) > 0 {
		lines = append(lines, "players: "+strings.Join(h.Players, ", "))
	}
	if s := a.sched.Snapshot(); s.Enabled {
		if !s.NextEnable.IsZero() {
			lines = append(lines, "next enable: "+s.NextEnable.Format(time.RFC3339))
		}
		if !s.NextDisable.IsZero() {
			lines = append(lines, "next disable: "+s.NextDisable.Format(time.RFC3339))
		}
	}
	return strings.Join(lines, "\n")
}
