package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "naptime/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("driver %q: st=%v err=%v", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatalf("unknown driver accepted")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "store.db")
			st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			defer st.Close()

			ctx := context.Background()
			base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			for i, enabled := range []bool{false, true, false} {
				e := AuditEntry{
					At:      base.Add(time.Duration(i) * time.Minute),
					Actor:   "alice",
					Source:  "console",
					Action:  "naptime.toggle",
					Enabled: enabled,
				}
				if err := st.AppendAudit(ctx, e); err != nil {
					t.Fatalf("append audit: %v", err)
				}
			}
			got, err := st.RecentAudit(ctx, 2)
			if err != nil {
				t.Fatalf("recent audit: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("recent audit len = %d", len(got))
			}
			if got[0].Enabled || !got[1].Enabled || !got[0].At.Equal(base.Add(2*time.Minute)) {
				t.Fatalf("recent audit = %+v", got)
			}

			ep := Episode{
				ID:          "ep-1",
				StartedAt:   base,
				EndedAt:     base.Add(time.Hour),
				Ticks:       3600,
				MicroSleeps: 3600,
				Slept:       3600000,
				Unloaded:    12,
				Errors:      1,
			}
			if err := st.AppendEpisode(ctx, ep); err != nil {
				t.Fatalf("append episode: %v", err)
			}
			eps, err := st.RecentEpisodes(ctx, 10)
			if err != nil {
				t.Fatalf("recent episodes: %v", err)
			}
			if len(eps) != 1 || eps[0].ID != "ep-1" || eps[0].Duration() != time.Hour || eps[0].Unloaded != 12 {
				t.Fatalf("episodes = %+v", eps)
			}
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "naptime_store")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := st.AppendAudit(context.Background(), AuditEntry{Actor: "console", Action: "naptime.toggle"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	got, err := st.RecentAudit(context.Background(), 5)
	if err != nil || len(got) != 1 || got[0].Actor != "console" {
		t.Fatalf("got=%v err=%v", got, err)
	}
}
