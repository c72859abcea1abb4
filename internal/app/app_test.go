package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"naptime/internal/admin"
	"naptime/internal/config"
	"naptime/internal/naptime"
	"naptime/internal/storage"
	logx "naptime/pkg/logx"
)

func writeConfig(t *testing.T, dir string, naptimeSection map[string]any) string {
	t.Helper()
	raw, err := json.Marshal(naptimeSection)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	cfg := &config.Config{
		Naptime: raw,
		Logging: config.LoggingConfig{Level: "error", Console: true},
		Host: config.HostConfig{
			TPS:              100,
			Listen:           "127.0.0.1:0",
			WorldDir:         filepath.Join(dir, "worlds"),
			Worlds:           []string{"world"},
			SpawnRegions:     1,
			Workers:          1,
			AutosaveInterval: "1h",
		},
		Storage: &config.StorageConfig{Driver: "file", Path: filepath.Join(dir, "store")},
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(dir, "naptime.json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAppSleepsTogglesAndRecords(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, map[string]any{
		"sleepTime":              5,
		"startSleepDelay":        0,
		"ticksAwakeBetweenSleep": 1,
	})

	a, err := NewApp(path)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, "first sleep episode", func() bool { return a.Controller().Stats().Episodes >= 1 })

	reply, err := a.Host().DispatchConsole(ctx, "naptime")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if reply != admin.ToggleMessage(false) {
		t.Fatalf("reply = %q", reply)
	}
	waitFor(t, "wake after disable", func() bool { return a.Controller().Phase() == naptime.Awake })

	// A reload swaps settings but leaves the toggle alone.
	prev := a.cfgm.Get()
	next := *prev
	next.Naptime = json.RawMessage(`{"sleepTime": 7, "startSleepDelay": 0, "ticksAwakeBetweenSleep": 2}`)
	a.applyConfig(ctx, prev, &next)
	if a.Controller().Enabled() {
		t.Fatalf("reload re-enabled naptime")
	}
	if got := a.Controller().Settings(); got.SleepTime != 7*time.Millisecond || got.Period != 2 {
		t.Fatalf("settings = %+v", got)
	}
	if !a.driver.Bound() {
		t.Fatalf("driver unbound after period change")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "store")}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer st.Close()
	audit, err := st.RecentAudit(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentAudit: %v", err)
	}
	if len(audit) != 1 || audit[0].Actor != "CONSOLE" || audit[0].Enabled {
		t.Fatalf("audit = %+v", audit)
	}
	eps, err := st.RecentEpisodes(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentEpisodes: %v", err)
	}
	if len(eps) == 0 || eps[0].MicroSleeps == 0 {
		t.Fatalf("episodes = %+v", eps)
	}
}

func TestStopLetsMicroSleepFinish(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, map[string]any{
		"sleepTime":              300,
		"startSleepDelay":        0,
		"ticksAwakeBetweenSleep": 1,
	})
	a, err := NewApp(path)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "first micro-sleep", func() bool { return a.Controller().Stats().MicroSleeps >= 1 })

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	st := a.Controller().Stats()
	slept, err := time.ParseDuration(st.Slept)
	if err != nil {
		t.Fatalf("slept %q: %v", st.Slept, err)
	}
	if want := time.Duration(st.MicroSleeps) * 300 * time.Millisecond; slept < want {
		t.Fatalf("slept %v over %d micro-sleeps; one was cut short", slept, st.MicroSleeps)
	}
}

func TestStatusLineReportsPhase(t *testing.T) {
	dir := t.TempDir()
	a, err := NewApp(writeConfig(t, dir, map[string]any{"startSleepDelay": 1000}))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	defer a.abort(nil)
	line := a.consoleStatusLine()
	if !strings.Contains(line, "naptime AWAKE") || !strings.Contains(line, "enabled true") {
		t.Fatalf("line = %q", line)
	}
	if txt := a.statusText(context.Background()); !strings.Contains(txt, "0 online") {
		t.Fatalf("text = %q", txt)
	}
}

func TestNewAppRejectsInvalidAmbientConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, nil)
	b, _ := os.ReadFile(path)
	var cfg config.Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	cfg.Schedule = &config.ScheduleConfig{EnableCron: "not a cron"}
	b, _ = json.Marshal(&cfg)
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewApp(path); err == nil || !strings.Contains(err.Error(), "schedule.enable_cron") {
		t.Fatalf("err = %v", err)
	}
}
