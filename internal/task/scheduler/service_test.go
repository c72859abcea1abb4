package scheduler

import (
	"context"
	"testing"
	"time"

	"naptime/internal/eventbus"
	"naptime/internal/storage"
	logx "naptime/pkg/logx"
)

type flag struct{ v bool }

func (f *flag) SetEnabled(v bool) bool {
	changed := f.v != v
	f.v = v
	return changed
}

type auditLog struct{ entries []storage.AuditEntry }

func (a *auditLog) Audit(_ context.Context, e storage.AuditEntry) { a.entries = append(a.entries, e) }

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"empty", Config{}, true},
		{"five fields", Config{EnableCron: "0 1 * * *", DisableCron: "0 17 * * *"}, true},
		{"seconds and descriptor", Config{EnableCron: "30 0 1 * * *", DisableCron: "@daily"}, true},
		{"bad enable", Config{EnableCron: "every day"}, false},
		{"bad disable", Config{DisableCron: "61 * * * *"}, false},
		{"bad timezone", Config{EnableCron: "@hourly", Timezone: "Mars/Olympus"}, false},
		{"identical", Config{EnableCron: "@hourly", DisableCron: " @hourly "}, false},
	}
	for _, tc := range cases {
		if err := Validate(tc.cfg); (err == nil) != tc.ok {
			t.Fatalf("%s: err = %v", tc.name, err)
		}
	}
}

func TestFireSetsFlagAndAuditsChanges(t *testing.T) {
	f := &flag{v: true}
	audit := &auditLog{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	s := New(Config{EnableCron: "0 1 * * *", DisableCron: "0 17 * * *"}, f, audit, logx.Nop(), bus)

	s.fire(context.Background(), true)
	s.fire(context.Background(), false)
	s.fire(context.Background(), false)

	if f.v {
		t.Fatalf("flag still enabled")
	}
	if len(audit.entries) != 1 || audit.entries[0].Actor != Actor || audit.entries[0].Enabled {
		t.Fatalf("audit = %+v", audit.entries)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d", len(events))
	}
	snap := s.Snapshot()
	if snap.Fired != 3 || snap.Changed != 1 || snap.LastSet {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestSnapshotNextTimes(t *testing.T) {
	s := New(Config{Timezone: "UTC", EnableCron: "0 1 * * *"}, &flag{}, nil, logx.Nop(), nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(context.Background())

	snap := s.Snapshot()
	if !snap.Enabled || snap.Timezone != "UTC" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.NextEnable.IsZero() || snap.NextEnable.Hour() != 1 || snap.NextEnable.Minute() != 0 {
		t.Fatalf("next enable = %v", snap.NextEnable)
	}
	if !snap.NextDisable.IsZero() {
		t.Fatalf("next disable = %v", snap.NextDisable)
	}
	if time.Until(snap.NextEnable) > 24*time.Hour {
		t.Fatalf("next enable too far: %v", snap.NextEnable)
	}
}

func TestApplyRestartsOnlyOnChange(t *testing.T) {
	s := New(Config{}, &flag{}, nil, logx.Nop(), nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.c != nil {
		t.Fatalf("started without windows")
	}
	if err := s.Apply(context.Background(), Config{DisableCron: "@midnight"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	first := s.c
	if first == nil {
		t.Fatalf("apply did not start windows")
	}
	if err := s.Apply(context.Background(), Config{DisableCron: "@midnight"}); err != nil {
		t.Fatalf("apply same: %v", err)
	}
	if s.c != first {
		t.Fatalf("unchanged config restarted cron")
	}
	if err := s.Apply(context.Background(), Config{DisableCron: "nope"}); err == nil {
		t.Fatalf("bad config applied")
	}
	if err := s.Apply(context.Background(), Config{}); err != nil || s.c != nil {
		t.Fatalf("disable: err=%v running=%v", err, s.c != nil)
	}
}
