package admin

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"naptime/internal/config"
	"naptime/internal/host"
	"naptime/internal/storage"
	logx "naptime/pkg/logx"
)

type flag struct{ v atomic.Bool }

func (f *flag) ToggleEnabled() bool {
	for {
		old := f.v.Load()
		if f.v.CompareAndSwap(old, !old) {
			return !old
		}
	}
}
func (f *flag) Enabled() bool { return f.v.Load() }

func TestToggleMessage(t *testing.T) {
	if got := ToggleMessage(true); got != "[ServerNaptime] Naptime is now enabled" {
		t.Fatalf("enabled: %q", got)
	}
	if got := ToggleMessage(false); got != "[ServerNaptime] Naptime is now disabled" {
		t.Fatalf("disabled: %q", got)
	}
}

func TestPermissions(t *testing.T) {
	p := NewPermissions(config.AdminConfig{
		Operators:   []string{" Alice ", ""},
		Permissions: map[string][]string{"Bob": {TogglePermission}, "carol": {"host.say"}},
	})
	cases := []struct {
		actor string
		want  bool
	}{
		{"alice", true},
		{"ALICE", true},
		{"bob", true},
		{"carol", false},
		{"dave", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := p.Allowed(tc.actor, TogglePermission); got != tc.want {
			t.Fatalf("Allowed(%q) = %v, want %v", tc.actor, got, tc.want)
		}
	}
	if !p.IsOperator("alice") || p.IsOperator("bob") {
		t.Fatalf("operator check wrong")
	}
}

func TestPermissionNodesIgnoreCase(t *testing.T) {
	p := NewPermissions(config.AdminConfig{
		Permissions: map[string][]string{"dave": {" Naptime.Toggle "}},
	})
	if !p.Allowed("Dave", TogglePermission) {
		t.Fatalf("mixed-case node not granted")
	}
	if !p.Allowed("dave", "NAPTIME.TOGGLE") {
		t.Fatalf("upper-case lookup denied")
	}
	if p.Allowed("dave", "host.say") {
		t.Fatalf("unrelated node granted")
	}
}

func TestToggleCommandAuthorizationAndAudit(t *testing.T) {
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "store")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	f := &flag{}
	f.v.Store(true)
	svc := New(config.AdminConfig{Operators: []string{"alice"}}, f, st, logx.Nop())
	console := host.NewConsole(svc)
	if err := svc.Register(console); err != nil {
		t.Fatalf("register: %v", err)
	}
	ctx := context.Background()

	out, err := console.Dispatch(ctx, host.Actor{Name: "alice", Source: "client"}, "naptime")
	if err != nil || out != ToggleMessage(false) {
		t.Fatalf("alice: out=%q err=%v", out, err)
	}
	if _, err := console.Dispatch(ctx, host.Actor{Name: "mallory", Source: "client"}, "naptime"); !errors.Is(err, host.ErrPermissionDenied) {
		t.Fatalf("mallory err = %v", err)
	}
	if f.Enabled() {
		t.Fatalf("unauthorized toggle changed the flag")
	}
	out, err = console.DispatchConsole(ctx, "naptime ignored args")
	if err != nil || out != ToggleMessage(true) {
		t.Fatalf("console: out=%q err=%v", out, err)
	}

	svc.Apply(config.AdminConfig{Permissions: map[string][]string{"mallory": {TogglePermission}}})
	if _, err := console.Dispatch(ctx, host.Actor{Name: "mallory", Source: "client"}, "naptime"); err != nil {
		t.Fatalf("mallory after reload: %v", err)
	}
	if _, err := console.Dispatch(ctx, host.Actor{Name: "alice", Source: "client"}, "naptime"); !errors.Is(err, host.ErrPermissionDenied) {
		t.Fatalf("alice after reload err = %v", err)
	}

	recent, err := svc.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("audit entries = %d", len(recent))
	}
	if recent[0].Actor != "mallory" || recent[1].Actor != host.ConsoleName || recent[2].Actor != "alice" {
		t.Fatalf("audit order = %+v", recent)
	}
	if recent[2].Enabled || !recent[1].Enabled {
		t.Fatalf("audit flags = %+v", recent)
	}
}
