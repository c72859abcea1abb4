package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"

	"naptime/internal/host"
	logx "naptime/pkg/logx"
)

type toggles struct{ actors []host.Actor }

func (t *toggles) Toggle(_ context.Context, a host.Actor) string {
	t.actors = append(t.actors, a)
	return "toggled"
}

func newTestBot(t *testing.T, perMin int) (*Bot, *toggles) {
	t.Helper()
	tg := &toggles{}
	b, err := New(Config{Token: "123:abc", OwnerUserIDs: []int64{42}, RatePerMin: perMin, Offline: true},
		tg, func(context.Context) string { return "all quiet" }, logx.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return b, tg
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Config{Offline: true}, nil, nil, logx.Nop()); err == nil {
		t.Fatalf("empty token accepted")
	}
}

func TestHandleOwnersOnly(t *testing.T) {
	b, tg := newTestBot(t, 0)
	ctx := context.Background()

	if _, err := b.Handle(ctx, 7, "eve", "/naptime"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("stranger err = %v", err)
	}
	out, err := b.Handle(ctx, 42, "root", "/naptime")
	if err != nil || out != "toggled" {
		t.Fatalf("owner: out=%q err=%v", out, err)
	}
	if len(tg.actors) != 1 || tg.actors[0].Name != "tg:root" || tg.actors[0].Source != "telegram" {
		t.Fatalf("actors = %+v", tg.actors)
	}
	if out, _ := b.Handle(ctx, 42, "", "/status"); out != "all quiet" {
		t.Fatalf("status = %q", out)
	}
	if _, err := b.Handle(ctx, 42, "", "/reboot"); err == nil {
		t.Fatalf("unknown command accepted")
	}

	b.Apply([]int64{7}, 0)
	if _, err := b.Handle(ctx, 42, "root", "/naptime"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("removed owner err = %v", err)
	}
}

func TestHandleRateLimited(t *testing.T) {
	b, tg := newTestBot(t, 2)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := b.Handle(ctx, 42, "", "/naptime"); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	out, err := b.Handle(ctx, 42, "", "/naptime")
	if err != nil || !strings.HasPrefix(out, "slow down") {
		t.Fatalf("third call: out=%q err=%v", out, err)
	}
	if len(tg.actors) != 2 {
		t.Fatalf("toggles = %d", len(tg.actors))
	}
	if tg.actors[0].Name != "tg:42" {
		t.Fatalf("actor = %q", tg.actors[0].Name)
	}
}
