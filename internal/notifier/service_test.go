package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"naptime/internal/eventbus"
	"naptime/internal/storage"
	logx "naptime/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	fails int
	got   []string
}

func (f *fakeSender) Notify(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("boom")
	}
	f.got = append(f.got, text)
	return nil
}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.got...)
}

func waitSent(t *testing.T, f *fakeSender, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		if got := f.sent(); len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("sent %v, want %d lines", f.sent(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFormat(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		e    eventbus.Event
		want string
		ok   bool
	}{
		{eventbus.Event{Type: eventbus.TypeSleep}, "[ServerNaptime] No clients online; hibernating", true},
		{eventbus.Event{Type: eventbus.TypeToggle, Data: map[string]any{"enabled": false}}, "[ServerNaptime] Naptime is now disabled", true},
		{eventbus.Event{Type: eventbus.TypeEpisodeEnded, Data: storage.Episode{
			StartedAt: start, EndedAt: start.Add(90 * time.Second), MicroSleeps: 88,
		}}, "[ServerNaptime] Awake after 1m30s (88 micro-sleeps)", true},
		{eventbus.Event{Type: eventbus.TypeWake}, "", false},
		{eventbus.Event{Type: eventbus.TypeToggle, Data: "junk"}, "", false},
	}
	for _, tc := range cases {
		got, ok := Format(tc.e)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("Format(%s) = %q,%v want %q,%v", tc.e.Type, got, ok, tc.want, tc.ok)
		}
	}
}

func TestBusEventsReachSender(t *testing.T) {
	bus := eventbus.New()
	f := &fakeSender{}
	s := New(Config{Enabled: true, RatePerSec: 100}, f, bus, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	// the subscription is registered synchronously by Start
	bus.Publish(eventbus.Event{Type: eventbus.TypeSleep})
	bus.Publish(eventbus.Event{Type: eventbus.TypeWake})
	bus.Publish(eventbus.Event{Type: eventbus.TypeToggle, Data: map[string]any{"enabled": true}})

	got := waitSent(t, f, 2)
	if got[0] != "[ServerNaptime] No clients online; hibernating" || got[1] != "[ServerNaptime] Naptime is now enabled" {
		t.Fatalf("sent %v", got)
	}
}

func TestDedupWindowSuppressesRepeats(t *testing.T) {
	f := &fakeSender{}
	s := New(Config{Enabled: true, RatePerSec: 100, DedupWindow: time.Minute}, f, nil, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	for i := 0; i < 3; i++ {
		if err := s.Notify(context.Background(), "same"); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	if err := s.Notify(context.Background(), "other"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	got := waitSent(t, f, 2)
	time.Sleep(20 * time.Millisecond)
	if got = f.sent(); len(got) != 2 {
		t.Fatalf("sent %v", got)
	}
}

func TestRetryThenHistory(t *testing.T) {
	f := &fakeSender{fails: 1}
	s := New(Config{Enabled: true, RatePerSec: 100, RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}, f, nil, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Notify(context.Background(), "hello"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	waitSent(t, f, 1)
	h := s.Snapshot()
	if len(h) != 1 || h[0].Text != "hello" || h[0].Error != "" {
		t.Fatalf("history = %+v", h)
	}
}

func TestNotifyStates(t *testing.T) {
	s := New(Config{}, &fakeSender{}, nil, logx.Nop())
	if err := s.Notify(context.Background(), "x"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v", err)
	}
	s.Apply(Config{Enabled: true})
	if err := s.Notify(context.Background(), "x"); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v", err)
	}
}
