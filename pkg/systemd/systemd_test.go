package systemd

import (
	"context"
	"sync"
	"testing"
	"time"

	logx "naptime/pkg/logx"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) notify(state string) (bool, error) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
	return true, nil
}

func (r *recorder) count(state string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.states {
		if s == state {
			n++
		}
	}
	return n
}

func TestDisabledNotifierIsSilent(t *testing.T) {
	r := &recorder{}
	n := New(false, logx.Nop())
	n.notify = r.notify
	n.Ready()
	n.Status("x")
	if err := n.Watchdog(context.Background(), nil); err != nil {
		t.Fatalf("watchdog: %v", err)
	}
	if len(r.states) != 0 {
		t.Fatalf("states = %v", r.states)
	}
}

func TestStatusDeduplicates(t *testing.T) {
	r := &recorder{}
	n := New(true, logx.Nop())
	n.notify = r.notify
	n.Ready()
	n.Status("phase %s", "AWAKE")
	n.Status("phase %s", "AWAKE")
	n.Status("phase %s", "SLEEPING")
	n.Stopping()
	want := []string{"READY=1", "STATUS=phase AWAKE", "STATUS=phase SLEEPING", "STOPPING=1"}
	if len(r.states) != len(want) {
		t.Fatalf("states = %v", r.states)
	}
	for i := range want {
		if r.states[i] != want[i] {
			t.Fatalf("states = %v, want %v", r.states, want)
		}
	}
}

func TestWatchdogPingsWhileHealthy(t *testing.T) {
	r := &recorder{}
	n := New(true, logx.Nop())
	n.notify = r.notify
	n.watchdog = func() (time.Duration, error) { return 20 * time.Millisecond, nil }

	var (
		mu      sync.Mutex
		healthy = true
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- n.Watchdog(ctx, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return healthy
		})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for r.count("WATCHDOG=1") < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("no watchdog pings")
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	healthy = false
	mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	before := r.count("WATCHDOG=1")
	time.Sleep(60 * time.Millisecond)
	if after := r.count("WATCHDOG=1"); after != before {
		t.Fatalf("pinged while unhealthy: %d -> %d", before, after)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watchdog: %v", err)
	}
}

func TestWatchdogDisabledReturns(t *testing.T) {
	n := New(true, logx.Nop())
	n.notify = (&recorder{}).notify
	n.watchdog = func() (time.Duration, error) { return 0, nil }
	if err := n.Watchdog(context.Background(), nil); err != nil {
		t.Fatalf("watchdog: %v", err)
	}
}
