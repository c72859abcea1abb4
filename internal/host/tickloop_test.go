package host

import (
	"context"
	"errors"
	"testing"
	"time"

	"naptime/internal/pause"
	logx "naptime/pkg/logx"
)

func TestTickLoopDelayAndPeriod(t *testing.T) {
	l := NewTickLoop(pause.NewRegistry(), 20, logx.Nop())
	var fired []uint64
	cancel, err := l.ScheduleRepeating("t", 2, 3, func(_ context.Context, n uint64) { fired = append(fired, n) })
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	defer cancel()
	for i := 0; i < 9; i++ {
		l.step(context.Background())
	}
	want := []uint64{2, 5, 8}
	if len(fired) != len(want) {
		t.Fatalf("fired = %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Fatalf("fired = %v, want %v", fired, want)
		}
	}
}

func TestTickLoopRejectsBadPeriod(t *testing.T) {
	l := NewTickLoop(nil, 20, logx.Nop())
	if _, err := l.ScheduleRepeating("t", 0, 0, func(context.Context, uint64) {}); err == nil {
		t.Fatalf("period 0 accepted")
	}
}

func TestTickLoopCancelStopsRuns(t *testing.T) {
	l := NewTickLoop(nil, 20, logx.Nop())
	n := 0
	cancel, _ := l.ScheduleRepeating("t", 0, 1, func(context.Context, uint64) { n++ })
	l.step(context.Background())
	cancel()
	cancel()
	l.step(context.Background())
	if n != 1 {
		t.Fatalf("runs = %d, want 1", n)
	}
	if len(l.Tasks()) != 0 {
		t.Fatalf("tasks = %v", l.Tasks())
	}
}

func TestTickLoopCancelWaitsForInFlightRun(t *testing.T) {
	l := NewTickLoop(nil, 20, logx.Nop())
	entered := make(chan struct{})
	release := make(chan struct{})
	done := false
	cancel, _ := l.ScheduleRepeating("slow", 0, 1, func(context.Context, uint64) {
		close(entered)
		<-release
		done = true
	})
	go l.step(context.Background())
	<-entered

	returned := make(chan struct{})
	go func() {
		cancel()
		close(returned)
	}()
	select {
	case <-returned:
		t.Fatalf("cancel returned while the run was in flight")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatalf("cancel never returned")
	}
	if !done {
		t.Fatalf("run did not finish before cancel returned")
	}
}

func TestTickLoopRecoversTaskPanic(t *testing.T) {
	l := NewTickLoop(nil, 20, logx.Nop())
	after := 0
	_, _ = l.ScheduleRepeating("boom", 0, 1, func(context.Context, uint64) { panic("boom") })
	_, _ = l.ScheduleRepeating("after", 0, 1, func(context.Context, uint64) { after++ })
	l.step(context.Background())
	l.step(context.Background())
	if after != 2 || l.Tick() != 2 {
		t.Fatalf("after=%d tick=%d", after, l.Tick())
	}
}

func TestTickLoopRunStopsAndRejectsNewTasks(t *testing.T) {
	reg := pause.NewRegistry()
	l := NewTickLoop(reg, 200, logx.Nop())
	if reg.Len() != 1 || reg.Names()[0] != MainWorkerName {
		t.Fatalf("workers = %v", reg.Names())
	}
	ctx, cancel := context.WithCancel(context.Background())
	fired := make(chan struct{}, 1)
	_, _ = l.ScheduleRepeating("t", 0, 1, func(context.Context, uint64) {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("task never fired")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if reg.Len() != 0 {
		t.Fatalf("loop worker still registered")
	}
	if _, err := l.ScheduleRepeating("late", 0, 1, func(context.Context, uint64) {}); !errors.Is(err, ErrLoopStopped) {
		t.Fatalf("err = %v, want ErrLoopStopped", err)
	}
}
