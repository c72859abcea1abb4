package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"naptime/internal/pause"
	logx "naptime/pkg/logx"
)

func TestGoWorkerRegistersAndDeregisters(t *testing.T) {
	reg := pause.NewRegistry()
	s := New(context.Background(), WithRegistry(reg), WithLogger(logx.Nop()))

	started := make(chan struct{})
	s.GoWorker("Server-Worker-1", func(ctx context.Context, w *pause.Worker) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started
	if names := reg.Names(); len(names) != 1 || names[0] != "Server-Worker-1" {
		t.Fatalf("names = %v", names)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if reg.Len() != 0 {
		t.Fatalf("worker still registered after stop")
	}
	snap := s.Snapshot()
	if len(snap.Goroutines) != 1 || !snap.Goroutines[0].Pausable {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestGoRecoversPanic(t *testing.T) {
	s := New(context.Background())
	s.Go("boom", func(ctx context.Context) error { panic("x") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil {
		t.Fatalf("expected panic error")
	}
	if snap := s.Snapshot(); snap.Goroutines[0].Panics != 1 {
		t.Fatalf("panics = %d", snap.Goroutines[0].Panics)
	}
}

func TestGoRestartGivesUp(t *testing.T) {
	s := New(context.Background())
	runs := 0
	s.GoRestart("flaky", func(ctx context.Context) error {
		runs++
		return errors.New("nope")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err == nil {
		t.Fatalf("expected final error")
	}
	if runs != 3 {
		t.Fatalf("runs = %d, want 3", runs)
	}
}

func TestSnapshotCountsSuspendedWorkers(t *testing.T) {
	reg := pause.NewRegistry()
	s := New(context.Background(), WithRegistry(reg))
	defer s.Stop(context.Background())

	parked := make(chan struct{})
	s.GoWorker("Autosave", func(ctx context.Context, w *pause.Worker) error {
		close(parked)
		<-ctx.Done()
		return nil
	})
	<-parked

	eng := pause.NewEngine(reg, logx.Nop())
	done := make(chan pause.Report, 1)
	go func() {
		done <- eng.PauseOthersFor(context.Background(), nil, 200*time.Millisecond, pause.AllExceptCaller{})
	}()

	deadline := time.Now().Add(time.Second)
	for {
		snap := s.Snapshot()
		if len(snap.Goroutines) == 1 && snap.Goroutines[0].Suspended == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("worker never reported suspended: %+v", snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
	<-done
	if snap := s.Snapshot(); snap.Goroutines[0].Suspended != 0 {
		t.Fatalf("still suspended after pause: %+v", snap)
	}
}
