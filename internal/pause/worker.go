package pause

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	ErrWorkerClosed     = errors.New("worker closed")
	ErrAlreadySuspended = errors.New("worker already suspended")
	ErrNotSuspended     = errors.New("worker not suspended")
)

// SuspensionError reports a failed suspend or resume of a single worker.
type SuspensionError struct {
	Worker string
	ID     uint64
	Op     string // "suspend" | "resume"
	Err    error
}

func (e *SuspensionError) Error() string {
	return fmt.Sprintf("%s %s#%d: %v", e.Op, e.Worker, e.ID, e.Err)
}

func (e *SuspensionError) Unwrap() error { return e.Err }

// Worker is a pausable handle owned by one goroutine.
type Worker struct {
	id   uint64
	name string
	reg  *Registry

	mu     sync.Mutex
	gate   chan struct{} // non-nil while suspended; closed on resume
	closed bool

	parked atomic.Bool
}

func (w *Worker) ID() uint64   { return w.id }
func (w *Worker) Name() string { return w.name }

// Suspended reports whether the worker's gate is currently closed.
func (w *Worker) Suspended() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.gate != nil
}

// Parked reports whether the owning goroutine is blocked in Checkpoint.
func (w *Worker) Parked() bool { return w.parked.Load() }

// Checkpoint blocks while the worker is suspended. It returns ctx.Err() if the
// context ends first. Call it only where no locks are held.
func (w *Worker) Checkpoint(ctx context.Context) error {
	w.mu.Lock()
	g := w.gate
	w.mu.Unlock()
	if g == nil {
		return ctx.Err()
	}

	w.parked.Store(true)
	defer w.parked.Store(false)
	select {
	case <-g:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close deregisters the worker. A suspended worker is released.
func (w *Worker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	if w.gate != nil {
		close(w.gate)
		w.gate = nil
	}
	w.mu.Unlock()

	if w.reg != nil {
		w.reg.remove(w.id)
	}
}

func (w *Worker) suspend() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWorkerClosed
	}
	if w.gate != nil {
		return ErrAlreadySuspended
	}
	w.gate = make(chan struct{})
	return nil
}

// resume opens the gate. A worker closed while suspended was already
// released by Close, so resuming it succeeds.
func (w *Worker) resume() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	if w.gate == nil {
		return ErrNotSuspended
	}
	close(w.gate)
	w.gate = nil
	return nil
}

// Registry tracks live workers.
type Registry struct {
	mu      sync.RWMutex
	seq     atomic.Uint64
	workers map[uint64]*Worker
}

func NewRegistry() *Registry {
	return &Registry{workers: map[uint64]*Worker{}}
}

// Register creates a live worker. The caller must Close it when its goroutine exits.
func (r *Registry) Register(name string) *Worker {
	w := &Worker{id: r.seq.Add(1), name: name, reg: r}
	r.mu.Lock()
	r.workers[w.id] = w
	r.mu.Unlock()
	return w
}

func (r *Registry) remove(id uint64) {
	r.mu.Lock()
	delete(r.workers, id)
	r.mu.Unlock()
}

// Snapshot returns the live workers ordered by registration.
func (r *Registry) Snapshot() []*Worker {
	r.mu.RLock()
	out := make([]*Worker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// Names returns the names of live workers (for status output).
func (r *Registry) Names() []string {
	snap := r.Snapshot()
	out := make([]string, 0, len(snap))
	for _, w := range snap {
		out = append(out, w.name)
	}
	return out
}
