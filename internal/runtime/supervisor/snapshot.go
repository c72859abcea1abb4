package supervisor

import (
	"sort"
	"time"
)

// GoroutineStats aggregates every run of one goroutine name.
type GoroutineStats struct {
	Name        string    `json:"name"`
	Pausable    bool      `json:"pausable"`
	Active      int64     `json:"active"`
	Started     uint64    `json:"started"`
	Restarts    uint64    `json:"restarts"`
	Panics      uint64    `json:"panics"`
	LastStartAt time.Time `json:"last_start_at"`
	LastErr     string    `json:"last_err,omitempty"`
	LastPanic   string    `json:"last_panic,omitempty"`

	// Suspended and Parked count this name's live workers that are gated
	// or already waiting at a checkpoint.
	Suspended int `json:"suspended,omitempty"`
	Parked    int `json:"parked,omitempty"`
}

type Counters struct {
	Active  int64  `json:"active"`
	Started uint64 `json:"started"`
}

type Snapshot struct {
	Counters   Counters         `json:"counters"`
	FirstError string           `json:"first_error,omitempty"`
	Goroutines []GoroutineStats `json:"goroutines"`
}

func (s *Supervisor) noteStart(name string, pausable, restart bool) *GoroutineStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats[name]
	if st == nil {
		st = &GoroutineStats{Name: name}
		s.stats[name] = st
	}
	st.Started++
	st.Active++
	st.Pausable = st.Pausable || pausable
	if restart {
		st.Restarts++
	}
	st.LastStartAt = time.Now()
	return st
}

func (s *Supervisor) Counters() Counters {
	if s == nil {
		return Counters{}
	}
	return Counters{Active: s.active.Load(), Started: s.started.Load()}
}

// Snapshot is for status output; it is not a synchronization point.
func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	snap := Snapshot{Counters: s.Counters()}
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}

	gated := map[string][2]int{}
	for _, w := range s.reg.Snapshot() {
		c := gated[w.Name()]
		if w.Suspended() {
			c[0]++
		}
		if w.Parked() {
			c[1]++
		}
		gated[w.Name()] = c
	}

	s.mu.Lock()
	snap.Goroutines = make([]GoroutineStats, 0, len(s.stats))
	for _, st := range s.stats {
		g := *st
		if st.Pausable {
			c := gated[st.Name]
			g.Suspended, g.Parked = c[0], c[1]
		}
		snap.Goroutines = append(snap.Goroutines, g)
	}
	s.mu.Unlock()

	sort.Slice(snap.Goroutines, func(i, j int) bool {
		a, b := snap.Goroutines[i], snap.Goroutines[j]
		if a.Active != b.Active {
			return a.Active > b.Active
		}
		return a.Name < b.Name
	})
	return snap
}
