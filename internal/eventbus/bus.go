package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is one naptimed lifecycle signal. Data stays small: a map of scalars
// or a storage record.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Stats counts deliveries since the bus was created.
type Stats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
}

// Bus fans events out to subscribers. Publish never blocks: an event that does
// not fit a subscriber's buffer is dropped for that subscriber only.
type Bus interface {
	Publish(e Event)
	// Subscribe returns a channel receiving events of the given types, or of
	// every type when none are given. The channel is closed by unsubscribe.
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
	Stats() Stats
}

func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

type sub struct {
	ch    chan Event
	types map[string]struct{}
}

func (s *sub) wants(typ string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[typ]
	return ok
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]*sub
	seq  uint64

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.published.Add(1)

	// Sends are non-blocking, so holding the read lock is short. Unsubscribe
	// takes the write lock before closing, so no send hits a closed channel.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
			b.delivered.Add(1)
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		s.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	b.seq++
	id := b.seq
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(s.ch)
			b.mu.Unlock()
		})
	}
}

func (b *memBus) Stats() Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return Stats{
		Subscribers: n,
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
	}
}
