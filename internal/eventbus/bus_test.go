package eventbus

import (
	"testing"
	"time"
)

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: TypeSleep})
	b.Publish(Event{Type: TypeWake}) // dropped, buffer full

	select {
	case e := <-ch:
		if e.Type != TypeSleep || e.Time.IsZero() {
			t.Fatalf("event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatalf("no event delivered")
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected second event %+v", e)
	default:
	}

	st := b.Stats()
	if st.Published != 2 || st.Delivered != 1 || st.Dropped != 1 || st.Subscribers != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestSubscribeFiltersByType(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(4, TypeToggle, TypeEpisodeEnded)
	defer unsub()

	b.Publish(Event{Type: TypeClientJoin})
	b.Publish(Event{Type: TypeToggle})
	b.Publish(Event{Type: TypeSleep})
	b.Publish(Event{Type: TypeEpisodeEnded})

	var got []string
	for len(got) < 2 {
		select {
		case e := <-ch:
			got = append(got, e.Type)
		case <-time.After(time.Second):
			t.Fatalf("got only %v", got)
		}
	}
	if got[0] != TypeToggle || got[1] != TypeEpisodeEnded {
		t.Fatalf("got %v", got)
	}
	if st := b.Stats(); st.Dropped != 0 || st.Delivered != 2 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	b.Publish(Event{Type: TypeToggle})

	if _, ok := <-ch; ok {
		t.Fatalf("channel still open")
	}
	if st := b.Stats(); st.Subscribers != 0 || st.Delivered != 0 {
		t.Fatalf("stats = %+v", st)
	}
}
