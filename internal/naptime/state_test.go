package naptime

import "testing"

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from  Phase
		sleep bool
		to    Phase
		act   Action
	}{
		{Awake, false, Awake, ActNone},
		{Awake, true, SleepEntered, ActEnterSleep},
		{SleepEntered, true, Sleeping, ActMicroSleep},
		{SleepEntered, false, Awake, ActWake},
		{Sleeping, true, Sleeping, ActMicroSleep},
		{Sleeping, false, Awake, ActWake},
	}
	for _, c := range cases {
		to, act := Transition(c.from, c.sleep)
		if to != c.to || act != c.act {
			t.Fatalf("Transition(%s, %v) = (%s, %s), want (%s, %s)", c.from, c.sleep, to, act, c.to, c.act)
		}
	}
}

// The phase is asleep exactly when the latest predicate was true, for any
// sequence of observations.
func TestTransitionTracksPredicate(t *testing.T) {
	seqs := [][]bool{
		{true, true, false, true, false, false, true},
		{false, false, false},
		{true, false, true, false, true},
	}
	for _, seq := range seqs {
		p := Awake
		enters, wakes := 0, 0
		for i, s := range seq {
			var act Action
			p, act = Transition(p, s)
			if p.Asleep() != s {
				t.Fatalf("seq %v step %d: phase %s, predicate %v", seq, i, p, s)
			}
			switch act {
			case ActEnterSleep:
				enters++
			case ActWake:
				wakes++
			}
			if wakes > enters {
				t.Fatalf("seq %v: more wakes than sleep entries", seq)
			}
		}
	}
}
