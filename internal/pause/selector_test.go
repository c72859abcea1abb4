package pause

import "testing"

func TestNamePrefixIgnoresBlankAndDuplicates(t *testing.T) {
	s := NewNamePrefix("Worker-", "", "  ", "Worker-", "Async")
	got := s.Prefixes()
	if len(got) != 2 || got[0] != "Async" || got[1] != "Worker-" {
		t.Fatalf("prefixes = %v", got)
	}
	if s.String() != "prefix[Async,Worker-]" {
		t.Fatalf("string = %q", s.String())
	}
}

func TestNamePrefixEmptySelectsNothing(t *testing.T) {
	reg := NewRegistry()
	w := reg.Register("anything")
	if NewNamePrefix("").Select(nil, w) {
		t.Fatalf("empty prefix set selected a worker")
	}
}

func TestSelectorFor(t *testing.T) {
	reg := NewRegistry()
	caller := reg.Register("Server thread")
	w := reg.Register("Main")

	all := SelectorFor(true, []string{"Worker-"})
	if !all.Select(caller, w) || all.Select(caller, caller) {
		t.Fatalf("all selector mismatch")
	}
	pref := SelectorFor(false, []string{"Worker-"})
	if pref.Select(caller, w) {
		t.Fatalf("prefix selector matched Main")
	}
}
