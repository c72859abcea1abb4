package pause

import (
	"sort"
	"strings"
)

// Selector decides which live workers a micro-sleep suspends.
//
// The set of selectors is closed: AllExceptCaller and NamePrefix. Add new
// policies here; the Engine only calls Select.
type Selector interface {
	Select(caller, w *Worker) bool
	String() string
}

// AllExceptCaller selects every live worker other than the caller.
type AllExceptCaller struct{}

func (AllExceptCaller) Select(caller, w *Worker) bool { return w != nil && w != caller }
func (AllExceptCaller) String() string                { return "all" }

// NamePrefix selects workers whose name starts with any configured prefix.
// Matching is case-sensitive and the prefix order does not matter.
type NamePrefix struct {
	prefixes []string
}

// NewNamePrefix builds a NamePrefix selector. Blank prefixes are ignored so a
// stray "" in config cannot turn the policy into "all".
func NewNamePrefix(prefixes ...string) NamePrefix {
	seen := make(map[string]struct{}, len(prefixes))
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return NamePrefix{prefixes: out}
}

func (s NamePrefix) Select(_, w *Worker) bool {
	if w == nil {
		return false
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(w.name, p) {
			return true
		}
	}
	return false
}

func (s NamePrefix) String() string { return "prefix[" + strings.Join(s.prefixes, ",") + "]" }

func (s NamePrefix) Prefixes() []string { return append([]string(nil), s.prefixes...) }

// SelectorFor maps the configured policy onto a selector.
func SelectorFor(all bool, prefixes []string) Selector {
	if all {
		return AllExceptCaller{}
	}
	return NewNamePrefix(prefixes...)
}
