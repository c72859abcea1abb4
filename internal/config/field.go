package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

var ErrNegativeDuration = errors.New("must not be negative")

// FieldError locates a rejected value in an ambient section.
type FieldError struct {
	Path  string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	if e.Value == "" {
		return e.Path + ": " + e.Err.Error()
	}
	return fmt.Sprintf("%s: %v (got %q)", e.Path, e.Err, e.Value)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Duration parses a Go duration string. Empty means zero.
func Duration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, &FieldError{Path: path, Value: raw, Err: err}
	case d < 0:
		return 0, &FieldError{Path: path, Value: raw, Err: ErrNegativeDuration}
	}
	return d, nil
}

// DurationOr is Duration with def substituted for empty or zero values.
func DurationOr(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := Duration(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// fingerprint identifies a config for reload dedup. The naptime section is
// canonicalized first, so reformatting it alone does not count as a change.
func fingerprint(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	c := *cfg
	c.Naptime = canonicalJSON(cfg.Naptime)
	b, err := json.Marshal(&c)
	if err != nil {
		return 0
	}
	return sum64(b)
}

// canonicalJSON re-encodes raw with sorted keys. Invalid JSON is returned
// trimmed but otherwise untouched.
func canonicalJSON(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return b
}

func sum64(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
