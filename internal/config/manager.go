package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	logx "naptime/pkg/logx"
)

// Validator rejects a parsed config before it is committed.
type Validator func(ctx context.Context, cfg *Config) error

// ConfigManager owns the config file: it loads it, watches it and hands
// validated changes to subscribers.
type ConfigManager struct {
	path string

	mu  sync.RWMutex
	cfg *Config
	fp  uint64

	subsMu sync.Mutex
	subs   map[chan *Config]struct{}

	log      logx.Logger
	validate Validator
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path, subs: map[chan *Config]struct{}{}, log: logx.Nop()}
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) {
	if !log.IsZero() {
		m.log = log
	}
}

// SetValidator installs the check applied to every reloaded file.
func (m *ConfigManager) SetValidator(fn Validator) { m.validate = fn }

// EnsureFile writes the default config if the file does not exist yet and
// reports whether it did.
func (m *ConfigManager) EnsureFile() (bool, error) {
	_, err := os.Stat(m.path)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, fs.ErrNotExist):
		return false, err
	}
	if err := WriteDefault(m.path); err != nil {
		return false, err
	}
	return true, nil
}

func (m *ConfigManager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return Decode(m.path, b)
}

// Decode parses config bytes as YAML or JSON by the extension of path.
// Unknown fields are rejected everywhere except inside the naptime section.
func Decode(path string, b []byte) (*Config, error) {
	jb, err := toJSON(path, b)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: trailing data after config", path)
	}
	return &cfg, nil
}

// Load parses the file and makes it current without notifying subscribers.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.commit(cfg, fingerprint(cfg))
	return cfg, nil
}

func (m *ConfigManager) commit(cfg *Config, fp uint64) {
	m.mu.Lock()
	m.cfg, m.fp = cfg, fp
	m.mu.Unlock()
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Subscribe returns a channel holding at most the latest unseen config.
// A burst of reloads collapses into the newest one.
func (m *ConfigManager) Subscribe() (<-chan *Config, func()) {
	ch := make(chan *Config, 1)
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subsMu.Lock()
			delete(m.subs, ch)
			close(ch)
			m.subsMu.Unlock()
		})
	}
}

func (m *ConfigManager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.subs {
		// replace a pending, unseen config
		select {
		case <-ch:
		default:
		}
		ch <- cfg
	}
}

// Reload re-reads the file and publishes it when its content changed and it
// passes validation. The current config is kept on any failure.
func (m *ConfigManager) Reload(ctx context.Context) error {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config parse failed; keeping current", logx.String("path", m.path), logx.Err(err))
		return err
	}
	fp := fingerprint(cfg)
	m.mu.RLock()
	same := fp == m.fp
	m.mu.RUnlock()
	if same {
		m.log.Debug("config file touched without changes", logx.String("path", m.path))
		return nil
	}

	if m.validate != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.validate(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config rejected; keeping current", logx.String("path", m.path), logx.Err(err))
			return err
		}
	}
	if _, errs := cfg.NaptimeSection(); len(errs) > 0 {
		m.log.Info("naptime section has fallbacks", logx.Int("count", len(errs)))
	}

	m.commit(cfg, fp)
	m.publish(cfg)
	m.log.Debug("config published", logx.String("path", m.path), logx.String("fingerprint", fmt.Sprintf("%016x", fp)))
	return nil
}
