package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"naptime/internal/eventbus"
	"naptime/internal/storage"
	logx "naptime/pkg/logx"
)

// Actor is the audit actor for window firings.
const Actor = "schedule"

func newParser() cron.Parser {
	// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

func New(cfg Config, target Setter, audit Auditor, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    normalize(cfg),
		log:    log,
		bus:    bus,
		target: target,
		audit:  audit,
		parser: newParser(),
	}
}

func normalize(c Config) Config {
	c.Timezone = strings.TrimSpace(c.Timezone)
	c.EnableCron = strings.TrimSpace(c.EnableCron)
	c.DisableCron = strings.TrimSpace(c.DisableCron)
	return c
}

// Validate checks both expressions and the timezone.
func Validate(cfg Config) error {
	cfg = normalize(cfg)
	p := newParser()
	if cfg.EnableCron != "" {
		if _, err := p.Parse(cfg.EnableCron); err != nil {
			return fmt.Errorf("schedule.enable_cron: %w", err)
		}
	}
	if cfg.DisableCron != "" {
		if _, err := p.Parse(cfg.DisableCron); err != nil {
			return fmt.Errorf("schedule.disable_cron: %w", err)
		}
	}
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return fmt.Errorf("schedule.timezone: invalid %q: %w", cfg.Timezone, err)
		}
	}
	if cfg.EnableCron != "" && cfg.EnableCron == cfg.DisableCron {
		return fmt.Errorf("schedule: enable_cron and disable_cron are identical")
	}
	return nil
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled()
}

// Start begins triggering. It is a no-op without windows or when running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled() {
		return nil
	}
	return s.startLocked(ctx)
}

func (s *Service) startLocked(ctx context.Context) error {
	if err := Validate(s.cfg); err != nil {
		return err
	}
	s.loc = s.loadLocationLocked()
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	base := context.WithoutCancel(ctx)
	if s.cfg.EnableCron != "" {
		if _, err := c.AddFunc(s.cfg.EnableCron, func() { s.fire(base, true) }); err != nil {
			return err
		}
	}
	if s.cfg.DisableCron != "" {
		if _, err := c.AddFunc(s.cfg.DisableCron, func() { s.fire(base, false) }); err != nil {
			return err
		}
	}
	c.Start()
	s.c = c
	s.log.Info("toggle windows started",
		logx.String("tz", s.loc.String()),
		logx.String("enable_cron", s.cfg.EnableCron),
		logx.String("disable_cron", s.cfg.DisableCron),
	)
	return nil
}

// Stop stops triggering and waits for a running firing, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("toggle windows stopped")
}

// Apply swaps the config and restarts triggering if anything changed.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	cfg = normalize(cfg)
	if err := Validate(cfg); err != nil {
		return err
	}
	s.mu.Lock()
	if cfg == s.cfg {
		s.mu.Unlock()
		return nil
	}
	s.cfg = cfg
	old := s.c
	s.c = nil
	var err error
	if cfg.Enabled() {
		err = s.startLocked(ctx)
	}
	s.mu.Unlock()

	if old != nil {
		<-old.Stop().Done()
	}
	return err
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Enabled:     s.cfg.Enabled(),
		Timezone:    s.cfg.Timezone,
		EnableCron:  s.cfg.EnableCron,
		DisableCron: s.cfg.DisableCron,
		LastFire:    s.last,
		LastSet:     s.lastSet,
		Fired:       s.fired,
		Changed:     s.changed,
	}
	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	snap.Timezone = loc.String()
	now := time.Now().In(loc)
	if s.cfg.EnableCron != "" {
		if sch, err := s.parser.Parse(s.cfg.EnableCron); err == nil {
			snap.NextEnable = sch.Next(now)
		}
	}
	if s.cfg.DisableCron != "" {
		if sch, err := s.parser.Parse(s.cfg.DisableCron); err == nil {
			snap.NextDisable = sch.Next(now)
		}
	}
	return snap
}

func (s *Service) fire(ctx context.Context, v bool) {
	changed := s.target.SetEnabled(v)

	s.mu.Lock()
	s.last = time.Now()
	s.lastSet = v
	s.fired++
	if changed {
		s.changed++
	}
	s.mu.Unlock()

	s.log.Info("toggle window fired", logx.Bool("enabled", v), logx.Bool("changed", changed))
	if !changed {
		return
	}
	if s.audit != nil {
		s.audit.Audit(ctx, storage.AuditEntry{Actor: Actor, Source: Actor, Action: "naptime.window", Enabled: v})
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeWindow, Data: map[string]any{"enabled": v}})
	}
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := s.cfg.Timezone
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; fallback to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
