// Package admin owns the naptime toggle command and who may run it.
package admin

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"naptime/internal/config"
	"naptime/internal/host"
	"naptime/internal/storage"
	logx "naptime/pkg/logx"
)

const (
	CommandName      = "naptime"
	TogglePermission = "naptime.toggle"
	MessagePrefix    = "[ServerNaptime]"
)

// Toggler is the part of the controller the toggle command drives.
type Toggler interface {
	ToggleEnabled() bool
	Enabled() bool
}

// ToggleMessage is the reply sent after a toggle.
func ToggleMessage(enabled bool) string {
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	return fmt.Sprintf("%s Naptime is now %s", MessagePrefix, state)
}

// Permissions is an immutable view of the admin config.
type Permissions struct {
	ops   map[string]bool
	nodes map[string]map[string]bool
}

func NewPermissions(cfg config.AdminConfig) *Permissions {
	p := &Permissions{ops: map[string]bool{}, nodes: map[string]map[string]bool{}}
	for _, op := range cfg.Operators {
		if op = normName(op); op != "" {
			p.ops[op] = true
		}
	}
	for actor, nodes := range cfg.Permissions {
		actor = normName(actor)
		if actor == "" {
			continue
		}
		set := p.nodes[actor]
		if set == nil {
			set = map[string]bool{}
			p.nodes[actor] = set
		}
		for _, n := range nodes {
			if n = normName(n); n != "" {
				set[n] = true
			}
		}
	}
	return p
}

func normName(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func (p *Permissions) IsOperator(actor string) bool { return p.ops[normName(actor)] }

// Allowed reports whether actor is an operator or holds node. Actor names
// and nodes are both matched case-insensitively.
func (p *Permissions) Allowed(actor, node string) bool {
	a := normName(actor)
	if a == "" {
		return false
	}
	return p.ops[a] || p.nodes[a][normName(node)]
}

// Service runs toggles and records them.
type Service struct {
	perms atomic.Pointer[Permissions]
	ctl   Toggler
	store storage.Store
	log   logx.Logger
}

func New(cfg config.AdminConfig, ctl Toggler, store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{ctl: ctl, store: store, log: log}
	s.perms.Store(NewPermissions(cfg))
	return s
}

// Apply swaps in a reloaded admin config.
func (s *Service) Apply(cfg config.AdminConfig) { s.perms.Store(NewPermissions(cfg)) }

// Allowed implements host.Authorizer.
func (s *Service) Allowed(actor, node string) bool { return s.perms.Load().Allowed(actor, node) }

// Register adds the toggle command to c.
func (s *Service) Register(c *host.Console) error {
	return c.Register(host.Command{
		Name:       CommandName,
		Desc:       "toggle hibernation while no clients are online",
		Permission: TogglePermission,
		Run: func(ctx context.Context, a host.Actor, _ []string) (string, error) {
			return s.Toggle(ctx, a), nil
		},
	})
}

// Toggle flips the flag for an already authorized actor and returns the reply.
func (s *Service) Toggle(ctx context.Context, a host.Actor) string {
	enabled := s.ctl.ToggleEnabled()
	s.log.Info("naptime toggled", logx.String("actor", a.Name), logx.String("source", a.Source), logx.Bool("enabled", enabled))
	s.Audit(ctx, storage.AuditEntry{Actor: a.Name, Source: a.Source, Action: TogglePermission, Enabled: enabled})
	return ToggleMessage(enabled)
}

// Audit appends e to storage, if configured. Failures are logged only.
func (s *Service) Audit(ctx context.Context, e storage.AuditEntry) {
	if s.store == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.store.AppendAudit(sctx, e); err != nil {
		s.log.Warn("audit not recorded", logx.String("action", e.Action), logx.Err(err))
	}
}

// Recent returns the latest audit entries, newest first.
func (s *Service) Recent(ctx context.Context, n int) ([]storage.AuditEntry, error) {
	if s.store == nil {
		return nil, storage.ErrDisabled
	}
	return s.store.RecentAudit(ctx, n)
}
