package storage

import (
	"context"
	"fmt"
	"strings"

	logx "naptime/pkg/logx"
)

// Store persists the toggle audit log and finished sleep episodes.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error)
	AppendEpisode(ctx context.Context, e Episode) error
	RecentEpisodes(ctx context.Context, limit int) ([]Episode, error)
	Close() error
}

var drivers = map[string]func(Config, logx.Logger) (Store, error){
	"file":    openFile,
	"sqlite":  openSQLite,
	"sqlite3": openSQLite,
}

// Open returns the store for cfg.Driver, or (nil, nil) when the driver is
// empty or "none".
func Open(cfg Config, log logx.Logger) (Store, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if name == "" || name == "none" {
		return nil, nil
	}
	open, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	st, err := open(cfg, log.With(logx.String("driver", name)))
	if err != nil {
		return nil, fmt.Errorf("storage %s: %w", name, err)
	}
	return st, nil
}
