package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validate checks the strictly typed sections. The naptime section is never
// rejected here; its problems surface as ConfigErrors from NaptimeSection.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	h := cfg.Host
	if h.TPS < 0 || h.TPS > 1000 {
		errs = append(errs, fmt.Errorf("host.tps: must be within 0..1000, got %d", h.TPS))
	}
	if h.Workers < 0 {
		errs = append(errs, fmt.Errorf("host.workers: must be >= 0"))
	}
	if _, err := Duration("host.autosave_interval", h.AutosaveInterval); err != nil {
		errs = append(errs, err)
	}
	if addr := strings.TrimSpace(h.Listen); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, fmt.Errorf("host.listen: %w", err))
		}
	}

	if t := cfg.Telegram; t != nil && t.Enabled {
		if strings.TrimSpace(t.Token) == "" {
			errs = append(errs, errors.New("telegram.token is required when telegram.enabled=true"))
		}
		if len(t.OwnerUserIDs) == 0 {
			errs = append(errs, errors.New("telegram.owner_user_ids must not be empty when telegram.enabled=true"))
		}
		if _, err := Duration("telegram.poll_timeout", t.PollTimeout); err != nil {
			errs = append(errs, err)
		}
		if _, err := Duration("telegram.notify_dedup", t.NotifyDedup); err != nil {
			errs = append(errs, err)
		}
	}

	if s := cfg.Status; s != nil && s.Enabled {
		for _, f := range [][2]string{
			{"status.read_timeout", s.ReadTimeout},
			{"status.write_timeout", s.WriteTimeout},
			{"status.idle_timeout", s.IdleTimeout},
		} {
			if _, err := Duration(f[0], f[1]); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file":
		case "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				errs = append(errs, errors.New("storage.path is required when storage.driver=sqlite"))
			}
			if _, err := Duration("storage.busy_timeout", s.BusyTimeout); err != nil {
				errs = append(errs, err)
			}
		default:
			errs = append(errs, fmt.Errorf("unknown storage.driver: %s", s.Driver))
		}
	}

	return errors.Join(errs...)
}
