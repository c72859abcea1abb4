package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "naptime/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	at      TEXT    NOT NULL,
	actor   TEXT    NOT NULL,
	source  TEXT    NOT NULL,
	action  TEXT    NOT NULL,
	enabled INTEGER NOT NULL,
	err     TEXT
);
CREATE TABLE IF NOT EXISTS episodes (
	id           TEXT PRIMARY KEY,
	started_at   TEXT    NOT NULL,
	ended_at     TEXT    NOT NULL,
	ticks        INTEGER NOT NULL,
	micro_sleeps INTEGER NOT NULL,
	slept_ms     INTEGER NOT NULL,
	unloaded     INTEGER NOT NULL,
	errors       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS episodes_started ON episodes(started_at);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	for _, p := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(p); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor, source, action, enabled, err) VALUES(?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.Actor, e.Source, e.Action, boolInt(e.Enabled), nullStr(e.Error),
	)
	return err
}

func (s *sqliteStore) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, actor, source, action, enabled, COALESCE(err, '') FROM audit ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e       AuditEntry
			at      string
			enabled int
		)
		if err := rows.Scan(&at, &e.Actor, &e.Source, &e.Action, &enabled, &e.Error); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		e.Enabled = enabled != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendEpisode(ctx context.Context, e Episode) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO episodes(id, started_at, ended_at, ticks, micro_sleeps, slept_ms, unloaded, errors)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET ended_at=excluded.ended_at, ticks=excluded.ticks,
		   micro_sleeps=excluded.micro_sleeps, slept_ms=excluded.slept_ms, errors=excluded.errors`,
		e.ID, e.StartedAt.UTC().Format(time.RFC3339Nano), e.EndedAt.UTC().Format(time.RFC3339Nano),
		int64(e.Ticks), int64(e.MicroSleeps), e.Slept, e.Unloaded, e.Errors,
	)
	return err
}

func (s *sqliteStore) RecentEpisodes(ctx context.Context, limit int) ([]Episode, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, ended_at, ticks, micro_sleeps, slept_ms, unloaded, errors
		 FROM episodes ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Episode
	for rows.Next() {
		var (
			e                Episode
			started, ended   string
			ticks, microSlps int64
		)
		if err := rows.Scan(&e.ID, &started, &ended, &ticks, &microSlps, &e.Slept, &e.Unloaded, &e.Errors); err != nil {
			return nil, err
		}
		e.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		e.EndedAt, _ = time.Parse(time.RFC3339Nano, ended)
		e.Ticks = uint64(ticks)
		e.MicroSleeps = uint64(microSlps)
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
