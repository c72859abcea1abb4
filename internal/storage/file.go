package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "naptime/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.audit.jsonl    (append-only JSON Lines)
//   - <prefix>.episodes.jsonl (append-only JSON Lines)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	auditFile   *os.File
	episodeFile *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	ef, err := os.OpenFile(prefix+".episodes.jsonl", os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}
	return &fileStore{log: log, auditFile: af, episodeFile: ef}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.auditFile != nil {
		errs = append(errs, s.auditFile.Close())
		s.auditFile = nil
	}
	if s.episodeFile != nil {
		errs = append(errs, s.episodeFile.Close())
		s.episodeFile = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) AppendEpisode(_ context.Context, e Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.episodeFile == nil {
		return errors.New("episode file closed")
	}
	return json.NewEncoder(s.episodeFile).Encode(e)
}

func (s *fileStore) RecentAudit(_ context.Context, limit int) ([]AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil, errors.New("audit file closed")
	}
	return tailJSONL[AuditEntry](s.auditFile, limit, s.log)
}

func (s *fileStore) RecentEpisodes(_ context.Context, limit int) ([]Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.episodeFile == nil {
		return nil, errors.New("episode file closed")
	}
	return tailJSONL[Episode](s.episodeFile, limit, s.log)
}

// tailJSONL returns the last limit records, newest first. Corrupt lines are
// skipped.
func tailJSONL[T any](f *os.File, limit int, log logx.Logger) ([]T, error) {
	if limit <= 0 {
		return nil, nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	ring := make([]T, 0, limit)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	bad := 0
	for sc.Scan() {
		var v T
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			bad++
			continue
		}
		if len(ring) == limit {
			copy(ring, ring[1:])
			ring = ring[:limit-1]
		}
		ring = append(ring, v)
	}
	if bad > 0 {
		log.Debug("skipped corrupt storage lines", logx.String("file", f.Name()), logx.Int("count", bad))
	}
	// O_APPEND writes ignore the offset, but leave it at the end anyway.
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return nil, err
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(ring)-1; i < j; i, j = i+1, j-1 {
		ring[i], ring[j] = ring[j], ring[i]
	}
	return ring, nil
}
