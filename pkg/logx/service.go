package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// DefaultFile is used when file logging is on without a path.
const DefaultFile = "./naptimed.log"

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	// Recent keeps the last N warning-or-worse lines in memory for the
	// status page. Zero disables it.
	Recent int
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// Service owns the process log sinks and swaps them on Apply. Loggers handed
// out by it pick up the new sinks without being recreated.
type Service struct {
	mu     sync.Mutex
	file   *os.File
	recent *ring

	root atomic.Pointer[zerolog.Logger]
}

func init() {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = consoleTimeFormat
}

// New applies cfg and returns the service with its root logger.
func New(cfg Config) (*Service, Logger) {
	s := &Service{}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// Apply rebuilds the sinks from cfg. A log file that cannot be opened is
// reported on stderr and skipped; console output is used when nothing else
// is configured.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleWriter(os.Stdout))
	}

	old := s.file
	s.file = nil
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = DefaultFile
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open %s: %v\n", path, err)
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, consoleWriter(os.Stdout))
	}

	switch {
	case cfg.Recent <= 0:
		s.recent = nil
	case s.recent == nil:
		s.recent = newRing(cfg.Recent)
	default:
		s.recent.resize(cfg.Recent)
	}
	if s.recent != nil {
		sinks = append(sinks, s.recent)
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(ParseLevel(cfg.Level, LevelInfo)).
		With().Timestamp().Logger()
	s.root.Store(&zl)

	if old != nil {
		_ = old.Close()
	}
}

// Recent returns the buffered warning lines, oldest first.
func (s *Service) Recent() []string {
	s.mu.Lock()
	r := s.recent
	s.mu.Unlock()
	if r == nil {
		return nil
	}
	return r.lines()
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:          w,
		TimeFormat:   consoleTimeFormat,
		FormatCaller: func(i any) string { s, _ := i.(string); return s },
	}
}

// ring is a zerolog sink keeping the last lines at warn level or above.
type ring struct {
	mu   sync.Mutex
	buf  []string
	next int
	full bool
}

func newRing(n int) *ring { return &ring{buf: make([]string, n)} }

func (r *ring) Write(p []byte) (int, error) { return len(p), nil }

func (r *ring) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	if l < zerolog.WarnLevel || l == zerolog.NoLevel {
		return len(p), nil
	}
	line := strings.TrimRight(string(p), "\n")
	r.mu.Lock()
	r.buf[r.next] = line
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
	return len(p), nil
}

func (r *ring) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]string(nil), r.buf[:r.next]...)
	}
	return append(append(make([]string, 0, len(r.buf)), r.buf[r.next:]...), r.buf[:r.next]...)
}

// resize keeps the newest lines that fit in n.
func (r *ring) resize(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n == len(r.buf) {
		return
	}
	var old []string
	if r.full {
		old = append(append(old, r.buf[r.next:]...), r.buf[:r.next]...)
	} else {
		old = append(old, r.buf[:r.next]...)
	}
	if len(old) > n {
		old = old[len(old)-n:]
	}
	r.buf = make([]string, n)
	r.next = copy(r.buf, old) % n
	r.full = len(old) == n
}
