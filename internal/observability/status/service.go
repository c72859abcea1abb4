package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	rtsup "naptime/internal/runtime/supervisor"
	logx "naptime/pkg/logx"
)

const DefaultAddr = "127.0.0.1:6060"

var ErrInsecureBind = errors.New("non-loopback status address needs a token or allow_insecure")

// Config controls the status/debug HTTP server.
type Config struct {
	Enabled       bool
	Addr          string
	Prefix        string // pprof mount point, default /debug/pprof/
	Token         string
	AllowInsecure bool
	Pprof         bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	MutexProfileFraction int
	BlockProfileRate     int
	MemProfileRate       int
}

func (c Config) addr() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return DefaultAddr
}

// listenerChanged reports whether moving from c to next needs a new server.
// Only the profiling rates can change in place.
func (c Config) listenerChanged(next Config) bool {
	c.MutexProfileFraction, c.BlockProfileRate, c.MemProfileRate = 0, 0, 0
	next.MutexProfileFraction, next.BlockProfileRate, next.MemProfileRate = 0, 0, 0
	c.Prefix, next.Prefix = normalizePrefix(c.Prefix), normalizePrefix(next.Prefix)
	c.Addr, next.Addr = c.addr(), next.addr()
	return c != next
}

// Provider renders the /status document. It is called concurrently.
type Provider func(ctx context.Context) any

// Service serves /healthz, /status and optionally pprof.
type Service struct {
	log    logx.Logger
	doc    Provider
	health atomic.Pointer[func() error]

	mu  sync.Mutex
	cfg Config
	ln  net.Listener
	sup *rtsup.Supervisor
}

func New(cfg Config, doc Provider, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, doc: doc, log: log}
}

// SetHealth installs the /healthz check. A nil check always passes.
func (s *Service) SetHealth(fn func() error) { s.health.Store(&fn) }

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Addr is the bound address, or "" when not serving.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Start binds the listener and serves in the background. Bind errors are
// returned; it is a no-op when disabled or already serving.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil || !s.cfg.Enabled {
		return nil
	}
	return s.startLocked(ctx)
}

func (s *Service) startLocked(ctx context.Context) error {
	cfg := s.cfg
	applyProfileRates(cfg)

	addr := cfg.addr()
	open := strings.TrimSpace(cfg.Token) == ""
	if open && !isLoopbackAddr(addr) {
		if !cfg.AllowInsecure {
			return ErrInsecureBind
		}
		s.log.Warn("status server exposed without a token", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:      s.Handler(cfg),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	sup := rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "status.sup"))),
		// optional surface; a failure never stops the host
		rtsup.WithCancelOnError(false),
	)
	sup.Go("status.serve", func(context.Context) error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	sup.Go0("status.shutdown", func(c context.Context) {
		<-c.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			_ = srv.Close()
		}
	})

	s.ln, s.sup = ln, sup
	s.log.Info("status server started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("pprof", cfg.Pprof),
		logx.Bool("token_set", !open),
	)
	return nil
}

// Stop shuts the server down, waiting at most until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Service) stopLocked(ctx context.Context) {
	if s.sup == nil {
		return
	}
	sup := s.sup
	s.sup, s.ln = nil, nil
	sup.Cancel()
	if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("status server stop", logx.Err(err))
	}
	s.log.Info("status server stopped")
}

// Reconfigure applies cfg, restarting the listener only when its address,
// auth, routes or timeouts changed.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.cfg
	s.cfg = cfg
	applyProfileRates(cfg)

	switch {
	case !cfg.Enabled:
		s.stopLocked(ctx)
		return nil
	case s.sup != nil && !prev.listenerChanged(cfg):
		return nil
	}
	s.stopLocked(ctx)
	return s.startLocked(context.WithoutCancel(ctx))
}

// applyProfileRates sets the runtime profiling knobs. Zero keeps the Go
// default for MemProfileRate.
func applyProfileRates(cfg Config) {
	if cfg.MutexProfileFraction >= 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate >= 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
	if cfg.MemProfileRate > 0 {
		runtime.MemProfileRate = cfg.MemProfileRate
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	switch h = strings.TrimSpace(h); {
	case h == "":
		return false // all interfaces
	case strings.EqualFold(h, "localhost"):
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
