package host

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"naptime/internal/eventbus"
	logx "naptime/pkg/logx"
)

// ClientConfig configures the client listener.
type ClientConfig struct {
	Addr string
	// AcceptRate and AcceptBurst bound new connections per remote IP.
	AcceptRate  float64
	AcceptBurst int
	// IdleTimeout closes a connection that sends nothing for this long.
	// Zero disables it.
	IdleTimeout time.Duration
}

// ClientServer accepts line-oriented TCP clients. A connection counts as an
// online client once it has logged in.
type ClientServer struct {
	cfg     ClientConfig
	console *Console
	bus     eventbus.Bus
	log     logx.Logger
	slow    logx.Logger

	ln     net.Listener
	online atomic.Int64
	wg     sync.WaitGroup

	mu       sync.Mutex
	clients  map[string]*client // by login name
	conns    map[net.Conn]struct{}
	limiters map[string]*ipLimiter
	onJoin   []func(name string)
}

type client struct {
	name string
	conn net.Conn
	wmu  sync.Mutex
}

type ipLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

func (c *client) send(line string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := fmt.Fprintln(c.conn, line)
	return err
}

func NewClientServer(cfg ClientConfig, console *Console, bus eventbus.Bus, log logx.Logger) *ClientServer {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.AcceptRate <= 0 {
		cfg.AcceptRate = 5
	}
	if cfg.AcceptBurst <= 0 {
		cfg.AcceptBurst = 10
	}
	return &ClientServer{
		cfg:      cfg,
		console:  console,
		bus:      bus,
		log:      log,
		slow:     log.Throttle(10 * time.Second),
		clients:  map[string]*client{},
		conns:    map[net.Conn]struct{}{},
		limiters: map[string]*ipLimiter{},
	}
}

// Online is the number of logged-in clients.
func (s *ClientServer) Online() int { return int(s.online.Load()) }

// Players lists logged-in client names.
func (s *ClientServer) Players() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.clients))
	for n := range s.clients {
		out = append(out, n)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

// OnJoin registers fn to run after each login, on the connection goroutine.
func (s *ClientServer) OnJoin(fn func(name string)) {
	s.mu.Lock()
	s.onJoin = append(s.onJoin, fn)
	s.mu.Unlock()
}

// Broadcast sends line to every logged-in client and returns how many got it.
func (s *ClientServer) Broadcast(line string) int {
	s.mu.Lock()
	list := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		list = append(list, c)
	}
	s.mu.Unlock()
	n := 0
	for _, c := range list {
		if c.send(line) == nil {
			n++
		}
	}
	return n
}

// Listen binds the listener so Addr is known before Serve.
func (s *ClientServer) Listen() error {
	if s.ln != nil {
		return nil
	}
	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:7878"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("client listen %s: %w", addr, err)
	}
	s.ln = ln
	return nil
}

func (s *ClientServer) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts clients until ctx ends, then closes every connection and
// waits for their handlers.
func (s *ClientServer) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	ln := s.ln
	s.log.Info("client listener started", logx.String("addr", ln.Addr().String()))

	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
		s.mu.Lock()
		for c := range s.conns {
			_ = c.Close()
		}
		s.mu.Unlock()
	})
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				s.log.Info("client listener stopped")
				return nil
			}
			s.slow.Warn("accept failed", logx.Err(err))
			continue
		}
		if !s.allow(conn.RemoteAddr()) {
			s.slow.Warn("connection throttled", logx.String("remote", conn.RemoteAddr().String()))
			_, _ = fmt.Fprintln(conn, "throttled: too many connections, try again later")
			_ = conn.Close()
			continue
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		if ctx.Err() != nil {
			_ = conn.Close()
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *ClientServer) allow(addr net.Addr) bool {
	host := addr.String()
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.limiters[host]
	if l == nil {
		l = &ipLimiter{lim: rate.NewLimiter(rate.Limit(s.cfg.AcceptRate), s.cfg.AcceptBurst)}
		s.limiters[host] = l
	}
	l.seen = now
	// Drop limiters for addresses idle long enough to have refilled.
	if len(s.limiters) > 1024 {
		for k, v := range s.limiters {
			if now.Sub(v.seen) > time.Minute {
				delete(s.limiters, k)
			}
		}
	}
	return l.lim.Allow()
}

func (s *ClientServer) handle(ctx context.Context, conn net.Conn) {
	c := &client{conn: conn}
	defer func() {
		_ = conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		if c.name != "" {
			s.leave(c)
		}
	}()

	_ = c.send("naptime host: login <name>")
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 1024), 16*1024)
	for {
		if s.cfg.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		if !sc.Scan() {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		verb, rest, _ := strings.Cut(line, " ")
		switch strings.ToLower(verb) {
		case "quit", "exit":
			_ = c.send("bye")
			return
		case "login":
			if c.name != "" {
				_ = c.send("already logged in as " + c.name)
				continue
			}
			if err := s.join(c, strings.TrimSpace(rest)); err != nil {
				_ = c.send("login failed: " + err.Error())
				continue
			}
			_ = c.send("welcome " + c.name)
		default:
			if c.name == "" {
				_ = c.send("login first: login <name>")
				continue
			}
			out, err := s.console.Dispatch(ctx, Actor{Name: c.name, Source: "client"}, line)
			if err != nil {
				_ = c.send("error: " + err.Error())
				continue
			}
			if out != "" {
				_ = c.send(out)
			}
		}
	}
}

func validName(n string) bool {
	if n == "" || len(n) > 16 || strings.EqualFold(n, ConsoleName) {
		return false
	}
	for _, r := range n {
		if !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}

func (s *ClientServer) join(c *client, name string) error {
	if !validName(name) {
		return errors.New("names are 1-16 letters, digits or underscores")
	}
	s.mu.Lock()
	if _, taken := s.clients[name]; taken {
		s.mu.Unlock()
		return errors.New("name in use")
	}
	c.name = name
	s.clients[name] = c
	hooks := make([]func(string), len(s.onJoin))
	copy(hooks, s.onJoin)
	s.mu.Unlock()

	n := s.online.Add(1)
	s.log.Info("client joined", logx.String("name", name), logx.Int64("online", n))
	s.publish(eventbus.TypeClientJoin, name)
	for _, fn := range hooks {
		fn(name)
	}
	return nil
}

func (s *ClientServer) leave(c *client) {
	s.mu.Lock()
	if s.clients[c.name] == c {
		delete(s.clients, c.name)
	}
	s.mu.Unlock()
	n := s.online.Add(-1)
	s.log.Info("client left", logx.String("name", c.name), logx.Int64("online", n))
	s.publish(eventbus.TypeClientLeave, c.name)
}

func (s *ClientServer) publish(typ, name string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: map[string]any{"name": name, "online": s.Online()}})
}
