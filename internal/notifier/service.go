package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"naptime/internal/admin"
	"naptime/internal/eventbus"
	rtsup "naptime/internal/runtime/supervisor"
	"naptime/internal/storage"
	logx "naptime/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const historySize = 100

// Service is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	bus     eventbus.Bus
	send    Sender
	cfg     Config
	limiter *rate.Limiter

	queue chan string
	sup   *rtsup.Supervisor

	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, send Sender, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, bus: bus, send: send, dedup: map[string]time.Time{}}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps limits in place. Enabling or disabling is done by the caller
// with Start and Stop.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// SetSender replaces the transport, e.g. after the bot was rebuilt. A nil
// sender drops messages.
func (s *Service) SetSender(send Sender) {
	s.mu.Lock()
	s.send = send
	s.mu.Unlock()
}

// Start subscribes to the bus and launches the sender. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.sup != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan string, s.cfg.QueueSize)
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "notifier.sup"))),
		// best-effort; never take the app down
		rtsup.WithCancelOnError(false),
	)
	sup, q := s.sup, s.queue
	s.mu.Unlock()

	if s.bus != nil {
		events, unsub := s.bus.Subscribe(64, eventbus.TypeSleep, eventbus.TypeEpisodeEnded, eventbus.TypeToggle)
		sup.Go0("notifier.events", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					if text, ok := Format(e); ok {
						if err := s.Notify(c, text); err != nil && !errors.Is(err, ErrStopped) {
							s.log.Debug("notification not queued", logx.String("type", e.Type), logx.Err(err))
						}
					}
				}
			}
		})
	}
	sup.GoRestart("notifier.send", func(c context.Context) error {
		for {
			select {
			case <-c.Done():
				return nil
			case text := <-q:
				s.sendWithRetry(c, text)
			}
		}
	}, rtsup.WithRestartBackoff(time.Second, 30*time.Second))
}

// Stop cancels the pipeline; queued lines are dropped.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.queue = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()
	if err := sup.Wait(ctx); err != nil {
		s.log.Warn("notifier stop incomplete", logx.Err(err))
	}
}

// Notify queues text. A repeat inside the dedup window is dropped silently.
func (s *Service) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	q := s.queue
	window := s.cfg.DedupWindow
	s.mu.Unlock()
	if q == nil {
		return ErrStopped
	}
	if window > 0 && !s.dedupAllow(text, window) {
		return nil
	}
	select {
	case q <- text:
		return nil
	default:
		return ErrQueueFull
	}
}

// Snapshot returns the recent send history, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(text string, err error) {
	item := HistoryItem{At: time.Now(), Text: text}
	if err != nil {
		item.Error = err.Error()
	}
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
}

func (s *Service) sendWithRetry(ctx context.Context, text string) {
	s.mu.Lock()
	cfg, lim, send := s.cfg, s.limiter, s.send
	s.mu.Unlock()
	if send == nil {
		return
	}

	var lastErr error
	for attempt := 1; attempt <= 1+cfg.RetryMax; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		lastErr = send.Notify(callCtx, text)
		cancel()
		if lastErr == nil {
			s.appendHistory(text, nil)
			return
		}
		s.log.Debug("notify send failed", logx.Err(lastErr), logx.Int("attempt", attempt))
		if attempt > cfg.RetryMax {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	s.appendHistory(text, lastErr)
	s.log.Warn("notification dropped", logx.Err(lastErr))
}

func (s *Service) dedupAllow(key string, window time.Duration) bool {
	now := time.Now()
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	s.dedup[key] = now.Add(window)
	return true
}

// retryDelay is base * 2^(attempt-1) with 0.7..1.3 jitter, capped.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(d, cfg.RetryMaxDelay)
}

// Format renders the events operators care about.
func Format(e eventbus.Event) (string, bool) {
	switch e.Type {
	case eventbus.TypeSleep:
		return admin.MessagePrefix + " No clients online; hibernating", true
	case eventbus.TypeEpisodeEnded:
		ep, ok := e.Data.(storage.Episode)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("%s Awake after %s (%d micro-sleeps)",
			admin.MessagePrefix, ep.Duration().Round(time.Second), ep.MicroSleeps), true
	case eventbus.TypeToggle:
		m, ok := e.Data.(map[string]any)
		if !ok {
			return "", false
		}
		enabled, ok := m["enabled"].(bool)
		if !ok {
			return "", false
		}
		return admin.ToggleMessage(enabled), true
	}
	return "", false
}
