// Package telegram is the optional Telegram surface for the naptime toggle.
//
// Only owner user IDs are served. Commands:
//
//	/naptime  toggle hibernation
//	/status   host and naptime status
package telegram

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"naptime/internal/host"
	rtsup "naptime/internal/runtime/supervisor"
	logx "naptime/pkg/logx"
)

var ErrNotOwner = errors.New("not an owner")

type Config struct {
	Token        string
	OwnerUserIDs []int64
	PollTimeout  time.Duration
	// RatePerMin bounds commands per owner. Zero means 20.
	RatePerMin int
	// Offline builds the bot without contacting Telegram.
	Offline bool
}

// Toggler runs an authorized toggle and returns the reply text.
type Toggler interface {
	Toggle(ctx context.Context, a host.Actor) string
}

// StatusFunc renders the /status reply.
type StatusFunc func(ctx context.Context) string

type Bot struct {
	log    logx.Logger
	bot    *tele.Bot
	toggle Toggler
	status StatusFunc

	owners atomic.Pointer[map[int64]bool]
	rate   atomic.Int64 // commands per minute

	limMu    sync.Mutex
	limiters map[int64]*rate.Limiter

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
	base    atomic.Pointer[context.Context]
}

func New(cfg Config, toggle Toggler, status StatusFunc, log logx.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Bot{
		log:      log,
		bot:      b,
		toggle:   toggle,
		status:   status,
		limiters: map[int64]*rate.Limiter{},
	}
	a.Apply(cfg.OwnerUserIDs, cfg.RatePerMin)
	a.registerHandlers()
	return a, nil
}

// Apply swaps the owner list and rate; used on config reload.
func (a *Bot) Apply(owners []int64, perMin int) {
	m := make(map[int64]bool, len(owners))
	for _, id := range owners {
		m[id] = true
	}
	a.owners.Store(&m)
	if perMin <= 0 {
		perMin = 20
	}
	if a.rate.Swap(int64(perMin)) != int64(perMin) {
		a.limMu.Lock()
		a.limiters = map[int64]*rate.Limiter{}
		a.limMu.Unlock()
	}
}

func (a *Bot) isOwner(id int64) bool { return (*a.owners.Load())[id] }

func (a *Bot) allow(id int64) bool {
	a.limMu.Lock()
	defer a.limMu.Unlock()
	l := a.limiters[id]
	if l == nil {
		n := int(a.rate.Load())
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
		a.limiters[id] = l
	}
	return l.Allow()
}

func (a *Bot) registerHandlers() {
	for _, cmd := range []string{"/naptime", "/status", "/start"} {
		cmd := cmd
		a.bot.Handle(cmd, func(c tele.Context) error {
			sender := c.Sender()
			if sender == nil {
				return nil
			}
			reply, err := a.Handle(a.ctx(), sender.ID, sender.Username, cmd)
			if errors.Is(err, ErrNotOwner) {
				// Stay silent for strangers.
				return nil
			}
			if err != nil {
				reply = "error: " + err.Error()
			}
			return c.Send(reply)
		})
	}
}

func (a *Bot) ctx() context.Context {
	if p := a.base.Load(); p != nil {
		return *p
	}
	return context.Background()
}

// Handle routes one command from a Telegram user and returns the reply.
func (a *Bot) Handle(ctx context.Context, fromID int64, username, cmd string) (reply string, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("panic recovered", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
		fields := []logx.Field{
			logx.Int64("from_id", fromID),
			logx.String("cmd", cmd),
			logx.Duration("dur", time.Since(start)),
		}
		if err != nil {
			a.log.Warn("request failed", append(fields, logx.Err(err))...)
		} else {
			a.log.Debug("request ok", fields...)
		}
	}()

	if !a.isOwner(fromID) {
		return "", ErrNotOwner
	}
	if !a.allow(fromID) {
		return "slow down: too many commands", nil
	}

	name := "tg:" + strconv.FormatInt(fromID, 10)
	if username != "" {
		name = "tg:" + username
	}
	actor := host.Actor{Name: name, Source: "telegram"}

	switch strings.ToLower(strings.TrimSpace(cmd)) {
	case "/naptime":
		return a.toggle.Toggle(ctx, actor), nil
	case "/status":
		if a.status == nil {
			return "status unavailable", nil
		}
		return a.status(ctx), nil
	case "/start":
		return "/naptime - toggle hibernation\n/status - show status", nil
	default:
		return "", fmt.Errorf("unknown command %q", cmd)
	}
}

// Start begins long polling under its own supervisor.
func (a *Bot) Start(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.running = true
	a.base.Store(&ctx)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.sup"))),
		// Telegram is optional; never take the app down.
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// Start blocks until Stop; restart if it returns while still wanted.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		if c.Err() != nil {
			return nil
		}
		return errors.New("poller exited")
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	return nil
}

// Stop ends polling. It never blocks past a short grace window.
func (a *Bot) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	was := a.running
	a.running = false
	a.runMu.Unlock()
	if !was || sup == nil {
		return nil
	}
	sup.Cancel()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

// Notify sends text to every owner. It implements notifier.Sender.
func (a *Bot) Notify(ctx context.Context, text string) error {
	var errs []error
	for id := range *a.owners.Load() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.bot.Send(tele.ChatID(id), text); err != nil {
			errs = append(errs, fmt.Errorf("owner %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
