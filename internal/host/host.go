package host

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"naptime/internal/eventbus"
	"naptime/internal/pause"
	"naptime/internal/runtime/supervisor"
	logx "naptime/pkg/logx"
)

type Config struct {
	TPS          int
	WorldDir     string
	Worlds       []string
	SpawnRegions int
	Clients      ClientConfig
	Workers      WorkerConfig
}

// Snapshot is a point-in-time host view for status output.
type Snapshot struct {
	Tick          uint64      `json:"tick"`
	TPS           int         `json:"tps"`
	LastTick      string      `json:"last_tick"`
	Overruns      uint64      `json:"overruns"`
	Online        int         `json:"online"`
	Players       []string    `json:"players"`
	LoadedRegions int         `json:"loaded_regions"`
	Workers       []string    `json:"workers"`
	WorkerStats   WorkerStats `json:"worker_stats"`
	SyncTasks     []string    `json:"sync_tasks"`
}

// Host bundles the tick loop, worlds, clients, console and workers.
type Host struct {
	cfg Config
	log logx.Logger
	reg *pause.Registry

	Loop    *TickLoop
	Worlds  *Worlds
	Clients *ClientServer
	Console *Console
	Workers *Workers

	mu     sync.Mutex
	status []func() string
}

// New builds the host. Workers register in reg; pass the same registry to
// the supervisor that runs them.
func New(cfg Config, reg *pause.Registry, auth Authorizer, bus eventbus.Bus, log logx.Logger) (*Host, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if reg == nil {
		reg = pause.NewRegistry()
	}
	worlds, err := NewWorlds(cfg.WorldDir, cfg.Worlds, cfg.SpawnRegions, log.With(logx.String("comp", "worlds")))
	if err != nil {
		return nil, err
	}
	console := NewConsole(auth)
	clients := NewClientServer(cfg.Clients, console, bus, log.With(logx.String("comp", "clients")))

	h := &Host{
		cfg:     cfg,
		log:     log,
		reg:     reg,
		Loop:    NewTickLoop(reg, cfg.TPS, log.With(logx.String("comp", "tick"))),
		Worlds:  worlds,
		Clients: clients,
		Console: console,
	}
	h.Workers = NewWorkers(cfg.Workers, worlds, clients.Online, log.With(logx.String("comp", "workers")))
	h.Loop.OnTick(func(_ context.Context, tick uint64) { worlds.Simulate(tick) })
	clients.OnJoin(func(string) { h.Workers.RequestSpawn() })

	if err := h.registerBuiltins(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Host) Registry() *pause.Registry { return h.reg }

// Online implements the activity source.
func (h *Host) Online() int { return h.Clients.Online() }

func (h *Host) DispatchConsole(ctx context.Context, line string) (string, error) {
	return h.Console.DispatchConsole(ctx, line)
}

func (h *Host) ScheduleRepeating(name string, delay, period int, fn func(ctx context.Context, tick uint64)) (func(), error) {
	return h.Loop.ScheduleRepeating(name, delay, period, fn)
}

// Tick is the number of ticks run so far.
func (h *Host) Tick() uint64 { return h.Loop.Tick() }

// AddStatus appends a line provider to the status command output.
func (h *Host) AddStatus(fn func() string) {
	h.mu.Lock()
	h.status = append(h.status, fn)
	h.mu.Unlock()
}

// Start binds the client listener and launches the host goroutines.
func (h *Host) Start(sup *supervisor.Supervisor) error {
	if err := h.Clients.Listen(); err != nil {
		return err
	}
	sup.Go("host.tick", h.Loop.Run)
	sup.Go("host.clients", h.Clients.Serve)
	h.Workers.Start(sup)
	h.log.Info("host started",
		logx.Int("tps", h.Loop.TPS()),
		logx.String("listen", h.Clients.Addr().String()),
		logx.Int("worlds", len(h.Worlds.All())),
		logx.Int("regions", h.Worlds.LoadedRegions()),
	)
	return nil
}

// Save persists every world; used on shutdown.
func (h *Host) Save() error { return h.Worlds.SaveAll() }

func (h *Host) Snapshot() Snapshot {
	return Snapshot{
		Tick:          h.Loop.Tick(),
		TPS:           h.Loop.TPS(),
		LastTick:      h.Loop.LastTickDuration().String(),
		Overruns:      h.Loop.Overruns(),
		Online:        h.Online(),
		Players:       h.Clients.Players(),
		LoadedRegions: h.Worlds.LoadedRegions(),
		Workers:       h.reg.Names(),
		WorkerStats:   h.Workers.Stats(),
		SyncTasks:     h.Loop.Tasks(),
	}
}

func (h *Host) registerBuiltins() error {
	cmds := []Command{
		{
			Name: "help", Desc: "list commands",
			Run: func(context.Context, Actor, []string) (string, error) { return h.Console.help(), nil },
		},
		{
			Name: "say", Usage: "<message>", Desc: "broadcast a message", Permission: "host.say",
			Run: h.cmdSay,
		},
		{
			Name: "list", Desc: "list online clients",
			Run: func(context.Context, Actor, []string) (string, error) {
				p := h.Clients.Players()
				return fmt.Sprintf("There are %d clients online: %s", len(p), strings.Join(p, ", ")), nil
			},
		},
		{
			Name: "save-all", Desc: "save every world", Permission: "host.save",
			Run: func(context.Context, Actor, []string) (string, error) {
				start := time.Now()
				if err := h.Worlds.SaveAll(); err != nil {
					return "", err
				}
				return fmt.Sprintf("Saved the game (%s)", time.Since(start).Round(time.Millisecond)), nil
			},
		},
		{
			Name: "status", Desc: "show host status",
			Run: h.cmdStatus,
		},
	}
	for _, c := range cmds {
		if err := h.Console.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (h *Host) cmdSay(_ context.Context, a Actor, args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("%w: say <message>", ErrUsage)
	}
	msg := fmt.Sprintf("[%s] %s", a.Name, strings.Join(args, " "))
	n := h.Clients.Broadcast(msg)
	h.log.Info("say", logx.String("actor", a.Name), logx.String("message", strings.Join(args, " ")), logx.Int("delivered", n))
	return msg, nil
}

func (h *Host) cmdStatus(context.Context, Actor, []string) (string, error) {
	s := h.Snapshot()
	lines := []string{
		fmt.Sprintf("tick %d @ %d tps (last %s, overruns %d)", s.Tick, s.TPS, s.LastTick, s.Overruns),
		fmt.Sprintf("online %d, regions loaded %d, workers %d", s.Online, s.LoadedRegions, len(s.Workers)),
	}
	h.mu.Lock()
	extra := make([]func() string, len(h.status))
	copy(extra, h.status)
	h.mu.Unlock()
	for _, fn := range extra {
		if l := fn(); l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n"), nil
}
