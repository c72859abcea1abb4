package host

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"naptime/internal/pause"
	"naptime/internal/runtime/supervisor"
	logx "naptime/pkg/logx"
)

// Worker name prefixes. These are the names a name-prefix micro-sleep
// policy matches.
const (
	ServerWorkerPrefix = "Server-Worker-"
	RegionTaskName     = "Async Region Task"
	AutosaveName       = "Autosave"
)

type WorkerConfig struct {
	Workers          int
	AutosaveInterval time.Duration
	// RegionInterval is how often the region task checks spawn residency.
	RegionInterval time.Duration
	QueueSize      int
}

type WorkerStats struct {
	Loaded    uint64 `json:"regions_loaded"`
	LoadFails uint64 `json:"region_load_failures"`
	Dropped   uint64 `json:"load_requests_dropped"`
	Saves     uint64 `json:"autosaves"`
	Queued    int    `json:"queued"`
}

type loadRequest struct {
	world *World
	key   RegionKey
}

// Workers are the host's background goroutines. Each one is a pausable
// worker and checks in between units of work.
type Workers struct {
	cfg    WorkerConfig
	worlds *Worlds
	online func() int
	log    logx.Logger

	loads chan loadRequest

	loaded    atomic.Uint64
	loadFails atomic.Uint64
	dropped   atomic.Uint64
	saves     atomic.Uint64
}

func NewWorkers(cfg WorkerConfig, worlds *Worlds, online func() int, log logx.Logger) *Workers {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers < 0 {
		cfg.Workers = 0
	}
	if cfg.RegionInterval <= 0 {
		cfg.RegionInterval = time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if online == nil {
		online = func() int { return 0 }
	}
	return &Workers{
		cfg:    cfg,
		worlds: worlds,
		online: online,
		log:    log,
		loads:  make(chan loadRequest, cfg.QueueSize),
	}
}

// Start launches every worker under sup.
func (p *Workers) Start(sup *supervisor.Supervisor) {
	for i := 1; i <= p.cfg.Workers; i++ {
		sup.GoWorker(fmt.Sprintf("%s%d", ServerWorkerPrefix, i), p.serverWorker)
	}
	sup.GoWorker(RegionTaskName, p.regionTask)
	if p.cfg.AutosaveInterval > 0 {
		sup.GoWorker(AutosaveName, p.autosave)
	}
}

func (p *Workers) Stats() WorkerStats {
	return WorkerStats{
		Loaded:    p.loaded.Load(),
		LoadFails: p.loadFails.Load(),
		Dropped:   p.dropped.Load(),
		Saves:     p.saves.Load(),
		Queued:    len(p.loads),
	}
}

// RequestLoad queues an asynchronous region load. It reports false when the
// queue is full.
func (p *Workers) RequestLoad(w *World, k RegionKey) bool {
	select {
	case p.loads <- loadRequest{world: w, key: k}:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

// RequestSpawn queues every spawn region that is not loaded.
func (p *Workers) RequestSpawn() int {
	if p.worlds == nil {
		return 0
	}
	n := 0
	for _, w := range p.worlds.All() {
		loaded := map[string]bool{}
		for _, k := range w.LoadedRegions() {
			loaded[k] = true
		}
		for _, k := range p.worlds.SpawnKeys() {
			if loaded[k.String()] {
				continue
			}
			if p.RequestLoad(w, k) {
				n++
			}
		}
	}
	return n
}

func (p *Workers) serverWorker(ctx context.Context, w *pause.Worker) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-p.loads:
			if err := w.Checkpoint(ctx); err != nil {
				return nil
			}
			if _, err := req.world.LoadRegion(req.key); err != nil {
				p.loadFails.Add(1)
				p.log.Warn("region load failed", logx.String("worker", w.Name()), logx.Err(err))
				continue
			}
			p.loaded.Add(1)
		}
	}
}

// regionTask keeps the spawn area resident while clients are online.
func (p *Workers) regionTask(ctx context.Context, w *pause.Worker) error {
	t := time.NewTicker(p.cfg.RegionInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		if err := w.Checkpoint(ctx); err != nil {
			return nil
		}
		if p.online() > 0 {
			if n := p.RequestSpawn(); n > 0 {
				p.log.Debug("spawn regions queued", logx.Int("count", n))
			}
		}
	}
}

func (p *Workers) autosave(ctx context.Context, w *pause.Worker) error {
	t := time.NewTicker(p.cfg.AutosaveInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		if err := w.Checkpoint(ctx); err != nil {
			return nil
		}
		if err := p.worlds.SaveAll(); err != nil {
			p.log.Warn("autosave failed", logx.Err(err))
			continue
		}
		p.saves.Add(1)
		p.log.Debug("autosave complete", logx.Int("regions", p.worlds.LoadedRegions()))
	}
}
