package host

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	logx "naptime/pkg/logx"
)

var (
	ErrRegionNotLoaded = errors.New("region not loaded")
	ErrBadRegionKey    = errors.New("bad region key")
	ErrUnknownWorld    = errors.New("unknown world")
)

// RegionKey addresses a region by its grid coordinates.
type RegionKey struct{ X, Z int }

func (k RegionKey) String() string { return strconv.Itoa(k.X) + "," + strconv.Itoa(k.Z) }

// ParseRegionKey parses "x,z".
func ParseRegionKey(s string) (RegionKey, error) {
	xs, zs, ok := strings.Cut(strings.TrimSpace(s), ",")
	if !ok {
		return RegionKey{}, fmt.Errorf("%w: %q", ErrBadRegionKey, s)
	}
	x, err1 := strconv.Atoi(strings.TrimSpace(xs))
	z, err2 := strconv.Atoi(strings.TrimSpace(zs))
	if err1 != nil || err2 != nil {
		return RegionKey{}, fmt.Errorf("%w: %q", ErrBadRegionKey, s)
	}
	return RegionKey{X: x, Z: z}, nil
}

// Region is the unit of world state that can be loaded and unloaded.
type Region struct {
	Key        RegionKey `json:"-"`
	X          int       `json:"x"`
	Z          int       `json:"z"`
	Entities   int       `json:"entities"`
	Updates    uint64    `json:"updates"`
	LastTicked uint64    `json:"last_ticked"`
	SavedAt    time.Time `json:"saved_at"`

	dirty bool
}

type levelFile struct {
	Name    string    `json:"name"`
	SavedAt time.Time `json:"saved_at"`
	Regions int       `json:"loaded_regions"`
	Tick    uint64    `json:"tick"`
}

// World holds loaded regions. Regions persist as one JSON file each under
// <dir>/<name>/region/.
type World struct {
	name string
	dir  string
	log  logx.Logger

	mu       sync.Mutex
	regions  map[RegionKey]*Region
	lastTick uint64
}

func newWorld(root, name string, log logx.Logger) *World {
	return &World{
		name:    name,
		dir:     filepath.Join(root, name),
		log:     log.With(logx.String("world", name)),
		regions: map[RegionKey]*Region{},
	}
}

func (w *World) Name() string { return w.name }

func (w *World) regionPath(k RegionKey) string {
	return filepath.Join(w.dir, "region", fmt.Sprintf("r.%d.%d.json", k.X, k.Z))
}

// LoadedRegions returns the keys of loaded regions in a stable order.
func (w *World) LoadedRegions() []string {
	w.mu.Lock()
	keys := make([]RegionKey, 0, len(w.regions))
	for k := range w.regions {
		keys = append(keys, k)
	}
	w.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].X != keys[j].X {
			return keys[i].X < keys[j].X
		}
		return keys[i].Z < keys[j].Z
	})
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

func (w *World) LoadedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.regions)
}

// LoadRegion returns the loaded region, reading it from disk or generating
// it if needed.
func (w *World) LoadRegion(k RegionKey) (*Region, error) {
	w.mu.Lock()
	if r, ok := w.regions[k]; ok {
		w.mu.Unlock()
		return r, nil
	}
	w.mu.Unlock()

	r, err := w.read(k)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if cur, ok := w.regions[k]; ok {
		return cur, nil
	}
	w.regions[k] = r
	return r, nil
}

func (w *World) read(k RegionKey) (*Region, error) {
	b, err := os.ReadFile(w.regionPath(k))
	if errors.Is(err, os.ErrNotExist) {
		return &Region{Key: k, X: k.X, Z: k.Z, dirty: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read region %s/%s: %w", w.name, k, err)
	}
	var r Region
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode region %s/%s: %w", w.name, k, err)
	}
	r.Key = k
	return &r, nil
}

// UnloadRegion drops a loaded region. With save it is written first; a
// failed write keeps it loaded.
func (w *World) UnloadRegion(key string, save bool) error {
	k, err := ParseRegionKey(key)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.regions[k]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrRegionNotLoaded, w.name, key)
	}
	if save && r.dirty {
		if err := w.writeLocked(r); err != nil {
			return err
		}
	}
	delete(w.regions, k)
	return nil
}

// Save writes every modified loaded region and the level file.
func (w *World) Save() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var errs []error
	for _, r := range w.regions {
		if !r.dirty {
			continue
		}
		if err := w.writeLocked(r); err != nil {
			errs = append(errs, err)
		}
	}
	lvl := levelFile{Name: w.name, SavedAt: time.Now().UTC(), Regions: len(w.regions), Tick: w.lastTick}
	if err := writeJSONAtomic(filepath.Join(w.dir, "level.json"), lvl); err != nil {
		errs = append(errs, fmt.Errorf("save level %s: %w", w.name, err))
	}
	return errors.Join(errs...)
}

func (w *World) writeLocked(r *Region) error {
	r.SavedAt = time.Now().UTC()
	if err := writeJSONAtomic(w.regionPath(r.Key), r); err != nil {
		return fmt.Errorf("save region %s/%s: %w", w.name, r.Key, err)
	}
	r.dirty = false
	return nil
}

// simulate advances every loaded region by one tick.
func (w *World) simulate(tick uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastTick = tick
	for _, r := range w.regions {
		r.Updates++
		r.LastTicked = tick
		r.dirty = true
	}
}

func writeJSONAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Worlds is the host's set of worlds.
type Worlds struct {
	root  string
	spawn []RegionKey
	log   logx.Logger
	list  []*World
}

// NewWorlds creates the named worlds under root and loads spawnRegions
// regions around the origin in each.
func NewWorlds(root string, names []string, spawnRegions int, log logx.Logger) (*Worlds, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(root) == "" {
		root = "./worlds"
	}
	if len(names) == 0 {
		names = []string{"world"}
	}
	ws := &Worlds{root: root, spawn: spawnArea(spawnRegions), log: log}
	seen := map[string]bool{}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		ws.list = append(ws.list, newWorld(root, n, log))
	}
	if _, err := ws.LoadSpawn(); err != nil {
		return nil, err
	}
	return ws, nil
}

// spawnArea returns n region keys in a square around the origin.
func spawnArea(n int) []RegionKey {
	if n <= 0 {
		return nil
	}
	side := 1
	for side*side < n {
		side++
	}
	out := make([]RegionKey, 0, n)
	for z := 0; z < side && len(out) < n; z++ {
		for x := 0; x < side && len(out) < n; x++ {
			out = append(out, RegionKey{X: x - side/2, Z: z - side/2})
		}
	}
	return out
}

func (ws *Worlds) All() []*World { return append([]*World(nil), ws.list...) }

func (ws *Worlds) Get(name string) (*World, error) {
	for _, w := range ws.list {
		if w.name == name {
			return w, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownWorld, name)
}

// SpawnKeys are the regions kept loaded around spawn.
func (ws *Worlds) SpawnKeys() []RegionKey { return append([]RegionKey(nil), ws.spawn...) }

// LoadSpawn loads the spawn area of every world and reports how many
// regions were newly loaded.
func (ws *Worlds) LoadSpawn() (int, error) {
	var (
		n    int
		errs []error
	)
	for _, w := range ws.list {
		before := w.LoadedCount()
		for _, k := range ws.spawn {
			if _, err := w.LoadRegion(k); err != nil {
				errs = append(errs, err)
			}
		}
		n += w.LoadedCount() - before
	}
	return n, errors.Join(errs...)
}

// LoadedRegions counts loaded regions across all worlds.
func (ws *Worlds) LoadedRegions() int {
	n := 0
	for _, w := range ws.list {
		n += w.LoadedCount()
	}
	return n
}

func (ws *Worlds) SaveAll() error {
	var errs []error
	for _, w := range ws.list {
		if err := w.Save(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Simulate advances all worlds by one tick.
func (ws *Worlds) Simulate(tick uint64) {
	for _, w := range ws.list {
		w.simulate(tick)
	}
}
