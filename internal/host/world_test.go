package host

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	logx "naptime/pkg/logx"
)

func TestParseRegionKey(t *testing.T) {
	k, err := ParseRegionKey(" -1, 2 ")
	if err != nil || k != (RegionKey{X: -1, Z: 2}) || k.String() != "-1,2" {
		t.Fatalf("k=%v err=%v", k, err)
	}
	for _, bad := range []string{"", "1", "a,b", "1;2"} {
		if _, err := ParseRegionKey(bad); !errors.Is(err, ErrBadRegionKey) {
			t.Fatalf("%q: err = %v", bad, err)
		}
	}
}

func TestSpawnArea(t *testing.T) {
	if got := spawnArea(0); len(got) != 0 {
		t.Fatalf("spawnArea(0) = %v", got)
	}
	got := spawnArea(4)
	want := []RegionKey{{-1, -1}, {0, -1}, {-1, 0}, {0, 0}}
	if len(got) != len(want) {
		t.Fatalf("spawnArea(4) = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("spawnArea(4) = %v, want %v", got, want)
		}
	}
}

func TestUnloadWithSavePersistsRegion(t *testing.T) {
	dir := t.TempDir()
	ws, err := NewWorlds(dir, []string{"world", "world", "nether"}, 2, logx.Nop())
	if err != nil {
		t.Fatalf("new worlds: %v", err)
	}
	if len(ws.All()) != 2 || ws.LoadedRegions() != 4 {
		t.Fatalf("worlds=%d regions=%d", len(ws.All()), ws.LoadedRegions())
	}
	w, err := ws.Get("world")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	ws.Simulate(7)

	keys := w.LoadedRegions()
	if err := w.UnloadRegion(keys[0], true); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if err := w.UnloadRegion(keys[1], false); err != nil {
		t.Fatalf("unload without save: %v", err)
	}
	if w.LoadedCount() != 0 {
		t.Fatalf("still loaded: %v", w.LoadedRegions())
	}
	if err := w.UnloadRegion(keys[0], true); !errors.Is(err, ErrRegionNotLoaded) {
		t.Fatalf("double unload err = %v", err)
	}

	k0, _ := ParseRegionKey(keys[0])
	k1, _ := ParseRegionKey(keys[1])
	if _, err := os.Stat(w.regionPath(k0)); err != nil {
		t.Fatalf("saved region missing: %v", err)
	}
	if _, err := os.Stat(w.regionPath(k1)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("unsaved region written: %v", err)
	}

	r, err := w.LoadRegion(k0)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if r.Updates != 1 || r.LastTicked != 7 {
		t.Fatalf("reloaded region = %+v", r)
	}

	if err := w.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "world", "level.json")); err != nil {
		t.Fatalf("level file: %v", err)
	}
	if _, err := ws.Get("end"); !errors.Is(err, ErrUnknownWorld) {
		t.Fatalf("err = %v", err)
	}
}
