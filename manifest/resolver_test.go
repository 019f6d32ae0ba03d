package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// modTree lays out a game with two path mods; "maps" declares its own
// "textures" mod relative to itself and keeps its packages in Maps/.
func modTree(t *testing.T) *Manifest {
	t.Helper()
	root := t.TempDir()
	game := filepath.Join(root, "game")
	for _, d := range []string{game, filepath.Join(root, "bonus"), filepath.Join(root, "maps", "Maps"), filepath.Join(root, "maps", "textures")} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatal(err)
		}
	}
	writeManifest(t, game, `
[game]
name = "Demo"

[engine]
search-paths = ["System"]

[mods]
maps = { path = "../maps" }
bonus = { path = "../bonus" }
`)
	writeManifest(t, filepath.Join(root, "maps"), `
[engine]
search-paths = ["Maps"]

[mods]
textures = { path = "textures" }
`)

	m, err := Load(game)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return m
}

func TestResolvePathMods(t *testing.T) {
	m := modTree(t)

	mods, err := NewResolver(m, true).Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	var names []string
	for _, rm := range mods {
		names = append(names, rm.Name)
	}
	want := []string{"bonus", "textures", "maps"}
	if len(names) != len(want) {
		t.Fatalf("order = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("order = %v, want %v", names, want)
			break
		}
	}

	root := filepath.Dir(m.Dir)
	maps := mods[2]
	if maps.Manifest == nil {
		t.Fatal("maps manifest not loaded")
	}
	if len(maps.SearchPaths) != 1 || maps.SearchPaths[0] != filepath.Join(root, "maps", "Maps") {
		t.Errorf("maps search paths = %v", maps.SearchPaths)
	}
	if tex := mods[1]; tex.Dir != filepath.Join(root, "maps", "textures") {
		t.Errorf("textures dir = %q, want relative to maps", tex.Dir)
	}
	if bonus := mods[0]; bonus.Manifest != nil || bonus.SearchPaths[0] != bonus.Dir {
		t.Errorf("bonus = %+v, want its directory as search path", bonus)
	}

	lf, err := ReadLock(m.LockFilePath())
	if err != nil || lf == nil {
		t.Fatalf("ReadLock = %v, %v", lf, err)
	}
	if len(lf.Mods) != 3 || lf.FindLockedMod("maps").Path != "../maps" {
		t.Errorf("lock = %+v", lf.Mods)
	}
}

func TestEngineConfigLayersMods(t *testing.T) {
	m := modTree(t)
	mods, err := NewResolver(m, true).Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	root := filepath.Dir(m.Dir)
	want := []string{
		filepath.Join(root, "maps", "Maps"),
		filepath.Join(root, "maps", "textures"),
		filepath.Join(root, "bonus"),
		filepath.Join(m.Dir, "System"),
	}
	got := m.EngineConfig(mods...).SearchPaths
	if len(got) != len(want) {
		t.Fatalf("search paths = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("search path %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name string
		mods string
		want error
	}{
		{"no source", `broken = { tag = "v1" }`, ErrModSource},
		{"git offline", `remote = { git = "https://example.com/remote" }`, ErrModOffline},
		{"missing path", `gone = { path = "does-not-exist" }`, os.ErrNotExist},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeManifest(t, dir, "[mods]\n"+tt.mods+"\n")
			m, err := Load(dir)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if _, err := NewResolver(m, true).Resolve(); !errors.Is(err, tt.want) {
				t.Errorf("Resolve err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestResolveWithoutMods(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[game]\nname = \"plain\"\n")
	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	mods, err := NewResolver(m, false).Resolve()
	if err != nil || mods != nil {
		t.Errorf("Resolve = %v, %v; want nil, nil", mods, err)
	}
	if _, err := os.Stat(m.LockFilePath()); !os.IsNotExist(err) {
		t.Error("lock file written without mods")
	}
}
