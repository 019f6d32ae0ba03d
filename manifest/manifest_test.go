package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/surreal/vm"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[game]
name = "Demo"
version = "436"
natives = "natives.json"

[engine]
search-paths = ["System", "/opt/shared"]
extensions = [".u"]
streams-per-package = 4
core-package = "Engine"

[vm]
max-call-depth = 64
runaway-limit = 5000
tick-rate = 35.0

[log]
verbosity = 2
file = "surreal.log"

[mods]
bonus = { path = "../bonus" }
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Game.Name != "Demo" || m.Game.Version != "436" {
		t.Errorf("game = %q %q, want Demo 436", m.Game.Name, m.Game.Version)
	}
	if got, want := m.NativesPath(), filepath.Join(m.Dir, "natives.json"); got != want {
		t.Errorf("natives path = %q, want %q", got, want)
	}
	if mod, ok := m.Mods["bonus"]; !ok || mod.Path != "../bonus" {
		t.Errorf("bonus mod = %v, want path ../bonus", m.Mods["bonus"])
	}
	if m.Log.Verbosity != 2 || m.LogFile() != filepath.Join(m.Dir, "surreal.log") {
		t.Errorf("log = %+v, file %q", m.Log, m.LogFile())
	}

	cfg := m.EngineConfig()
	if len(cfg.SearchPaths) != 2 {
		t.Fatalf("search paths = %v, want 2", cfg.SearchPaths)
	}
	if cfg.SearchPaths[0] != filepath.Join(m.Dir, "System") {
		t.Errorf("search path 0 = %q, want relative to manifest", cfg.SearchPaths[0])
	}
	if cfg.SearchPaths[1] != "/opt/shared" {
		t.Errorf("search path 1 = %q, want /opt/shared", cfg.SearchPaths[1])
	}
	if cfg.StreamsPerPackage != 4 || cfg.CorePackage != "Engine" || len(cfg.Extensions) != 1 {
		t.Errorf("engine config = %+v", cfg)
	}

	want := vm.Config{MaxCallDepth: 64, RunawayLimit: 5000, TickRate: 35}
	if got := m.VMConfig(); got != want {
		t.Errorf("vm config = %+v, want %+v", got, want)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[game]
name = "minimal"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(m.Engine.SearchPaths) != 1 || m.Engine.SearchPaths[0] != "." {
		t.Errorf("default search paths = %v, want [.]", m.Engine.SearchPaths)
	}
	if got := m.VMConfig(); got != vm.DefaultConfig() {
		t.Errorf("vm config = %+v, want defaults", got)
	}
	if m.NativesPath() != "" || m.LogFile() != "" {
		t.Errorf("natives %q log %q, want empty", m.NativesPath(), m.LogFile())
	}
}

func TestRunawayLimitZeroDisables(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[vm]
runaway-limit = 0
`)
	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := m.VMConfig().RunawayLimit; got != 0 {
		t.Errorf("runaway limit = %d, want 0", got)
	}
}

func TestLoadManifestErrors(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("Load without surreal.toml succeeded")
	}

	dir := t.TempDir()
	writeManifest(t, dir, "[game\nname = 1")
	if _, err := Load(dir); err == nil {
		t.Error("Load of malformed toml succeeded")
	}
}

func TestFindAndLoad(t *testing.T) {
	// Create nested directory structure
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, `[game]
name = "found-game"
`)

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Game.Name != "found-game" {
		t.Errorf("game name = %q, want found-game", m.Game.Name)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no surreal.toml exists")
	}
}

func TestLockFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "mods.lock")

	lf := &LockFile{
		Mods: []LockedMod{
			{Name: "bonus", Git: "https://example.com/bonus-pack", Commit: "abc123", Tag: "v1.2"},
			{Name: "maps", Path: "../maps"},
		},
	}

	if err := WriteLock(lockPath, lf); err != nil {
		t.Fatalf("WriteLock failed: %v", err)
	}

	loaded, err := ReadLock(lockPath)
	if err != nil {
		t.Fatalf("ReadLock failed: %v", err)
	}

	if len(loaded.Mods) != 2 {
		t.Fatalf("expected 2 mods, got %d", len(loaded.Mods))
	}
	if loaded.Mods[0] != lf.Mods[0] {
		t.Errorf("mod[0] = %+v, want %+v", loaded.Mods[0], lf.Mods[0])
	}

	found := loaded.FindLockedMod("maps")
	if found == nil || found.Path != "../maps" {
		t.Errorf("FindLockedMod(maps) = %v, want path ../maps", found)
	}
	if loaded.FindLockedMod("nonexistent") != nil {
		t.Error("FindLockedMod(nonexistent) returned an entry")
	}

	var missing *LockFile
	if missing.FindLockedMod("maps") != nil {
		t.Error("FindLockedMod on nil lock file returned an entry")
	}
}

func TestReadLockNotFound(t *testing.T) {
	lf, err := ReadLock("/nonexistent/path/mods.lock")
	if err != nil {
		t.Errorf("ReadLock should return nil,nil for missing file, got err: %v", err)
	}
	if lf != nil {
		t.Errorf("ReadLock should return nil for missing file, got %v", lf)
	}
}
