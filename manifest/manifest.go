// Package manifest handles surreal.toml game configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/surreal/engine"
	"github.com/chazu/surreal/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("surreal.manifest")

// FileName is the manifest file looked up by Load and FindAndLoad.
const FileName = "surreal.toml"

// Manifest represents a surreal.toml game configuration.
type Manifest struct {
	Game   Game           `toml:"game"`
	Engine EngineSection  `toml:"engine"`
	VM     VMSection      `toml:"vm"`
	Log    LogSection     `toml:"log"`
	Mods   map[string]Mod `toml:"mods"`

	// Dir is the directory containing the surreal.toml file (set at load time).
	Dir string `toml:"-"`
}

// Game identifies the content build.
type Game struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	// Natives is the native database path, relative to Dir.
	Natives string `toml:"natives"`
}

// EngineSection configures package lookup.
type EngineSection struct {
	SearchPaths       []string `toml:"search-paths"`
	Extensions        []string `toml:"extensions"`
	StreamsPerPackage int      `toml:"streams-per-package"`
	CorePackage       string   `toml:"core-package"`
}

// VMSection configures script execution limits. RunawayLimit is a pointer
// so an explicit zero (checking disabled) differs from an absent key.
type VMSection struct {
	MaxCallDepth int     `toml:"max-call-depth"`
	RunawayLimit *int    `toml:"runaway-limit"`
	TickRate     float64 `toml:"tick-rate"`
}

// LogSection configures commonlog.
type LogSection struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Mod is a content directory layered over the game's own packages.
type Mod struct {
	Git  string `toml:"git"`
	Tag  string `toml:"tag"`
	Path string `toml:"path"`
}

// Load parses a surreal.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if len(m.Engine.SearchPaths) == 0 {
		m.Engine.SearchPaths = []string{"."}
	}

	log.Debug("loaded manifest", "path", path, "game", m.Game.Name)
	return &m, nil
}

// FindAndLoad walks up from startDir to find a surreal.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// SearchPathDirs returns absolute paths for the configured search paths.
func (m *Manifest) SearchPathDirs() []string {
	var paths []string
	for _, d := range m.Engine.SearchPaths {
		if filepath.IsAbs(d) {
			paths = append(paths, d)
			continue
		}
		paths = append(paths, filepath.Join(m.Dir, d))
	}
	return paths
}

// NativesPath returns the absolute native database path, or "" when none
// is configured.
func (m *Manifest) NativesPath() string {
	if m.Game.Natives == "" {
		return ""
	}
	if filepath.IsAbs(m.Game.Natives) {
		return m.Game.Natives
	}
	return filepath.Join(m.Dir, m.Game.Natives)
}

// ModsDir returns the path to the .surreal/mods directory.
func (m *Manifest) ModsDir() string {
	return filepath.Join(m.Dir, ".surreal", "mods")
}

// LockFilePath returns the path to .surreal/mods.lock.
func (m *Manifest) LockFilePath() string {
	return filepath.Join(m.Dir, ".surreal", "mods.lock")
}

// EngineConfig builds the package manager configuration. Mod directories
// are searched before the game's own paths, later mods first, so a mod
// shadows the packages it depends on.
func (m *Manifest) EngineConfig(mods ...ResolvedMod) engine.Config {
	var paths []string
	for i := len(mods) - 1; i >= 0; i-- {
		paths = append(paths, mods[i].SearchPaths...)
	}
	paths = append(paths, m.SearchPathDirs()...)
	return engine.Config{
		SearchPaths:       paths,
		Extensions:        m.Engine.Extensions,
		StreamsPerPackage: m.Engine.StreamsPerPackage,
		CorePackage:       m.Engine.CorePackage,
	}
}

// VMConfig builds the interpreter limits, starting from vm.DefaultConfig.
func (m *Manifest) VMConfig() vm.Config {
	cfg := vm.DefaultConfig()
	if m.VM.MaxCallDepth > 0 {
		cfg.MaxCallDepth = m.VM.MaxCallDepth
	}
	if m.VM.RunawayLimit != nil {
		cfg.RunawayLimit = *m.VM.RunawayLimit
	}
	if m.VM.TickRate > 0 {
		cfg.TickRate = m.VM.TickRate
	}
	return cfg
}

// LogFile returns the absolute log file path, or "" for stderr.
func (m *Manifest) LogFile() string {
	if m.Log.File == "" || filepath.IsAbs(m.Log.File) {
		return m.Log.File
	}
	return filepath.Join(m.Dir, m.Log.File)
}
