// Surreal CLI - inspects package files and runs the scripts they contain
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chazu/surreal/engine"
	"github.com/chazu/surreal/manifest"
	"github.com/chazu/surreal/vm"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("surreal.cmd")

func main() {
	verbosity := flag.Int("v", 0, "Log verbosity: 0 notice, 1 info, 2 debug")
	startDir := flag.String("C", ".", "Directory to search upward from for surreal.toml")
	extraPaths := flag.String("path", "", "Extra package search paths, separated by "+string(filepath.ListSeparator))
	offline := flag.Bool("offline", false, "Do not clone or fetch git mods")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: surreal [options] <command> [arguments]\n\n")
		fmt.Fprintf(os.Stderr, "Loads packages from the search paths of the nearest surreal.toml.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nCommands:\n")
		fmt.Fprintf(os.Stderr, "  info <file>                         # Header and table counts\n")
		fmt.Fprintf(os.Stderr, "  exports <file>                      # Export table\n")
		fmt.Fprintf(os.Stderr, "  imports <file>                      # Import table\n")
		fmt.Fprintf(os.Stderr, "  packages                            # Packages found on the search paths\n")
		fmt.Fprintf(os.Stderr, "  dump <Package.Object>               # Object properties\n")
		fmt.Fprintf(os.Stderr, "  disasm <Package.Class.Function>     # Script disassembly\n")
		fmt.Fprintf(os.Stderr, "  run [-ticks N] [-state S] <Package.Class> [function [args...]]\n")
		fmt.Fprintf(os.Stderr, "  natives export [-o file]            # Write the native database\n")
		fmt.Fprintf(os.Stderr, "  natives stubs [-db file] [-pkg name] [-all] [-o file]\n")
		fmt.Fprintf(os.Stderr, "  mods                                # Resolve mods and list them\n")
	}
	flag.Parse()

	m, err := manifest.FindAndLoad(*startDir)
	if err != nil {
		fatalf("loading manifest: %v", err)
	}
	configureLogging(m, *verbosity)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	env := &environment{manifest: m, offline: *offline}
	if *extraPaths != "" {
		env.extra = filepath.SplitList(*extraPaths)
	}

	switch args[0] {
	case "info":
		handleInfoCommand(args[1:])
	case "exports":
		handleExportsCommand(args[1:])
	case "imports":
		handleImportsCommand(args[1:])
	case "packages":
		handlePackagesCommand(env)
	case "dump":
		handleDumpCommand(env, args[1:])
	case "disasm":
		handleDisasmCommand(env, args[1:])
	case "run":
		handleRunCommand(env, args[1:])
	case "natives":
		handleNativesCommand(env, args[1:])
	case "mods":
		handleModsCommand(env)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", args[0])
		flag.Usage()
		os.Exit(2)
	}
}

// configureLogging applies -v, falling back to the manifest [log] table
// when the flag is not given.
func configureLogging(m *manifest.Manifest, verbosity int) {
	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "v" {
			explicit = true
		}
	})
	var path *string
	if m != nil {
		if !explicit {
			verbosity = m.Log.Verbosity
		}
		if file := m.LogFile(); file != "" {
			path = &file
		}
	}
	commonlog.Configure(verbosity, path)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// ---------------------------------------------------------------------------
// Environment: manager and interpreter built from the manifest
// ---------------------------------------------------------------------------

type environment struct {
	manifest *manifest.Manifest
	offline  bool
	extra    []string

	mods     []manifest.ResolvedMod
	resolved bool
}

func (e *environment) resolveMods() []manifest.ResolvedMod {
	if e.resolved || e.manifest == nil {
		return e.mods
	}
	mods, err := manifest.NewResolver(e.manifest, e.offline).Resolve()
	if err != nil {
		fatalf("resolving mods: %v", err)
	}
	e.mods, e.resolved = mods, true
	return mods
}

func (e *environment) engineConfig() engine.Config {
	cfg := engine.Config{SearchPaths: []string{"."}}
	if e.manifest != nil {
		cfg = e.manifest.EngineConfig(e.resolveMods()...)
	}
	cfg.SearchPaths = append(append([]string(nil), e.extra...), cfg.SearchPaths...)
	return cfg
}

func (e *environment) vmConfig() vm.Config {
	if e.manifest == nil {
		return vm.DefaultConfig()
	}
	return e.manifest.VMConfig()
}

// open creates a manager and an interpreter with the built-in natives.
func (e *environment) open() (*engine.Manager, *vm.Interpreter) {
	m := engine.NewManager(e.engineConfig())
	table := vm.NewNativeTable()
	vm.RegisterBuiltins(table)
	x := vm.NewInterpreter(m, table, e.vmConfig())
	x.OnFault(func(f *vm.Fault) {
		log.Debug("script fault", "function", f.Function, "error", f.Err.Error())
	})
	return m, x
}

func (e *environment) game() (name, version string) {
	if e.manifest == nil {
		return "", ""
	}
	return e.manifest.Game.Name, e.manifest.Game.Version
}

func handleModsCommand(env *environment) {
	if env.manifest == nil {
		fatalf("no %s found", manifest.FileName)
	}
	mods := env.resolveMods()
	if len(mods) == 0 {
		fmt.Println("No mods configured")
		return
	}
	for _, rm := range mods {
		rev := rm.Commit
		if rev == "" {
			rev = "local"
		}
		fmt.Printf("%-20s %-12.12s %s\n", rm.Name, rev, rm.Dir)
	}
}
