package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/chazu/surreal/vm/nativedb"
)

// handleNativesCommand processes the `surreal natives` subcommand.
func handleNativesCommand(env *environment, args []string) {
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "Usage: surreal natives <export|stubs> [options]\n")
		os.Exit(2)
	}
	switch args[0] {
	case "export":
		handleNativesExport(env, args[1:])
	case "stubs":
		handleNativesStubs(env, args[1:])
	default:
		fatalf("unknown natives command %q", args[0])
	}
}

// defaultDBPath is the manifest's natives file, or natives.json.
func (e *environment) defaultDBPath() string {
	if e.manifest != nil {
		if p := e.manifest.NativesPath(); p != "" {
			return p
		}
	}
	return "natives.json"
}

func handleNativesExport(env *environment, args []string) {
	fs := flag.NewFlagSet("natives export", flag.ExitOnError)
	out := fs.String("o", env.defaultDBPath(), "Output file")
	fs.Parse(args)

	m, x := env.open()
	pkgs, err := m.IndexSearchPaths(context.Background())
	if err != nil {
		fatalf("%v", err)
	}
	for _, p := range pkgs {
		if _, err := m.LoadPackage(p.Name); err != nil {
			fatalf("loading %s: %v", p.Name, err)
		}
	}

	game, version := env.game()
	db := nativedb.Export(m, x.Natives(), game, version)
	if err := db.Save(*out); err != nil {
		fatalf("%v", err)
	}
	fp, err := db.Fingerprint()
	if err != nil {
		fatalf("%v", err)
	}
	log.Info("wrote native database", "path", *out, "fingerprint", fp)
	fmt.Printf("%d natives (%d unimplemented), %d properties from %d packages\n",
		len(db.Natives), len(db.Unimplemented()), len(db.Properties), len(pkgs))
}

func handleNativesStubs(env *environment, args []string) {
	fs := flag.NewFlagSet("natives stubs", flag.ExitOnError)
	dbPath := fs.String("db", env.defaultDBPath(), "Native database to read")
	pkg := fs.String("pkg", "natives", "Go package name of the generated file")
	all := fs.Bool("all", false, "Also generate stubs for natives the host implements")
	out := fs.String("o", "", "Output file (default stdout)")
	fs.Parse(args)

	db, err := nativedb.Load(*dbPath)
	if err != nil {
		fatalf("%v", err)
	}
	src, err := nativedb.GenerateStubs(db, nativedb.StubOptions{Package: *pkg, All: *all})
	if err != nil {
		fatalf("%v", err)
	}
	if *out == "" {
		os.Stdout.Write(src)
		return
	}
	if err := os.WriteFile(*out, src, 0644); err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("Wrote %s\n", *out)
}
