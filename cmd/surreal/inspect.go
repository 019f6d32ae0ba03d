package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/chazu/surreal/object"
	"github.com/chazu/surreal/pkgfile"
	"github.com/chazu/surreal/vm"
)

func readSummary(args []string, command string) *pkgfile.Summary {
	if len(args) != 1 {
		fatalf("usage: surreal %s <file>", command)
	}
	s, err := pkgfile.ReadFile(args[0])
	if err != nil {
		fatalf("%v", err)
	}
	return s
}

// refString renders a reference using only the summary's tables.
func refString(s *pkgfile.Summary, r pkgfile.Ref) string {
	switch {
	case r.IsNull():
		return "None"
	case r.IsExport():
		return s.ExportName(r.ExportIndex())
	default:
		i := r.ImportIndex()
		return s.ImportPackage(i) + "." + s.ImportName(i)
	}
}

// handleInfoCommand processes the `surreal info` subcommand.
func handleInfoCommand(args []string) {
	s := readSummary(args, "info")
	h := s.Header
	fmt.Printf("Version:   %d (licensee %d)\n", h.FileVersion, h.LicenseeVersion)
	fmt.Printf("Flags:     0x%08X\n", h.Flags)
	fmt.Printf("GUID:      %s\n", h.GUID)
	fmt.Printf("Size:      %d bytes\n", s.Size)
	fmt.Printf("Names:     %d at 0x%X\n", h.NameCount, h.NameOffset)
	fmt.Printf("Exports:   %d at 0x%X\n", h.ExportCount, h.ExportOffset)
	fmt.Printf("Imports:   %d at 0x%X\n", h.ImportCount, h.ImportOffset)
	if len(h.Generations) > 0 {
		fmt.Printf("Generations:\n")
		for i, g := range h.Generations {
			fmt.Printf("  %d: %d exports, %d names\n", i, g.ExportCount, g.NameCount)
		}
	}
}

// handleExportsCommand processes the `surreal exports` subcommand.
func handleExportsCommand(args []string) {
	s := readSummary(args, "exports")
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tNAME\tCLASS\tSUPER\tOUTER\tFLAGS\tSIZE\tOFFSET")
	for i, e := range s.Exports {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t0x%08X\t%d\t0x%X\n",
			i+1, s.ExportName(i), refString(s, e.Class), refString(s, e.Super), refString(s, e.Outer),
			e.Flags, e.SerialSize, e.SerialOffset)
	}
	w.Flush()
}

// handleImportsCommand processes the `surreal imports` subcommand.
func handleImportsCommand(args []string) {
	s := readSummary(args, "imports")
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tNAME\tCLASS\tPACKAGE")
	for i, imp := range s.Imports {
		fmt.Fprintf(w, "-%d\t%s\t%s.%s\t%s\n",
			i+1, s.ImportName(i), s.Name(imp.ClassPackage), s.Name(imp.ClassName), s.ImportPackage(i))
	}
	w.Flush()
}

// handlePackagesCommand processes the `surreal packages` subcommand.
func handlePackagesCommand(env *environment) {
	m, _ := env.open()
	pkgs, err := m.IndexSearchPaths(context.Background())
	if err != nil {
		fatalf("%v", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION\tPATH")
	for _, p := range pkgs {
		fmt.Fprintf(w, "%s\t%d\t%s\n", p.Name, p.Version, p.Path)
	}
	w.Flush()
}

// handleDumpCommand processes the `surreal dump` subcommand.
func handleDumpCommand(env *environment, args []string) {
	if len(args) != 1 {
		fatalf("usage: surreal dump <Package.Object>")
	}
	m, x := env.open()
	o, err := m.Find(args[0])
	if err != nil {
		fatalf("%v", err)
	}
	names := m.Names()

	fmt.Printf("%s\n", m.Path(o.Handle))
	if o.Class != nil {
		fmt.Printf("  class: %s\n", names.String(o.Class.Name()))
	}
	fmt.Printf("  flags: 0x%08X\n", uint32(o.Flags))

	target := o
	if o.Field != nil {
		fmt.Printf("  kind:  %s\n", o.Field.Kind)
		if c := o.Field.Class; c != nil && c.Defaults != nil {
			// Show the class defaults through a throwaway instance.
			target = m.NewObject(c, object.NoHandle, "Defaults")
			defer m.Destroy(target.Handle)
		}
	}
	if target.Storage == nil {
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, v := range x.DescribeObject(target) {
		fmt.Fprintf(w, "  %s\t%s\t%s\n", v.Name, v.Type, v.Value)
	}
	w.Flush()
}

// handleDisasmCommand processes the `surreal disasm` subcommand.
func handleDisasmCommand(env *environment, args []string) {
	if len(args) != 1 {
		fatalf("usage: surreal disasm <Package.Class.Function>")
	}
	m, _ := env.open()
	o, err := m.Find(args[0])
	if err != nil {
		fatalf("%v", err)
	}
	if o.Field == nil || o.Field.Struct == nil {
		fatalf("%s has no script", args[0])
	}
	st := o.Field.Struct
	if len(st.Script) == 0 {
		fmt.Printf("%s: no script code\n", args[0])
		return
	}
	fmt.Printf("%s (%d bytes, line %d)\n", m.Path(o.Handle), len(st.Script), st.Line)
	fmt.Print(vm.Disassemble(st.Script, m.PackageOf(o.Handle)))
}
