package nativedb

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"github.com/dave/jennifer/jen"
)

const (
	vmPath     = "github.com/chazu/surreal/vm"
	objectPath = "github.com/chazu/surreal/object"
)

// StubOptions controls stub generation.
type StubOptions struct {
	// Package is the Go package name of the generated file.
	Package string
	// All generates stubs for implemented natives too.
	All bool
}

// GenerateStubs renders a Go file declaring a stub routine for every
// native of db, a Register function that declares them on a native table,
// and a PropertyOffsets table of class property positions. Stubs fail with
// vm.ErrNativeNotImplemented until replaced.
func GenerateStubs(db *Database, opts StubOptions) ([]byte, error) {
	if opts.Package == "" {
		opts.Package = "natives"
	}
	natives := db.Natives
	if !opts.All {
		natives = db.Unimplemented()
	}

	f := jen.NewFile(opts.Package)
	f.HeaderComment("Code generated by surreal natives stubs. DO NOT EDIT.")
	if db.Game != "" {
		f.PackageComment(fmt.Sprintf("Package %s holds native stubs for %s %s.", opts.Package, db.Game, db.Version))
	}

	f.Comment("Register declares every stub on t.")
	f.Func().Id("Register").Params(jen.Id("t").Op("*").Qual(vmPath, "NativeTable")).BlockFunc(func(g *jen.Group) {
		for _, n := range natives {
			g.Id("t").Dot("Declare").Call(
				jen.Lit(n.Class),
				jen.Lit(n.Function),
				jen.Lit(len(n.Params)),
				jen.Id(stubName(n)),
			)
		}
	})

	for _, n := range natives {
		f.Line()
		f.Comment(stubDoc(n))
		f.Func().Id(stubName(n)).
			Params(jen.Id("c").Op("*").Qual(vmPath, "NativeCall")).
			Params(jen.Qual(objectPath, "Value"), jen.Error()).
			Block(
				jen.Return(
					jen.Qual(objectPath, "Value").Values(),
					jen.Qual("fmt", "Errorf").Call(jen.Lit("%w: "+n.Key()), jen.Qual(vmPath, "ErrNativeNotImplemented")),
				),
			)
	}

	f.Line()
	f.Comment("PropertyOffsets maps Class.Property to its storage offset.")
	f.Var().Id("PropertyOffsets").Op("=").Map(jen.String()).Int().Values(jen.DictFunc(func(d jen.Dict) {
		for _, p := range db.Properties {
			d[jen.Lit(p.Key())] = jen.Lit(p.Offset)
		}
	}))

	var buf bytes.Buffer
	if err := f.Render(&buf); err != nil {
		return nil, fmt.Errorf("nativedb: render stubs: %w", err)
	}
	return buf.Bytes(), nil
}

func stubName(n NativeEntry) string {
	return "native" + identifier(n.Class) + "_" + identifier(n.Function)
}

func identifier(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			return r
		}
		return '_'
	}, s)
}

func stubDoc(n NativeEntry) string {
	params := make([]string, len(n.Params))
	for i, p := range n.Params {
		s := p.Name + " " + p.Kind
		if p.Out {
			s = "out " + s
		}
		if p.Optional {
			s = "optional " + s
		}
		params[i] = s
	}
	doc := fmt.Sprintf("%s implements %s(%s)", stubName(n), n.Key(), strings.Join(params, ", "))
	if n.Return != "" {
		doc += " " + n.Return
	}
	if n.Latent {
		doc += ", latent"
	}
	return doc + "."
}
