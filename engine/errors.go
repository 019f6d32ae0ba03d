package engine

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Engine Error Types
// ---------------------------------------------------------------------------

var (
	ErrPackageNotFound = errors.New("package not found")
	ErrPackageInUse    = errors.New("package is imported by another loaded package")
	ErrOuterCycle      = errors.New("outer chain is cyclic")
	ErrSuperCycle      = errors.New("super chain is cyclic")
	ErrNotAClass       = errors.New("reference is not a class")
	ErrNoMatch         = errors.New("no export matches import")
	ErrNotTransient    = errors.New("only transient objects can be destroyed")
	ErrNoSuchObject    = errors.New("no such object")
	ErrTagMismatch     = errors.New("tag type does not match property kind")
)

// UnresolvedImportError reports an import that could not be matched. It is
// recoverable: the reference degrades to nil and loading continues.
type UnresolvedImportError struct {
	Package string // package holding the import
	Import  string // Package.Object path of the import
	Class   string // expected class name
	Err     error
}

func (e *UnresolvedImportError) Error() string {
	return fmt.Sprintf("%s: unresolved import %s (class %s): %v", e.Package, e.Import, e.Class, e.Err)
}

func (e *UnresolvedImportError) Unwrap() error { return e.Err }

// LoadError is a fatal failure loading one package: I/O errors, malformed
// files and cyclic Outer or Super chains.
type LoadError struct {
	Package string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Package, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// IsUnresolved reports whether err is (or wraps) an UnresolvedImportError.
func IsUnresolved(err error) bool {
	var ue *UnresolvedImportError
	return errors.As(err, &ue)
}

// ---------------------------------------------------------------------------
// Reporter: Error-reporting path for recoverable failures
// ---------------------------------------------------------------------------

// Reporter receives recoverable load failures, such as unresolved imports,
// in addition to them being logged.
type Reporter interface {
	Report(err error)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(error)

func (f ReporterFunc) Report(err error) { f(err) }
