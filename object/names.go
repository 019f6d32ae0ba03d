package object

import (
	"sync"

	"golang.org/x/text/cases"
)

// ---------------------------------------------------------------------------
// NameTable: Interned, case-insensitive names
// ---------------------------------------------------------------------------

// Name is an index into a NameTable. Two names are equal when their indices
// are equal; the table folds case on interning so "Actor" and "actor" share an
// index while the first spelling seen is kept for display.
type Name int32

// NameNone is always index 0 and spells "None".
const NameNone Name = 0

// NameTable interns strings to stable Name indices.
type NameTable struct {
	mu     sync.RWMutex
	fold   cases.Caser
	byKey  map[string]Name // folded spelling -> index
	byName []string        // index -> display spelling
}

// NewNameTable creates a table with NameNone pre-interned.
func NewNameTable() *NameTable {
	nt := &NameTable{
		fold:   cases.Fold(),
		byKey:  make(map[string]Name),
		byName: make([]string, 0, 1024),
	}
	nt.Intern("None")
	return nt
}

func (nt *NameTable) key(s string) string {
	// cases.Caser is not safe for concurrent use.
	return nt.fold.String(s)
}

// Intern returns the Name for s, adding it if needed.
func (nt *NameTable) Intern(s string) Name {
	nt.mu.Lock()
	defer nt.mu.Unlock()

	k := nt.key(s)
	if n, ok := nt.byKey[k]; ok {
		return n
	}
	n := Name(len(nt.byName))
	nt.byKey[k] = n
	nt.byName = append(nt.byName, s)
	return n
}

// Lookup returns the Name for s without interning it.
func (nt *NameTable) Lookup(s string) (Name, bool) {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	n, ok := nt.byKey[nt.key(s)]
	return n, ok
}

// String returns the display spelling of n, or "" if n is out of range.
func (nt *NameTable) String(n Name) string {
	nt.mu.RLock()
	defer nt.mu.RUnlock()
	if n < 0 || int(n) >= len(nt.byName) {
		return ""
	}
	return nt.byName[n]
}

// Len returns the number of interned names.
func (nt *NameTable) Len() int {
	nt.mu.RLock()
	defer nt.mu.RUnlock()
	return len(nt.byName)
}

// Equal reports whether s names n, ignoring case.
func (nt *NameTable) Equal(n Name, s string) bool {
	m, ok := nt.Lookup(s)
	return ok && m == n
}

// FoldName returns the case-folded spelling under which s is interned.
func FoldName(s string) string {
	return cases.Fold().String(s)
}
