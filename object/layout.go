package object

// ---------------------------------------------------------------------------
// Layout: Per-struct property offsets
// ---------------------------------------------------------------------------

// Layout is the computed shape of a struct's Property Storage: total size,
// alignment and every property (inherited ones first) with its offset
// assigned. A Layout is computed once per struct and shared by every instance.
type Layout struct {
	Size       int
	Align      int
	Properties []*Property

	// Missing marks the zero-size layout of an unlocatable class.
	Missing bool

	byName  map[Name]*Property
	members map[*Property]struct{}

	// The bool byte still accepting bits, carried into derived structs.
	boolOffset int
	boolBits   int
}

// Lookup finds a property by name. The boolean result is the only "not found"
// signal; an offset of zero is a valid position.
func (l *Layout) Lookup(name Name) (*Property, bool) {
	if l == nil {
		return nil, false
	}
	p, ok := l.byName[name]
	return p, ok
}

// Contains reports whether p was laid out as part of l.
func (l *Layout) Contains(p *Property) bool {
	if l == nil || p == nil {
		return false
	}
	_, ok := l.members[p]
	return ok
}

func alignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

func (l *Layout) place(p *Property) error {
	if p.Kind == PropBool {
		// Bool arrays are stored one byte per element so they stay addressable.
		if p.Dim() == 1 {
			if l.boolOffset < 0 || l.boolBits >= 8 {
				l.boolOffset = l.Size
				l.boolBits = 0
				l.Size++
			}
			p.Offset = l.boolOffset
			p.Mask = 1 << l.boolBits
			l.boolBits++
			l.add(p)
			return nil
		}
	}

	size, align, err := p.elementSize()
	if err != nil {
		return err
	}
	if p.Kind == PropBool {
		p.Mask = 1
	}
	off := alignUp(l.Size, align)
	p.Offset = off
	l.Size = off + size*p.Dim()
	if align > l.Align {
		l.Align = align
	}
	l.add(p)
	return nil
}

func (l *Layout) add(p *Property) {
	l.Properties = append(l.Properties, p)
	l.byName[p.Name()] = p
	l.members[p] = struct{}{}
}

// ComputeLayout returns the struct's layout, computing and caching it on
// first use. The parent chain is walked root first so inherited properties
// keep the offsets they have in the parent's own layout. Functions do not
// inherit the locals of the function they override.
//
// The first computation of a struct must happen on a single goroutine, as
// the Manager's loads do: a concurrent first call on the same struct sees the
// re-entry marker and reports ErrLayoutCycle. Cached layouts may be read
// from any goroutine.
func (s *Struct) ComputeLayout() (*Layout, error) {
	s.mu.Lock()
	if s.layout != nil {
		l := s.layout
		s.mu.Unlock()
		return l, nil
	}
	if s.computing {
		s.mu.Unlock()
		return nil, ErrLayoutCycle
	}
	s.computing = true
	s.mu.Unlock()

	l, err := s.buildLayout()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.computing = false
	if err != nil {
		return nil, err
	}
	s.layout = l
	return l, nil
}

func (s *Struct) buildLayout() (*Layout, error) {
	l := &Layout{
		Align:      1,
		byName:     make(map[Name]*Property),
		members:    make(map[*Property]struct{}),
		boolOffset: -1,
	}

	if s.Field == nil || s.Field.Kind != FieldFunction {
		if parent := s.Super(); parent != nil {
			pl, err := parent.ComputeLayout()
			if err != nil {
				return nil, err
			}
			l.Size = pl.Size
			l.Align = pl.Align
			l.boolOffset = pl.boolOffset
			l.boolBits = pl.boolBits
			l.Properties = append(l.Properties, pl.Properties...)
			for k, v := range pl.byName {
				l.byName[k] = v
			}
			for k := range pl.members {
				l.members[k] = struct{}{}
			}
		}
	}

	for f := s.Children; f != nil; f = f.Next {
		if f.Kind != FieldProperty {
			continue
		}
		if err := l.place(f.Property); err != nil {
			return nil, err
		}
	}

	if s.Field != nil && s.Field.Kind == FieldStruct {
		// Nested structs are laid out back to back in arrays and parents.
		l.Size = alignUp(l.Size, l.Align)
		l.boolOffset = -1
	}
	return l, nil
}

// Layout returns the cached layout, degrading to an empty one if the layout
// cannot be computed.
func (s *Struct) Layout() *Layout {
	l, err := s.ComputeLayout()
	if err != nil {
		return &Layout{Align: 1, boolOffset: -1, Missing: true}
	}
	return l
}

// FindProperty looks up a property by name across the struct and its parents.
func (s *Struct) FindProperty(name Name) (*Property, bool) {
	return s.Layout().Lookup(name)
}

// ResetLayout drops the cached layout. Loaders call it after relinking a
// struct's children.
func (s *Struct) ResetLayout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layout = nil
}
