package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/surreal/object"
	"github.com/chazu/surreal/pkgfile"
)

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

// enginePackage declares Actor with a spread of property kinds and Pawn
// deriving from it.
func enginePackage() *PackageBuilder {
	b := NewPackageBuilder("Engine")
	actor := b.Class("Actor", pkgfile.NullRef)
	actor.Property("Health", object.PropInt)
	actor.Property("bTicking", object.PropBool)
	actor.Property("Tag", object.PropName)
	vec := actor.Struct("Vector")
	vec.Property("X", object.PropFloat)
	vec.Property("Y", object.PropFloat)
	actor.Property("Location", object.PropStruct, WithStruct(vec.Ref))
	actor.Property("Inventory", object.PropArray, WithElem(object.PropInt))
	actor.Property("Owner", object.PropObject, WithClass(actor.Ref))
	actor.Property("Label", object.PropStr)
	tick := actor.Function("Tick", object.FuncEvent)
	tick.Param("DeltaTime", object.PropFloat)
	actor.Default(
		P("Health", IntVal(100)),
		P("bTicking", BoolVal(true)),
		P("Tag", NameVal("Actor")),
	)

	pawn := b.Class("Pawn", actor.Ref)
	pawn.Property("Speed", object.PropFloat)
	pawn.Default(P("Speed", FloatVal(2.5)))
	return b
}

// gamePackage has three exports and a class imported from Engine: Hero
// derives from Engine.Actor, Hero0 is an instance of Hero and Marker is an
// instance of the imported Actor class.
func gamePackage() *PackageBuilder {
	b := NewPackageBuilder("Game")
	actor := b.ImportClass("Engine", "Actor")
	hero := b.Class("Hero", actor)
	hero.Property("Mana", object.PropInt)
	hero.Default(P("Mana", IntVal(7)))

	hero0 := b.Object("Hero0", hero.Ref, P("Health", IntVal(50)))
	b.Object("Marker", actor,
		P("Label", StrVal("spawn point")),
		P("Location", StructVal("Vector", P("X", FloatVal(1)), P("Y", FloatVal(-2)))),
		P("Inventory", ArrayVal(IntVal(3), IntVal(4), IntVal(5))),
		P("Owner", ObjectVal(hero0)),
		P("bTicking", BoolVal(false)),
	)
	return b
}

func writePackages(t *testing.T, builders ...*PackageBuilder) string {
	t.Helper()
	dir := t.TempDir()
	for _, b := range builders {
		if _, err := b.WriteFile(dir); err != nil {
			t.Fatalf("write %s: %v", b.PackageName(), err)
		}
	}
	return dir
}

func newTestManager(t *testing.T, builders ...*PackageBuilder) (*Manager, *[]error) {
	t.Helper()
	dir := writePackages(t, builders...)
	m := NewManager(Config{SearchPaths: []string{dir}})
	var reported []error
	m.SetReporter(ReporterFunc(func(err error) { reported = append(reported, err) }))
	return m, &reported
}

func mustFind(t *testing.T, m *Manager, path string) *object.Object {
	t.Helper()
	o, err := m.Find(path)
	if err != nil {
		t.Fatalf("Find(%q): %v", path, err)
	}
	return o
}

func mustProp(t *testing.T, m *Manager, s *object.Struct, name string) *object.Property {
	t.Helper()
	p, ok := s.FindProperty(m.Names().Intern(name))
	if !ok {
		t.Fatalf("property %s not found", name)
	}
	return p
}

// ---------------------------------------------------------------------------
// Loading and resolution
// ---------------------------------------------------------------------------

func TestLoadResolvesImportedClassAcrossPackages(t *testing.T) {
	m, reported := newTestManager(t, enginePackage(), gamePackage())

	game, err := m.LoadPackage("Game")
	if err != nil {
		t.Fatalf("LoadPackage: %v", err)
	}
	if game.ExportCount() != 4 {
		t.Fatalf("exports = %d, want 4", game.ExportCount())
	}
	if m.Package("Engine") == nil {
		t.Fatal("Engine was not loaded as a dependency")
	}
	if len(*reported) != 0 {
		t.Fatalf("unexpected reports: %v", *reported)
	}
	if m.Pending() != 0 {
		t.Fatalf("delay-load queue not drained: %d", m.Pending())
	}

	actor, err := m.FindClass("Engine.Actor")
	if err != nil {
		t.Fatal(err)
	}
	hero, err := m.FindClass("Game.Hero")
	if err != nil {
		t.Fatal(err)
	}
	if hero.Parent() != actor {
		t.Fatalf("Hero parent = %v, want Engine.Actor", hero.Parent())
	}

	marker := mustFind(t, m, "Game.Marker")
	if marker.Class != actor {
		t.Fatalf("Marker class = %v, want Engine.Actor", marker.Class)
	}
	for _, o := range []*object.Object{marker, mustFind(t, m, "Game.Hero0")} {
		if o.Flags.Has(object.FlagNeedLoad) || o.Storage == nil {
			t.Fatalf("%s not populated", m.Path(o.Handle))
		}
	}
}

func TestLoadedStorageCombinesDefaultsAndTaggedValues(t *testing.T) {
	m, _ := newTestManager(t, enginePackage(), gamePackage())
	if _, err := m.LoadPackage("Game"); err != nil {
		t.Fatal(err)
	}
	actor, _ := m.FindClass("Engine.Actor")
	hero, _ := m.FindClass("Game.Hero")
	hero0 := mustFind(t, m, "Game.Hero0")
	marker := mustFind(t, m, "Game.Marker")

	health := mustProp(t, m, &actor.Struct, "Health")
	ticking := mustProp(t, m, &actor.Struct, "bTicking")
	tag := mustProp(t, m, &actor.Struct, "Tag")
	mana := mustProp(t, m, &hero.Struct, "Mana")

	tests := []struct {
		name string
		obj  *object.Object
		prop *object.Property
		want object.Value
	}{
		{"instance override", hero0, health, object.IntValue(50)},
		{"inherited default", hero0, ticking, object.BoolValue(true)},
		{"inherited name default", hero0, tag, object.NameValue(m.Names().Intern("Actor"))},
		{"own class default", hero0, mana, object.IntValue(7)},
		{"imported class default", marker, health, object.IntValue(100)},
		{"bool cleared by tag", marker, ticking, object.BoolValue(false)},
		{"string", marker, mustProp(t, m, &actor.Struct, "Label"), object.StrValue("spawn point")},
		{"object reference", marker, mustProp(t, m, &actor.Struct, "Owner"), object.ObjectValue(hero0.Handle)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.obj.Get(tt.prop, 0); !got.Equal(tt.want) {
				t.Errorf("got %s, want %s", got.Format(m.Names()), tt.want.Format(m.Names()))
			}
		})
	}

	loc := mustProp(t, m, &actor.Struct, "Location")
	v := marker.Get(loc, 0)
	if v.Kind != object.ValStruct {
		t.Fatalf("Location kind = %s", v.Kind)
	}
	x := mustProp(t, m, loc.Struct, "X")
	y := mustProp(t, m, loc.Struct, "Y")
	if v.Struct.Get(x, 0).AsFloat() != 1 || v.Struct.Get(y, 0).AsFloat() != -2 {
		t.Errorf("Location = (%v, %v), want (1, -2)", v.Struct.Get(x, 0).AsFloat(), v.Struct.Get(y, 0).AsFloat())
	}

	inv := marker.Get(mustProp(t, m, &actor.Struct, "Inventory"), 0)
	if len(inv.Elems) != 3 || inv.Elems[2].AsInt() != 5 {
		t.Errorf("Inventory = %v", inv.Elems)
	}
}

func TestClassDefaultsAreNotSharedWithInstances(t *testing.T) {
	m, _ := newTestManager(t, enginePackage())
	pawn, err := m.FindClass("Engine.Pawn")
	if err != nil {
		t.Fatal(err)
	}
	health := mustProp(t, m, &pawn.Struct, "Health")
	speed := mustProp(t, m, &pawn.Struct, "Speed")

	p1 := m.NewObject(pawn, object.NoHandle, "Pawn1")
	if p1.Get(health, 0).AsInt() != 100 || p1.Get(speed, 0).AsFloat() != 2.5 {
		t.Fatalf("new pawn = health %d speed %v", p1.Get(health, 0).AsInt(), p1.Get(speed, 0).AsFloat())
	}
	if err := p1.Set(health, 0, object.IntValue(1)); err != nil {
		t.Fatal(err)
	}
	if got := pawn.Defaults.Get(health, 0).AsInt(); got != 100 {
		t.Fatalf("class default changed to %d", got)
	}
	p2 := m.NewObject(pawn, object.NoHandle, "Pawn2")
	if got := p2.Get(health, 0).AsInt(); got != 100 {
		t.Fatalf("second pawn health = %d", got)
	}
	if p1.Handle.Package() != TransientPackage || p1.Handle == p2.Handle {
		t.Fatalf("bad transient handles %s %s", p1.Handle, p2.Handle)
	}
}

func TestInheritedLayoutKeepsParentOffsets(t *testing.T) {
	m, _ := newTestManager(t, enginePackage())
	actor, _ := m.FindClass("Engine.Actor")
	pawn, err := m.FindClass("Engine.Pawn")
	if err != nil {
		t.Fatal(err)
	}
	al := actor.Layout()
	pl := pawn.Layout()
	for _, p := range al.Properties {
		got, ok := pl.Lookup(p.Name())
		if !ok || got != p {
			t.Errorf("Pawn lost inherited property %s", m.Names().String(p.Name()))
		}
	}
	speed := mustProp(t, m, &pawn.Struct, "Speed")
	if speed.Offset < al.Size {
		t.Errorf("Speed offset %d overlaps Actor block of %d bytes", speed.Offset, al.Size)
	}
}

func TestFunctionMetadataIsLoaded(t *testing.T) {
	m, _ := newTestManager(t, enginePackage())
	o := mustFind(t, m, "Engine.Actor.Tick")
	if o.Field == nil || o.Field.Function == nil {
		t.Fatalf("Tick is not a function: %+v", o.Field)
	}
	fn := o.Field.Function
	if !fn.Flags.Has(object.FuncEvent) {
		t.Errorf("flags = %#x", fn.Flags)
	}
	params := fn.Params()
	if len(params) != 1 || m.Names().String(params[0].Name()) != "DeltaTime" {
		t.Fatalf("params = %v", params)
	}
	if params[0].Kind != object.PropFloat {
		t.Errorf("DeltaTime kind = %s", params[0].Kind)
	}
}

func TestImportResolutionIsMemoized(t *testing.T) {
	m, _ := newTestManager(t, enginePackage(), gamePackage())
	game, err := m.LoadPackage("Game")
	if err != nil {
		t.Fatal(err)
	}
	// Import 1 is Engine.Actor (import 0 is the Engine package itself).
	ref := pkgfile.ImportRef(1)
	first, err := m.Resolve(game, ref)
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.Resolve(game, ref)
	if err != nil {
		t.Fatal(err)
	}
	if first != second || first != mustFind(t, m, "Engine.Actor") {
		t.Fatalf("resolutions differ: %v %v", first, second)
	}
	if !game.imports[1].done {
		t.Fatal("import not memoized")
	}

	null, err := m.Resolve(game, pkgfile.NullRef)
	if null != nil || err != nil {
		t.Fatalf("null ref = %v, %v", null, err)
	}
}

func TestUnresolvedImportDegradesAndReportsOnce(t *testing.T) {
	b := NewPackageBuilder("Broken")
	ghost := b.ImportClass("Engine", "Ghost")
	b.Object("G1", ghost, P("Health", IntVal(5)))
	b.Object("G2", ghost)
	m, reported := newTestManager(t, enginePackage(), b)

	if _, err := m.LoadPackage("Broken"); err != nil {
		t.Fatalf("unresolved import must not fail the load: %v", err)
	}
	if len(*reported) != 1 {
		t.Fatalf("reports = %d, want 1: %v", len(*reported), *reported)
	}
	var ue *UnresolvedImportError
	if !errors.As((*reported)[0], &ue) || !errors.Is(ue, ErrNoMatch) {
		t.Fatalf("report = %v", (*reported)[0])
	}
	if ue.Import != "Engine.Ghost" {
		t.Errorf("Import = %q", ue.Import)
	}

	g1 := mustFind(t, m, "Broken.G1")
	g2 := mustFind(t, m, "Broken.G2")
	if !g1.Class.Missing() || g1.Class != g2.Class {
		t.Fatalf("expected shared missing-class placeholder, got %v / %v", g1.Class, g2.Class)
	}
	if g1.Storage == nil || g1.Class.Layout().Size != 0 {
		t.Fatalf("missing class storage = %v", g1.Storage)
	}
}

func TestMissingPackageIsRecoverable(t *testing.T) {
	b := NewPackageBuilder("Orphan")
	thing := b.ImportClass("Nowhere", "Thing")
	b.Object("T", thing)
	m, reported := newTestManager(t, b)

	if _, err := m.LoadPackage("Orphan"); err != nil {
		t.Fatal(err)
	}
	if len(*reported) == 0 || !errors.Is((*reported)[0], ErrPackageNotFound) {
		t.Fatalf("reports = %v", *reported)
	}
}

func TestCyclesAreFatal(t *testing.T) {
	outer := NewPackageBuilder("OuterLoop")
	outer.Raw(pkgfile.Export{Outer: pkgfile.ExportRef(1), ObjectName: outer.Name("A")})
	outer.Raw(pkgfile.Export{Outer: pkgfile.ExportRef(0), ObjectName: outer.Name("B")})

	self := NewPackageBuilder("SelfOuter")
	self.Raw(pkgfile.Export{Outer: pkgfile.ExportRef(0), ObjectName: self.Name("A")})

	super := NewPackageBuilder("SuperLoop")
	a := super.Class("A", pkgfile.ExportRef(1))
	super.Class("B", a.Ref)

	tests := []struct {
		pkg  string
		want error
	}{
		{"OuterLoop", ErrOuterCycle},
		{"SelfOuter", ErrOuterCycle},
		{"SuperLoop", ErrSuperCycle},
	}
	m, _ := newTestManager(t, outer, self, super)
	for _, tt := range tests {
		t.Run(tt.pkg, func(t *testing.T) {
			_, err := m.LoadPackage(tt.pkg)
			var le *LoadError
			if !errors.As(err, &le) || !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want LoadError wrapping %v", err, tt.want)
			}
			if m.Package(tt.pkg) != nil {
				t.Fatal("failed package stayed registered")
			}
		})
	}
}

func TestLoadPackageNotFound(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.LoadPackage("Nothing")
	if !errors.Is(err, ErrPackageNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestOldFileVersionsLoad(t *testing.T) {
	for _, v := range []uint16{pkgfile.MinVersion, 63, pkgfile.VersionCompactNames, pkgfile.MaxVersion} {
		eng := enginePackage().SetVersion(v)
		m, _ := newTestManager(t, eng)
		pawn, err := m.FindClass("Engine.Pawn")
		if err != nil {
			t.Fatalf("version %d: %v", v, err)
		}
		if got := pawn.Defaults.Get(mustProp(t, m, &pawn.Struct, "Health"), 0).AsInt(); got != 100 {
			t.Errorf("version %d: Health = %d", v, got)
		}
	}
}

// ---------------------------------------------------------------------------
// Lifetime
// ---------------------------------------------------------------------------

func TestUnloadRefusesWhileImported(t *testing.T) {
	m, _ := newTestManager(t, enginePackage(), gamePackage())
	if _, err := m.LoadPackage("Game"); err != nil {
		t.Fatal(err)
	}
	actor := mustFind(t, m, "Engine.Actor")

	if err := m.Unload("Engine"); !errors.Is(err, ErrPackageInUse) {
		t.Fatalf("Unload(Engine) = %v, want ErrPackageInUse", err)
	}

	var released []string
	m.OnRelease(func(r Release) {
		released = append(released, r.Package.String())
	})
	if err := m.Unload("Game"); err != nil {
		t.Fatal(err)
	}
	if err := m.Unload("Engine"); err != nil {
		t.Fatal(err)
	}
	if len(released) != 2 || released[0] != "Game" || released[1] != "Engine" {
		t.Fatalf("released = %v", released)
	}
	if m.Object(actor.Handle) != nil {
		t.Fatal("handle into unloaded package still resolves")
	}

	// Reloading assigns a fresh package index; old handles stay dead.
	if _, err := m.LoadPackage("Engine"); err != nil {
		t.Fatal(err)
	}
	if m.Object(actor.Handle) != nil {
		t.Fatal("stale handle aliased a reloaded object")
	}
}

func TestUnloadDestroysInstancesOfItsClasses(t *testing.T) {
	m, _ := newTestManager(t, enginePackage())
	pawn, err := m.FindClass("Engine.Pawn")
	if err != nil {
		t.Fatal(err)
	}
	inst := m.NewObject(pawn, object.NoHandle, "Pawn0")
	loose := m.NewObject(nil, object.NoHandle, "Loose")

	var destroyed []object.Handle
	m.OnRelease(func(r Release) {
		if r.Package == nil {
			destroyed = append(destroyed, r.Handle)
		}
	})
	if err := m.Unload("Engine"); err != nil {
		t.Fatal(err)
	}
	if len(destroyed) != 1 || destroyed[0] != inst.Handle {
		t.Errorf("destroyed = %v, want [%s]", destroyed, inst.Handle)
	}
	if m.Object(inst.Handle) != nil || !inst.Destroyed() {
		t.Error("instance of an unloaded class still resolves")
	}
	if m.Object(loose.Handle) == nil {
		t.Error("unrelated transient object was destroyed")
	}
}

func TestDestroyOnlyTransientObjects(t *testing.T) {
	m, _ := newTestManager(t, enginePackage())
	pawn, err := m.FindClass("Engine.Pawn")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Destroy(pawn.Field.Object.Handle); !errors.Is(err, ErrNotTransient) {
		t.Fatalf("Destroy(class) = %v", err)
	}

	o := m.NewObject(pawn, object.NoHandle, "Doomed")
	var dying bool
	m.OnRelease(func(r Release) { dying = r.Dying(o.Handle) })
	if err := m.Destroy(o.Handle); err != nil {
		t.Fatal(err)
	}
	if !dying {
		t.Fatal("release hook did not see the destroyed handle")
	}
	if m.Object(o.Handle) != nil {
		t.Fatal("destroyed object still resolves")
	}
	if err := m.Destroy(o.Handle); !errors.Is(err, ErrNoSuchObject) {
		t.Fatalf("second Destroy = %v", err)
	}
}

func TestLoadHooksRunPerPackage(t *testing.T) {
	m, _ := newTestManager(t, enginePackage(), gamePackage())
	var loaded []string
	m.OnLoad(func(p *Package) { loaded = append(loaded, p.String()) })
	if _, err := m.LoadPackage("Game"); err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 2 || loaded[0] != "Engine" || loaded[1] != "Game" {
		t.Fatalf("loaded = %v", loaded)
	}
}

func TestStreamPoolIsBounded(t *testing.T) {
	m, _ := newTestManager(t, enginePackage(), gamePackage())
	game, err := m.LoadPackage("Game")
	if err != nil {
		t.Fatal(err)
	}
	if n := game.OpenStreams(); n < 0 || n > m.Config().StreamsPerPackage {
		t.Fatalf("open streams = %d", n)
	}
	if err := m.Unload("Game"); err != nil {
		t.Fatal(err)
	}
	if n := game.OpenStreams(); n != 0 {
		t.Fatalf("streams left open after unload: %d", n)
	}
}

// ---------------------------------------------------------------------------
// Search paths
// ---------------------------------------------------------------------------

func TestIndexSearchPathsFirstPathWins(t *testing.T) {
	first := writePackages(t, enginePackage())
	other := NewPackageBuilder("Engine")
	other.Class("Other", pkgfile.NullRef)
	second := writePackages(t, other, gamePackage())
	if err := os.WriteFile(filepath.Join(first, "Junk.u"), []byte("not a package"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(first, "readme.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(Config{SearchPaths: []string{first, second}})
	found, err := m.IndexSearchPaths(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 {
		t.Fatalf("indexed %v, want Engine and Game", found)
	}
	if found[0].Name != "Engine" || filepath.Dir(found[0].Path) != first {
		t.Fatalf("Engine indexed from %s", found[0].Path)
	}
	if found[1].Name != "Game" || found[1].Version != pkgfile.DefaultVersion {
		t.Fatalf("Game entry = %+v", found[1])
	}

	if _, err := m.FindClass("Engine.Actor"); err != nil {
		t.Fatalf("Engine from first path: %v", err)
	}
	if _, err := m.Find("Engine.Other"); !errors.Is(err, ErrNoSuchObject) {
		t.Fatalf("shadowed package leaked: %v", err)
	}
}

func TestIntrinsicMetaClasses(t *testing.T) {
	m := NewManager(Config{})
	for _, name := range []string{MetaClass, MetaFunction, MetaPackage, "IntProperty", "MapProperty"} {
		c := m.Intrinsic(name)
		if c == nil {
			t.Fatalf("intrinsic %s missing", name)
		}
		if !c.ClassFlags.Has(object.ClassIntrinsic) {
			t.Errorf("%s flags = %#x", name, c.ClassFlags)
		}
		if c.Field.Object.Class != m.Intrinsic(MetaClass) {
			t.Errorf("%s is not an instance of Class", name)
		}
	}
	if m.Intrinsic("Actor") != nil {
		t.Error("unexpected intrinsic Actor")
	}
}
