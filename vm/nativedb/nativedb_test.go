package nativedb

import (
	"errors"
	"go/parser"
	"go/token"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/surreal/engine"
	"github.com/chazu/surreal/object"
	"github.com/chazu/surreal/pkgfile"
	"github.com/chazu/surreal/vm"
)

// gamePackage builds package Game: Pawn declares natives and packed bools,
// Hero extends it and keeps filling Pawn's open bool byte.
func gamePackage() *engine.PackageBuilder {
	b := engine.NewPackageBuilder("Game")
	pawn := b.Class("Pawn", pkgfile.NullRef)
	pawn.Property("Health", object.PropInt)
	pawn.Property("Alive", object.PropBool)
	pawn.Property("Dead", object.PropBool)
	pawn.Property("Speed", object.PropFloat)

	jump := pawn.Function("Jump", object.FuncFinal).Native(0x80)
	jump.Param("Height", object.PropFloat)
	jump.Return(object.PropBool)

	wait := pawn.Function("Wait", object.FuncFinal|object.FuncLatent).Native(0x81)
	wait.Param("Seconds", object.PropFloat)

	hero := b.Class("Hero", pawn.Ref)
	hero.Property("Brave", object.PropBool)
	hero.Property("Armor", object.PropInt, engine.WithDim(2))

	count := hero.Function("Count", object.FuncFinal|object.FuncIterator).Native(0x82)
	count.Param("Obj", object.PropObject, engine.WithClass(pawn.Ref), engine.WithFlags(object.PropOutParm))
	count.Param("Limit", object.PropInt, engine.WithFlags(object.PropOptionalParm))
	return b
}

func exportGame(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	if _, err := gamePackage().WriteFile(dir); err != nil {
		t.Fatalf("write package: %v", err)
	}
	m := engine.NewManager(engine.Config{SearchPaths: []string{dir}})
	if _, err := m.LoadPackage("Game"); err != nil {
		t.Fatalf("LoadPackage: %v", err)
	}
	table := vm.NewNativeTable()
	table.Declare("pawn", "JUMP", 1, func(c *vm.NativeCall) (object.Value, error) {
		return object.BoolValue(true), nil
	})
	return Export(m, table, "Demo", "1.0")
}

// ---------------------------------------------------------------------------
// Export tests
// ---------------------------------------------------------------------------

func TestExportNatives(t *testing.T) {
	db := exportGame(t)
	if db.Game != "Demo" || db.Version != "1.0" {
		t.Errorf("game = %q %q, want Demo 1.0", db.Game, db.Version)
	}

	var keys []string
	for _, n := range db.Natives {
		keys = append(keys, n.Key())
	}
	if got, want := strings.Join(keys, " "), "Hero.Count Pawn.Jump Pawn.Wait"; got != want {
		t.Fatalf("natives = %s, want %s", got, want)
	}

	count, jump, wait := db.Natives[0], db.Natives[1], db.Natives[2]
	if jump.Index != 0x80 || jump.Return != "BoolProperty" || !jump.Implemented {
		t.Errorf("Jump = %+v", jump)
	}
	if len(jump.Params) != 1 || jump.Params[0] != (Param{Name: "Height", Kind: "FloatProperty"}) {
		t.Errorf("Jump params = %+v", jump.Params)
	}
	if !wait.Latent || wait.Implemented || wait.Return != "" {
		t.Errorf("Wait = %+v", wait)
	}
	if !count.Iterator || len(count.Params) != 2 {
		t.Fatalf("Count = %+v", count)
	}
	if !count.Params[0].Out || count.Params[0].Kind != "ObjectProperty" {
		t.Errorf("Count.Obj = %+v", count.Params[0])
	}
	if !count.Params[1].Optional {
		t.Errorf("Count.Limit = %+v, want optional", count.Params[1])
	}

	missing := db.Unimplemented()
	if len(missing) != 2 {
		t.Errorf("unimplemented = %d, want 2", len(missing))
	}
}

func TestExportProperties(t *testing.T) {
	db := exportGame(t)

	tests := []struct {
		class, name string
		kind        string
		offset      int
		size        int
		mask        uint8
		dim         int
	}{
		{"Pawn", "Health", "IntProperty", 0, 4, 0, 0},
		{"Pawn", "Alive", "BoolProperty", 4, 1, 1, 0},
		{"Pawn", "Dead", "BoolProperty", 4, 1, 2, 0},
		{"Pawn", "Speed", "FloatProperty", 8, 4, 0, 0},
		{"Hero", "Brave", "BoolProperty", 4, 1, 4, 0},
		{"Hero", "Armor", "IntProperty", 12, 8, 0, 2},
	}
	for _, tt := range tests {
		p, ok := db.Property(tt.class, tt.name)
		if !ok {
			t.Errorf("%s.%s missing", tt.class, tt.name)
			continue
		}
		if p.Kind != tt.kind || p.Offset != tt.offset || p.Size != tt.size || p.Mask != tt.mask || p.Dim != tt.dim {
			t.Errorf("%s = %+v, want %s at %d size %d mask %d dim %d",
				p.Key(), p, tt.kind, tt.offset, tt.size, tt.mask, tt.dim)
		}
	}
	if _, ok := db.Property("hero", "health"); ok {
		t.Error("inherited property listed under subclass")
	}
	if len(db.Properties) != len(tests) {
		t.Errorf("properties = %d, want %d", len(db.Properties), len(tests))
	}
}

// ---------------------------------------------------------------------------
// Interchange tests
// ---------------------------------------------------------------------------

func TestSaveLoadKeepsFingerprint(t *testing.T) {
	db := exportGame(t)
	want, err := db.Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if len(want) != 64 {
		t.Errorf("fingerprint = %q, want 64 hex digits", want)
	}

	path := filepath.Join(t.TempDir(), "natives.json")
	if err := db.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, err := loaded.Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if got != want {
		t.Errorf("fingerprint after load = %s, want %s", got, want)
	}
	if len(loaded.Natives) != len(db.Natives) || loaded.Natives[1].Implemented != true {
		t.Errorf("loaded natives = %+v", loaded.Natives)
	}
}

func TestFingerprintCoversSurfaceOnly(t *testing.T) {
	db := exportGame(t)
	base, _ := db.Fingerprint()

	tests := []struct {
		name    string
		mutate  func(*Database)
		changes bool
	}{
		{"game", func(d *Database) { d.Game = "Other" }, false},
		{"version", func(d *Database) { d.Version = "2.0" }, false},
		{"implemented", func(d *Database) { d.Natives[2].Implemented = true }, false},
		{"param kind", func(d *Database) { d.Natives[1].Params[0].Kind = "IntProperty" }, true},
		{"offset", func(d *Database) { d.Properties[0].Offset += 4 }, true},
		{"latent", func(d *Database) { d.Natives[1].Latent = true }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := db.Marshal()
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			dup, err := Unmarshal(data)
			if err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			tt.mutate(dup)
			got, err := dup.Fingerprint()
			if err != nil {
				t.Fatalf("Fingerprint: %v", err)
			}
			if (got != base) != tt.changes {
				t.Errorf("fingerprint changed = %v, want %v", got != base, tt.changes)
			}
		})
	}

	if _, err := (&Database{}).Fingerprint(); !errors.Is(err, ErrEmptyDatabase) {
		t.Errorf("empty fingerprint err = %v, want ErrEmptyDatabase", err)
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	if _, err := Unmarshal([]byte("{natives")); err == nil {
		t.Error("Unmarshal accepted malformed JSON")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Load of missing file succeeded")
	}
}

// ---------------------------------------------------------------------------
// Stub generation tests
// ---------------------------------------------------------------------------

func TestGenerateStubs(t *testing.T) {
	db := exportGame(t)

	src, err := GenerateStubs(db, StubOptions{Package: "gamenatives"})
	if err != nil {
		t.Fatalf("GenerateStubs: %v", err)
	}
	file, err := parser.ParseFile(token.NewFileSet(), "stubs.go", src, parser.ParseComments)
	if err != nil {
		t.Fatalf("generated source does not parse: %v\n%s", err, src)
	}
	if file.Name.Name != "gamenatives" {
		t.Errorf("package = %s, want gamenatives", file.Name.Name)
	}

	out := string(src)
	for _, want := range []string{
		"DO NOT EDIT",
		"func Register(t *vm.NativeTable)",
		`t.Declare("Pawn", "Wait", 1, nativePawn_Wait)`,
		`t.Declare("Hero", "Count", 2, nativeHero_Count)`,
		"func nativePawn_Wait(c *vm.NativeCall) (object.Value, error)",
		"vm.ErrNativeNotImplemented",
		"PropertyOffsets",
		`"Hero.Armor"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("stubs missing %q", want)
		}
	}
	if strings.Contains(out, "nativePawn_Jump") {
		t.Error("implemented native got a stub")
	}

	all, err := GenerateStubs(db, StubOptions{All: true})
	if err != nil {
		t.Fatalf("GenerateStubs(All): %v", err)
	}
	if !strings.Contains(string(all), "package natives") || !strings.Contains(string(all), "nativePawn_Jump") {
		t.Error("All did not stub every native in the default package")
	}
}

func TestStubNameSanitizes(t *testing.T) {
	tests := []struct {
		class, function, want string
	}{
		{"Pawn", "Jump", "nativePawn_Jump"},
		{"Object", "Add_IntInt", "nativeObject_Add_IntInt"},
		{"Object", "Less-Equal", "nativeObject_Less_Equal"},
	}
	for _, tt := range tests {
		if got := stubName(NativeEntry{Class: tt.class, Function: tt.function}); got != tt.want {
			t.Errorf("stubName(%s.%s) = %q, want %q", tt.class, tt.function, got, tt.want)
		}
	}
}
