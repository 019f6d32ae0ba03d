package vm

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/chazu/surreal/object"
)

// ---------------------------------------------------------------------------
// Built-in natives
// ---------------------------------------------------------------------------

// Classes the built-in natives are declared on.
const (
	ClassObject = "Object"
	ClassActor  = "Actor"
)

// RegisterBuiltins declares the operators and core routines every game's
// Object and Actor classes rely on.
func RegisterBuiltins(t *NativeTable) {
	registerIntOperators(t)
	registerFloatOperators(t)
	registerBoolOperators(t)
	registerStringNatives(t)
	registerObjectNatives(t)
	registerActorNatives(t)
}

func intOp(fn func(a, b int32) object.Value) NativeFunc {
	return func(c *NativeCall) (object.Value, error) {
		return fn(c.Int(0), c.Int(1)), nil
	}
}

func floatOp(fn func(a, b float32) object.Value) NativeFunc {
	return func(c *NativeCall) (object.Value, error) {
		return fn(c.Float(0), c.Float(1)), nil
	}
}

func registerIntOperators(t *NativeTable) {
	t.Declare(ClassObject, "Add_IntInt", 2, intOp(func(a, b int32) object.Value { return object.IntValue(a + b) }))
	t.Declare(ClassObject, "Subtract_IntInt", 2, intOp(func(a, b int32) object.Value { return object.IntValue(a - b) }))
	t.Declare(ClassObject, "Multiply_IntInt", 2, intOp(func(a, b int32) object.Value { return object.IntValue(a * b) }))
	t.Declare(ClassObject, "Divide_IntInt", 2, func(c *NativeCall) (object.Value, error) {
		b := c.Int(1)
		if b == 0 {
			return object.Value{}, ErrDivideByZero
		}
		return object.IntValue(c.Int(0) / b), nil
	})
	t.Declare(ClassObject, "Less_IntInt", 2, intOp(func(a, b int32) object.Value { return object.BoolValue(a < b) }))
	t.Declare(ClassObject, "Greater_IntInt", 2, intOp(func(a, b int32) object.Value { return object.BoolValue(a > b) }))
	t.Declare(ClassObject, "LessEqual_IntInt", 2, intOp(func(a, b int32) object.Value { return object.BoolValue(a <= b) }))
	t.Declare(ClassObject, "GreaterEqual_IntInt", 2, intOp(func(a, b int32) object.Value { return object.BoolValue(a >= b) }))
	t.Declare(ClassObject, "EqualEqual_IntInt", 2, intOp(func(a, b int32) object.Value { return object.BoolValue(a == b) }))
	t.Declare(ClassObject, "NotEqual_IntInt", 2, intOp(func(a, b int32) object.Value { return object.BoolValue(a != b) }))

	t.Declare(ClassObject, "Subtract_PreInt", 1, func(c *NativeCall) (object.Value, error) {
		return object.IntValue(-c.Int(0)), nil
	})
	// ++A: A is an out parameter.
	t.Declare(ClassObject, "AddAdd_PreInt", 1, func(c *NativeCall) (object.Value, error) {
		v := object.IntValue(c.Int(0) + 1)
		c.SetOut(0, v)
		return v, nil
	})
	// A += B
	t.Declare(ClassObject, "AddEqual_IntInt", 2, func(c *NativeCall) (object.Value, error) {
		v := object.IntValue(c.Int(0) + c.Int(1))
		c.SetOut(0, v)
		return v, nil
	})
}

func registerFloatOperators(t *NativeTable) {
	t.Declare(ClassObject, "Add_FloatFloat", 2, floatOp(func(a, b float32) object.Value { return object.FloatValue(a + b) }))
	t.Declare(ClassObject, "Subtract_FloatFloat", 2, floatOp(func(a, b float32) object.Value { return object.FloatValue(a - b) }))
	t.Declare(ClassObject, "Multiply_FloatFloat", 2, floatOp(func(a, b float32) object.Value { return object.FloatValue(a * b) }))
	t.Declare(ClassObject, "Divide_FloatFloat", 2, func(c *NativeCall) (object.Value, error) {
		b := c.Float(1)
		if b == 0 {
			return object.Value{}, ErrDivideByZero
		}
		return object.FloatValue(c.Float(0) / b), nil
	})
	t.Declare(ClassObject, "Less_FloatFloat", 2, floatOp(func(a, b float32) object.Value { return object.BoolValue(a < b) }))
	t.Declare(ClassObject, "Greater_FloatFloat", 2, floatOp(func(a, b float32) object.Value { return object.BoolValue(a > b) }))
	t.Declare(ClassObject, "EqualEqual_FloatFloat", 2, floatOp(func(a, b float32) object.Value { return object.BoolValue(a == b) }))
}

func registerBoolOperators(t *NativeTable) {
	t.Declare(ClassObject, "Not_PreBool", 1, func(c *NativeCall) (object.Value, error) {
		return object.BoolValue(!c.Bool(0)), nil
	})
	// B is passed lazily and only evaluated when A does not decide.
	t.Declare(ClassObject, "AndAnd_BoolBool", 2, func(c *NativeCall) (object.Value, error) {
		return object.BoolValue(c.Bool(0) && c.Bool(1)), nil
	})
	t.Declare(ClassObject, "OrOr_BoolBool", 2, func(c *NativeCall) (object.Value, error) {
		return object.BoolValue(c.Bool(0) || c.Bool(1)), nil
	})
	t.Declare(ClassObject, "EqualEqual_BoolBool", 2, func(c *NativeCall) (object.Value, error) {
		return object.BoolValue(c.Bool(0) == c.Bool(1)), nil
	})
	t.Declare(ClassObject, "NotEqual_BoolBool", 2, func(c *NativeCall) (object.Value, error) {
		return object.BoolValue(c.Bool(0) != c.Bool(1)), nil
	})
}

func registerStringNatives(t *NativeTable) {
	t.Declare(ClassObject, "Concat_StrStr", 2, func(c *NativeCall) (object.Value, error) {
		return object.StrValue(c.Str(0) + c.Str(1)), nil
	})
	t.Declare(ClassObject, "EqualEqual_StrStr", 2, func(c *NativeCall) (object.Value, error) {
		return object.BoolValue(c.Str(0) == c.Str(1)), nil
	})
	t.Declare(ClassObject, "Len", 1, func(c *NativeCall) (object.Value, error) {
		return object.IntValue(int32(utf8.RuneCountInString(c.Str(0)))), nil
	})
	t.Declare(ClassObject, "Caps", 1, func(c *NativeCall) (object.Value, error) {
		return object.StrValue(strings.ToUpper(c.Str(0))), nil
	})
	t.Declare(ClassObject, "Left", 2, func(c *NativeCall) (object.Value, error) {
		s := []rune(c.Str(0))
		n := int(c.Int(1))
		n = min(max(n, 0), len(s))
		return object.StrValue(string(s[:n])), nil
	})
	t.Declare(ClassObject, "EqualEqual_NameName", 2, func(c *NativeCall) (object.Value, error) {
		return object.BoolValue(c.Name(0) == c.Name(1)), nil
	})
}

func registerObjectNatives(t *NativeTable) {
	t.Declare(ClassObject, "EqualEqual_ObjectObject", 2, func(c *NativeCall) (object.Value, error) {
		return object.BoolValue(c.Arg(0).Handle == c.Arg(1).Handle), nil
	})
	t.Declare(ClassObject, "NotEqual_ObjectObject", 2, func(c *NativeCall) (object.Value, error) {
		return object.BoolValue(c.Arg(0).Handle != c.Arg(1).Handle), nil
	})
	t.Declare(ClassObject, "IsA", 1, func(c *NativeCall) (object.Value, error) {
		name := c.Name(0)
		for cl := selfClass(c); cl != nil; cl = cl.Parent() {
			if cl.Name() == name {
				return object.BoolValue(true), nil
			}
		}
		return object.BoolValue(false), nil
	})
	t.Declare(ClassObject, "Log", 1, func(c *NativeCall) (object.Value, error) {
		log.Info("script log", "object", c.x.objectName(c.Self), "message", c.Str(0))
		return object.Value{}, nil
	})
	t.Declare(ClassObject, "GotoState", 2, func(c *NativeCall) (object.Value, error) {
		if c.Self == nil {
			return object.Value{}, nil
		}
		return object.Value{}, c.x.sched.GotoState(c.Self, c.Name(0), c.Name(1))
	})
	t.Declare(ClassObject, "IsInState", 1, func(c *NativeCall) (object.Value, error) {
		name := c.Name(0)
		if c.Self != nil {
			for st := c.Self.State; st != nil; st = superState(st) {
				if st.Name() == name {
					return object.BoolValue(true), nil
				}
			}
		}
		return object.BoolValue(false), nil
	})
	t.Declare(ClassObject, "GetStateName", 0, func(c *NativeCall) (object.Value, error) {
		if c.Self == nil || c.Self.State == nil {
			return object.NameValue(object.NameNone), nil
		}
		return object.NameValue(c.Self.State.Name()), nil
	})
	// foreach AllObjects(class BaseClass, out Object Obj)
	t.Declare(ClassObject, "AllObjects", 2, func(c *NativeCall) (object.Value, error) {
		base := c.Class(0)
		var elems []object.Value
		for _, p := range c.x.m.Packages() {
			p.Objects(func(o *object.Object) bool {
				if o.Field == nil && !o.Destroyed() && (base == nil || o.IsA(base)) {
					elems = append(elems, object.ObjectValue(o.Handle))
				}
				return true
			})
		}
		sort.Slice(elems, func(i, j int) bool { return elems[i].Handle < elems[j].Handle })
		return object.ArrayValue(elems), nil
	})
}

func selfClass(c *NativeCall) *object.Class {
	if c.Self == nil {
		return nil
	}
	return c.Self.Class
}

func registerActorNatives(t *NativeTable) {
	// Sleep is latent: state code resumes after Seconds of tick time.
	t.Declare(ClassActor, "Sleep", 1, func(c *NativeCall) (object.Value, error) {
		return object.Value{}, c.Suspend(&sleepWait{remaining: c.Float(0)})
	})
	t.Declare(ClassActor, "Spawn", 1, func(c *NativeCall) (object.Value, error) {
		class := c.Class(0)
		if class == nil {
			log.Warning("spawn of invalid class", "object", c.x.objectName(c.Self))
			return object.ObjectValue(object.NoHandle), nil
		}
		outer := object.NoHandle
		if c.Self != nil {
			outer = c.Self.Handle
		}
		return object.ObjectValue(c.x.spawn(class, outer, object.NameNone).Handle), nil
	})
	t.Declare(ClassActor, "Destroy", 0, func(c *NativeCall) (object.Value, error) {
		if c.Self == nil {
			return object.BoolValue(false), nil
		}
		if err := c.x.m.Destroy(c.Self.Handle); err != nil {
			log.Warning("destroy failed", "object", c.x.objectName(c.Self), "error", err.Error())
			return object.BoolValue(false), nil
		}
		return object.BoolValue(true), nil
	})
}
