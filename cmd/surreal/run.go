package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chazu/surreal/engine"
	"github.com/chazu/surreal/object"
	"github.com/chazu/surreal/vm"
)

// handleRunCommand processes the `surreal run` subcommand: it spawns an
// instance of a class, optionally calls one function on it and then ticks
// its state code.
func handleRunCommand(env *environment, args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	ticks := fs.Int("ticks", 0, "Number of scheduler ticks to run")
	state := fs.String("state", "", "State to enter before ticking (default: the class auto state)")
	label := fs.String("label", "", "Label to start the state at (default: Begin)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: surreal run [options] <Package.Class> [function [args...]]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  surreal run Game.Pawn Jump 120.0\n")
		fmt.Fprintf(os.Stderr, "  surreal run -ticks 100 -state Patrol Game.Guard\n")
	}
	fs.Parse(args)
	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(2)
	}

	opts := runOptions{
		class: fs.Arg(0),
		ticks: *ticks,
		state: *state,
		label: *label,
	}
	if fs.NArg() > 1 {
		opts.function = fs.Arg(1)
		opts.args = fs.Args()[2:]
	}
	err := runClass(env, opts, os.Stdout, os.Stderr)
	if errors.Is(err, errScriptFault) {
		os.Exit(1)
	}
	if err != nil {
		fatalf("%v", err)
	}
}

// errScriptFault reports that a call or a tick faulted. The faults have
// already been printed.
var errScriptFault = errors.New("script faulted")

type runOptions struct {
	class    string
	function string
	args     []string
	ticks    int
	state    string
	label    string
}

// runClass spawns an instance of o.class, calls o.function on it and ticks
// its state code. Return values go to stdout, faults to stderr.
func runClass(env *environment, o runOptions, stdout, stderr io.Writer) error {
	m, x := env.open()
	class, err := m.FindClass(o.class)
	if err != nil {
		return err
	}
	names := m.Names()
	obj := m.NewObject(class, object.NoHandle, names.String(class.Name())+"0")
	defer m.Destroy(obj.Handle)

	if o.function != "" {
		fn := class.FindFunction(names.Intern(o.function))
		if fn == nil {
			return fmt.Errorf("%s has no function %s", o.class, o.function)
		}
		callArgs, err := parseArgs(m, fn, o.args)
		if err != nil {
			return fmt.Errorf("%s: %w", o.function, err)
		}
		v, err := x.Call(obj, o.function, callArgs...)
		if err != nil {
			printFault(stderr, err)
			return errScriptFault
		}
		if fn.ReturnValue() != nil {
			fmt.Fprintln(stdout, v.Format(names))
		}
	}

	if o.ticks <= 0 {
		return nil
	}
	switch {
	case o.state != "":
		err = x.GotoState(obj, o.state, o.label)
	case obj.State != nil:
		err = x.Scheduler().Add(obj)
	default:
		err = fmt.Errorf("%s has no state code", o.class)
	}
	if err != nil {
		return err
	}

	dt := float32(1 / env.vmConfig().TickRate)
	failed := false
	for i := 0; i < o.ticks; i++ {
		for _, f := range x.Scheduler().Tick(dt) {
			printFault(stderr, f)
			failed = true
		}
		if x.Scheduler().Len() == 0 {
			log.Info("state code finished", "ticks", i+1)
			break
		}
	}
	if failed {
		return errScriptFault
	}
	return nil
}

func printFault(w io.Writer, err error) {
	if f, ok := vm.AsFault(err); ok {
		fmt.Fprintf(w, "Error: %s", f.Backtrace())
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}

// parseArgs converts command line words to values of fn's parameter kinds.
func parseArgs(m *engine.Manager, fn *object.Function, words []string) ([]object.Value, error) {
	params := fn.Params()
	if len(words) > len(params) {
		return nil, fmt.Errorf("takes %d arguments, got %d", len(params), len(words))
	}
	out := make([]object.Value, len(words))
	for i, w := range words {
		v, err := parseValue(m, params[i], w)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		out[i] = v
	}
	return out, nil
}

var errUnsupportedArg = errors.New("parameter kind cannot be given on the command line")

func parseValue(m *engine.Manager, p *object.Property, w string) (object.Value, error) {
	switch p.Kind {
	case object.PropByte:
		n, err := strconv.ParseUint(w, 0, 8)
		return object.ByteValue(uint8(n)), err
	case object.PropInt:
		n, err := strconv.ParseInt(w, 0, 32)
		return object.IntValue(int32(n)), err
	case object.PropFloat:
		f, err := strconv.ParseFloat(w, 32)
		return object.FloatValue(float32(f)), err
	case object.PropBool:
		b, err := strconv.ParseBool(w)
		return object.BoolValue(b), err
	case object.PropName:
		return object.NameValue(m.Names().Intern(w)), nil
	case object.PropStr:
		return object.StrValue(w), nil
	case object.PropObject, object.PropClass:
		h := object.NoHandle
		if !strings.EqualFold(w, "None") {
			o, err := m.Find(w)
			if err != nil {
				return object.Value{}, err
			}
			h = o.Handle
		}
		if p.Kind == object.PropClass {
			return object.ClassValue(h), nil
		}
		return object.ObjectValue(h), nil
	}
	return object.Value{}, fmt.Errorf("%w: %s", errUnsupportedArg, p.Kind)
}
