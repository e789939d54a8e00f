package vm

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Variadic marks a native function without an upper argument bound.
const Variadic = -1

// OutputSink receives lines written by print().
type OutputSink interface {
	Print(line string)
}

// lineBuffer collects printed lines for the Result.
type lineBuffer struct {
	lines []string
}

func (b *lineBuffer) Print(line string) { b.lines = append(b.lines, line) }

// NativeFunc is the body of a stdlib function. host is the opaque host
// context passed through Options, timeout the execution's time budget.
type NativeFunc func(args []Value, host any, out OutputSink, timeout time.Duration) (Value, error)

// HostFunction is a function supplied by the embedding application.
// It receives arguments in call order and is not arity-checked.
type HostFunction func(ctx context.Context, args []Value) (Value, error)

// NativeFunction is a registry entry implemented in Go.
type NativeFunction struct {
	Name    string
	Fn      NativeFunc
	MinArgs int
	MaxArgs int // Variadic for no limit
}

func (f *NativeFunction) checkArity(n int) error {
	if n >= f.MinArgs && (f.MaxArgs == Variadic || n <= f.MaxArgs) {
		return nil
	}
	return &ArityError{Name: f.Name, Expected: f.arity(), Got: n}
}

func (f *NativeFunction) arity() string {
	switch {
	case f.MaxArgs == Variadic:
		return "at least " + strconv.Itoa(f.MinArgs)
	case f.MinArgs == f.MaxArgs:
		return strconv.Itoa(f.MinArgs)
	}
	return fmt.Sprintf("%d to %d", f.MinArgs, f.MaxArgs)
}

// closureArgCount is the arity advertised by a closure over f.
func (f *NativeFunction) closureArgCount() int {
	if f.MaxArgs == Variadic {
		return 0
	}
	return f.MaxArgs
}

// BytecodeFunction is a stdlib function implemented in Hog bytecode. It is
// executed as chunk "stl/<name>" with ArgNames as its locals.
type BytecodeFunction struct {
	ArgNames []string
	Bytecode []Value
}

// Registry maps function names to stdlib implementations.
type Registry struct {
	natives  map[string]*NativeFunction
	bytecode map[string]*BytecodeFunction
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		natives:  map[string]*NativeFunction{},
		bytecode: map[string]*BytecodeFunction{},
	}
}

// Register adds a native function accepting between min and max arguments.
func (r *Registry) Register(name string, min, max int, fn NativeFunc) {
	r.natives[name] = &NativeFunction{Name: name, Fn: fn, MinArgs: min, MaxArgs: max}
}

// RegisterBytecode adds a bytecode-backed function.
func (r *Registry) RegisterBytecode(name string, argNames []string, code []Value) {
	r.bytecode[name] = &BytecodeFunction{ArgNames: argNames, Bytecode: code}
}

// Native looks up a native function.
func (r *Registry) Native(name string) (*NativeFunction, bool) {
	f, ok := r.natives[name]
	return f, ok
}

// Bytecode looks up a bytecode-backed function.
func (r *Registry) Bytecode(name string) (*BytecodeFunction, bool) {
	f, ok := r.bytecode[name]
	return f, ok
}

// Names returns all registered names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.natives)+len(r.bytecode))
	for name := range r.natives {
		names = append(names, name)
	}
	for name := range r.bytecode {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the shared registry holding the full standard
// library. It must not be modified; build a fresh one with
// NewStandardRegistry to customize.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewStandardRegistry()
	})
	return defaultRegistry
}

// NewStandardRegistry builds a registry with every stdlib function.
func NewStandardRegistry() *Registry {
	r := NewRegistry()
	registerCore(r)
	registerStrings(r)
	registerJSON(r)
	registerCrypto(r)
	registerDates(r)
	registerBytecodeFunctions(r)
	return r
}

// ---------------------------------------------------------------------------
// Argument helpers shared by the stdlib files
// ---------------------------------------------------------------------------

func argString(name string, args []Value, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("%s: missing argument %d", name, i+1)
	}
	s, ok := args[i].(String)
	if !ok {
		return "", typeErrorf("%s: argument %d must be a string, got %s", name, i+1, args[i].Kind())
	}
	return string(s), nil
}

func argOptString(args []Value, i int, def string) string {
	if i >= len(args) || IsNull(args[i]) {
		return def
	}
	return ToString(args[i])
}

func argItems(name string, args []Value, i int) ([]Value, error) {
	if i < len(args) {
		switch x := args[i].(type) {
		case *Array:
			return x.Items, nil
		case *Tuple:
			return x.Items, nil
		}
	}
	kind := "nothing"
	if i < len(args) {
		kind = args[i].Kind().String()
	}
	return nil, typeErrorf("%s: argument %d must be an array, got %s", name, i+1, kind)
}

func argNumber(name string, args []Value, i int) (float64, error) {
	if i < len(args) && isNumber(args[i]) {
		return asFloat(args[i]), nil
	}
	return 0, typeErrorf("%s: argument %d must be a number", name, i+1)
}
