package vm

import (
	"fmt"
	"math"
	"sort"
)

const (
	// HeaderMarker starts a versioned chunk: "_H", <version>.
	HeaderMarker = "_H"
	// LegacyHeaderMarker starts a version 0 chunk.
	LegacyHeaderMarker = "_h"
	// RootChunk is the entry chunk of every program.
	RootChunk = "root"
	// stlChunkPrefix addresses bytecode-backed stdlib functions.
	stlChunkPrefix = "stl/"
)

// Chunk is one named unit of bytecode.
type Chunk struct {
	Bytecode []Value
	Globals  *Mapping
}

// Program is a set of chunks. The root chunk is mandatory.
type Program struct {
	Chunks map[string]*Chunk
}

// NewProgram creates a program whose root chunk is bytecode.
func NewProgram(bytecode []Value) *Program {
	return &Program{Chunks: map[string]*Chunk{RootChunk: {Bytecode: bytecode}}}
}

// AddChunk registers another chunk, replacing any chunk of the same name.
func (p *Program) AddChunk(name string, bytecode []Value, globals *Mapping) {
	if p.Chunks == nil {
		p.Chunks = map[string]*Chunk{}
	}
	p.Chunks[name] = &Chunk{Bytecode: bytecode, Globals: globals}
}

// Root returns the root chunk, or nil when it is missing.
func (p *Program) Root() *Chunk {
	if p == nil {
		return nil
	}
	return p.Chunks[RootChunk]
}

// ChunkNames returns the chunk names in sorted order.
func (p *Program) ChunkNames() []string {
	names := make([]string, 0, len(p.Chunks))
	for name := range p.Chunks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseHeader reads the version header of a chunk and returns the format
// version and the number of header tokens to skip.
func ParseHeader(code []Value) (version, headerLen int, err error) {
	if len(code) == 0 {
		return 0, 0, malformedf("Invalid bytecode, must start with %s header", HeaderMarker)
	}
	switch code[0] {
	case String(LegacyHeaderMarker):
		return 0, 1, nil
	case String(HeaderMarker):
		if len(code) < 2 {
			return 0, 0, malformedf("Invalid bytecode, missing version after %s header", HeaderMarker)
		}
		v, ok := indexKey(code[1])
		if !ok || v < 0 {
			return 0, 0, malformedf("Invalid bytecode version %s", Repr(code[1]))
		}
		return v, 2, nil
	}
	return 0, 0, malformedf("Invalid bytecode, must start with %s header", HeaderMarker)
}

// Tokens converts Go literals into a token list. Integers become Int,
// floats Float, strings String and bools Bool; it panics on anything
// FromGo cannot convert.
func Tokens(xs ...any) []Value {
	code := make([]Value, len(xs))
	for i, x := range xs {
		switch v := x.(type) {
		case Operation:
			code[i] = Int(v)
		case float64:
			code[i] = Float(v)
		default:
			code[i] = MustFromGo(x)
		}
	}
	return code
}

// tokenInt reads an integer operand, accepting integral floats from
// formats (JSON, protobuf Struct) that do not distinguish them.
func tokenInt(v Value) (int, error) {
	switch x := v.(type) {
	case Int:
		return int(x), nil
	case Float:
		f := float64(x)
		if f == math.Trunc(f) {
			return int(f), nil
		}
	case Bool:
		return int(boolToInt(x)), nil
	}
	return 0, malformedf("Expected integer operand, got %s", describeToken(v))
}

func tokenString(v Value) (string, error) {
	if s, ok := v.(String); ok {
		return string(s), nil
	}
	return "", malformedf("Expected string operand, got %s", describeToken(v))
}

func describeToken(v Value) string {
	if v == nil {
		return "nothing"
	}
	return fmt.Sprintf("%s %s", v.Kind(), Repr(v))
}
