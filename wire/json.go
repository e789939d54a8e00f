package wire

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/hogvm/vm"
)

// ParseValueJSON decodes a JSON document into a value, keeping object key
// order and the distinction between integers and floats.
func ParseValueJSON(data []byte) (vm.Value, error) {
	return vm.ParseJSON(data)
}

// ParseProgramJSON decodes a program in any of the JSON shapes compilers
// emit:
//
//	["_H", 1, ...]                                  a bare root chunk
//	{"bytecode": [...], "globals": {...}}           a root chunk with globals
//	{"chunks": {"root": {"bytecode": [...]}, ...}}  a full chunk table
func ParseProgramJSON(data []byte) (*vm.Program, error) {
	doc, err := vm.ParseJSON(data)
	if err != nil {
		return nil, fmt.Errorf("wire: %w", err)
	}
	return ProgramFromValue(doc)
}

// ProgramFromValue converts a decoded JSON or YAML document into a
// program. It accepts the shapes listed at ParseProgramJSON.
func ProgramFromValue(doc vm.Value) (*vm.Program, error) {
	switch x := doc.(type) {
	case *vm.Array:
		return vm.NewProgram(x.Items), nil
	case *vm.Mapping:
		if chunks, ok := x.GetString("chunks"); ok {
			table, ok := chunks.(*vm.Mapping)
			if !ok {
				return nil, fmt.Errorf("wire: chunks must be an object, got %s", chunks.Kind())
			}
			p := &vm.Program{Chunks: map[string]*vm.Chunk{}}
			var err error
			table.Each(func(k, v vm.Value) bool {
				var chunk *vm.Chunk
				chunk, err = chunkFromValue(vm.ToString(k), v)
				if err == nil {
					p.Chunks[vm.ToString(k)] = chunk
				}
				return err == nil
			})
			if err != nil {
				return nil, err
			}
			if p.Root() == nil {
				return nil, fmt.Errorf("wire: program has no %s chunk", vm.RootChunk)
			}
			return p, nil
		}
		chunk, err := chunkFromValue(vm.RootChunk, x)
		if err != nil {
			return nil, err
		}
		return &vm.Program{Chunks: map[string]*vm.Chunk{vm.RootChunk: chunk}}, nil
	}
	return nil, fmt.Errorf("wire: a program must be an array or an object, got %s", doc.Kind())
}

func chunkFromValue(name string, v vm.Value) (*vm.Chunk, error) {
	switch x := v.(type) {
	case *vm.Array:
		return &vm.Chunk{Bytecode: x.Items}, nil
	case *vm.Mapping:
		code, ok := x.GetString("bytecode")
		if !ok {
			return nil, fmt.Errorf("wire: chunk %s has no bytecode", name)
		}
		arr, ok := code.(*vm.Array)
		if !ok {
			return nil, fmt.Errorf("wire: chunk %s bytecode must be an array, got %s", name, code.Kind())
		}
		chunk := &vm.Chunk{Bytecode: arr.Items}
		if g, ok := x.GetString("globals"); ok && !vm.IsNull(g) {
			m, ok := g.(*vm.Mapping)
			if !ok {
				return nil, fmt.Errorf("wire: chunk %s globals must be an object, got %s", name, g.Kind())
			}
			chunk.Globals = m
		}
		return chunk, nil
	}
	return nil, fmt.Errorf("wire: chunk %s must be an array or an object, got %s", name, v.Kind())
}

// MarshalProgramJSON writes the full chunk-table shape of p.
func MarshalProgramJSON(p *vm.Program, indent int) ([]byte, error) {
	table := vm.NewMapping()
	for _, name := range p.ChunkNames() {
		chunk := p.Chunks[name]
		entry := vm.NewMapping()
		entry.SetString("bytecode", vm.NewArray(chunk.Bytecode...))
		if chunk.Globals != nil {
			entry.SetString("globals", chunk.Globals)
		}
		table.SetString(name, entry)
	}
	doc := vm.NewMapping()
	doc.SetString("chunks", table)
	return vm.MarshalJSON(doc, indent)
}

// LoadProgramFile reads a program, choosing the decoder by extension:
// .cbor is binary, .json and .hoge are JSON.
func LoadProgramFile(path string) (*vm.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	var p *vm.Program
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".cbor":
		p, err = UnmarshalProgram(data)
	case ".json", ".hoge":
		p, err = ParseProgramJSON(data)
	default:
		return nil, fmt.Errorf("%s: unknown program format %q", path, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// LoadValueFile reads a JSON document, such as a globals file.
func LoadValueFile(path string) (vm.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	v, err := ParseValueJSON(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}
