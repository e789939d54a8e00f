// Package conformance loads YAML fixtures describing bytecode programs and
// their expected results, and runs them against the interpreter.
package conformance

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/chazu/hogvm/vm"
)

// opTag marks a scalar naming an operation.
const opTag = "!op"

// LoadedCase is a case with the file and suite it came from.
type LoadedCase struct {
	File  string
	Suite string
	Case  Case
}

// Load walks dir and loads every .yaml and .yml file in lexical order.
func Load(dir string) ([]LoadedCase, error) {
	var loaded []LoadedCase
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ext := filepath.Ext(path); ext != ".yaml" && ext != ".yml" {
			return nil
		}
		suite, err := LoadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = path
		}
		for _, c := range suite.Tests {
			loaded = append(loaded, LoadedCase{File: rel, Suite: suite.Name, Case: c})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return loaded, nil
}

// LoadFile parses a single fixture file.
func LoadFile(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var suite Suite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if suite.Name == "" {
		suite.Name = filepath.Base(path)
	}
	return &suite, nil
}

// nodeValue converts a YAML node into a value. Mapping keys keep their
// document order and integers stay distinct from floats.
func nodeValue(n *yaml.Node) (vm.Value, error) {
	switch n.Kind {
	case 0:
		return vm.Null, nil
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return vm.Null, nil
		}
		return nodeValue(n.Content[0])
	case yaml.AliasNode:
		return nodeValue(n.Alias)
	case yaml.SequenceNode:
		items := make([]vm.Value, len(n.Content))
		for i, child := range n.Content {
			v, err := nodeValue(child)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return vm.NewArray(items...), nil
	case yaml.MappingNode:
		m := vm.NewMapping()
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, err := nodeValue(n.Content[i])
			if err != nil {
				return nil, err
			}
			v, err := nodeValue(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			if err := m.Set(k, v); err != nil {
				return nil, fmt.Errorf("line %d: %w", n.Content[i].Line, err)
			}
		}
		return m, nil
	case yaml.ScalarNode:
		return scalarValue(n)
	}
	return nil, fmt.Errorf("line %d: unsupported YAML node", n.Line)
}

func scalarValue(n *yaml.Node) (vm.Value, error) {
	switch n.Tag {
	case opTag:
		op, ok := operationNamed(n.Value)
		if !ok {
			return nil, fmt.Errorf("line %d: unknown operation %q", n.Line, n.Value)
		}
		return vm.Int(op), nil
	case "!!null":
		return vm.Null, nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return nil, err
		}
		return vm.Bool(b), nil
	case "!!int":
		var i int64
		if err := n.Decode(&i); err != nil {
			return nil, err
		}
		return vm.Int(i), nil
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return nil, err
		}
		return vm.Float(f), nil
	}
	return vm.String(n.Value), nil
}

var operationsByName = func() map[string]vm.Operation {
	m := map[string]vm.Operation{}
	for _, op := range vm.AllOperations() {
		m[op.String()] = op
	}
	return m
}()

func operationNamed(name string) (vm.Operation, bool) {
	if op, ok := operationsByName[name]; ok {
		return op, true
	}
	if n, err := strconv.Atoi(name); err == nil && vm.Operation(n).Valid() {
		return vm.Operation(n), true
	}
	return 0, false
}
