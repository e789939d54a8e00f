package wire

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/hogvm/vm"
)

func sampleProgram() *vm.Program {
	p := vm.NewProgram(vm.Tokens("_H", 1,
		vm.OpString, "lib", vm.OpCallGlobal, "import", 1,
		vm.OpReturn))
	p.AddChunk("lib", vm.Tokens("_H", 1, vm.OpString, "who", vm.OpGetGlobal, 1, vm.OpReturn),
		vm.MappingOf("who", "chunk"))
	return p
}

// ---------------------------------------------------------------------------
// CBOR
// ---------------------------------------------------------------------------

func TestProgramCBORRoundTrip(t *testing.T) {
	p := sampleProgram()
	data, err := MarshalProgram(p)
	if err != nil {
		t.Fatalf("MarshalProgram: %v", err)
	}
	got, err := UnmarshalProgram(data)
	if err != nil {
		t.Fatalf("UnmarshalProgram: %v", err)
	}
	if names := got.ChunkNames(); len(names) != 2 || names[0] != "lib" || names[1] != "root" {
		t.Fatalf("ChunkNames = %v", names)
	}
	for _, name := range []string{"root", "lib"} {
		want := vm.Repr(vm.NewArray(p.Chunks[name].Bytecode...))
		if have := vm.Repr(vm.NewArray(got.Chunks[name].Bytecode...)); have != want {
			t.Errorf("chunk %s = %s, want %s", name, have, want)
		}
	}
	if g := got.Chunks["lib"].Globals; g == nil || vm.Repr(g) != "{'who': 'chunk'}" {
		t.Errorf("lib globals = %v", g)
	}

	result, err := vm.Execute(context.Background(), got, vm.Options{})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.Value != vm.String("chunk") {
		t.Errorf("result = %s, want 'chunk'", vm.Repr(result.Value))
	}
}

func TestProgramCBORIsDeterministic(t *testing.T) {
	a, err := MarshalProgram(sampleProgram())
	if err != nil {
		t.Fatalf("MarshalProgram: %v", err)
	}
	b, err := MarshalProgram(sampleProgram())
	if err != nil {
		t.Fatalf("MarshalProgram: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("two encodings of the same program differ")
	}
}

func TestValueCBORRoundTrip(t *testing.T) {
	m := vm.NewMapping()
	m.SetString("z", vm.Int(1))
	m.SetString("a", vm.Float(1))
	_ = m.Set(vm.Int(3), vm.NewTuple(vm.String("t"), vm.Null))

	values := []vm.Value{
		vm.Null,
		vm.Bool(true),
		vm.Int(-7),
		vm.Int(1 << 40),
		vm.Float(2.5),
		vm.String("héllo"),
		vm.NewArray(vm.Int(1), vm.NewArray()),
		m,
		vm.Date{Year: 2024, Month: 2, Day: 29},
		vm.DateTime{Epoch: 1.5, Zone: "Europe/Paris"},
		vm.Interval{Value: 3, Unit: "week"},
		vm.NewError("RetryError", vm.String("again"), vm.MappingOf("n", 2)),
		&vm.Callable{Type: vm.CallableLocal, Name: "f", ArgCount: 2, UpvalueCount: 1, IP: 14, Chunk: "lib"},
		&vm.Closure{Callable: &vm.Callable{Type: vm.CallableStl, Name: "upper", ArgCount: 1}, Upvalues: []uint64{3, 9}},
	}
	for _, v := range values {
		data, err := MarshalValue(v)
		if err != nil {
			t.Fatalf("MarshalValue(%s): %v", vm.Repr(v), err)
		}
		got, err := UnmarshalValue(data)
		if err != nil {
			t.Fatalf("UnmarshalValue(%s): %v", vm.Repr(v), err)
		}
		if vm.Repr(got) != vm.Repr(v) || got.Kind() != v.Kind() {
			t.Errorf("round trip of %s gave %s (%s)", vm.Repr(v), vm.Repr(got), got.Kind())
		}
	}
}

func TestClosureUpvaluesSurvive(t *testing.T) {
	c := &vm.Closure{Callable: &vm.Callable{Name: "g"}, Upvalues: []uint64{4, 5}}
	data, err := MarshalValue(c)
	if err != nil {
		t.Fatalf("MarshalValue: %v", err)
	}
	got, err := UnmarshalValue(data)
	if err != nil {
		t.Fatalf("UnmarshalValue: %v", err)
	}
	ids := got.(*vm.Closure).Upvalues
	if len(ids) != 2 || ids[0] != 4 || ids[1] != 5 {
		t.Errorf("Upvalues = %v, want [4 5]", ids)
	}
}

func TestCyclicValueEncodesAsNull(t *testing.T) {
	arr := vm.NewArray(vm.Int(1))
	arr.Items = append(arr.Items, arr)
	data, err := MarshalValue(arr)
	if err != nil {
		t.Fatalf("MarshalValue: %v", err)
	}
	got, err := UnmarshalValue(data)
	if err != nil {
		t.Fatalf("UnmarshalValue: %v", err)
	}
	if vm.Repr(got) != "[1, null]" {
		t.Errorf("got %s, want [1, null]", vm.Repr(got))
	}
}

func TestUnmarshalProgramErrors(t *testing.T) {
	if _, err := UnmarshalProgram([]byte{0xff, 0x00}); err == nil {
		t.Error("UnmarshalProgram(garbage) succeeded")
	}
	if _, err := MarshalProgram(&vm.Program{}); err == nil {
		t.Error("MarshalProgram without root succeeded")
	}
}

// ---------------------------------------------------------------------------
// JSON
// ---------------------------------------------------------------------------

func TestParseProgramJSONShapes(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		chunks int
	}{
		{"bare", `["_H", 1, 33, 2, 38]`, 1},
		{"chunk object", `{"bytecode": ["_H", 1, 33, 2, 38], "globals": {"a": 1}}`, 1},
		{"chunk table", `{"chunks": {"root": ["_H", 1, 38], "lib": {"bytecode": ["_h", 38]}}}`, 2},
	}
	for _, tt := range tests {
		p, err := ParseProgramJSON([]byte(tt.input))
		if err != nil {
			t.Errorf("%s: ParseProgramJSON returned error: %v", tt.name, err)
			continue
		}
		if len(p.Chunks) != tt.chunks || p.Root() == nil {
			t.Errorf("%s: chunks = %v", tt.name, p.ChunkNames())
		}
	}
}

func TestParseProgramJSONKeepsNumberKinds(t *testing.T) {
	p, err := ParseProgramJSON([]byte(`["_H", 1, 34, 1.0, 38]`))
	if err != nil {
		t.Fatalf("ParseProgramJSON returned error: %v", err)
	}
	code := p.Root().Bytecode
	if _, ok := code[1].(vm.Int); !ok {
		t.Errorf("version token is %s, want integer", code[1].Kind())
	}
	if _, ok := code[3].(vm.Float); !ok {
		t.Errorf("float operand is %s, want float", code[3].Kind())
	}
}

func TestParseProgramJSONErrors(t *testing.T) {
	for _, input := range []string{
		`"just a string"`,
		`{"chunks": {"lib": ["_h"]}}`,
		`{"chunks": []}`,
		`{"globals": {}}`,
		`{"bytecode": {}}`,
		`{"bytecode": [], "globals": [1]}`,
		`[1,`,
	} {
		if _, err := ParseProgramJSON([]byte(input)); err == nil {
			t.Errorf("ParseProgramJSON(%s) succeeded, want error", input)
		}
	}
}

func TestMarshalProgramJSONRoundTrip(t *testing.T) {
	data, err := MarshalProgramJSON(sampleProgram(), 0)
	if err != nil {
		t.Fatalf("MarshalProgramJSON: %v", err)
	}
	p, err := ParseProgramJSON(data)
	if err != nil {
		t.Fatalf("ParseProgramJSON: %v", err)
	}
	if len(p.Chunks) != 2 || vm.Repr(p.Chunks["lib"].Globals) != "{'who': 'chunk'}" {
		t.Errorf("round trip lost chunks: %s", data)
	}
}

// ---------------------------------------------------------------------------
// Files
// ---------------------------------------------------------------------------

func TestLoadProgramFile(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "prog.hoge")
	if err := os.WriteFile(jsonPath, []byte(`["_H", 1, 33, 5, 38]`), 0644); err != nil {
		t.Fatal(err)
	}
	cborData, err := MarshalProgram(sampleProgram())
	if err != nil {
		t.Fatalf("MarshalProgram: %v", err)
	}
	cborPath := filepath.Join(dir, "prog.cbor")
	if err := os.WriteFile(cborPath, cborData, 0644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadProgramFile(jsonPath)
	if err != nil {
		t.Fatalf("LoadProgramFile(json): %v", err)
	}
	if len(p.Root().Bytecode) != 5 {
		t.Errorf("json root has %d tokens, want 5", len(p.Root().Bytecode))
	}
	p, err = LoadProgramFile(cborPath)
	if err != nil {
		t.Fatalf("LoadProgramFile(cbor): %v", err)
	}
	if len(p.Chunks) != 2 {
		t.Errorf("cbor program has %d chunks, want 2", len(p.Chunks))
	}

	if _, err := LoadProgramFile(filepath.Join(dir, "prog.txt")); err == nil {
		t.Error("LoadProgramFile(.txt) succeeded")
	}
}
