package validator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/chazu/hogvm/vm"
)

func validate(t *testing.T, code []vm.Value, opts ...Option) *ValidationError {
	t.Helper()
	err := Validate(context.Background(), code, vm.MappingOf("url", "https://example.com/hook"), opts...)
	if err == nil {
		return nil
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate returned %T, want *ValidationError", err)
	}
	return verr
}

func TestValidProgram(t *testing.T) {
	// fetch(inputs.url, {}); print(event.event)
	code := vm.Tokens("_H", 1,
		vm.OpDict, 0,
		vm.OpString, "url", vm.OpString, "inputs", vm.OpGetGlobal, 2,
		vm.OpCallGlobal, "fetch", 2, vm.OpPop,
		vm.OpString, "event", vm.OpString, "event", vm.OpGetGlobal, 2,
		vm.OpCallGlobal, "print", 1, vm.OpPop,
		vm.OpNull, vm.OpReturn)
	if verr := validate(t, code); verr != nil {
		t.Fatalf("Validate returned error: %v", verr)
	}
}

func TestFetchMockShape(t *testing.T) {
	// fetch returns {status: 200, body: {}}
	code := vm.Tokens("_H", 1,
		vm.OpString, "https://example.com", vm.OpCallGlobal, "fetch", 1,
		vm.OpString, "status", vm.OpGetProperty,
		vm.OpInteger, 200, vm.OpEq,
		vm.OpJumpIfFalse, 2, vm.OpNull, vm.OpReturn,
		vm.OpString, "bad", vm.OpCallGlobal, "Error", 1, vm.OpThrow)
	if verr := validate(t, code); verr != nil {
		t.Fatalf("Validate returned error: %v", verr)
	}
}

func TestSyntheticGlobals(t *testing.T) {
	g := SyntheticGlobals(nil, vm.MappingOf("project", map[string]any{"id": 7}))
	for _, key := range []string{"event", "person", "groups", "project", "source", "inputs"} {
		if _, ok := g.GetString(key); !ok {
			t.Errorf("synthetic globals missing %q", key)
		}
	}
	project, _ := g.GetString("project")
	if got := vm.Repr(project); got != "{'id': 7}" {
		t.Errorf("project = %s, want the override", got)
	}
}

// ---------------------------------------------------------------------------
// Rejections
// ---------------------------------------------------------------------------

func TestTooSlow(t *testing.T) {
	verr := validate(t, vm.Tokens("_H", 1, vm.OpJump, -2), WithTimeout(50*time.Millisecond))
	if verr == nil {
		t.Fatal("Validate accepted an endless loop")
	}
	if verr.Category != TooSlow {
		t.Errorf("Category = %s, want TooSlow", verr.Category)
	}
	if !strings.Contains(verr.Message, "0.05 seconds") || !strings.Contains(verr.Message, "simplify your code") {
		t.Errorf("Message = %q", verr.Message)
	}
	if vm.KindOf(verr) != vm.KindRuntimeExceeded {
		t.Errorf("KindOf(cause) = %s, want RuntimeExceeded", vm.KindOf(verr))
	}
}

func TestTooMuchMemory(t *testing.T) {
	a := vm.NewAssembler(1)
	a.Emit(vm.OpString, "xxxxxxxx")
	loop := a.CurrentOffset()
	a.Emit(vm.OpGetLocal, 0)
	a.Emit(vm.OpGetLocal, 0)
	a.Emit(vm.OpPlus)
	a.Emit(vm.OpSetLocal, 0)
	a.EmitLoop(loop)

	verr := validate(t, a.Bytecode(), WithMemoryLimit(1_000_000))
	if verr == nil {
		t.Fatal("Validate accepted an unbounded allocation")
	}
	if verr.Category != TooMuchMemory {
		t.Errorf("Category = %s, want TooMuchMemory", verr.Category)
	}
	if !strings.Contains(verr.Message, "1.0 MB") || !strings.Contains(verr.Message, "tried to use") {
		t.Errorf("Message = %q", verr.Message)
	}
}

func TestExecutionError(t *testing.T) {
	tests := []struct {
		name string
		code []vm.Value
		want string
	}{
		{"uncaught", vm.Tokens("_H", 1, vm.OpString, "nope", vm.OpCallGlobal, "Error", 1, vm.OpThrow), "Error('nope')"},
		{"unknown global", vm.Tokens("_H", 1, vm.OpString, "missing", vm.OpGetGlobal, 1, vm.OpReturn), "missing"},
		{"malformed", vm.Tokens(vm.OpTrue), "header"},
	}
	for _, tt := range tests {
		verr := validate(t, tt.code)
		if verr == nil {
			t.Errorf("%s: Validate succeeded", tt.name)
			continue
		}
		if verr.Category != ExecutionError {
			t.Errorf("%s: Category = %s, want ExecutionError", tt.name, verr.Category)
		}
		if !strings.Contains(verr.Message, tt.want) {
			t.Errorf("%s: Message = %q, want it to mention %q", tt.name, verr.Message, tt.want)
		}
	}
}

func TestPrintIsSilent(t *testing.T) {
	result, err := vm.ExecuteBytecode(context.Background(),
		vm.Tokens("_H", 1, vm.OpString, "x", vm.OpCallGlobal, "print", 1, vm.OpReturn),
		vm.Options{Functions: MockFunctions()})
	if err != nil {
		t.Fatalf("ExecuteBytecode returned error: %v", err)
	}
	if len(result.Output) != 0 {
		t.Errorf("Output = %q, want nothing", result.Output)
	}
}
