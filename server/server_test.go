package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/hogvm/config"
	"github.com/chazu/hogvm/store"
	"github.com/chazu/hogvm/vm"
)

func newTestServer(t *testing.T, opts ...ServerOption) *httptest.Server {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "programs.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	cfg := config.Default()
	cfg.Server.Workers = 2
	s := New(append([]ServerOption{WithStore(st), WithConfig(cfg)}, opts...)...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Stop()
		st.Close()
	})
	return ts
}

func call(t *testing.T, ts *httptest.Server, procedure string, fields map[string]any) (*structpb.Struct, error) {
	t.Helper()
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("NewStruct failed: %v", err)
	}
	client := connect.NewClient[structpb.Struct, structpb.Struct](ts.Client(), ts.URL+procedure)
	resp, err := client.CallUnary(context.Background(), connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func mustCall(t *testing.T, ts *httptest.Server, procedure string, fields map[string]any) map[string]any {
	t.Helper()
	msg, err := call(t, ts, procedure, fields)
	if err != nil {
		t.Fatalf("%s failed: %v", procedure, err)
	}
	return msg.AsMap()
}

// bytecode converts tokens into the list form a Struct request carries.
func bytecode(tokens ...any) []any {
	out := make([]any, len(tokens))
	for i, tok := range tokens {
		if op, ok := tok.(vm.Operation); ok {
			tok = int(op)
		}
		out[i] = tok
	}
	return out
}

// ---------------------------------------------------------------------------
// Execute
// ---------------------------------------------------------------------------

func TestExecute(t *testing.T) {
	ts := newTestServer(t)
	got := mustCall(t, ts, ExecuteProcedure, map[string]any{
		"bytecode": bytecode("_H", 1,
			vm.OpString, "hi", vm.OpCallGlobal, "print", 1, vm.OpPop,
			vm.OpString, "n", vm.OpGetGlobal, 1, vm.OpInteger, 1, vm.OpPlus,
			vm.OpReturn),
		"globals": map[string]any{"n": 41},
	})
	if got["repr"] != "42" {
		t.Errorf("repr = %v, want 42", got["repr"])
	}
	if got["value"] != float64(42) {
		t.Errorf("value = %v, want 42", got["value"])
	}
	if out, _ := got["output"].([]any); len(out) != 1 || out[0] != "hi" {
		t.Errorf("output = %v, want [hi]", got["output"])
	}
	if ops, _ := got["ops"].(float64); ops < 1 {
		t.Errorf("ops = %v", got["ops"])
	}
}

func TestExecuteProgramJSONKeepsIntegers(t *testing.T) {
	ts := newTestServer(t)
	got := mustCall(t, ts, ExecuteProcedure, map[string]any{
		"program_json": `{"chunks": {"root": ["_H", 1, 34, 2.0, 38]}}`,
	})
	if got["repr"] != "2.0" || got["value_json"] != "2.0" {
		t.Errorf("repr = %v, value_json = %v; want 2.0", got["repr"], got["value_json"])
	}
}

func TestExecuteReportsClassifiedErrors(t *testing.T) {
	ts := newTestServer(t)
	got := mustCall(t, ts, ExecuteProcedure, map[string]any{
		"bytecode": bytecode("_H", 1, vm.OpString, "boom", vm.OpCallGlobal, "Error", 1, vm.OpThrow),
	})
	errFields, ok := got["error"].(map[string]any)
	if !ok {
		t.Fatalf("response = %v, want an error", got)
	}
	if errFields["kind"] != "Uncaught" || errFields["message"] != "Error('boom')" {
		t.Errorf("error = %v", errFields)
	}

	got = mustCall(t, ts, ExecuteProcedure, map[string]any{
		"bytecode":   bytecode("_H", 1, vm.OpJump, -2),
		"timeout_ms": 50,
	})
	if errFields, _ := got["error"].(map[string]any); errFields["kind"] != "RuntimeExceeded" {
		t.Errorf("timeout response = %v", got)
	}
}

func shortTimeoutConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Workers = 2
	cfg.Execution.Timeout.Duration = 100 * time.Millisecond
	return cfg
}

func expectRuntimeExceeded(t *testing.T, ts *httptest.Server, fields map[string]any) {
	t.Helper()
	start := time.Now()
	got := mustCall(t, ts, ExecuteProcedure, fields)
	if errFields, _ := got["error"].(map[string]any); errFields["kind"] != "RuntimeExceeded" {
		t.Errorf("response = %v, want a RuntimeExceeded error", got)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("request took %s with a 100ms execution timeout", elapsed)
	}
}

func TestExecuteTimeoutIsCappedByConfig(t *testing.T) {
	ts := newTestServer(t, WithConfig(shortTimeoutConfig()))
	expectRuntimeExceeded(t, ts, map[string]any{
		"bytecode":   bytecode("_H", 1, vm.OpJump, -2),
		"timeout_ms": 1e9,
	})
}

func TestExecuteIgnoresDebugWithoutOption(t *testing.T) {
	ts := newTestServer(t, WithConfig(shortTimeoutConfig()))
	expectRuntimeExceeded(t, ts, map[string]any{
		"bytecode": bytecode("_H", 1, vm.OpJump, -2),
		"debug":    true,
	})
}

func TestExecuteDebugKeepsDeadline(t *testing.T) {
	ts := newTestServer(t, WithConfig(shortTimeoutConfig()), WithDebug(true))
	expectRuntimeExceeded(t, ts, map[string]any{
		"bytecode": bytecode("_H", 1, vm.OpJump, -2),
		"debug":    true,
	})

	got := mustCall(t, ts, ExecuteProcedure, map[string]any{
		"bytecode": bytecode("_H", 1, vm.OpInteger, 2, vm.OpInteger, 3, vm.OpPlus, vm.OpReturn),
		"debug":    true,
	})
	if got["repr"] != "5" {
		t.Errorf("traced repr = %v, want 5", got["repr"])
	}
}

func TestExecuteInvalidRequest(t *testing.T) {
	ts := newTestServer(t)
	_, err := call(t, ts, ExecuteProcedure, map[string]any{"globals": map[string]any{}})
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("code = %v, want InvalidArgument", connect.CodeOf(err))
	}
	_, err = call(t, ts, ExecuteProcedure, map[string]any{"program_json": "[1,"})
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("code = %v, want InvalidArgument", connect.CodeOf(err))
	}
}

func TestExecuteHostFunctions(t *testing.T) {
	ts := newTestServer(t, WithFunctions(map[string]vm.HostFunction{
		"double": func(_ context.Context, args []vm.Value) (vm.Value, error) {
			return args[0].(vm.Int) * 2, nil
		},
	}))
	got := mustCall(t, ts, ExecuteProcedure, map[string]any{
		"bytecode": bytecode("_H", 1, vm.OpInteger, 21, vm.OpCallGlobal, "double", 1, vm.OpReturn),
	})
	if got["repr"] != "42" {
		t.Errorf("repr = %v, want 42", got["repr"])
	}
}

// ---------------------------------------------------------------------------
// Validate, Register, Run
// ---------------------------------------------------------------------------

func TestValidate(t *testing.T) {
	ts := newTestServer(t)
	got := mustCall(t, ts, ValidateProcedure, map[string]any{
		"bytecode": bytecode("_H", 1, vm.OpString, "url", vm.OpString, "inputs", vm.OpGetGlobal, 2, vm.OpReturn),
		"inputs":   map[string]any{"url": "https://example.com"},
	})
	if got["valid"] != true {
		t.Errorf("response = %v, want valid", got)
	}

	got = mustCall(t, ts, ValidateProcedure, map[string]any{
		"bytecode": bytecode("_H", 1, vm.OpJump, -2),
	})
	errFields, _ := got["error"].(map[string]any)
	if got["valid"] != false || errFields["category"] != "TooSlow" {
		t.Errorf("response = %v, want TooSlow", got)
	}
}

func TestRegisterAndRun(t *testing.T) {
	ts := newTestServer(t)
	reg := mustCall(t, ts, RegisterProcedure, map[string]any{
		"name": "greet",
		"bytecode": bytecode("_H", 1,
			vm.OpString, "hello ", vm.OpString, "who", vm.OpGetGlobal, 1, vm.OpPlus, vm.OpReturn),
		"skip_validation": true,
	})
	hash, _ := reg["hash"].(string)
	if len(hash) != 64 {
		t.Fatalf("Register response = %v, want a hash", reg)
	}

	for _, ref := range []string{hash, "greet"} {
		got := mustCall(t, ts, RunProcedure, map[string]any{
			"ref":     ref,
			"globals": map[string]any{"who": "world"},
		})
		if got["value"] != "hello world" {
			t.Errorf("Run(%s) value = %v", ref, got["value"])
		}
	}

	list := mustCall(t, ts, ListProcedure, map[string]any{})
	programs, _ := list["programs"].([]any)
	if len(programs) != 1 {
		t.Fatalf("List = %v, want one program", list)
	}
	if entry := programs[0].(map[string]any); entry["name"] != "greet" || entry["hash"] != hash {
		t.Errorf("entry = %v", entry)
	}
}

func TestRegisterRejectsInvalidProgram(t *testing.T) {
	ts := newTestServer(t)
	got := mustCall(t, ts, RegisterProcedure, map[string]any{
		"name":     "broken",
		"bytecode": bytecode("_H", 1, vm.OpString, "nope", vm.OpGetGlobal, 1, vm.OpReturn),
	})
	if got["valid"] != false {
		t.Errorf("response = %v, want rejection", got)
	}
	list := mustCall(t, ts, ListProcedure, map[string]any{})
	if programs, _ := list["programs"].([]any); len(programs) != 0 {
		t.Errorf("rejected program was stored: %v", programs)
	}

	_, err := call(t, ts, RegisterProcedure, map[string]any{"bytecode": bytecode("_H", 1)})
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("missing name code = %v, want InvalidArgument", connect.CodeOf(err))
	}
}

func TestRunMissingProgram(t *testing.T) {
	ts := newTestServer(t)
	_, err := call(t, ts, RunProcedure, map[string]any{"ref": "nothing"})
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("code = %v, want NotFound", connect.CodeOf(err))
	}
}

func TestStoreProceduresNeedStore(t *testing.T) {
	s := New()
	defer s.Stop()
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	_, err := call(t, ts, ListProcedure, map[string]any{})
	if connect.CodeOf(err) != connect.CodeFailedPrecondition {
		t.Errorf("code = %v, want FailedPrecondition", connect.CodeOf(err))
	}
}

// ---------------------------------------------------------------------------
// Plain HTTP
// ---------------------------------------------------------------------------

func TestExecuteOverPlainJSON(t *testing.T) {
	ts := newTestServer(t)
	body := `{"bytecode": ["_H", 1, 32, "a", 32, "b", 2, "concat", 2, 38]}`
	resp, err := http.Post(ts.URL+ExecuteProcedure, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
	var got map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if got["value"] != "ab" {
		t.Errorf("value = %v, want ab", got["value"])
	}
}

// ---------------------------------------------------------------------------
// Pool
// ---------------------------------------------------------------------------

func TestPoolRunsConcurrently(t *testing.T) {
	p := NewPool(4)
	defer p.Stop()

	var wg sync.WaitGroup
	results := make([]any, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := p.Do(context.Background(), func(context.Context) (any, error) {
				time.Sleep(10 * time.Millisecond)
				return i * i, nil
			})
			if err != nil {
				t.Errorf("Do failed: %v", err)
			}
			results[i] = v
		}(i)
	}
	wg.Wait()
	for i, v := range results {
		if v != i*i {
			t.Errorf("results[%d] = %v, want %d", i, v, i*i)
		}
	}
}

func TestPoolRecoversPanics(t *testing.T) {
	p := NewPool(1)
	defer p.Stop()

	_, err := p.Do(context.Background(), func(context.Context) (any, error) {
		panic("kaboom")
	})
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Errorf("err = %v, want the panic", err)
	}
	v, err := p.Do(context.Background(), func(context.Context) (any, error) { return "ok", nil })
	if err != nil || v != "ok" {
		t.Errorf("Do after panic = %v, %v", v, err)
	}
}

func TestPoolHonoursCancelledContext(t *testing.T) {
	p := NewPool(1)
	defer p.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	_, err := p.Do(ctx, func(context.Context) (any, error) {
		ran = true
		return nil, nil
	})
	if err == nil {
		t.Error("Do with cancelled context succeeded")
	}
	if ran {
		t.Error("cancelled request was executed")
	}
}
