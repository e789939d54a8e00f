package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/hogvm/config"
	"github.com/chazu/hogvm/store"
	"github.com/chazu/hogvm/vm"
	"github.com/chazu/hogvm/wire"
)

func TestWriteProgramFormats(t *testing.T) {
	dir := t.TempDir()
	program := vm.NewProgram(vm.Tokens("_H", 1, vm.OpInteger, 2, vm.OpInteger, 3, vm.OpMultiply, vm.OpReturn))

	for _, name := range []string{"prog.cbor", "prog.json"} {
		path := filepath.Join(dir, name)
		if err := writeProgram(path, program); err != nil {
			t.Fatalf("writeProgram(%s) returned error: %v", name, err)
		}
		loaded, err := wire.LoadProgramFile(path)
		if err != nil {
			t.Fatalf("LoadProgramFile(%s) returned error: %v", name, err)
		}
		result, err := vm.Execute(context.Background(), loaded, vm.Options{})
		if err != nil {
			t.Fatalf("Execute returned error: %v", err)
		}
		if got := vm.Repr(result.Value); got != "6" {
			t.Errorf("%s result = %s, want 6", name, got)
		}
	}

	if err := writeProgram(filepath.Join(dir, "prog.txt"), program); err == nil {
		t.Error("writeProgram(.txt) succeeded, want error")
	}
}

func TestLoadGlobals(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(good, []byte(`{"event": {"name": "$pageview"}}`), 0o644)
	os.WriteFile(bad, []byte(`[1, 2]`), 0o644)

	m, err := loadGlobals(good)
	if err != nil {
		t.Fatalf("loadGlobals returned error: %v", err)
	}
	if got := vm.Repr(m); got != "{'event': {'name': '$pageview'}}" {
		t.Errorf("globals = %s", got)
	}
	if _, err := loadGlobals(bad); err == nil {
		t.Error("loadGlobals(array) succeeded, want error")
	}
}

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	cwd, _ := os.Getwd()
	defer os.Chdir(cwd)
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir failed: %v", err)
	}
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	if cfg.Execution.Timeout.Duration != vm.DefaultTimeout {
		t.Errorf("Timeout = %s, want %s", cfg.Execution.Timeout.Duration, vm.DefaultTimeout)
	}
}

func TestRunConformanceFixtures(t *testing.T) {
	if code := runConformance(filepath.Join("..", "..", "conformance", "testdata"), false); code != 0 {
		t.Errorf("runConformance exit code = %d, want 0", code)
	}
}

func TestHandlePut(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prog.json")
	os.WriteFile(path, []byte(`["_H", 1, 32, "ok", 38]`), 0o644)

	st, err := store.Open(filepath.Join(dir, "programs.db"))
	if err != nil {
		t.Fatalf("store.Open returned error: %v", err)
	}
	defer st.Close()

	if err := handlePut(context.Background(), st, config.Default(), "ok", path); err != nil {
		t.Fatalf("handlePut returned error: %v", err)
	}
	_, program, err := st.Resolve(context.Background(), "ok")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got := len(program.Root().Bytecode); got != 5 {
		t.Errorf("stored bytecode has %d tokens, want 5", got)
	}
}
