// Package validator test-runs HogVM programs against a synthetic context
// so that a program can be rejected before it is stored or run live.
package validator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tliron/commonlog"

	"github.com/chazu/hogvm/vm"
)

// DefaultTimeout is the time budget of a validation run.
const DefaultTimeout = 300 * time.Millisecond

var log = commonlog.GetLogger("hogvm.validator")

// Category is the class of a rejected program.
type Category int

const (
	ExecutionError Category = iota
	TooSlow
	TooMuchMemory
)

func (c Category) String() string {
	switch c {
	case TooSlow:
		return "TooSlow"
	case TooMuchMemory:
		return "TooMuchMemory"
	}
	return "ExecutionError"
}

// ValidationError is the user-facing reason a program was rejected.
type ValidationError struct {
	Category Category
	Message  string
	Cause    error
}

func (e *ValidationError) Error() string { return e.Message }
func (e *ValidationError) Unwrap() error { return e.Cause }

// Option adjusts a validation run.
type Option func(*config)

type config struct {
	timeout     time.Duration
	memoryLimit int
	globals     *vm.Mapping
	chunks      map[string]*vm.Chunk
}

// WithTimeout replaces DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMemoryLimit replaces vm.MaxMemory.
func WithMemoryLimit(n int) Option {
	return func(c *config) { c.memoryLimit = n }
}

// WithGlobals merges extra globals over the synthetic context.
func WithGlobals(globals *vm.Mapping) Option {
	return func(c *config) { c.globals = globals }
}

// WithChunks makes extra chunks available to import.
func WithChunks(chunks map[string]*vm.Chunk) Option {
	return func(c *config) { c.chunks = chunks }
}

// Validate executes bytecode with mocked host functions and returns nil
// when it runs to completion. Any failure, including a panic, is returned
// as a *ValidationError.
func Validate(ctx context.Context, bytecode []vm.Value, inputs *vm.Mapping, opts ...Option) (err error) {
	cfg := &config{timeout: DefaultTimeout, memoryLimit: vm.MaxMemory}
	for _, opt := range opts {
		opt(cfg)
	}

	program := vm.NewProgram(bytecode)
	for name, chunk := range cfg.chunks {
		if name != vm.RootChunk {
			program.AddChunk(name, chunk.Bytecode, chunk.Globals)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("validation panicked: %v", r)
			err = &ValidationError{
				Category: ExecutionError,
				Message:  fmt.Sprintf("Error executing bytecode: %v", r),
				Cause:    fmt.Errorf("panic: %v", r),
			}
		}
	}()

	_, execErr := vm.Execute(ctx, program, vm.Options{
		Globals:     SyntheticGlobals(inputs, cfg.globals),
		Functions:   MockFunctions(),
		Timeout:     cfg.timeout,
		MemoryLimit: cfg.memoryLimit,
	})
	if execErr == nil {
		return nil
	}
	verr := classify(execErr, cfg)
	log.Debugf("rejected program: %s: %v", verr.Category, execErr)
	return verr
}

func classify(err error, cfg *config) *ValidationError {
	var mem *vm.MemoryExceededError
	switch {
	case vm.KindOf(err) == vm.KindRuntimeExceeded:
		return &ValidationError{
			Category: TooSlow,
			Message: fmt.Sprintf("Your code took longer than %g seconds to run. Please simplify your code and try again.",
				cfg.timeout.Seconds()),
			Cause: err,
		}
	case errors.As(err, &mem):
		return &ValidationError{
			Category: TooMuchMemory,
			Message: fmt.Sprintf("Your code used more than the allowed %s of memory (tried to use %s). Please simplify your code.",
				humanize.Bytes(uint64(mem.Limit)), humanize.Bytes(uint64(mem.Attempted))),
			Cause: err,
		}
	}
	return &ValidationError{
		Category: ExecutionError,
		Message:  fmt.Sprintf("Error executing bytecode: %v", err),
		Cause:    err,
	}
}

// SyntheticGlobals builds the fabricated event context programs are
// validated against. extra is merged over it key by key.
func SyntheticGlobals(inputs, extra *vm.Mapping) *vm.Mapping {
	if inputs == nil {
		inputs = vm.NewMapping()
	}
	g := vm.MappingOf(
		"event", map[string]any{
			"uuid":           "00000000-0000-4000-8000-000000000000",
			"event":          "test",
			"distinct_id":    "test-distinct-id",
			"elements_chain": "",
			"timestamp":      "2024-01-01T00:00:00Z",
			"url":            "https://example.com/events",
			"properties":     map[string]any{"$current_url": "https://example.com", "$browser": "Chrome"},
		},
		"person", map[string]any{
			"id":         "00000000-0000-4000-8000-000000000001",
			"name":       "Test User",
			"url":        "https://example.com/person",
			"properties": map[string]any{"email": "test@example.com"},
		},
		"groups", map[string]any{},
		"project", map[string]any{
			"id":   1,
			"name": "Test project",
			"url":  "https://example.com/project",
		},
		"source", map[string]any{
			"name": "Test source",
			"url":  "https://example.com/source",
		},
		"inputs", inputs,
	)
	if extra != nil {
		extra.Each(func(k, v vm.Value) bool {
			_ = g.Set(k, v)
			return true
		})
	}
	return g
}

// MockFunctions returns the host functions available during validation:
// print discards its output and fetch always succeeds.
func MockFunctions() map[string]vm.HostFunction {
	return map[string]vm.HostFunction{
		"print": func(context.Context, []vm.Value) (vm.Value, error) {
			return vm.Null, nil
		},
		"fetch": func(context.Context, []vm.Value) (vm.Value, error) {
			return vm.MappingOf("status", 200, "body", map[string]any{}), nil
		},
	}
}
