package conformance

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/chazu/hogvm/vm"
	"github.com/chazu/hogvm/wire"
)

// Result is the outcome of running one case.
type Result struct {
	Case       LoadedCase
	Passed     bool
	Skipped    bool
	SkipReason string
	Err        error
}

// Stats summarises a run.
type Stats struct {
	Total, Passed, Failed, Skipped int
}

func (s Stats) String() string {
	return fmt.Sprintf("%d cases: %d passed, %d failed, %d skipped",
		s.Total, s.Passed, s.Failed, s.Skipped)
}

// Run executes a single case and checks its expectation.
func Run(ctx context.Context, lc LoadedCase) Result {
	c := lc.Case
	if c.Skip != "" {
		return Result{Case: lc, Skipped: true, SkipReason: c.Skip}
	}
	err := run(ctx, c)
	return Result{Case: lc, Passed: err == nil, Err: err}
}

// RunAll runs every case in order.
func RunAll(ctx context.Context, cases []LoadedCase) ([]Result, Stats) {
	results := make([]Result, len(cases))
	var stats Stats
	for i, lc := range cases {
		results[i] = Run(ctx, lc)
		stats.Total++
		switch {
		case results[i].Skipped:
			stats.Skipped++
		case results[i].Passed:
			stats.Passed++
		default:
			stats.Failed++
		}
	}
	return results, stats
}

func run(ctx context.Context, c Case) error {
	doc, err := nodeValue(&c.Program)
	if err != nil {
		return fmt.Errorf("program: %w", err)
	}
	program, err := wire.ProgramFromValue(doc)
	if err != nil {
		return fmt.Errorf("program: %w", err)
	}

	opts := vm.Options{MemoryLimit: c.MemoryLimit}
	if c.Timeout != "" {
		if opts.Timeout, err = time.ParseDuration(c.Timeout); err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
	}
	if c.Globals.Kind != 0 {
		g, err := nodeValue(&c.Globals)
		if err != nil {
			return fmt.Errorf("globals: %w", err)
		}
		m, ok := g.(*vm.Mapping)
		if !ok {
			return fmt.Errorf("globals must be a mapping, got %s", g.Kind())
		}
		opts.Globals = m
	}

	result, err := vm.Execute(ctx, program, opts)
	return check(c.Expect, result, err)
}

func check(want Expectation, result *vm.Result, err error) error {
	if want.Error != "" {
		if err == nil {
			return fmt.Errorf("got %s, want %s error", vm.Repr(result.Value), want.Error)
		}
		kind, ok := vm.ParseErrorKind(want.Error)
		if !ok {
			return fmt.Errorf("unknown error kind %q", want.Error)
		}
		if got := vm.KindOf(err); got != kind {
			return fmt.Errorf("error kind = %s, want %s (%v)", got, kind, err)
		}
		return matchMessage(want.Match, err.Error())
	}
	if err != nil {
		return fmt.Errorf("unexpected error: %w", err)
	}

	if want.Value != nil {
		if got := vm.Repr(result.Value); got != *want.Value {
			return fmt.Errorf("value = %s, want %s", got, *want.Value)
		}
	}
	if want.JSON != "" {
		data, err := vm.MarshalJSON(result.Value, 0)
		if err != nil {
			return err
		}
		if got := string(data); got != want.JSON {
			return fmt.Errorf("json = %s, want %s", got, want.JSON)
		}
	}
	if want.Output != nil {
		if strings.Join(result.Output, "\n") != strings.Join(want.Output, "\n") || len(result.Output) != len(want.Output) {
			return fmt.Errorf("output = %q, want %q", result.Output, want.Output)
		}
	}
	return nil
}

func matchMessage(pattern, msg string) error {
	if pattern == "" {
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("match: %w", err)
	}
	if !re.MatchString(msg) {
		return fmt.Errorf("error message %q does not match %q", msg, pattern)
	}
	return nil
}
