package conformance

import (
	"context"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/chazu/hogvm/vm"
)

func TestConformance(t *testing.T) {
	cases, err := Load("testdata")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(cases) == 0 {
		t.Fatal("no cases loaded")
	}

	for _, lc := range cases {
		t.Run(lc.File+"/"+lc.Case.Name, func(t *testing.T) {
			r := Run(context.Background(), lc)
			switch {
			case r.Skipped:
				t.Skipf("skipped: %s", r.SkipReason)
			case !r.Passed:
				t.Errorf("case failed: %v", r.Err)
			}
		})
	}
}

func TestRunAllStats(t *testing.T) {
	cases, err := Load("testdata")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	_, stats := RunAll(context.Background(), cases)
	if stats.Total != len(cases) {
		t.Errorf("Total = %d, want %d", stats.Total, len(cases))
	}
	if stats.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", stats.Skipped)
	}
	if stats.Failed != 0 {
		t.Errorf("Failed = %d, want 0 (%s)", stats.Failed, stats)
	}
}

// ---------------------------------------------------------------------------
// YAML conversion
// ---------------------------------------------------------------------------

func decodeNode(t *testing.T, src string) vm.Value {
	t.Helper()
	var n yaml.Node
	if err := yaml.Unmarshal([]byte(src), &n); err != nil {
		t.Fatalf("yaml.Unmarshal returned error: %v", err)
	}
	v, err := nodeValue(&n)
	if err != nil {
		t.Fatalf("nodeValue returned error: %v", err)
	}
	return v
}

func TestNodeValue(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"[1, 1.0, 'x', true, null]", "[1, 1.0, 'x', true, null]"},
		{"{b: 1, a: [2]}", "{'b': 1, 'a': [2]}"},
		{"[!op RETURN, !op 6]", "[38, 6]"},
		{"0x10", "16"},
		{"base: &b {x: 1}\ncopy: *b", "{'base': {'x': 1}, 'copy': {'x': 1}}"},
	}
	for _, tt := range tests {
		if got := vm.Repr(decodeNode(t, tt.src)); got != tt.want {
			t.Errorf("nodeValue(%q) = %s, want %s", tt.src, got, tt.want)
		}
	}
}

func TestUnknownOperation(t *testing.T) {
	var n yaml.Node
	if err := yaml.Unmarshal([]byte("[!op NOPE]"), &n); err != nil {
		t.Fatalf("yaml.Unmarshal returned error: %v", err)
	}
	if _, err := nodeValue(&n); err == nil || !strings.Contains(err.Error(), "NOPE") {
		t.Errorf("err = %v, want unknown operation", err)
	}
}

// ---------------------------------------------------------------------------
// Expectations
// ---------------------------------------------------------------------------

func TestFailingExpectations(t *testing.T) {
	suite := `
name: failing
tests:
  - name: wrong value
    program: [_H, 1, !op INTEGER, 1, !op RETURN]
    expect: {value: "2"}
  - name: missing error
    program: [_H, 1, !op INTEGER, 1, !op RETURN]
    expect: {error: TypeError}
  - name: wrong error kind
    program: [_H, 1, !op INTEGER, 1, !op THROW]
    expect: {error: Uncaught}
  - name: unexpected error
    program: [_H, 1, !op POP]
    expect: {value: "null"}
  - name: message mismatch
    program: [_H, 1, !op STRING, nope, !op GET_GLOBAL, 1, !op RETURN]
    expect: {error: UnknownGlobal, match: "^other"}
  - name: bad program
    program: 5
    expect: {value: "5"}
`
	var s Suite
	if err := yaml.Unmarshal([]byte(suite), &s); err != nil {
		t.Fatalf("yaml.Unmarshal returned error: %v", err)
	}
	for _, c := range s.Tests {
		r := Run(context.Background(), LoadedCase{Suite: s.Name, Case: c})
		if r.Passed || r.Err == nil {
			t.Errorf("%s: passed, want failure", c.Name)
		}
	}
}
