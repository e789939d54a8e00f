package vm

import (
	"math"
	"testing"
)

// ---------------------------------------------------------------------------
// Printing
// ---------------------------------------------------------------------------

func TestRepr(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{Null, "null"},
		{Bool(true), "true"},
		{Int(-3), "-3"},
		{Float(1), "1.0"},
		{Float(0.5), "0.5"},
		{Float(1e20), "1e+20"},
		{Float(0.0001), "0.0001"},
		{Float(math.NaN()), "nan"},
		{String("it's"), `'it\'s'`},
		{String("a\nb"), `'a\nb'`},
		{NewArray(Int(1), String("x")), "[1, 'x']"},
		{NewTuple(), "tuple()"},
		{NewTuple(Int(1)), "tuple(1)"},
		{NewTuple(Int(1), Int(2)), "(1, 2)"},
		{MappingOf("a", 1, "b", nil), "{'a': 1, 'b': null}"},
		{NewError("Error", String("bad"), Null), "Error('bad')"},
		{&Callable{Name: "f", ArgCount: 2}, "fn<f(2)>"},
		{&Closure{Callable: &Callable{Name: "g"}}, "fn<g(0)>"},
		{Date{Year: 2024, Month: 1, Day: 2}, "Date(2024, 1, 2)"},
		{Interval{Value: 3, Unit: "day"}, "Interval(3, 'day')"},
	}
	for _, tt := range tests {
		if got := Repr(tt.v); got != tt.want {
			t.Errorf("Repr(%#v) = %s, want %s", tt.v, got, tt.want)
		}
	}
}

func TestToStringLeavesStringsBare(t *testing.T) {
	if got := ToString(String("it's")); got != "it's" {
		t.Errorf("ToString = %q, want %q", got, "it's")
	}
	if got := ToString(NewArray(String("a"))); got != "['a']" {
		t.Errorf("ToString = %q, want %q", got, "['a']")
	}
}

func TestReprCycle(t *testing.T) {
	arr := NewArray(Int(1))
	arr.Items = append(arr.Items, arr)
	if got := Repr(arr); got != "[1, null]" {
		t.Errorf("Repr(cycle) = %s, want [1, null]", got)
	}
}

func selfArray(first Value) *Array {
	arr := NewArray(first)
	arr.Items = append(arr.Items, arr)
	return arr
}

func TestEqualCycle(t *testing.T) {
	a, b, c := selfArray(Int(1)), selfArray(Int(1)), selfArray(Int(2))
	if !Equal(a, a) {
		t.Error("Equal(a, a) = false for a self-referencing array")
	}
	if !Equal(a, b) {
		t.Error("Equal(a, b) = false for two identical self-referencing arrays")
	}
	if Equal(a, c) {
		t.Error("Equal(a, c) = true for self-referencing arrays with different items")
	}

	m, n := MappingOf("k", 1), MappingOf("k", 1)
	m.SetString("self", m)
	n.SetString("self", n)
	if !Equal(m, n) {
		t.Error("Equal(m, n) = false for identical self-referencing mappings")
	}
	n.SetString("k", Int(2))
	if Equal(m, n) {
		t.Error("Equal(m, n) = true after changing n")
	}
}

func TestDeepCopyCycle(t *testing.T) {
	orig := selfArray(Int(1))
	cp, ok := DeepCopy(orig).(*Array)
	if !ok {
		t.Fatalf("DeepCopy returned %T, want *Array", DeepCopy(orig))
	}
	if cp == orig {
		t.Fatal("DeepCopy returned the original array")
	}
	if inner, _ := cp.Items[1].(*Array); inner != cp {
		t.Errorf("copied cycle points at %p, want the copy %p", inner, cp)
	}
	cp.Items[0] = Int(2)
	if got := Repr(orig); got != "[1, null]" {
		t.Errorf("original changed to %s", got)
	}
}

func TestToGoCycle(t *testing.T) {
	got, ok := ToGo(selfArray(Int(1))).([]any)
	if !ok || len(got) != 2 {
		t.Fatalf("ToGo(cycle) = %#v, want a 2-item slice", got)
	}
	if got[0] != int64(1) || got[1] != nil {
		t.Errorf("ToGo(cycle) = %#v, want [1 <nil>]", got)
	}
}

// ---------------------------------------------------------------------------
// Truthiness and conversion
// ---------------------------------------------------------------------------

func TestTruthy(t *testing.T) {
	falsy := []Value{Null, Bool(false), Int(0), Float(0), String(""), NewArray(), NewTuple(), NewMapping()}
	for _, v := range falsy {
		if Truthy(v) {
			t.Errorf("Truthy(%s) = true, want false", Repr(v))
		}
	}
	truthy := []Value{Bool(true), Int(-1), String("0"), NewArray(Null), NewError("", Null, Null)}
	for _, v := range truthy {
		if !Truthy(v) {
			t.Errorf("Truthy(%s) = false, want true", Repr(v))
		}
	}
}

func TestFromGoAndBack(t *testing.T) {
	v, err := FromGo(map[string]any{"b": []any{1, 2.5, "x"}, "a": true})
	if err != nil {
		t.Fatalf("FromGo returned error: %v", err)
	}
	if got := Repr(v); got != "{'a': true, 'b': [1, 2.5, 'x']}" {
		t.Errorf("FromGo = %s", got)
	}
	back, ok := ToGo(v).(map[string]any)
	if !ok {
		t.Fatalf("ToGo returned %T, want map", ToGo(v))
	}
	if items := back["b"].([]any); items[0] != int64(1) || items[2] != "x" {
		t.Errorf("ToGo items = %v", items)
	}
	if _, err := FromGo(struct{}{}); err == nil {
		t.Error("FromGo(struct{}{}) succeeded, want error")
	}
}

func TestNewErrorDefaults(t *testing.T) {
	e := NewError("", Null, nil)
	if e.Type != "Error" {
		t.Errorf("Type = %q, want Error", e.Type)
	}
	if e.Message != String("An error occurred") {
		t.Errorf("Message = %s", Repr(e.Message))
	}
	if !IsNull(e.Payload) {
		t.Errorf("Payload = %s, want null", Repr(e.Payload))
	}
}

// ---------------------------------------------------------------------------
// Mappings
// ---------------------------------------------------------------------------

func TestMappingKeyNormalization(t *testing.T) {
	m := NewMapping()
	if err := m.Set(Int(1), String("int")); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if err := m.Set(Float(1), String("float")); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if m.Len() != 1 {
		t.Fatalf("Len = %d, want 1", m.Len())
	}
	if v, _ := m.Get(Bool(true)); v != String("float") {
		t.Errorf("Get(true) = %s, want 'float'", Repr(v))
	}
	if got := Repr(m.Keys()[0]); got != "1" {
		t.Errorf("key = %s, want the original key 1", got)
	}
	if err := m.Set(NewArray(), Null); KindOf(err) != KindTypeError {
		t.Errorf("Set(array key) = %v, want TypeError", err)
	}
}

func TestMappingOrder(t *testing.T) {
	m := NewMapping()
	m.SetString("z", Int(1))
	m.SetString("a", Int(2))
	m.SetString("z", Int(3))
	if got := Repr(m); got != "{'z': 3, 'a': 2}" {
		t.Errorf("Repr = %s", got)
	}
	if !m.Delete(String("z")) || m.Delete(String("z")) {
		t.Error("Delete did not report presence correctly")
	}
	if got := Repr(m); got != "{'a': 2}" {
		t.Errorf("Repr after delete = %s", got)
	}
}

// ---------------------------------------------------------------------------
// Cost
// ---------------------------------------------------------------------------

func TestCalculateCost(t *testing.T) {
	shared := NewArray(Int(1))
	tests := []struct {
		name string
		v    Value
		want int
	}{
		{"int", Int(5), 8},
		{"string", String("abcd"), 12},
		{"array", NewArray(Int(1), Int(2)), 24},
		{"mapping", MappingOf("ab", 1), 8 + 10 + 8},
		{"shared", NewArray(shared, shared), 8 + 16 + 8},
	}
	for _, tt := range tests {
		if got := CalculateCost(tt.v); got != tt.want {
			t.Errorf("CalculateCost(%s) = %d, want %d", tt.name, got, tt.want)
		}
	}

	cyclic := NewArray()
	cyclic.Items = append(cyclic.Items, cyclic)
	if got := CalculateCost(cyclic); got != 16 {
		t.Errorf("CalculateCost(cycle) = %d, want 16", got)
	}
}

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

func TestEqual(t *testing.T) {
	tests := []struct {
		a, b Value
		want bool
	}{
		{Int(1), Float(1), true},
		{Int(1), String("1"), true},
		{String("abc"), Int(0), false},
		{Null, Null, true},
		{Null, Int(0), false},
		{NewArray(Int(1), String("a")), NewArray(Float(1), String("a")), true},
		{NewTuple(Int(1)), NewArray(Int(1)), false},
		{MappingOf("a", 1, "b", 2), MappingOf("b", 2, "a", 1), true},
		{MappingOf("a", 1), MappingOf("a", 2), false},
	}
	for _, tt := range tests {
		if got := Equal(tt.a, tt.b); got != tt.want {
			t.Errorf("Equal(%s, %s) = %v, want %v", Repr(tt.a), Repr(tt.b), got, tt.want)
		}
	}
}

func TestCompare(t *testing.T) {
	if c, ok := Compare(String("a"), String("b")); !ok || c != -1 {
		t.Errorf("Compare('a', 'b') = %d, %v", c, ok)
	}
	if _, ok := Compare(String("abc"), Int(1)); ok {
		t.Error("Compare('abc', 1) is ordered, want NaN comparison")
	}
	if _, ok := Compare(NewArray(), NewArray()); ok {
		t.Error("Compare([], []) is ordered")
	}
	d1 := Date{Year: 2024, Month: 1, Day: 1}
	d2 := DateTime{Epoch: float64(d1.Time().Unix()) + 1, Zone: "UTC"}
	if c, ok := Compare(d1, d2); !ok || c != -1 {
		t.Errorf("Compare(date, datetime) = %d, %v", c, ok)
	}
}

func TestContains(t *testing.T) {
	tests := []struct {
		haystack, needle Value
		want             bool
	}{
		{String("hello"), String("ell"), true},
		{String("hello"), Null, false},
		{NewArray(Int(1), Int(2)), Float(2), true},
		{MappingOf("k", 1), String("k"), true},
		{MappingOf("k", 1), Int(1), false},
		{Null, Int(1), false},
	}
	for _, tt := range tests {
		got, err := Contains(tt.haystack, tt.needle)
		if err != nil {
			t.Fatalf("Contains returned error: %v", err)
		}
		if got != tt.want {
			t.Errorf("Contains(%s, %s) = %v, want %v", Repr(tt.haystack), Repr(tt.needle), got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Nested access
// ---------------------------------------------------------------------------

func TestGetNestedValue(t *testing.T) {
	obj := MustFromGo(map[string]any{
		"list": []any{map[string]any{"id": 7}},
	})
	v, err := GetNestedValue(obj, []Value{String("list"), Int(1), String("id")}, false)
	if err != nil {
		t.Fatalf("GetNestedValue returned error: %v", err)
	}
	if v != Int(7) {
		t.Errorf("GetNestedValue = %s, want 7", Repr(v))
	}

	if _, err := GetNestedValue(obj, []Value{String("list"), Int(0)}, true); KindOf(err) != KindIndexZero {
		t.Errorf("index 0 error = %v, want IndexZero", err)
	}
	if _, err := GetNestedValue(obj, []Value{String("none"), String("x")}, false); KindOf(err) != KindTypeError {
		t.Errorf("null hop error = %v, want TypeError", err)
	}
	v, err = GetNestedValue(obj, []Value{String("none"), String("x")}, true)
	if err != nil || !IsNull(v) {
		t.Errorf("nullish null hop = %v, %v; want null", v, err)
	}
}

func TestSetNestedValue(t *testing.T) {
	obj := MustFromGo(map[string]any{"a": []any{1, 2}})
	if err := SetNestedValue(obj, []Value{String("a"), Int(-1)}, String("last")); err != nil {
		t.Fatalf("SetNestedValue returned error: %v", err)
	}
	if got := Repr(obj); got != "{'a': [1, 'last']}" {
		t.Errorf("after set = %s", got)
	}
	if err := SetNestedValue(obj, []Value{String("a"), Int(5)}, Null); KindOf(err) != KindTypeError {
		t.Errorf("out of range set = %v, want TypeError", err)
	}
}

func TestDeepCopy(t *testing.T) {
	orig := MustFromGo(map[string]any{"a": []any{1}}).(*Mapping)
	cp := DeepCopy(orig).(*Mapping)
	inner, _ := cp.GetString("a")
	inner.(*Array).Items[0] = Int(2)
	if got := Repr(orig); got != "{'a': [1]}" {
		t.Errorf("original changed to %s", got)
	}
}
