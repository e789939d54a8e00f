package vm

import (
	"math"
	"strconv"
	"strings"
)

func isNumber(v Value) bool {
	switch v.(type) {
	case Int, Float:
		return true
	}
	return false
}

// toNumber parses s as a float. Unparsable strings become NaN, which makes
// every ordering comparison with them false.
func toNumber(s String) Float {
	f, err := strconv.ParseFloat(strings.TrimSpace(string(s)), 64)
	if err != nil {
		return Float(math.NaN())
	}
	return Float(f)
}

func boolToInt(b Bool) Int {
	if b {
		return 1
	}
	return 0
}

// UnifyComparisonTypes coerces a mixed pair before comparison:
// number and string compare as floats, boolean and string compare as
// booleans (non-empty string is true), number and boolean compare as
// integers. Any other pair is returned unchanged.
func UnifyComparisonTypes(left, right Value) (Value, Value) {
	switch l := left.(type) {
	case Bool:
		switch r := right.(type) {
		case String:
			return l, Bool(r != "")
		case Int, Float:
			return boolToInt(l), r
		}
	case String:
		switch r := right.(type) {
		case Bool:
			return Bool(l != ""), r
		case Int, Float:
			return toNumber(l), r
		}
	case Int, Float:
		switch r := right.(type) {
		case String:
			return l, toNumber(r)
		case Bool:
			return l, boolToInt(r)
		}
	}
	return left, right
}

func asFloat(v Value) float64 {
	switch x := v.(type) {
	case Int:
		return float64(x)
	case Float:
		return float64(x)
	case Bool:
		return float64(boolToInt(x))
	}
	return math.NaN()
}

// Equal reports structural equality after comparison coercion. Arrays and
// tuples compare element-wise, mappings by key set and values regardless of
// order, functions and errors by identity. Cyclic containers compare equal
// when no difference is found before a pair repeats.
func Equal(a, b Value) bool {
	return equal(a, b, nil)
}

type containerPair struct{ a, b any }

func equal(a, b Value, visited map[containerPair]struct{}) bool {
	a, b = UnifyComparisonTypes(a, b)
	switch x := a.(type) {
	case nil, nullValue:
		return IsNull(b)
	case Bool:
		y, ok := b.(Bool)
		return ok && x == y
	case Int:
		switch y := b.(type) {
		case Int:
			return x == y
		case Float:
			return float64(x) == float64(y)
		}
		return false
	case Float:
		if !isNumber(b) {
			return false
		}
		return float64(x) == asFloat(b)
	case String:
		y, ok := b.(String)
		return ok && x == y
	case *Array:
		y, ok := b.(*Array)
		if !ok {
			return false
		}
		if x == y || pairSeen(&visited, x, y) {
			return true
		}
		return equalItems(x.Items, y.Items, visited)
	case *Tuple:
		y, ok := b.(*Tuple)
		if !ok {
			return false
		}
		if x == y || pairSeen(&visited, x, y) {
			return true
		}
		return equalItems(x.Items, y.Items, visited)
	case *Mapping:
		y, ok := b.(*Mapping)
		if !ok || x.Len() != y.Len() {
			return false
		}
		if x == y || pairSeen(&visited, x, y) {
			return true
		}
		eq := true
		x.Each(func(k, v Value) bool {
			other, found := y.Get(k)
			eq = found && equal(v, other, visited)
			return eq
		})
		return eq
	}
	return a == b
}

func equalItems(a, b []Value, visited map[containerPair]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !equal(a[i], b[i], visited) {
			return false
		}
	}
	return true
}

// pairSeen marks the pair (a, b) and reports whether it was already marked.
func pairSeen(visited *map[containerPair]struct{}, a, b any) bool {
	if *visited == nil {
		*visited = make(map[containerPair]struct{})
	}
	key := containerPair{a, b}
	if _, ok := (*visited)[key]; ok {
		return true
	}
	(*visited)[key] = struct{}{}
	return false
}

// Compare orders a and b after comparison coercion. It returns -1, 0 or 1,
// and ok=false when the pair has no order (NaN involved or incomparable
// kinds). Numbers, strings, dates and datetimes are ordered.
func Compare(a, b Value) (int, bool) {
	a, b = UnifyComparisonTypes(a, b)
	switch x := a.(type) {
	case Int:
		if y, ok := b.(Int); ok {
			return cmpOrdered(x, y), true
		}
		if isNumber(b) {
			return cmpFloat(float64(x), asFloat(b))
		}
	case Float:
		if isNumber(b) {
			return cmpFloat(float64(x), asFloat(b))
		}
	case Bool:
		if y, ok := b.(Bool); ok {
			return cmpOrdered(boolToInt(x), boolToInt(y)), true
		}
	case String:
		if y, ok := b.(String); ok {
			return strings.Compare(string(x), string(y)), true
		}
	case Date:
		switch y := b.(type) {
		case Date:
			return x.Time().Compare(y.Time()), true
		case DateTime:
			return cmpFloat(float64(x.Time().Unix()), y.Epoch)
		}
	case DateTime:
		switch y := b.(type) {
		case DateTime:
			return cmpFloat(x.Epoch, y.Epoch)
		case Date:
			return cmpFloat(x.Epoch, float64(y.Time().Unix()))
		}
	}
	return 0, false
}

func cmpOrdered[T ~int64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpFloat(a, b float64) (int, bool) {
	switch {
	case a < b:
		return -1, true
	case a > b:
		return 1, true
	case a == b:
		return 0, true
	}
	return 0, false
}

// Contains implements the IN operator: substring search for strings,
// element equality for arrays and tuples, key presence for mappings.
// A null haystack contains nothing.
func Contains(haystack, needle Value) (bool, error) {
	switch h := haystack.(type) {
	case nil, nullValue:
		return false, nil
	case String:
		if IsNull(needle) {
			return false, nil
		}
		return strings.Contains(string(h), ToString(needle)), nil
	case *Array:
		return containsItem(h.Items, needle), nil
	case *Tuple:
		return containsItem(h.Items, needle), nil
	case *Mapping:
		return h.Has(needle), nil
	}
	return false, typeErrorf("argument of type '%s' is not iterable", haystack.Kind())
}

func containsItem(items []Value, needle Value) bool {
	for _, item := range items {
		if Equal(item, needle) {
			return true
		}
	}
	return false
}
