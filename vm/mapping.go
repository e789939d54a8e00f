package vm

import (
	"fmt"
	"math"

	"github.com/emirpasic/gods/maps/linkedhashmap"
)

// Mapping is an insertion-ordered dictionary. Keys are compared by value:
// 1, 1.0 and true address the same entry.
type Mapping struct {
	m *linkedhashmap.Map
}

func (*Mapping) Kind() Kind { return KindMapping }

type mapKey struct {
	kind Kind
	n    int64
	f    float64
	s    string
}

type mapEntry struct {
	key Value
	val Value
}

// NewMapping creates an empty mapping.
func NewMapping() *Mapping {
	return &Mapping{m: linkedhashmap.New()}
}

// MappingOf builds a mapping from alternating string keys and values.
func MappingOf(pairs ...any) *Mapping {
	m := NewMapping()
	for i := 0; i+1 < len(pairs); i += 2 {
		m.SetString(fmt.Sprint(pairs[i]), MustFromGo(pairs[i+1]))
	}
	return m
}

func keyOf(v Value) (mapKey, error) {
	switch x := v.(type) {
	case nil, nullValue:
		return mapKey{kind: KindNull}, nil
	case Bool:
		if x {
			return mapKey{kind: KindInt, n: 1}, nil
		}
		return mapKey{kind: KindInt}, nil
	case Int:
		return mapKey{kind: KindInt, n: int64(x)}, nil
	case Float:
		f := float64(x)
		if f == math.Trunc(f) && math.Abs(f) < 1<<62 {
			return mapKey{kind: KindInt, n: int64(f)}, nil
		}
		return mapKey{kind: KindFloat, f: f}, nil
	case String:
		return mapKey{kind: KindString, s: string(x)}, nil
	case *Tuple, Date, DateTime, Interval:
		return mapKey{kind: v.Kind(), s: Repr(v)}, nil
	case *Callable, *Closure:
		return mapKey{kind: v.Kind(), s: fmt.Sprintf("%p", x)}, nil
	}
	return mapKey{}, typeErrorf("unhashable key type: %s", v.Kind())
}

// Len returns the number of entries.
func (m *Mapping) Len() int {
	return m.m.Size()
}

// Get looks up key.
func (m *Mapping) Get(key Value) (Value, bool) {
	k, err := keyOf(key)
	if err != nil {
		return nil, false
	}
	e, ok := m.m.Get(k)
	if !ok {
		return nil, false
	}
	return e.(mapEntry).val, true
}

// GetString looks up a string key.
func (m *Mapping) GetString(key string) (Value, bool) {
	return m.Get(String(key))
}

// Has reports whether key is present.
func (m *Mapping) Has(key Value) bool {
	_, ok := m.Get(key)
	return ok
}

// Set inserts or replaces the entry for key. Replacing keeps the entry's
// original position.
func (m *Mapping) Set(key, val Value) error {
	k, err := keyOf(key)
	if err != nil {
		return err
	}
	if val == nil {
		val = Null
	}
	if e, ok := m.m.Get(k); ok {
		key = e.(mapEntry).key
	}
	m.m.Put(k, mapEntry{key: key, val: val})
	return nil
}

// SetString sets a string key.
func (m *Mapping) SetString(key string, val Value) {
	_ = m.Set(String(key), val)
}

// Delete removes key and reports whether it was present.
func (m *Mapping) Delete(key Value) bool {
	k, err := keyOf(key)
	if err != nil {
		return false
	}
	if _, ok := m.m.Get(k); !ok {
		return false
	}
	m.m.Remove(k)
	return true
}

// Keys returns the keys in insertion order.
func (m *Mapping) Keys() []Value {
	keys := make([]Value, 0, m.Len())
	m.Each(func(k, _ Value) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// Values returns the values in insertion order.
func (m *Mapping) Values() []Value {
	vals := make([]Value, 0, m.Len())
	m.Each(func(_, v Value) bool {
		vals = append(vals, v)
		return true
	})
	return vals
}

// Each calls fn for every entry in order until fn returns false.
func (m *Mapping) Each(fn func(key, val Value) bool) {
	it := m.m.Iterator()
	for it.Next() {
		e := it.Value().(mapEntry)
		if !fn(e.key, e.val) {
			return
		}
	}
}
