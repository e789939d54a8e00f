package vm

import "math"

// indexKey extracts an integer index from an Int or an integral Float.
func indexKey(key Value) (int, bool) {
	switch k := key.(type) {
	case Int:
		return int(k), true
	case Float:
		if f := float64(k); f == math.Trunc(f) {
			return int(f), true
		}
	}
	return 0, false
}

// resolveIndex turns a 1-based (or negative, from the end) index into a
// slice offset. ok is false when the index is out of range.
func resolveIndex(idx, length int) (int, bool) {
	if idx > 0 {
		return idx - 1, idx <= length
	}
	return length + idx, -idx <= length
}

// GetNestedValue walks chain from obj. Integer segments index arrays and
// tuples (1-based, negative from the end) and segment 0 always fails with
// IndexZero. Missing keys and out-of-range indexes yield Null. Hitting a
// null hop is a type error unless nullish is set, in which case the result
// is Null.
func GetNestedValue(obj Value, chain []Value, nullish bool) (Value, error) {
	for _, key := range chain {
		if idx, ok := indexKey(key); ok && idx == 0 {
			return nil, vmErrorf(KindIndexZero, "Hog arrays start from index 1")
		}
		if IsNull(obj) {
			if nullish {
				return Null, nil
			}
			return nil, typeErrorf("Cannot read property %s of null", Repr(key))
		}
		next, err := getProperty(obj, key, nullish)
		if err != nil {
			return nil, err
		}
		obj = next
	}
	if obj == nil {
		return Null, nil
	}
	return obj, nil
}

func getProperty(obj, key Value, nullish bool) (Value, error) {
	switch o := obj.(type) {
	case *Array:
		return getIndex(o.Items, key), nil
	case *Tuple:
		return getIndex(o.Items, key), nil
	case *Mapping:
		if v, ok := o.Get(key); ok {
			return v, nil
		}
		return Null, nil
	case *ErrorValue:
		switch key {
		case String("type"):
			return String(o.Type), nil
		case String("message"):
			return o.Message, nil
		case String("payload"):
			return o.Payload, nil
		}
		return Null, nil
	}
	if nullish {
		return Null, nil
	}
	return nil, typeErrorf("Cannot read property %s of %s", Repr(key), obj.Kind())
}

func getIndex(items []Value, key Value) Value {
	idx, ok := indexKey(key)
	if !ok {
		return Null
	}
	i, ok := resolveIndex(idx, len(items))
	if !ok {
		return Null
	}
	return items[i]
}

// SetNestedValue walks chain[:len-1] from obj and assigns value at the last
// segment, mutating the mapping or array in place.
func SetNestedValue(obj Value, chain []Value, value Value) error {
	if len(chain) == 0 {
		return typeErrorf("Empty property chain")
	}
	parent, err := GetNestedValue(obj, chain[:len(chain)-1], false)
	if err != nil {
		return err
	}
	key := chain[len(chain)-1]
	switch p := parent.(type) {
	case *Mapping:
		return p.Set(key, value)
	case *Array:
		idx, ok := indexKey(key)
		if !ok {
			return typeErrorf("Array index must be an integer, got %s", key.Kind())
		}
		if idx == 0 {
			return vmErrorf(KindIndexZero, "Hog arrays start from index 1")
		}
		i, ok := resolveIndex(idx, len(p.Items))
		if !ok {
			return typeErrorf("Array index %d out of range", idx)
		}
		p.Items[i] = value
		return nil
	}
	return typeErrorf("Cannot set property %s on %s", Repr(key), parent.Kind())
}

// DeepCopy returns a copy of v in which arrays, tuples and mappings are
// duplicated recursively. Other values are shared.
func DeepCopy(v Value) Value {
	return deepCopy(v, nil)
}

// deepCopy keeps a copy per source container in copies, so shared and
// cyclic structure is reproduced instead of followed forever.
func deepCopy(v Value, copies map[any]Value) Value {
	switch x := v.(type) {
	case *Array, *Tuple, *Mapping:
		if c, ok := copies[x]; ok {
			return c
		}
		if copies == nil {
			copies = make(map[any]Value)
		}
	}
	switch x := v.(type) {
	case *Array:
		arr := NewArray()
		copies[x] = arr
		arr.Items = copyItems(x.Items, copies)
		return arr
	case *Tuple:
		tup := NewTuple()
		copies[x] = tup
		tup.Items = copyItems(x.Items, copies)
		return tup
	case *Mapping:
		m := NewMapping()
		copies[x] = m
		x.Each(func(k, val Value) bool {
			_ = m.Set(k, deepCopy(val, copies))
			return true
		})
		return m
	}
	return v
}

func copyItems(items []Value, copies map[any]Value) []Value {
	out := make([]Value, len(items))
	for i, item := range items {
		out[i] = deepCopy(item, copies)
	}
	return out
}
