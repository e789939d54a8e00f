package vm

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

func registerCore(r *Registry) {
	r.Register("print", 0, Variadic, stlPrint)
	r.Register("toString", 1, 1, func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		return String(ToString(args[0])), nil
	})
	r.Register("toInt", 1, 1, stlToInt)
	r.Register("toFloat", 1, 1, stlToFloat)
	r.Register("typeof", 1, 1, stlTypeof)
	r.Register("ifNull", 2, 2, func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		if IsNull(args[0]) {
			return args[1], nil
		}
		return args[0], nil
	})
	r.Register("length", 1, 1, stlLength)
	r.Register("empty", 1, 1, func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		return Bool(isEmpty(args[0])), nil
	})
	r.Register("notEmpty", 1, 1, func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		return Bool(!isEmpty(args[0])), nil
	})
	r.Register("tuple", 0, Variadic, func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		return NewTuple(append([]Value(nil), args...)...), nil
	})
	r.Register("keys", 1, 1, stlKeys)
	r.Register("values", 1, 1, stlValues)
	r.Register("has", 2, 2, func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		switch args[0].(type) {
		case *Array, *Tuple, *Mapping:
			found, err := Contains(args[0], args[1])
			return Bool(found), err
		}
		return Bool(false), nil
	})
	r.Register("indexOf", 2, 2, stlIndexOf)
	r.Register("arrayPushBack", 2, 2, func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		items := sequenceItems(args[0])
		out := make([]Value, 0, len(items)+1)
		return NewArray(append(append(out, items...), args[1])...), nil
	})
	r.Register("arrayPushFront", 2, 2, func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		items := sequenceItems(args[0])
		out := make([]Value, 0, len(items)+1)
		return NewArray(append(append(out, args[1]), items...)...), nil
	})
	r.Register("arrayPopBack", 1, 1, func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		items := sequenceItems(args[0])
		if len(items) == 0 {
			return NewArray(), nil
		}
		return NewArray(append([]Value(nil), items[:len(items)-1]...)...), nil
	})
	r.Register("arrayPopFront", 1, 1, func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		items := sequenceItems(args[0])
		if len(items) == 0 {
			return NewArray(), nil
		}
		return NewArray(append([]Value(nil), items[1:]...)...), nil
	})
	r.Register("arraySort", 1, 1, func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		return sortedArray(args[0], false)
	})
	r.Register("arrayReverseSort", 1, 1, func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		return sortedArray(args[0], true)
	})
	r.Register("arrayReverse", 1, 1, func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		items := sequenceItems(args[0])
		out := make([]Value, len(items))
		for i, item := range items {
			out[len(items)-1-i] = item
		}
		return NewArray(out...), nil
	})
	r.Register("arrayStringConcat", 1, 2, func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		items := sequenceItems(args[0])
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = ToString(item)
		}
		return String(strings.Join(parts, argOptString(args, 1, ""))), nil
	})
	r.Register("round", 1, 1, roundingFunc(math.RoundToEven))
	r.Register("floor", 1, 1, roundingFunc(math.Floor))
	r.Register("ceil", 1, 1, roundingFunc(math.Ceil))

	for _, typ := range []string{"Error", "RetryError", "NotImplementedError"} {
		r.Register(typ, 0, 2, errorConstructor(typ))
	}
	r.Register("HogError", 1, 3, func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		return NewError(argOptString(args, 0, "Error"), argAt(args, 1), argAt(args, 2)), nil
	})
}

func argAt(args []Value, i int) Value {
	if i < len(args) {
		return args[i]
	}
	return Null
}

func stlPrint(args []Value, _ any, out OutputSink, _ time.Duration) (Value, error) {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = ToString(arg)
	}
	out.Print(strings.Join(parts, " "))
	return Null, nil
}

func stlToInt(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
	switch x := args[0].(type) {
	case Int:
		return x, nil
	case Float:
		f := math.Trunc(float64(x))
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Null, nil
		}
		return Int(f), nil
	case Bool:
		return boolToInt(x), nil
	case String:
		if n, err := strconv.ParseInt(strings.TrimSpace(string(x)), 10, 64); err == nil {
			return Int(n), nil
		}
	}
	return Null, nil
}

func stlToFloat(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
	switch x := args[0].(type) {
	case Int:
		return Float(x), nil
	case Float:
		return x, nil
	case Bool:
		return Float(boolToInt(x)), nil
	case String:
		if f, err := strconv.ParseFloat(strings.TrimSpace(string(x)), 64); err == nil {
			return Float(f), nil
		}
	}
	return Null, nil
}

func stlTypeof(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
	switch args[0].(type) {
	case *Callable, *Closure:
		return String("function"), nil
	}
	return String(args[0].Kind().String()), nil
}

func stlLength(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
	switch x := args[0].(type) {
	case String:
		return Int(utf8.RuneCountInString(string(x))), nil
	case *Array:
		return Int(len(x.Items)), nil
	case *Tuple:
		return Int(len(x.Items)), nil
	case *Mapping:
		return Int(x.Len()), nil
	}
	return Int(0), nil
}

func isEmpty(v Value) bool {
	switch x := v.(type) {
	case nil, nullValue:
		return true
	case String:
		return x == ""
	case *Array:
		return len(x.Items) == 0
	case *Tuple:
		return len(x.Items) == 0
	case *Mapping:
		return x.Len() == 0
	case Int:
		return x == 0
	case Float:
		return x == 0
	case Bool:
		return !bool(x)
	}
	return false
}

// sequenceItems returns the items of an array or tuple, nil otherwise.
func sequenceItems(v Value) []Value {
	switch x := v.(type) {
	case *Array:
		return x.Items
	case *Tuple:
		return x.Items
	}
	return nil
}

func stlKeys(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
	switch x := args[0].(type) {
	case *Mapping:
		return NewArray(x.Keys()...), nil
	case *Array, *Tuple:
		n := len(sequenceItems(x))
		keys := make([]Value, n)
		for i := range keys {
			keys[i] = Int(i + 1)
		}
		return NewArray(keys...), nil
	}
	return NewArray(), nil
}

func stlValues(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
	switch x := args[0].(type) {
	case *Mapping:
		return NewArray(x.Values()...), nil
	case *Array, *Tuple:
		return NewArray(append([]Value(nil), sequenceItems(x)...)...), nil
	}
	return NewArray(), nil
}

func stlIndexOf(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
	for i, item := range sequenceItems(args[0]) {
		if Equal(item, args[1]) {
			return Int(i + 1), nil
		}
	}
	return Int(0), nil
}

func sortedArray(v Value, reverse bool) (Value, error) {
	items := append([]Value(nil), sequenceItems(v)...)
	var err error
	sort.SliceStable(items, func(i, j int) bool {
		c, ok := Compare(items[i], items[j])
		if !ok && err == nil {
			err = typeErrorf("cannot sort %s and %s", items[i].Kind(), items[j].Kind())
		}
		if reverse {
			return c > 0
		}
		return c < 0
	})
	if err != nil {
		return nil, err
	}
	return NewArray(items...), nil
}

func roundingFunc(fn func(float64) float64) NativeFunc {
	return func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		switch x := args[0].(type) {
		case Int:
			return x, nil
		case Float:
			return Float(fn(float64(x))), nil
		}
		return nil, typeErrorf("expected a number, got %s", args[0].Kind())
	}
}

func errorConstructor(typ string) NativeFunc {
	return func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		return NewError(typ, argAt(args, 0), argAt(args, 1)), nil
	}
}
