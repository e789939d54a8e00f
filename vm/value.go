package vm

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// Kind identifies the variant of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindTuple
	KindMapping
	KindDate
	KindDateTime
	KindInterval
	KindError
	KindCallable
	KindClosure
)

var kindNames = [...]string{
	KindNull:     "null",
	KindBool:     "boolean",
	KindInt:      "integer",
	KindFloat:    "float",
	KindString:   "string",
	KindArray:    "array",
	KindTuple:    "tuple",
	KindMapping:  "object",
	KindDate:     "date",
	KindDateTime: "datetime",
	KindInterval: "interval",
	KindError:    "error",
	KindCallable: "callable",
	KindClosure:  "closure",
}

// String returns the name typeof() reports for the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Value is any runtime value of the Hog language. The set of
// implementations is closed; switch on the concrete type or on Kind().
type Value interface {
	Kind() Kind
}

// ---------------------------------------------------------------------------
// Scalars
// ---------------------------------------------------------------------------

type nullValue struct{}

func (nullValue) Kind() Kind { return KindNull }

// Null is the single null value.
var Null Value = nullValue{}

// Bool is a Hog boolean.
type Bool bool

func (Bool) Kind() Kind { return KindBool }

// Int is a 64-bit Hog integer.
type Int int64

func (Int) Kind() Kind { return KindInt }

// Float is a 64-bit Hog float.
type Float float64

func (Float) Kind() Kind { return KindFloat }

// String is a Hog string. Length and cost are measured in bytes.
type String string

func (String) Kind() Kind { return KindString }

// IsNull reports whether v is null. A nil interface counts as null.
func IsNull(v Value) bool {
	return v == nil || v.Kind() == KindNull
}

// ---------------------------------------------------------------------------
// Containers
// ---------------------------------------------------------------------------

// Array is a mutable sequence. Indexing from the language is 1-based.
type Array struct {
	Items []Value
}

func (*Array) Kind() Kind { return KindArray }

// NewArray creates an array holding items.
func NewArray(items ...Value) *Array {
	if items == nil {
		items = []Value{}
	}
	return &Array{Items: items}
}

// Tuple is an immutable sequence.
type Tuple struct {
	Items []Value
}

func (*Tuple) Kind() Kind { return KindTuple }

// NewTuple creates a tuple holding items.
func NewTuple(items ...Value) *Tuple {
	if items == nil {
		items = []Value{}
	}
	return &Tuple{Items: items}
}

// ---------------------------------------------------------------------------
// Dates
// ---------------------------------------------------------------------------

// Date is a calendar date without a time component.
type Date struct {
	Year  int
	Month int
	Day   int
}

func (Date) Kind() Kind { return KindDate }

// Time returns the date at midnight UTC.
func (d Date) Time() time.Time {
	return time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
}

// DateTime is an instant with a display zone. Epoch is in seconds.
type DateTime struct {
	Epoch float64
	Zone  string
}

func (DateTime) Kind() Kind { return KindDateTime }

// Time returns the instant in its zone, falling back to UTC when the zone
// cannot be loaded.
func (d DateTime) Time() time.Time {
	sec, frac := math.Modf(d.Epoch)
	t := time.Unix(int64(sec), int64(frac*1e9))
	if loc, err := time.LoadLocation(d.Zone); err == nil && d.Zone != "" {
		return t.In(loc)
	}
	return t.UTC()
}

// DateTimeOf converts a Go time to a DateTime carrying the time's zone.
func DateTimeOf(t time.Time) DateTime {
	zone := t.Location().String()
	if zone == "Local" {
		zone = "UTC"
		t = t.UTC()
	}
	return DateTime{Epoch: float64(t.UnixNano()) / 1e9, Zone: zone}
}

// Interval is a calendar duration such as 3 days.
type Interval struct {
	Value int64
	Unit  string
}

func (Interval) Kind() Kind { return KindInterval }

// ---------------------------------------------------------------------------
// Errors and functions
// ---------------------------------------------------------------------------

// ErrorValue is a first-class error that can be thrown and caught.
type ErrorValue struct {
	Type    string
	Message Value
	Payload Value
}

func (*ErrorValue) Kind() Kind { return KindError }

// NewError creates an error value. A null message becomes the default
// "An error occurred".
func NewError(typ string, message, payload Value) *ErrorValue {
	if typ == "" {
		typ = "Error"
	}
	if IsNull(message) {
		message = String("An error occurred")
	}
	if payload == nil {
		payload = Null
	}
	return &ErrorValue{Type: typ, Message: message, Payload: payload}
}

// CallableType says how a callable is dispatched.
type CallableType uint8

const (
	CallableLocal CallableType = iota // bytecode in a chunk
	CallableStl                       // host function or stdlib entry
	CallableAsync                     // async host function (unsupported)
)

func (t CallableType) String() string {
	switch t {
	case CallableLocal:
		return "local"
	case CallableStl:
		return "stl"
	case CallableAsync:
		return "async"
	}
	return fmt.Sprintf("CallableType(%d)", t)
}

// Callable describes a function: where its body lives and how many
// arguments and upvalues it expects. Callables are immutable.
type Callable struct {
	Type         CallableType
	Name         string
	ArgCount     int
	UpvalueCount int
	IP           int
	Chunk        string
}

func (*Callable) Kind() Kind { return KindCallable }

// Closure binds a callable to captured upvalues, referenced by id.
type Closure struct {
	Callable *Callable
	Upvalues []uint64
}

func (*Closure) Kind() Kind { return KindClosure }

// ---------------------------------------------------------------------------
// Truthiness
// ---------------------------------------------------------------------------

// Truthy reports whether v counts as true in a condition. Null, false,
// zero, the empty string and empty containers are false.
func Truthy(v Value) bool {
	switch x := v.(type) {
	case nil, nullValue:
		return false
	case Bool:
		return bool(x)
	case Int:
		return x != 0
	case Float:
		return x != 0
	case String:
		return x != ""
	case *Array:
		return len(x.Items) > 0
	case *Tuple:
		return len(x.Items) > 0
	case *Mapping:
		return x.Len() > 0
	}
	return true
}

// ---------------------------------------------------------------------------
// Go interop
// ---------------------------------------------------------------------------

// FromGo converts a plain Go value (as produced by JSON, YAML or CBOR
// decoders) into a Value. Maps with string keys are inserted in sorted
// key order since Go maps carry no order.
func FromGo(x any) (Value, error) {
	switch v := x.(type) {
	case nil:
		return Null, nil
	case Value:
		return v, nil
	case bool:
		return Bool(v), nil
	case int:
		return Int(v), nil
	case int8:
		return Int(v), nil
	case int16:
		return Int(v), nil
	case int32:
		return Int(v), nil
	case int64:
		return Int(v), nil
	case uint:
		return Int(v), nil
	case uint8:
		return Int(v), nil
	case uint16:
		return Int(v), nil
	case uint32:
		return Int(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return Float(v), nil
		}
		return Int(v), nil
	case float32:
		return Float(v), nil
	case float64:
		return Float(v), nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", v, err)
		}
		return Float(f), nil
	case string:
		return String(v), nil
	case time.Time:
		return DateTimeOf(v), nil
	case []any:
		items := make([]Value, len(v))
		for i, e := range v {
			item, err := FromGo(e)
			if err != nil {
				return nil, err
			}
			items[i] = item
		}
		return NewArray(items...), nil
	case []string:
		items := make([]Value, len(v))
		for i, e := range v {
			items[i] = String(e)
		}
		return NewArray(items...), nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := NewMapping()
		for _, k := range keys {
			val, err := FromGo(v[k])
			if err != nil {
				return nil, err
			}
			m.SetString(k, val)
		}
		return m, nil
	case map[any]any:
		keys := make([]any, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j])
		})
		m := NewMapping()
		for _, k := range keys {
			key, err := FromGo(k)
			if err != nil {
				return nil, err
			}
			val, err := FromGo(v[k])
			if err != nil {
				return nil, err
			}
			if err := m.Set(key, val); err != nil {
				return nil, err
			}
		}
		return m, nil
	}
	return nil, fmt.Errorf("cannot convert %T to a Hog value", x)
}

// MustFromGo is FromGo for values known to be convertible.
func MustFromGo(x any) Value {
	v, err := FromGo(x)
	if err != nil {
		panic(err)
	}
	return v
}

// ToGo converts a Value into plain Go data: nil, bool, int64, float64,
// string, []any and map[string]any. Mapping keys are rendered with
// ToString. Functions and dates are rendered as strings. A container that
// contains itself converts to nil at the point of recursion.
func ToGo(v Value) any {
	return toGo(v, map[any]bool{})
}

func toGo(v Value, marked map[any]bool) any {
	switch x := v.(type) {
	case nil, nullValue:
		return nil
	case Bool:
		return bool(x)
	case Int:
		return int64(x)
	case Float:
		return float64(x)
	case String:
		return string(x)
	case *Array:
		return sliceToGo(x, x.Items, marked)
	case *Tuple:
		return sliceToGo(x, x.Items, marked)
	case *Mapping:
		if marked[x] {
			return nil
		}
		marked[x] = true
		defer delete(marked, x)
		out := make(map[string]any, x.Len())
		x.Each(func(k, val Value) bool {
			out[ToString(k)] = toGo(val, marked)
			return true
		})
		return out
	case *ErrorValue:
		return map[string]any{
			"__hogError__": true,
			"type":         x.Type,
			"message":      toGo(x.Message, marked),
			"payload":      toGo(x.Payload, marked),
		}
	}
	return ToString(v)
}

func sliceToGo(container any, items []Value, marked map[any]bool) any {
	if marked[container] {
		return nil
	}
	marked[container] = true
	defer delete(marked, container)
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = toGo(item, marked)
	}
	return out
}
