// Package wire encodes HogVM programs and values for storage and transport.
//
// Two encodings exist. CBOR is the binary format used by the program store
// and is lossless for every value kind. JSON is the interchange format of
// compilers: a program is either a bare bytecode array or an object of
// chunks.
package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/hogvm/vm"
)

// FormatVersion is written into every CBOR program envelope.
const FormatVersion = 1

// CBOR tags of the value kinds that have no native CBOR representation.
const (
	tagTuple uint64 = 39901 + iota
	tagMapping
	tagDate
	tagDateTime
	tagInterval
	tagError
	tagCallable
	tagClosure
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type programEnvelope struct {
	Version int                      `cbor:"1,keyasint"`
	Chunks  map[string]chunkEnvelope `cbor:"2,keyasint"`
}

type chunkEnvelope struct {
	Bytecode []any `cbor:"1,keyasint"`
	Globals  any   `cbor:"2,keyasint,omitempty"`
}

// MarshalProgram serializes a Program to canonical CBOR. Equal programs
// always encode to the same bytes.
func MarshalProgram(p *vm.Program) ([]byte, error) {
	if p.Root() == nil {
		return nil, fmt.Errorf("wire: program has no %s chunk", vm.RootChunk)
	}
	env := programEnvelope{Version: FormatVersion, Chunks: map[string]chunkEnvelope{}}
	for name, chunk := range p.Chunks {
		ce := chunkEnvelope{Bytecode: make([]any, len(chunk.Bytecode))}
		for i, tok := range chunk.Bytecode {
			ce.Bytecode[i] = toCBOR(tok)
		}
		if chunk.Globals != nil {
			ce.Globals = toCBOR(chunk.Globals)
		}
		env.Chunks[name] = ce
	}
	return cborEncMode.Marshal(env)
}

// UnmarshalProgram deserializes a Program from CBOR bytes.
func UnmarshalProgram(data []byte) (*vm.Program, error) {
	var env programEnvelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("wire: unmarshal program: %w", err)
	}
	if env.Version != FormatVersion {
		return nil, fmt.Errorf("wire: unsupported program format version %d", env.Version)
	}
	p := &vm.Program{Chunks: map[string]*vm.Chunk{}}
	for name, ce := range env.Chunks {
		code := make([]vm.Value, len(ce.Bytecode))
		for i, tok := range ce.Bytecode {
			v, err := fromCBOR(tok)
			if err != nil {
				return nil, fmt.Errorf("wire: chunk %s token %d: %w", name, i, err)
			}
			code[i] = v
		}
		var globals *vm.Mapping
		if ce.Globals != nil {
			v, err := fromCBOR(ce.Globals)
			if err != nil {
				return nil, fmt.Errorf("wire: chunk %s globals: %w", name, err)
			}
			m, ok := v.(*vm.Mapping)
			if !ok {
				return nil, fmt.Errorf("wire: chunk %s globals are a %s", name, v.Kind())
			}
			globals = m
		}
		p.Chunks[name] = &vm.Chunk{Bytecode: code, Globals: globals}
	}
	if p.Root() == nil {
		return nil, fmt.Errorf("wire: program has no %s chunk", vm.RootChunk)
	}
	return p, nil
}

// MarshalValue serializes a single value to canonical CBOR.
func MarshalValue(v vm.Value) ([]byte, error) {
	return cborEncMode.Marshal(toCBOR(v))
}

// UnmarshalValue deserializes a value written by MarshalValue.
func UnmarshalValue(data []byte) (vm.Value, error) {
	var x any
	if err := cbor.Unmarshal(data, &x); err != nil {
		return nil, fmt.Errorf("wire: unmarshal value: %w", err)
	}
	return fromCBOR(x)
}

// toCBOR lowers a value to plain data. Shared containers are written once
// per reference; a container that contains itself is written as null at
// the point of recursion.
func toCBOR(v vm.Value) any {
	return lower(v, map[any]bool{})
}

func lower(v vm.Value, marked map[any]bool) any {
	switch x := v.(type) {
	case nil:
		return nil
	case vm.Bool:
		return bool(x)
	case vm.Int:
		return int64(x)
	case vm.Float:
		return float64(x)
	case vm.String:
		return string(x)
	case *vm.Array:
		if marked[x] {
			return nil
		}
		marked[x] = true
		defer delete(marked, x)
		return lowerItems(x.Items, marked)
	case *vm.Tuple:
		if marked[x] {
			return nil
		}
		marked[x] = true
		defer delete(marked, x)
		return cbor.Tag{Number: tagTuple, Content: lowerItems(x.Items, marked)}
	case *vm.Mapping:
		if marked[x] {
			return nil
		}
		marked[x] = true
		defer delete(marked, x)
		pairs := make([]any, 0, 2*x.Len())
		x.Each(func(k, val vm.Value) bool {
			pairs = append(pairs, lower(k, marked), lower(val, marked))
			return true
		})
		return cbor.Tag{Number: tagMapping, Content: pairs}
	case vm.Date:
		return cbor.Tag{Number: tagDate, Content: []any{int64(x.Year), int64(x.Month), int64(x.Day)}}
	case vm.DateTime:
		return cbor.Tag{Number: tagDateTime, Content: []any{x.Epoch, x.Zone}}
	case vm.Interval:
		return cbor.Tag{Number: tagInterval, Content: []any{x.Value, x.Unit}}
	case *vm.ErrorValue:
		return cbor.Tag{Number: tagError, Content: []any{x.Type, lower(x.Message, marked), lower(x.Payload, marked)}}
	case *vm.Callable:
		return cbor.Tag{Number: tagCallable, Content: []any{
			uint64(x.Type), x.Name, int64(x.ArgCount), int64(x.UpvalueCount), int64(x.IP), x.Chunk,
		}}
	case *vm.Closure:
		ids := make([]any, len(x.Upvalues))
		for i, id := range x.Upvalues {
			ids[i] = id
		}
		return cbor.Tag{Number: tagClosure, Content: []any{lower(x.Callable, marked), ids}}
	}
	if vm.IsNull(v) {
		return nil
	}
	panic(fmt.Sprintf("wire: cannot encode %T", v))
}

func lowerItems(items []vm.Value, marked map[any]bool) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = lower(item, marked)
	}
	return out
}

func fromCBOR(x any) (vm.Value, error) {
	switch v := x.(type) {
	case nil:
		return vm.Null, nil
	case bool:
		return vm.Bool(v), nil
	case uint64:
		return vm.FromGo(v)
	case int64:
		return vm.Int(v), nil
	case float32:
		return vm.Float(v), nil
	case float64:
		return vm.Float(v), nil
	case string:
		return vm.String(v), nil
	case []any:
		items, err := fromCBORItems(v)
		if err != nil {
			return nil, err
		}
		return vm.NewArray(items...), nil
	case cbor.Tag:
		return fromTag(v)
	}
	return nil, fmt.Errorf("unexpected CBOR item %T", x)
}

func fromCBORItems(xs []any) ([]vm.Value, error) {
	items := make([]vm.Value, len(xs))
	for i, x := range xs {
		v, err := fromCBOR(x)
		if err != nil {
			return nil, err
		}
		items[i] = v
	}
	return items, nil
}

func fromTag(tag cbor.Tag) (vm.Value, error) {
	content, ok := tag.Content.([]any)
	if !ok {
		return nil, fmt.Errorf("tag %d: content is %T, want array", tag.Number, tag.Content)
	}
	fields, err := fromCBORItems(content)
	if err != nil {
		return nil, err
	}
	want := map[uint64]int{
		tagDate: 3, tagDateTime: 2, tagInterval: 2, tagError: 3, tagCallable: 6, tagClosure: 2,
	}
	if n, ok := want[tag.Number]; ok && len(fields) != n {
		return nil, fmt.Errorf("tag %d: %d fields, want %d", tag.Number, len(fields), n)
	}

	switch tag.Number {
	case tagTuple:
		return vm.NewTuple(fields...), nil
	case tagMapping:
		if len(fields)%2 != 0 {
			return nil, fmt.Errorf("mapping with odd number of items")
		}
		m := vm.NewMapping()
		for i := 0; i < len(fields); i += 2 {
			if err := m.Set(fields[i], fields[i+1]); err != nil {
				return nil, err
			}
		}
		return m, nil
	case tagDate:
		return vm.Date{Year: intField(fields[0]), Month: intField(fields[1]), Day: intField(fields[2])}, nil
	case tagDateTime:
		return vm.DateTime{Epoch: floatField(fields[0]), Zone: vm.ToString(fields[1])}, nil
	case tagInterval:
		return vm.Interval{Value: int64(intField(fields[0])), Unit: vm.ToString(fields[1])}, nil
	case tagError:
		return &vm.ErrorValue{Type: vm.ToString(fields[0]), Message: fields[1], Payload: fields[2]}, nil
	case tagCallable:
		return &vm.Callable{
			Type:         vm.CallableType(intField(fields[0])),
			Name:         vm.ToString(fields[1]),
			ArgCount:     intField(fields[2]),
			UpvalueCount: intField(fields[3]),
			IP:           intField(fields[4]),
			Chunk:        vm.ToString(fields[5]),
		}, nil
	case tagClosure:
		callable, ok := fields[0].(*vm.Callable)
		if !ok {
			return nil, fmt.Errorf("closure over %s", fields[0].Kind())
		}
		ids, ok := fields[1].(*vm.Array)
		if !ok {
			return nil, fmt.Errorf("closure upvalues are a %s", fields[1].Kind())
		}
		upvalues := make([]uint64, len(ids.Items))
		for i, id := range ids.Items {
			upvalues[i] = uint64(intField(id))
		}
		return &vm.Closure{Callable: callable, Upvalues: upvalues}, nil
	}
	return nil, fmt.Errorf("unknown tag %d", tag.Number)
}

func intField(v vm.Value) int {
	switch x := v.(type) {
	case vm.Int:
		return int(x)
	case vm.Float:
		return int(x)
	}
	return 0
}

func floatField(v vm.Value) float64 {
	switch x := v.(type) {
	case vm.Int:
		return float64(x)
	case vm.Float:
		return float64(x)
	}
	return 0
}
