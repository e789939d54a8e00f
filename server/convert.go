package server

import (
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/hogvm/vm"
)

// fromProto converts a protobuf Struct value into a Hog value. Struct
// carries no integer type, so integral numbers become Int; object keys
// arrive unordered and are inserted sorted.
func fromProto(v *structpb.Value) vm.Value {
	switch k := v.GetKind().(type) {
	case *structpb.Value_BoolValue:
		return vm.Bool(k.BoolValue)
	case *structpb.Value_NumberValue:
		f := k.NumberValue
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return vm.Int(int64(f))
		}
		return vm.Float(f)
	case *structpb.Value_StringValue:
		return vm.String(k.StringValue)
	case *structpb.Value_ListValue:
		items := make([]vm.Value, len(k.ListValue.GetValues()))
		for i, item := range k.ListValue.GetValues() {
			items[i] = fromProto(item)
		}
		return vm.NewArray(items...)
	case *structpb.Value_StructValue:
		return fromProtoStruct(k.StructValue)
	}
	return vm.Null
}

func fromProtoStruct(s *structpb.Struct) *vm.Mapping {
	m := vm.NewMapping()
	keys := make([]string, 0, len(s.GetFields()))
	for k := range s.GetFields() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m.SetString(k, fromProto(s.GetFields()[k]))
	}
	return m
}

// toProto converts a Hog value to a protobuf value through its JSON form,
// so cycles and non-JSON kinds follow jsonStringify.
func toProto(v vm.Value) (*structpb.Value, error) {
	data, err := vm.MarshalJSON(v, 0)
	if err != nil {
		return nil, err
	}
	out := &structpb.Value{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("converting result: %w", err)
	}
	return out, nil
}

// errorFields describes a classified execution failure.
func errorFields(err error) map[string]any {
	return map[string]any{
		"kind":    vm.KindOf(err).String(),
		"message": err.Error(),
	}
}
