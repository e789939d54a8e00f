package vm

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

func registerJSON(r *Registry) {
	r.Register("jsonParse", 1, 1, func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		s, err := argString("jsonParse", args, 0)
		if err != nil {
			return nil, err
		}
		return ParseJSON([]byte(s))
	})
	r.Register("jsonStringify", 1, 2, func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		indent := 0
		if len(args) > 1 && !IsNull(args[1]) {
			n, err := tokenInt(args[1])
			if err != nil {
				return nil, typeErrorf("jsonStringify: indent must be an integer")
			}
			indent = n
		}
		data, err := MarshalJSON(args[0], indent)
		if err != nil {
			return nil, err
		}
		return String(data), nil
	})
	r.Register("isValidJSON", 1, 1, func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		s, ok := args[0].(String)
		if !ok {
			return Bool(false), nil
		}
		_, err := ParseJSON([]byte(s))
		return Bool(err == nil), nil
	})
}

// ParseJSON decodes a JSON document into a Value. Objects keep the key
// order of the document; integral numbers become Int.
func ParseJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeJSON(dec)
	if err != nil {
		return nil, typeErrorf("invalid JSON: %v", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, typeErrorf("invalid JSON: trailing data")
	}
	return v, nil
}

func decodeJSON(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			m := NewMapping()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("object key must be a string, got %v", keyTok)
				}
				val, err := decodeJSON(dec)
				if err != nil {
					return nil, err
				}
				m.SetString(key, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return m, nil
		case '[':
			items := []Value{}
			for dec.More() {
				item, err := decodeJSON(dec)
				if err != nil {
					return nil, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return NewArray(items...), nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	case json.Number:
		return FromGo(t)
	}
	return FromGo(tok)
}

// MarshalJSON encodes v as JSON. Mappings keep their insertion order. A
// positive indent pretty-prints with that many spaces per level.
func MarshalJSON(v Value, indent int) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, v, map[any]bool{}); err != nil {
		return nil, err
	}
	if indent <= 0 {
		return buf.Bytes(), nil
	}
	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", strings.Repeat(" ", indent)); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func writeJSON(buf *bytes.Buffer, v Value, marked map[any]bool) error {
	switch x := v.(type) {
	case nil, nullValue:
		buf.WriteString("null")
	case Bool:
		buf.WriteString(strconv.FormatBool(bool(x)))
	case Int:
		buf.WriteString(strconv.FormatInt(int64(x), 10))
	case Float:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			buf.WriteString("null")
		} else {
			buf.WriteString(formatFloat(f))
		}
	case String:
		return writeJSONString(buf, string(x))
	case *Array:
		return writeJSONItems(buf, x, x.Items, marked)
	case *Tuple:
		return writeJSONItems(buf, x, x.Items, marked)
	case *Mapping:
		if marked[x] {
			buf.WriteString("null")
			return nil
		}
		marked[x] = true
		defer delete(marked, x)
		buf.WriteByte('{')
		var err error
		first := true
		x.Each(func(k, val Value) bool {
			if !first {
				buf.WriteByte(',')
			}
			first = false
			if err = writeJSONString(buf, ToString(k)); err != nil {
				return false
			}
			buf.WriteByte(':')
			err = writeJSON(buf, val, marked)
			return err == nil
		})
		if err != nil {
			return err
		}
		buf.WriteByte('}')
	case *ErrorValue:
		m := NewMapping()
		m.SetString("__hogError__", Bool(true))
		m.SetString("type", String(x.Type))
		m.SetString("message", x.Message)
		m.SetString("payload", x.Payload)
		return writeJSON(buf, m, marked)
	default:
		return writeJSONString(buf, ToString(v))
	}
	return nil
}

func writeJSONItems(buf *bytes.Buffer, container any, items []Value, marked map[any]bool) error {
	if marked[container] {
		buf.WriteString("null")
		return nil
	}
	marked[container] = true
	defer delete(marked, container)
	buf.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSON(buf, item, marked); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(data)
	return nil
}
