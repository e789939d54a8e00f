package vm

import (
	"math"
	"strconv"
	"strings"
)

// ToString renders v the way print() and toString() show it: strings are
// returned as-is, everything else uses Repr.
func ToString(v Value) string {
	if s, ok := v.(String); ok {
		return string(s)
	}
	return Repr(v)
}

// Repr renders v as a Hog literal. Strings are single-quoted and escaped.
// A container that contains itself prints as null at the point of the cycle.
func Repr(v Value) string {
	var sb strings.Builder
	writeRepr(&sb, v, map[any]bool{})
	return sb.String()
}

func writeRepr(sb *strings.Builder, v Value, marked map[any]bool) {
	switch x := v.(type) {
	case nil, nullValue:
		sb.WriteString("null")
	case Bool:
		if x {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case Int:
		sb.WriteString(strconv.FormatInt(int64(x), 10))
	case Float:
		sb.WriteString(formatFloat(float64(x)))
	case String:
		sb.WriteString(quoteString(string(x)))
	case *Array:
		if marked[x] {
			sb.WriteString("null")
			return
		}
		marked[x] = true
		sb.WriteByte('[')
		writeItems(sb, x.Items, marked)
		sb.WriteByte(']')
		delete(marked, x)
	case *Tuple:
		if marked[x] {
			sb.WriteString("null")
			return
		}
		marked[x] = true
		if len(x.Items) < 2 {
			sb.WriteString("tuple(")
		} else {
			sb.WriteByte('(')
		}
		writeItems(sb, x.Items, marked)
		sb.WriteByte(')')
		delete(marked, x)
	case *Mapping:
		if marked[x] {
			sb.WriteString("null")
			return
		}
		marked[x] = true
		sb.WriteByte('{')
		first := true
		x.Each(func(k, val Value) bool {
			if !first {
				sb.WriteString(", ")
			}
			first = false
			writeRepr(sb, k, marked)
			sb.WriteString(": ")
			writeRepr(sb, val, marked)
			return true
		})
		sb.WriteByte('}')
		delete(marked, x)
	case Date:
		sb.WriteString("Date(")
		sb.WriteString(strconv.Itoa(x.Year))
		sb.WriteString(", ")
		sb.WriteString(strconv.Itoa(x.Month))
		sb.WriteString(", ")
		sb.WriteString(strconv.Itoa(x.Day))
		sb.WriteByte(')')
	case DateTime:
		sb.WriteString("DateTime(")
		sb.WriteString(formatFloat(x.Epoch))
		sb.WriteString(", ")
		sb.WriteString(quoteString(x.Zone))
		sb.WriteByte(')')
	case Interval:
		sb.WriteString("Interval(")
		sb.WriteString(strconv.FormatInt(x.Value, 10))
		sb.WriteString(", ")
		sb.WriteString(quoteString(x.Unit))
		sb.WriteByte(')')
	case *ErrorValue:
		sb.WriteString(x.Type)
		sb.WriteByte('(')
		if s, ok := x.Message.(String); ok {
			sb.WriteString(quoteString(string(s)))
		} else {
			writeRepr(sb, x.Message, marked)
		}
		if Truthy(x.Payload) {
			sb.WriteString(", ")
			writeRepr(sb, x.Payload, marked)
		}
		sb.WriteByte(')')
	case *Callable:
		writeFn(sb, x)
	case *Closure:
		writeFn(sb, x.Callable)
	}
}

func writeItems(sb *strings.Builder, items []Value, marked map[any]bool) {
	for i, item := range items {
		if i > 0 {
			sb.WriteString(", ")
		}
		writeRepr(sb, item, marked)
	}
}

func writeFn(sb *strings.Builder, c *Callable) {
	sb.WriteString("fn<")
	sb.WriteString(c.Name)
	sb.WriteByte('(')
	sb.WriteString(strconv.Itoa(c.ArgCount))
	sb.WriteString(")>")
}

// formatFloat prints floats the way the reference runtime does: integral
// values keep a trailing ".0" and exponents are used outside [1e-4, 1e16).
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".") {
		s += ".0"
	}
	return s
}

var escapeReplacer = strings.NewReplacer(
	"\\", "\\\\",
	"'", "\\'",
	"\b", "\\b",
	"\f", "\\f",
	"\r", "\\r",
	"\n", "\\n",
	"\t", "\\t",
	"\x00", "\\0",
	"\a", "\\a",
	"\v", "\\v",
)

// quoteString wraps s in single quotes, escaping quotes, backslashes and
// control characters.
func quoteString(s string) string {
	return "'" + escapeReplacer.Replace(s) + "'"
}
