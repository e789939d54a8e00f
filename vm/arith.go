package vm

import (
	"math"
	"time"
)

var arithSymbols = map[Operation]string{
	OpPlus:     "+",
	OpMinus:    "-",
	OpMultiply: "*",
	OpDivide:   "/",
	OpMod:      "%",
}

func unsupportedOperands(op Operation, a, b Value) error {
	return typeErrorf("unsupported operand types for %s: '%s' and '%s'", arithSymbols[op], a.Kind(), b.Kind())
}

// numeric reports whether v takes part in arithmetic. Booleans count as
// 0 and 1.
func numeric(v Value) bool {
	switch v.(type) {
	case Int, Float, Bool:
		return true
	}
	return false
}

func asInt(v Value) (Int, bool) {
	switch x := v.(type) {
	case Int:
		return x, true
	case Bool:
		return boolToInt(x), true
	}
	return 0, false
}

// arith computes a op b for the arithmetic operations. Integer operands
// stay integral except for division, which always yields a float, and
// sums, differences and products that overflow int64, which are computed
// as floats instead of wrapping.
func arith(op Operation, a, b Value) (Value, error) {
	if numeric(a) && numeric(b) {
		return arithNumbers(op, a, b)
	}
	switch x := a.(type) {
	case String:
		if y, ok := b.(String); ok && op == OpPlus {
			return x + y, nil
		}
	case *Array:
		if y, ok := b.(*Array); ok && op == OpPlus {
			items := make([]Value, 0, len(x.Items)+len(y.Items))
			items = append(append(items, x.Items...), y.Items...)
			return NewArray(items...), nil
		}
	case DateTime:
		if iv, ok := b.(Interval); ok && (op == OpPlus || op == OpMinus) {
			return DateTimeOf(addInterval(x.Time(), iv, op == OpMinus)), nil
		}
	case Date:
		if iv, ok := b.(Interval); ok && (op == OpPlus || op == OpMinus) {
			t := addInterval(x.Time(), iv, op == OpMinus)
			return Date{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}, nil
		}
	case Interval:
		if op == OpPlus {
			switch y := b.(type) {
			case DateTime:
				return DateTimeOf(addInterval(y.Time(), x, false)), nil
			case Date:
				t := addInterval(y.Time(), x, false)
				return Date{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}, nil
			}
		}
	}
	return nil, unsupportedOperands(op, a, b)
}

func arithNumbers(op Operation, a, b Value) (Value, error) {
	ia, aInt := asInt(a)
	ib, bInt := asInt(b)
	if aInt && bInt {
		switch op {
		case OpPlus:
			if sum := ia + ib; (ia^sum)&(ib^sum) >= 0 {
				return sum, nil
			}
		case OpMinus:
			if diff := ia - ib; (ia^ib)&(ia^diff) >= 0 {
				return diff, nil
			}
		case OpMultiply:
			if product, ok := mulInt(ia, ib); ok {
				return product, nil
			}
		case OpDivide:
			if ib == 0 {
				return nil, vmErrorf(KindDivisionByZero, "division by zero")
			}
			return Float(float64(ia) / float64(ib)), nil
		case OpMod:
			if ib == 0 {
				return nil, vmErrorf(KindDivisionByZero, "integer modulo by zero")
			}
			m := ia % ib
			if m != 0 && (m < 0) != (ib < 0) {
				m += ib
			}
			return m, nil
		}
	}
	fa, fb := asFloat(a), asFloat(b)
	switch op {
	case OpPlus:
		return Float(fa + fb), nil
	case OpMinus:
		return Float(fa - fb), nil
	case OpMultiply:
		return Float(fa * fb), nil
	case OpDivide:
		if fb == 0 {
			return nil, vmErrorf(KindDivisionByZero, "float division by zero")
		}
		return Float(fa / fb), nil
	case OpMod:
		if fb == 0 {
			return nil, vmErrorf(KindDivisionByZero, "float modulo")
		}
		m := math.Mod(fa, fb)
		if m != 0 && (m < 0) != (fb < 0) {
			m += fb
		}
		return Float(m), nil
	}
	return nil, unsupportedOperands(op, a, b)
}

// mulInt multiplies a and b, reporting false when the product overflows.
func mulInt(a, b Int) (Int, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	product := a * b
	if product/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, false
	}
	return product, true
}

func addInterval(t time.Time, iv Interval, negate bool) time.Time {
	n := iv.Value
	if negate {
		n = -n
	}
	switch iv.Unit {
	case "second":
		return t.Add(time.Duration(n) * time.Second)
	case "minute":
		return t.Add(time.Duration(n) * time.Minute)
	case "hour":
		return t.Add(time.Duration(n) * time.Hour)
	case "day":
		return t.AddDate(0, 0, int(n))
	case "week":
		return t.AddDate(0, 0, 7*int(n))
	case "month":
		return t.AddDate(0, int(n), 0)
	case "year":
		return t.AddDate(int(n), 0, 0)
	}
	return t
}

var compareSymbols = map[Operation]string{
	OpGt:   ">",
	OpGtEq: ">=",
	OpLt:   "<",
	OpLtEq: "<=",
}

// compareOp evaluates an ordering operation. Comparisons involving NaN are
// false; pairs without an order are a type error.
func compareOp(op Operation, a, b Value) (bool, error) {
	c, ok := Compare(a, b)
	if !ok {
		ua, ub := UnifyComparisonTypes(a, b)
		if isNumber(ua) && isNumber(ub) {
			return false, nil
		}
		return false, typeErrorf("'%s' not supported between instances of '%s' and '%s'", compareSymbols[op], a.Kind(), b.Kind())
	}
	switch op {
	case OpGt:
		return c > 0, nil
	case OpGtEq:
		return c >= 0, nil
	case OpLt:
		return c < 0, nil
	case OpLtEq:
		return c <= 0, nil
	}
	return false, malformedf("not a comparison: %s", op)
}
