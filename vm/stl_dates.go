package vm

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

func registerDates(r *Registry) {
	r.Register("now", 0, 1, func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		loc, err := zoneArg(args, 0)
		if err != nil {
			return nil, err
		}
		return DateTimeOf(time.Now().In(loc)), nil
	})
	r.Register("toUnixTimestamp", 1, 2, unixFunc(false))
	r.Register("toUnixTimestampMilli", 1, 2, unixFunc(true))
	r.Register("fromUnixTimestamp", 1, 1, fromUnixFunc(1))
	r.Register("fromUnixTimestampMilli", 1, 1, fromUnixFunc(1000))
	r.Register("toDateTime", 1, 2, func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		loc, err := zoneArg(args, 1)
		if err != nil {
			return nil, err
		}
		t, err := toTime(args[0], loc)
		if err != nil {
			return nil, err
		}
		return DateTimeOf(t.In(loc)), nil
	})
	r.Register("toDate", 1, 1, func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		if IsNull(args[0]) {
			return Null, nil
		}
		t, err := toTime(args[0], time.UTC)
		if err != nil {
			return nil, err
		}
		return Date{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}, nil
	})
	r.Register("toTimeZone", 2, 2, func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		dt, ok := args[0].(DateTime)
		if !ok {
			return nil, typeErrorf("toTimeZone: expected a datetime, got %s", args[0].Kind())
		}
		loc, err := zoneArg(args, 1)
		if err != nil {
			return nil, err
		}
		return DateTime{Epoch: dt.Epoch, Zone: loc.String()}, nil
	})
	r.Register("formatDateTime", 2, 3, func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		format, err := argString("formatDateTime", args, 1)
		if err != nil {
			return nil, err
		}
		var t time.Time
		switch x := args[0].(type) {
		case DateTime:
			t = x.Time()
		case Date:
			t = x.Time()
		default:
			return nil, typeErrorf("formatDateTime: expected a datetime, got %s", args[0].Kind())
		}
		if len(args) > 2 && !IsNull(args[2]) {
			loc, err := zoneArg(args, 2)
			if err != nil {
				return nil, err
			}
			t = t.In(loc)
		}
		return String(FormatDateTime(t, format)), nil
	})
	for _, unit := range []string{"second", "minute", "hour", "day", "week", "month", "year"} {
		name := "toInterval" + strings.ToUpper(unit[:1]) + unit[1:]
		r.Register(name, 1, 1, intervalFunc(unit))
	}
}

func zoneArg(args []Value, i int) (*time.Location, error) {
	if i >= len(args) || IsNull(args[i]) {
		return time.UTC, nil
	}
	name := ToString(args[i])
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, typeErrorf("unknown time zone %s", quoteString(name))
	}
	return loc, nil
}

// toTime interprets numbers as epoch seconds and parses strings in loc.
func toTime(v Value, loc *time.Location) (time.Time, error) {
	switch x := v.(type) {
	case DateTime:
		return x.Time(), nil
	case Date:
		return time.Date(x.Year, time.Month(x.Month), x.Day, 0, 0, 0, 0, loc), nil
	case Int, Float:
		return DateTime{Epoch: asFloat(x)}.Time(), nil
	case String:
		t, err := dateparse.ParseIn(string(x), loc, dateparse.PreferMonthFirst(false))
		if err != nil {
			return time.Time{}, typeErrorf("cannot parse %s as a date", quoteString(string(x)))
		}
		return t, nil
	}
	return time.Time{}, typeErrorf("expected a date, got %s", v.Kind())
}

func unixFunc(milli bool) NativeFunc {
	return func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		if IsNull(args[0]) {
			return Null, nil
		}
		loc, err := zoneArg(args, 1)
		if err != nil {
			return nil, err
		}
		var epoch float64
		if dt, ok := args[0].(DateTime); ok {
			epoch = dt.Epoch
		} else {
			t, err := toTime(args[0], loc)
			if err != nil {
				return nil, err
			}
			epoch = float64(t.UnixNano()) / 1e9
		}
		if milli {
			return Float(epoch * 1000), nil
		}
		return Float(epoch), nil
	}
}

func fromUnixFunc(scale float64) NativeFunc {
	return func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		if !isNumber(args[0]) {
			return nil, typeErrorf("expected a number, got %s", args[0].Kind())
		}
		return DateTime{Epoch: asFloat(args[0]) / scale, Zone: "UTC"}, nil
	}
}

func intervalFunc(unit string) NativeFunc {
	return func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		n, err := tokenInt(args[0])
		if err != nil {
			if s, ok := args[0].(String); ok {
				if f := toNumber(s); !math.IsNaN(float64(f)) {
					return Interval{Value: int64(f), Unit: unit}, nil
				}
			}
			return nil, typeErrorf("expected an integer interval, got %s", args[0].Kind())
		}
		return Interval{Value: int64(n), Unit: unit}, nil
	}
}

// FormatDateTime renders t using ClickHouse-style % directives.
func FormatDateTime(t time.Time, format string) string {
	var sb strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i+1 >= len(format) {
			sb.WriteByte(c)
			continue
		}
		i++
		switch format[i] {
		case 'Y':
			fmt.Fprintf(&sb, "%04d", t.Year())
		case 'y':
			fmt.Fprintf(&sb, "%02d", t.Year()%100)
		case 'm':
			fmt.Fprintf(&sb, "%02d", int(t.Month()))
		case 'd':
			fmt.Fprintf(&sb, "%02d", t.Day())
		case 'e':
			fmt.Fprintf(&sb, "%2d", t.Day())
		case 'H':
			fmt.Fprintf(&sb, "%02d", t.Hour())
		case 'I':
			h := t.Hour() % 12
			if h == 0 {
				h = 12
			}
			fmt.Fprintf(&sb, "%02d", h)
		case 'i':
			fmt.Fprintf(&sb, "%02d", t.Minute())
		case 'S', 's':
			fmt.Fprintf(&sb, "%02d", t.Second())
		case 'p':
			if t.Hour() < 12 {
				sb.WriteString("AM")
			} else {
				sb.WriteString("PM")
			}
		case 'M':
			sb.WriteString(t.Month().String())
		case 'b':
			sb.WriteString(t.Month().String()[:3])
		case 'a':
			sb.WriteString(t.Weekday().String()[:3])
		case 'W':
			sb.WriteString(t.Weekday().String())
		case 'j':
			fmt.Fprintf(&sb, "%03d", t.YearDay())
		case 'F':
			fmt.Fprintf(&sb, "%04d-%02d-%02d", t.Year(), int(t.Month()), t.Day())
		case 'T':
			fmt.Fprintf(&sb, "%02d:%02d:%02d", t.Hour(), t.Minute(), t.Second())
		case 'z':
			sb.WriteString(t.Format("-0700"))
		case '%':
			sb.WriteByte('%')
		default:
			sb.WriteByte('%')
			sb.WriteByte(format[i])
		}
	}
	return sb.String()
}
