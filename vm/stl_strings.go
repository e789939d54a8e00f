package vm

import (
	"encoding/base64"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	lowerCaser = cases.Lower(language.Und)
	upperCaser = cases.Upper(language.Und)
)

func registerStrings(r *Registry) {
	r.Register("concat", 0, Variadic, func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		var sb strings.Builder
		for _, arg := range args {
			if !IsNull(arg) {
				sb.WriteString(ToString(arg))
			}
		}
		return String(sb.String()), nil
	})
	r.Register("lower", 1, 1, stringFunc(func(s string) Value { return String(lowerCaser.String(s)) }))
	r.Register("upper", 1, 1, stringFunc(func(s string) Value { return String(upperCaser.String(s)) }))
	r.Register("reverse", 1, 1, stringFunc(func(s string) Value {
		runes := []rune(s)
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		return String(runes)
	}))
	r.Register("trim", 1, 2, trimFunc(strings.Trim))
	r.Register("trimLeft", 1, 2, trimFunc(strings.TrimLeft))
	r.Register("trimRight", 1, 2, trimFunc(strings.TrimRight))
	r.Register("replaceOne", 3, 3, replaceFunc(1))
	r.Register("replaceAll", 3, 3, replaceFunc(-1))
	r.Register("splitByString", 2, 3, stlSplitByString)
	r.Register("position", 2, 2, positionFunc(false))
	r.Register("positionCaseInsensitive", 2, 2, positionFunc(true))
	r.Register("like", 2, 2, likeFunc(false, false))
	r.Register("ilike", 2, 2, likeFunc(true, false))
	r.Register("notLike", 2, 2, likeFunc(false, true))
	r.Register("notILike", 2, 2, likeFunc(true, true))
	r.Register("match", 2, 2, func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		ok, err := patternCache{}.regex(args[0], args[1], false)
		return Bool(ok), err
	})
	r.Register("encodeURLComponent", 1, 1, stringFunc(func(s string) Value {
		return String(strings.ReplaceAll(url.QueryEscape(s), "+", "%20"))
	}))
	r.Register("decodeURLComponent", 1, 1, func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		s, err := argString("decodeURLComponent", args, 0)
		if err != nil {
			return nil, err
		}
		decoded, err := url.PathUnescape(s)
		if err != nil {
			return nil, err
		}
		return String(decoded), nil
	})
	r.Register("base64Encode", 1, 1, stringFunc(func(s string) Value {
		return String(base64.StdEncoding.EncodeToString([]byte(s)))
	}))
	r.Register("base64Decode", 1, 1, func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		s, err := argString("base64Decode", args, 0)
		if err != nil {
			return nil, err
		}
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, err
		}
		return String(data), nil
	})
	r.Register("tryBase64Decode", 1, 1, stringFunc(func(s string) Value {
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return String("")
		}
		return String(data)
	}))
	r.Register("generateUUIDv4", 0, 0, func(_ []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		return String(uuid.NewString()), nil
	})
}

// stringFunc adapts a one-string function. Null passes through as null and
// other values are converted with ToString.
func stringFunc(fn func(string) Value) NativeFunc {
	return func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		if IsNull(args[0]) {
			return Null, nil
		}
		return fn(ToString(args[0])), nil
	}
}

func trimFunc(trim func(string, string) string) NativeFunc {
	return func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		if IsNull(args[0]) {
			return Null, nil
		}
		return String(trim(ToString(args[0]), argOptString(args, 1, " "))), nil
	}
}

func replaceFunc(n int) NativeFunc {
	return func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		if IsNull(args[0]) {
			return Null, nil
		}
		return String(strings.Replace(ToString(args[0]), ToString(args[1]), ToString(args[2]), n)), nil
	}
}

func stlSplitByString(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
	sep, err := argString("splitByString", args, 0)
	if err != nil {
		return nil, err
	}
	s, err := argString("splitByString", args, 1)
	if err != nil {
		return nil, err
	}
	n := -1
	if len(args) > 2 && !IsNull(args[2]) {
		limit, err := tokenInt(args[2])
		if err != nil {
			return nil, typeErrorf("splitByString: max splits must be an integer")
		}
		n = limit + 1
	}
	var parts []string
	if sep == "" {
		parts = strings.Split(s, "")
	} else {
		parts = strings.SplitN(s, sep, n)
	}
	items := make([]Value, len(parts))
	for i, p := range parts {
		items[i] = String(p)
	}
	return NewArray(items...), nil
}

// positionFunc returns the 1-based character position of the needle, or 0.
func positionFunc(caseInsensitive bool) NativeFunc {
	return func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		if IsNull(args[0]) || IsNull(args[1]) {
			return Int(0), nil
		}
		haystack, needle := ToString(args[0]), ToString(args[1])
		if caseInsensitive {
			haystack, needle = lowerCaser.String(haystack), lowerCaser.String(needle)
		}
		idx := strings.Index(haystack, needle)
		if idx < 0 {
			return Int(0), nil
		}
		return Int(utf8.RuneCountInString(haystack[:idx]) + 1), nil
	}
}

func likeFunc(caseInsensitive, negate bool) NativeFunc {
	return func(args []Value, _ any, _ OutputSink, _ time.Duration) (Value, error) {
		if IsNull(args[0]) || IsNull(args[1]) {
			return Bool(false), nil
		}
		ok, err := patternCache{}.like(args[0], args[1], caseInsensitive)
		if negate {
			ok = !ok
		}
		return Bool(ok), err
	}
}
