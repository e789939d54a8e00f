package vm

import (
	"regexp"
	"strings"
)

// patternCache memoizes compiled expressions for one execution.
type patternCache map[string]*regexp.Regexp

func (c patternCache) compile(expr string) (*regexp.Regexp, error) {
	if re, ok := c[expr]; ok {
		return re, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, &VMError{Kind: KindTypeError, Message: "Invalid regular expression " + quoteString(expr), Err: err}
	}
	c[expr] = re
	return re, nil
}

// likeExpr translates a SQL LIKE pattern into an anchored regular
// expression: % matches any run, _ matches one character.
func likeExpr(pattern string, caseInsensitive bool) string {
	expr := regexp.QuoteMeta(pattern)
	expr = strings.ReplaceAll(expr, "%", ".*")
	expr = strings.ReplaceAll(expr, "_", ".")
	if caseInsensitive {
		return "(?i)^" + expr + "$"
	}
	return "^" + expr + "$"
}

func (c patternCache) like(s, pattern Value, caseInsensitive bool) (bool, error) {
	if IsNull(s) || IsNull(pattern) {
		return false, nil
	}
	re, err := c.compile(likeExpr(ToString(pattern), caseInsensitive))
	if err != nil {
		return false, err
	}
	return re.MatchString(ToString(s)), nil
}

// regex runs an unanchored search. Null or empty operands never match.
func (c patternCache) regex(s, pattern Value, caseInsensitive bool) (bool, error) {
	if IsNull(s) || IsNull(pattern) {
		return false, nil
	}
	expr := ToString(pattern)
	if expr == "" {
		return false, nil
	}
	if caseInsensitive {
		expr = "(?i)" + expr
	}
	re, err := c.compile(expr)
	if err != nil {
		return false, err
	}
	return re.MatchString(ToString(s)), nil
}

// Like reports whether s matches the SQL LIKE pattern.
func Like(s, pattern string, caseInsensitive bool) bool {
	ok, _ := patternCache{}.like(String(s), String(pattern), caseInsensitive)
	return ok
}
