// Package cliargs turns key=value command line pairs into tool arguments.
//
// Values are coerced in this order: integer (-?[0-9]+), float
// (-?[0-9]+.[0-9]+), the literals true and false, and finally a string with
// one leading and one trailing quote (' or ") stripped.
package cliargs

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	intPattern   = regexp.MustCompile(`^-?\d+$`)
	floatPattern = regexp.MustCompile(`^-?\d+\.\d+$`)
)

// Parse converts pairs into an argument map. Later duplicates win. The
// value is everything after the first '='.
func Parse(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("argument %q: expected key=value", pair)
		}
		if key == "" {
			return nil, fmt.Errorf("argument %q: empty key", pair)
		}
		out[key] = Coerce(value)
	}
	return out, nil
}

// Coerce converts one raw value.
func Coerce(value string) any {
	switch {
	case intPattern.MatchString(value):
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
		// 超出 int64 范围按浮点处理
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	case floatPattern.MatchString(value):
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	case value == "true":
		return true
	case value == "false":
		return false
	}
	return stripQuotes(value)
}

func stripQuotes(s string) string {
	if len(s) > 0 && (s[0] == '"' || s[0] == '\'') {
		s = s[1:]
	}
	if n := len(s); n > 0 && (s[n-1] == '"' || s[n-1] == '\'') {
		s = s[:n-1]
	}
	return s
}
