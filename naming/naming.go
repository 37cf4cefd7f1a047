// Package naming maps between tool names as servers declare them
// (kebab-case, snake_case, spaced) and Go-friendly camelCase method names.
package naming

import (
	"sort"
	"strings"
	"unicode"
)

// ToCamel converts "resolve-library-id", "get_document_info" or
// "get document" into lowerCamelCase. Names that are already camelCase are
// returned with a lowered first rune.
func ToCamel(name string) string {
	words := splitWords(name)
	if len(words) == 0 {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	for i, w := range words {
		if i == 0 {
			b.WriteString(lowerFirst(w))
			continue
		}
		b.WriteString(upperFirst(w))
	}
	return b.String()
}

// ToKebab converts a camelCase method name into kebab-case. It inverts
// ToCamel only when every word after the first has at least two runes:
// adjacent capitals read as one acronym, so ToKebab("getCR03b") is
// "get-cr03b", not "get-c-r03b". Mapper never relies on this direction.
func ToKebab(method string) string {
	return joinLower(method, "-")
}

// ToSnake converts a camelCase method name into snake_case.
func ToSnake(method string) string {
	return joinLower(method, "_")
}

func joinLower(method string, sep string) string {
	words := splitWords(method)
	for i, w := range words {
		words[i] = strings.ToLower(w)
	}
	return strings.Join(words, sep)
}

// splitWords 按分隔符（- _ 空格 .）以及小写到大写的边界切分
func splitWords(s string) []string {
	var (
		words []string
		cur   []rune
	)
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == '-' || r == '_' || r == '.' || unicode.IsSpace(r):
			flush()
		case unicode.IsUpper(r):
			// fooBar、HTTPServer 两种边界
			if i > 0 && len(cur) > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					flush()
				}
			}
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return words
}

func lowerFirst(s string) string {
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

func upperFirst(s string) string {
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// Mapper resolves method names against one server's declared tools.
type Mapper struct {
	exact   map[string]struct{}
	byCamel map[string][]string
	tools   []string
}

// NewMapper indexes the declared tool names.
func NewMapper(tools []string) *Mapper {
	m := &Mapper{
		exact:   make(map[string]struct{}, len(tools)),
		byCamel: make(map[string][]string, len(tools)),
	}
	for _, t := range tools {
		if _, dup := m.exact[t]; dup {
			continue
		}
		m.exact[t] = struct{}{}
		m.tools = append(m.tools, t)
		if !Mappable(t) {
			continue
		}
		c := ToCamel(t)
		m.byCamel[c] = append(m.byCamel[c], t)
	}
	return m
}

// Mappable reports whether a declared tool name has a method form. Names
// with characters other than letters, digits, '-' and '_' (spaces, dots,
// slashes) are reachable only by their literal name.
func Mappable(tool string) bool {
	if tool == "" {
		return false
	}
	for _, r := range tool {
		if r != '-' && r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// Resolve returns the declared tool for method: an exact match first, then
// the single tool whose camelCase form equals method. Ambiguous camel
// matches resolve to nothing.
func (m *Mapper) Resolve(method string) (string, bool) {
	if _, ok := m.exact[method]; ok {
		return method, true
	}
	candidates := m.byCamel[method]
	if len(candidates) != 1 {
		return "", false
	}
	return candidates[0], true
}

// Methods returns method name → tool name for every tool whose camel form
// is unambiguous, plus unmappable or colliding tools keyed by their own
// name.
func (m *Mapper) Methods() map[string]string {
	out := make(map[string]string, len(m.tools))
	for _, t := range m.tools {
		c := ToCamel(t)
		if Mappable(t) && len(m.byCamel[c]) == 1 && c != "" {
			out[c] = t
			continue
		}
		out[t] = t
	}
	return out
}

// MethodNames returns the sorted keys of Methods.
func (m *Mapper) MethodNames() []string {
	methods := m.Methods()
	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
