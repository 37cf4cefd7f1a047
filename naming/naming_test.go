package naming

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestToCamel(t *testing.T) {
	tests := map[string]string{
		"resolve-library-id": "resolveLibraryId",
		"get-library-docs":   "getLibraryDocs",
		"get_document_info":  "getDocumentInfo",
		"join_channel":       "joinChannel",
		"get document":       "getDocument",
		"alreadyCamel":       "alreadyCamel",
		"PascalCase":         "pascalCase",
		"get-v2-docs":        "getV2Docs",
		"echo":               "echo",
		"":                   "",
		"--":                 "",
	}
	for in, want := range tests {
		assert.Equal(t, want, ToCamel(in), in)
	}
}

func TestToKebabAndSnake(t *testing.T) {
	assert.Equal(t, "resolve-library-id", ToKebab("resolveLibraryId"))
	assert.Equal(t, "get_document_info", ToSnake("getDocumentInfo"))
	assert.Equal(t, "http-server", ToKebab("HTTPServer"))
	assert.Equal(t, "get-v2-docs", ToKebab("getV2Docs"))
}

func TestToKebab_SingleLetterWordsMerge(t *testing.T) {
	assert.Equal(t, "getCR03b", ToCamel("get-c-r03b"))
	assert.Equal(t, "get-cr03b", ToKebab("getCR03b"))
	assert.Equal(t, "getAB", ToCamel("get-a-b"))
	assert.Equal(t, "get-ab", ToKebab("getAB"))
	// 首个单字母词仍可还原
	assert.Equal(t, "c-r03b", ToKebab(ToCamel("c-r03b")))

	// 解析只走 tool → camelCase 方向，不受影响
	tool, ok := NewMapper([]string{"get-c-r03b", "get-a-b"}).Resolve("getCR03b")
	assert.True(t, ok)
	assert.Equal(t, "get-c-r03b", tool)
	tool, ok = NewMapper([]string{"get-a-b"}).Resolve("getAB")
	assert.True(t, ok)
	assert.Equal(t, "get-a-b", tool)
}

func TestMapper_Resolve(t *testing.T) {
	m := NewMapper([]string{"resolve-library-id", "get-library-docs", "get_library_docs", "echo", "echo"})

	tool, ok := m.Resolve("resolveLibraryId")
	assert.True(t, ok)
	assert.Equal(t, "resolve-library-id", tool)

	// 精确匹配优先
	tool, ok = m.Resolve("get_library_docs")
	assert.True(t, ok)
	assert.Equal(t, "get_library_docs", tool)

	// getLibraryDocs 同时对应两个工具，不做猜测
	_, ok = m.Resolve("getLibraryDocs")
	assert.False(t, ok)

	_, ok = m.Resolve("missing")
	assert.False(t, ok)

	assert.Equal(t, map[string]string{
		"resolveLibraryId": "resolve-library-id",
		"get-library-docs": "get-library-docs",
		"get_library_docs": "get_library_docs",
		"echo":             "echo",
	}, m.Methods())
	assert.Equal(t, []string{"echo", "get-library-docs", "get_library_docs", "resolveLibraryId"}, m.MethodNames())
}

func TestMappable(t *testing.T) {
	assert.True(t, Mappable("resolve-library-id"))
	assert.True(t, Mappable("get_document_info"))
	assert.True(t, Mappable("getV2"))
	assert.False(t, Mappable("get document"))
	assert.False(t, Mappable("fs.read"))
	assert.False(t, Mappable("a/b"))
	assert.False(t, Mappable(""))

	m := NewMapper([]string{"get document", "fs.read"})
	_, ok := m.Resolve("getDocument")
	assert.False(t, ok)
	tool, ok := m.Resolve("get document")
	assert.True(t, ok)
	assert.Equal(t, "get document", tool)
	assert.Equal(t, map[string]string{"get document": "get document", "fs.read": "fs.read"}, m.Methods())
}

// genSegment 生成至少两个字符的词；单字母词的边界在 camelCase 中无法还原
func genSegment() *rapid.Generator[string] {
	return rapid.StringMatching(`[a-z][a-z0-9]{1,7}`)
}

func TestProperty_KebabRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		segs := rapid.SliceOfN(genSegment(), 1, 5).Draw(rt, "segments")
		kebab := join(segs, "-")
		snake := join(segs, "_")

		camel := ToCamel(kebab)
		assert.Equal(rt, camel, ToCamel(snake))
		assert.Equal(rt, kebab, ToKebab(camel))
		assert.Equal(rt, snake, ToSnake(camel))
		assert.Equal(rt, camel, ToCamel(camel))

		tool, ok := NewMapper([]string{kebab}).Resolve(camel)
		assert.True(rt, ok)
		assert.Equal(rt, kebab, tool)
	})
}

func join(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}
