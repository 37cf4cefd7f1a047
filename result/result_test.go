package result

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResult_Text(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{"single text block", `{"content":[{"type":"text","text":"hello"}]}`, "hello", true},
		{"joined blocks", `{"content":[{"type":"text","text":"a"},{"type":"image","data":"xx"},{"type":"text","text":"b"}]}`, "a\nb", true},
		{"resource fallback", `{"content":[{"type":"resource","resource":{"uri":"x","text":"doc body"}}]}`, "doc body", true},
		{"top level string", `"plain"`, "plain", true},
		{"text field", `{"text":"field text"}`, "field text", true},
		{"result field", `{"result":"done"}`, "done", true},
		{"empty content", `{"content":[]}`, "", false},
		{"number", `42`, "", false},
		{"invalid json", `{not json`, "", false},
		{"empty payload", ``, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := New("s", "t", []byte(tt.raw)).Text()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResult_JSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want any
		ok   bool
	}{
		{"structured content wins", `{"content":[{"type":"text","text":"{\"a\":2}"}],"structuredContent":{"a":1}}`, map[string]any{"a": float64(1)}, true},
		{"parsed text", `{"content":[{"type":"text","text":"[1,2]"}]}`, []any{float64(1), float64(2)}, true},
		{"fenced text", "{\"content\":[{\"type\":\"text\",\"text\":\"```json\\n{\\\"ok\\\":true}\\n```\"}]}", map[string]any{"ok": true}, true},
		{"plain object payload", `{"libraries":["/a/b"]}`, map[string]any{"libraries": []any{"/a/b"}}, true},
		{"plain array payload", `[{"id":1}]`, []any{map[string]any{"id": float64(1)}}, true},
		{"prose text", `{"content":[{"type":"text","text":"Available Libraries:\n- /x/y"}]}`, nil, false},
		{"null structured falls back", `{"content":[{"type":"text","text":"7"}],"structuredContent":null}`, float64(7), true},
		{"invalid payload", `{"content":`, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := New("s", "t", []byte(tt.raw)).JSON()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResult_Markdown(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{"resource mime", `{"content":[{"type":"resource","resource":{"uri":"d","mimeType":"text/markdown","text":"# Title"}}]}`, "# Title", true},
		{"block mime with params", `{"content":[{"type":"text","mimeType":"text/markdown; charset=utf-8","text":"*x*"}]}`, "*x*", true},
		{"x-markdown", `{"content":[{"type":"text","mimeType":"text/x-markdown","text":"y"}]}`, "y", true},
		{"markdown block type", `{"content":[{"type":"markdown","text":"## h"}]}`, "## h", true},
		{"plain text is not markdown", `{"content":[{"type":"text","text":"# looks like markdown"}]}`, "", false},
		{"non mcp payload", `"# heading"`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := New("s", "t", []byte(tt.raw)).Markdown()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResult_IsErrorAndContent(t *testing.T) {
	r := New("figma", "get_document_info", []byte(`{"content":[{"type":"text","text":"Error: not joined"}],"isError":true}`))
	assert.True(t, r.IsError())
	require.Len(t, r.Content(), 1)
	assert.Equal(t, "Error: not joined", r.Content()[0].Text)
	assert.Equal(t, "figma", r.Server())
	assert.Equal(t, "get_document_info", r.Tool())
	assert.Equal(t, "Error: not joined", r.String())

	plain := New("s", "t", []byte(`{"a":1}`))
	assert.False(t, plain.IsError())
	assert.Nil(t, plain.Content())
	assert.Equal(t, `{"a":1}`, plain.String())
}

func TestResult_RawIsCopied(t *testing.T) {
	buf := []byte(`{"content":[{"type":"text","text":"original"}]}`)
	r := New("s", "t", buf)
	copy(buf[len(buf)-12:], []byte(`XXXXXXXXXXXX`))

	text, ok := r.Text()
	require.True(t, ok)
	assert.Equal(t, "original", text)

	raw := r.Raw()
	raw[0] = '['
	assert.Equal(t, byte('{'), r.Raw()[0])
}

func TestResult_ConcurrentViews(t *testing.T) {
	r := New("s", "t", []byte(`{"content":[{"type":"text","text":"{\"n\":3}"}]}`))
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, ok := r.JSON()
			assert.True(t, ok)
			assert.Equal(t, map[string]any{"n": float64(3)}, v)
			_, _ = r.Markdown()
		}()
	}
	wg.Wait()
}

func TestDecode(t *testing.T) {
	type stats struct {
		Library string `json:"library"`
		Stars   int    `json:"stars"`
	}
	r := New("context7", "get_library_stats",
		[]byte("{\"content\":[{\"type\":\"text\",\"text\":\"```json\\n{\\\"library\\\":\\\"/vercel/next.js\\\",\\\"stars\\\":120}\\n```\"}]}"))

	got, ok := Decode[stats](r)
	require.True(t, ok)
	assert.Equal(t, stats{Library: "/vercel/next.js", Stars: 120}, got)

	_, ok = Decode[[]int](r)
	assert.False(t, ok)

	_, ok = Decode[stats](New("s", "t", []byte(`"no json here"`)))
	assert.False(t, ok)
}

func TestResult_RawRoundTrip(t *testing.T) {
	payload := map[string]any{"content": []any{map[string]any{"type": "text", "text": "x"}}}
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(New("s", "t", data).Raw()))
}
