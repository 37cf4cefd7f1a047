package result

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
)

// ContentBlock is one element of an MCP "content" array.
type ContentBlock struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	MimeType string    `json:"mimeType,omitempty"`
	Data     string    `json:"data,omitempty"`
	Resource *Resource `json:"resource,omitempty"`
}

// Resource is an embedded resource inside a content block.
type Resource struct {
	URI      string `json:"uri,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// envelope 是 tools/call 结果的外层结构
type envelope struct {
	Content           []ContentBlock  `json:"content"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
	IsError           bool            `json:"isError,omitempty"`
}

// Result wraps one tool response. It is immutable and safe for concurrent
// use; views are decoded on first access.
type Result struct {
	server string
	tool   string
	raw    json.RawMessage

	envOnce sync.Once
	env     *envelope
	top     any

	textOnce sync.Once
	text     string
	hasText  bool

	jsonOnce sync.Once
	json     any
	hasJSON  bool

	mdOnce sync.Once
	md     string
	hasMD  bool
}

// New copies raw and returns a Result for it.
func New(server, tool string, raw []byte) *Result {
	return &Result{
		server: server,
		tool:   tool,
		raw:    append(json.RawMessage(nil), raw...),
	}
}

// Server 返回产生该结果的服务名（仅用于诊断）
func (r *Result) Server() string { return r.server }

// Tool 返回工具名
func (r *Result) Tool() string { return r.tool }

// Raw returns a copy of the undecoded payload.
func (r *Result) Raw() json.RawMessage {
	return append(json.RawMessage(nil), r.raw...)
}

// String returns Text when present, otherwise the raw payload.
func (r *Result) String() string {
	if s, ok := r.Text(); ok {
		return s
	}
	return string(r.raw)
}

// decode 解析一次外层结构。非 MCP 形状的负载只保留顶层值。
func (r *Result) decode() {
	r.envOnce.Do(func() {
		var top any
		if err := json.Unmarshal(r.raw, &top); err != nil {
			return
		}
		r.top = top

		obj, ok := top.(map[string]any)
		if !ok {
			return
		}
		_, hasContent := obj["content"]
		_, hasStructured := obj["structuredContent"]
		if !hasContent && !hasStructured {
			return
		}
		var env envelope
		if err := json.Unmarshal(r.raw, &env); err != nil {
			return
		}
		r.env = &env
	})
}

// IsError reports whether the server flagged the call as a tool-level error.
func (r *Result) IsError() bool {
	r.decode()
	return r.env != nil && r.env.IsError
}

// Content returns the MCP content blocks, or nil for non-MCP payloads.
func (r *Result) Content() []ContentBlock {
	r.decode()
	if r.env == nil {
		return nil
	}
	return append([]ContentBlock(nil), r.env.Content...)
}

// Text returns the human-readable text of the response.
func (r *Result) Text() (string, bool) {
	r.textOnce.Do(func() {
		r.text, r.hasText = r.computeText()
	})
	return r.text, r.hasText
}

func (r *Result) computeText() (string, bool) {
	r.decode()
	if r.env != nil {
		var parts []string
		for _, b := range r.env.Content {
			if b.Type == "text" || (b.Type == "markdown" && b.Text != "") {
				parts = append(parts, b.Text)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "\n"), true
		}
		for _, b := range r.env.Content {
			if b.Resource != nil && b.Resource.Text != "" {
				return b.Resource.Text, true
			}
		}
		return "", false
	}

	switch v := r.top.(type) {
	case string:
		return v, true
	case map[string]any:
		for _, key := range []string{"text", "result"} {
			if s, ok := v[key].(string); ok {
				return s, true
			}
		}
	}
	return "", false
}

// JSON returns the structured value of the response.
func (r *Result) JSON() (any, bool) {
	r.jsonOnce.Do(func() {
		r.json, r.hasJSON = r.computeJSON()
	})
	return r.json, r.hasJSON
}

func (r *Result) computeJSON() (any, bool) {
	r.decode()
	if r.env != nil && len(r.env.StructuredContent) > 0 && !bytes.Equal(r.env.StructuredContent, []byte("null")) {
		var v any
		if err := json.Unmarshal(r.env.StructuredContent, &v); err == nil {
			return v, true
		}
	}

	if r.env == nil {
		switch r.top.(type) {
		case map[string]any, []any:
			return r.top, true
		}
	}

	text, ok := r.Text()
	if !ok {
		return nil, false
	}
	return parseJSONText(text)
}

// parseJSONText 解析文本中的 JSON，允许外层 ``` 代码围栏
func parseJSONText(text string) (any, bool) {
	s := strings.TrimSpace(stripFence(text))
	if s == "" {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

func stripFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") || !strings.HasSuffix(t, "```") || len(t) < 6 {
		return s
	}
	t = strings.TrimSuffix(t[3:], "```")
	// 去掉语言标记行，如 ```json
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		t = t[i+1:]
	} else {
		return s
	}
	return t
}

// Markdown returns Text when the server declared markdown content.
func (r *Result) Markdown() (string, bool) {
	r.mdOnce.Do(func() {
		r.md, r.hasMD = r.computeMarkdown()
	})
	return r.md, r.hasMD
}

func (r *Result) computeMarkdown() (string, bool) {
	r.decode()
	if r.env == nil {
		return "", false
	}
	declared := false
	for _, b := range r.env.Content {
		if b.Type == "markdown" || isMarkdownMime(b.MimeType) ||
			(b.Resource != nil && isMarkdownMime(b.Resource.MimeType)) {
			declared = true
			break
		}
	}
	if !declared {
		return "", false
	}
	return r.Text()
}

func isMarkdownMime(m string) bool {
	m = strings.ToLower(strings.TrimSpace(m))
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	return m == "text/markdown" || m == "text/x-markdown"
}

// Decode converts the JSON view into T. It reports false when the view is
// absent or does not fit T.
func Decode[T any](r *Result) (T, bool) {
	var zero T
	v, ok := r.JSON()
	if !ok {
		return zero, false
	}
	data, err := json.Marshal(v)
	if err != nil {
		return zero, false
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, false
	}
	return out, true
}
