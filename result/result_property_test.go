package result

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

// 视图是确定的：同一负载的多次读取以及两个独立 Result 的结果一致
func TestProperty_ViewsAreDeterministic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		texts := rapid.SliceOfN(rapid.String(), 0, 4).Draw(rt, "texts")
		mime := rapid.SampledFrom([]string{"", "text/plain", "text/markdown"}).Draw(rt, "mime")

		blocks := make([]map[string]any, 0, len(texts))
		for _, s := range texts {
			b := map[string]any{"type": "text", "text": s}
			if mime != "" {
				b["mimeType"] = mime
			}
			blocks = append(blocks, b)
		}
		raw, err := json.Marshal(map[string]any{"content": blocks})
		if err != nil {
			rt.Fatal(err)
		}

		a, b := New("s", "t", raw), New("s", "t", raw)
		for i := 0; i < 2; i++ {
			ta, oka := a.Text()
			tb, okb := b.Text()
			assert.Equal(rt, oka, okb)
			assert.Equal(rt, ta, tb)

			ja, oka := a.JSON()
			jb, okb := b.JSON()
			assert.Equal(rt, oka, okb)
			assert.Equal(rt, ja, jb)

			ma, oka := a.Markdown()
			mb, okb := b.Markdown()
			assert.Equal(rt, oka, okb)
			assert.Equal(rt, ma, mb)
		}

		if _, ok := a.Markdown(); ok {
			assert.Equal(rt, "text/markdown", mime)
		}
	})
}

// 任意字节都不会导致视图 panic
func TestProperty_ArbitraryBytesNeverPanic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		raw := rapid.SliceOf(rapid.Byte()).Draw(rt, "raw")
		r := New("s", "t", raw)
		_, _ = r.Text()
		_, _ = r.JSON()
		_, _ = r.Markdown()
		_ = r.IsError()
		_ = r.Content()
		_, _ = Decode[map[string]any](r)
	})
}
