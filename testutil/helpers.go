package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// TestContext 返回 30 秒超时的测试上下文，足够覆盖一次子进程启动与握手
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// WaitForChannel 等待通道接收或超时
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	select {
	case v := <-ch:
		return v, true
	case <-time.After(timeout):
		var zero T
		return zero, false
	}
}

// TextPayload 构造只含一个文本块的 tools/call 结果
func TextPayload(text string) json.RawMessage {
	return mustMarshal(map[string]any{
		"content": []any{map[string]any{"type": "text", "text": text}},
	})
}

// ErrorPayload 构造 isError 为 true 的 tools/call 结果
func ErrorPayload(text string) json.RawMessage {
	return mustMarshal(map[string]any{
		"content": []any{map[string]any{"type": "text", "text": text}},
		"isError": true,
	})
}

// StructuredPayload 构造带 structuredContent 的结果，文本块为其 JSON 形式
func StructuredPayload(v any) json.RawMessage {
	text := string(mustMarshal(v))
	return mustMarshal(map[string]any{
		"content":           []any{map[string]any{"type": "text", "text": text}},
		"structuredContent": v,
	})
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
