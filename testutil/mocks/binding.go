// Package mocks 提供 binding.Binding 的测试模拟实现。
//
// 支持工具注册、调用记录、错误注入与并发度观测。
package mocks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/BaSui01/toolport/testutil"
	"github.com/BaSui01/toolport/types"
)

// ToolFunc 工具执行函数，返回值会被序列化为原始结果
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// Call 记录单次调用
type Call struct {
	Tool string
	Args map[string]any
}

// MockBinding 是 binding.Binding 的模拟实现
type MockBinding struct {
	name       string
	concurrent bool

	mu        sync.Mutex
	tools     []types.ToolDescriptor
	funcs     map[string]ToolFunc
	calls     []Call
	listErr   error
	invokeErr error
	onReset   []func()

	listCount      atomic.Int32
	connectCount   atomic.Int32
	terminateCount atomic.Int32
	terminateErr   error
	terminated     atomic.Bool

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

// NewMockBinding 创建模拟绑定
func NewMockBinding(name string) *MockBinding {
	return &MockBinding{name: name, funcs: make(map[string]ToolFunc)}
}

// --- Builder 方法 ---

// WithTool 注册工具
func (m *MockBinding) WithTool(name string, fn ToolFunc) *MockBinding {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tools = append(m.tools, types.ToolDescriptor{Name: name, InputSchema: map[string]any{"type": "object"}})
	m.funcs[name] = fn
	return m
}

// WithText 注册返回单个文本块的工具
func (m *MockBinding) WithText(name, text string) *MockBinding {
	return m.WithTool(name, func(context.Context, map[string]any) (any, error) {
		return testutil.TextPayload(text), nil
	})
}

// WithConcurrent 设置 Concurrent 返回值
func (m *MockBinding) WithConcurrent(c bool) *MockBinding {
	m.concurrent = c
	return m
}

// WithListError 让 ListTools 失败
func (m *MockBinding) WithListError(err error) *MockBinding {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
	return m
}

// WithInvokeError 让所有 Invoke 失败
func (m *MockBinding) WithInvokeError(err error) *MockBinding {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invokeErr = err
	return m
}

// WithTerminateError 让 Terminate 返回错误
func (m *MockBinding) WithTerminateError(err error) *MockBinding {
	m.terminateErr = err
	return m
}

// --- binding.Binding 实现 ---

// Name 返回服务名
func (m *MockBinding) Name() string { return m.name }

// Concurrent 返回配置的并发能力
func (m *MockBinding) Concurrent() bool { return m.concurrent }

// Connect 记录连接次数
func (m *MockBinding) Connect(ctx context.Context) error {
	if m.terminated.Load() {
		return types.NewTransportError(m.name, errors.New("terminated"))
	}
	m.connectCount.Add(1)
	return ctx.Err()
}

// ListTools 返回注册的工具
func (m *MockBinding) ListTools(ctx context.Context) ([]types.ToolDescriptor, error) {
	m.listCount.Add(1)
	if m.terminated.Load() {
		return nil, types.NewTransportError(m.name, errors.New("terminated"))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]types.ToolDescriptor(nil), m.tools...), nil
}

// Invoke 调用注册的工具函数
func (m *MockBinding) Invoke(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	n := m.inflight.Add(1)
	defer m.inflight.Add(-1)
	for {
		cur := m.maxInflight.Load()
		if n <= cur || m.maxInflight.CompareAndSwap(cur, n) {
			break
		}
	}

	if m.terminated.Load() {
		return nil, types.NewTransportError(m.name, errors.New("terminated")).WithTool(tool)
	}

	m.mu.Lock()
	m.calls = append(m.calls, Call{Tool: tool, Args: args})
	fn, ok := m.funcs[tool]
	invokeErr := m.invokeErr
	m.mu.Unlock()

	if invokeErr != nil {
		return nil, invokeErr
	}
	if !ok {
		return nil, types.NewUnknownToolError(m.name, tool)
	}
	v, err := fn(ctx, args)
	if err != nil {
		return nil, err
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

// Terminate 标记为已终止
func (m *MockBinding) Terminate() error {
	m.terminateCount.Add(1)
	m.terminated.Store(true)
	return m.terminateErr
}

// OnReset 注册重置回调
func (m *MockBinding) OnReset(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReset = append(m.onReset, fn)
}

// --- 测试辅助 ---

// SimulateReset 模拟连接被替换，触发重置回调
func (m *MockBinding) SimulateReset() {
	m.mu.Lock()
	fns := append([]func(){}, m.onReset...)
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Calls 返回调用记录副本
func (m *MockBinding) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// ListCount ListTools 调用次数
func (m *MockBinding) ListCount() int { return int(m.listCount.Load()) }

// ConnectCount Connect 调用次数
func (m *MockBinding) ConnectCount() int { return int(m.connectCount.Load()) }

// TerminateCount Terminate 调用次数
func (m *MockBinding) TerminateCount() int { return int(m.terminateCount.Load()) }

// Terminated 是否已终止
func (m *MockBinding) Terminated() bool { return m.terminated.Load() }

// MaxInflight 观测到的最大并发调用数
func (m *MockBinding) MaxInflight() int { return int(m.maxInflight.Load()) }
