package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrClientClosed 客户端已关闭或连接已断开
var ErrClientClosed = errors.New("mcp: client closed")

// ClientOption 客户端选项
type ClientOption func(*Client)

// WithClientInfo 设置 initialize 时上报的客户端信息
func WithClientInfo(name, version string) ClientOption {
	return func(c *Client) { c.info = Implementation{Name: name, Version: version} }
}

// WithCancelTimeout 设置发送 notifications/cancelled 的超时
func WithCancelTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.cancelTimeout = d }
}

// Client JSON-RPC 客户端。
// 通过 id 关联请求与响应；调用方放弃的请求会从 pending 表移除，
// 迟到的响应被丢弃，绝不会交付给其他调用方。
type Client struct {
	transport Transport
	logger    *zap.Logger
	info      Implementation

	cancelTimeout time.Duration

	nextID  atomic.Int64
	mu      sync.Mutex
	pending map[int64]chan *MCPMessage

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
	err       error

	serverInfo *InitializeResult
}

// NewClient 创建 MCP 客户端。调用 Start 之后才会读取传输。
func NewClient(transport Transport, logger *zap.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		transport:     transport,
		logger:        logger.With(zap.String("component", "mcp_client")),
		info:          Implementation{Name: "toolport", Version: "dev"},
		cancelTimeout: 2 * time.Second,
		pending:       make(map[int64]chan *MCPMessage),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start 启动读循环（幂等）
func (c *Client) Start() {
	c.startOnce.Do(func() { go c.readLoop() })
}

// Done 在客户端关闭或连接断开时关闭
func (c *Client) Done() <-chan struct{} { return c.done }

// Err 返回导致客户端终止的错误；未终止时为 nil
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// ServerInfo 返回 initialize 的结果；未初始化时为 nil
func (c *Client) ServerInfo() *InitializeResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// Initialize 完成 MCP 握手：initialize 请求 + notifications/initialized 通知
func (c *Client) Initialize(ctx context.Context) (*InitializeResult, error) {
	c.Start()

	raw, err := c.Call(ctx, MethodInitialize, map[string]any{
		"protocolVersion": MCPVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      c.info,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("initialize: %w: %v", ErrMalformedFrame, err)
	}
	if err := c.Notify(ctx, MethodInitialized, nil); err != nil {
		return nil, fmt.Errorf("initialized notification: %w", err)
	}

	c.mu.Lock()
	c.serverInfo = &result
	c.mu.Unlock()

	c.logger.Debug("connected to MCP server",
		zap.String("server", result.ServerInfo.Name),
		zap.String("version", result.ServerInfo.Version),
		zap.String("protocol", result.ProtocolVersion))
	return &result, nil
}

// ListTools 列出工具，自动跟随 nextCursor 翻页
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	var (
		tools  []ToolDefinition
		cursor string
		seen   = map[string]bool{}
	)
	for {
		var params map[string]any
		if cursor != "" {
			params = map[string]any{"cursor": cursor}
		}
		raw, err := c.Call(ctx, MethodToolsList, params)
		if err != nil {
			return nil, err
		}
		var page ListToolsResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("tools/list: %w: %v", ErrMalformedFrame, err)
		}
		tools = append(tools, page.Tools...)

		if page.NextCursor == "" || seen[page.NextCursor] {
			return tools, nil
		}
		seen[page.NextCursor] = true
		cursor = page.NextCursor
	}
}

// CallTool 调用工具，返回未经解码的 result
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	if args == nil {
		args = map[string]any{}
	}
	return c.Call(ctx, MethodToolsCall, map[string]any{
		"name":      name,
		"arguments": args,
	})
}

// Ping 发送 ping
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Call(ctx, MethodPing, nil)
	return err
}

// Call 发送请求并等待响应
func (c *Client) Call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	c.Start()

	id := c.nextID.Add(1)
	respChan := make(chan *MCPMessage, 1)

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return nil, c.err
	default:
	}
	c.pending[id] = respChan
	c.mu.Unlock()

	if err := c.transport.Send(ctx, NewMCPRequest(id, method, params)); err != nil {
		c.drop(id)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case resp := <-respChan:
		return unwrapResponse(resp)
	case <-ctx.Done():
		if c.drop(id) {
			c.sendCancelled(id, ctx.Err())
			return nil, ctx.Err()
		}
		// 读循环已取走槽位：要么响应已在路上，要么客户端正在关闭
		select {
		case resp := <-respChan:
			return unwrapResponse(resp)
		case <-c.done:
			return nil, ctx.Err()
		}
	case <-c.done:
		select {
		case resp := <-respChan:
			return unwrapResponse(resp)
		default:
		}
		return nil, c.err
	}
}

func unwrapResponse(resp *MCPMessage) (json.RawMessage, error) {
	if resp.Error != nil {
		return nil, resp.Error
	}
	if len(resp.Result) == 0 {
		return json.RawMessage("null"), nil
	}
	return resp.Result, nil
}

// drop 移除 pending 槽位；返回 false 表示读循环已经交付了响应
func (c *Client) drop(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}

func (c *Client) sendCancelled(id int64, reason error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cancelTimeout)
	defer cancel()
	err := c.Notify(ctx, MethodCancelled, map[string]any{
		"requestId": id,
		"reason":    reason.Error(),
	})
	if err != nil {
		c.logger.Debug("failed to send cancellation", zap.Int64("id", id), zap.Error(err))
	}
}

// Notify 发送通知（无响应）
func (c *Client) Notify(ctx context.Context, method string, params map[string]any) error {
	select {
	case <-c.done:
		return c.err
	default:
	}
	return c.transport.Send(ctx, NewMCPNotification(method, params))
}

// readLoop 读取消息并分发，直到传输出错或客户端关闭
func (c *Client) readLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		msg, err := c.transport.Receive(ctx)
		if err != nil {
			c.shutdown(err)
			return
		}
		c.handleMessage(ctx, msg)
	}
}

// handleMessage 处理消息
func (c *Client) handleMessage(ctx context.Context, msg *MCPMessage) {
	switch {
	case msg.IsRequest():
		c.handleServerRequest(ctx, msg)
	case msg.IsNotification():
		c.logger.Debug("server notification", zap.String("method", msg.Method))
	case msg.IsResponse():
		id, ok := NormalizeID(msg.ID)
		if !ok {
			c.logger.Warn("response with unusable id", zap.Any("id", msg.ID))
			return
		}
		c.mu.Lock()
		respChan, exists := c.pending[id]
		delete(c.pending, id)
		c.mu.Unlock()

		if !exists {
			c.logger.Debug("discarding response for abandoned request", zap.Int64("id", id))
			return
		}
		respChan <- msg
	default:
		c.logger.Debug("ignoring message without id or method")
	}
}

// handleServerRequest 应答服务端发起的请求：只支持 ping
func (c *Client) handleServerRequest(ctx context.Context, msg *MCPMessage) {
	var resp *MCPMessage
	if msg.Method == MethodPing {
		resp = NewMCPResponse(msg.ID, map[string]any{})
	} else {
		resp = NewMCPError(msg.ID, ErrorCodeMethodNotFound,
			fmt.Sprintf("method not found: %s", msg.Method), nil)
	}
	if err := c.transport.Send(ctx, resp); err != nil {
		c.logger.Debug("failed to answer server request",
			zap.String("method", msg.Method), zap.Error(err))
	}
}

// shutdown 终止客户端：所有 pending 调用以 cause 失败
func (c *Client) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = fmt.Errorf("%w: %w", ErrClientClosed, cause)
		close(c.done)
		n := len(c.pending)
		c.pending = make(map[int64]chan *MCPMessage)
		c.mu.Unlock()

		if n > 0 {
			c.logger.Debug("failing pending calls", zap.Int("count", n), zap.Error(cause))
		}
		if err := c.transport.Close(); err != nil {
			c.logger.Debug("transport close", zap.Error(err))
		}
	})
}

// Close 关闭客户端与底层传输（幂等）
func (c *Client) Close() error {
	c.shutdown(ErrTransportClosed)
	return nil
}
