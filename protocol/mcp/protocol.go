package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/BaSui01/toolport/types"
)

// MCPVersion MCP 协议版本
const MCPVersion = "2024-11-05"

// JSON-RPC 方法名
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodPing        = "ping"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
	MethodCancelled   = "notifications/cancelled"
)

// 标准错误码
const (
	ErrorCodeParseError     = -32700
	ErrorCodeInvalidRequest = -32600
	ErrorCodeMethodNotFound = -32601
	ErrorCodeInvalidParams  = -32602
	ErrorCodeInternalError  = -32603
)

// MCPMessage MCP 消息（JSON-RPC 2.0）
type MCPMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  map[string]any  `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *MCPError       `json:"error,omitempty"`
}

// MCPError MCP 错误，同时实现 error 接口
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// IsMethodNotFound reports whether err carries a JSON-RPC method-not-found
// error anywhere in its chain.
func IsMethodNotFound(err error) bool {
	var rpcErr *MCPError
	return errors.As(err, &rpcErr) && rpcErr.Code == ErrorCodeMethodNotFound
}

// MarshalJSON 自定义 JSON 序列化，始终写出 jsonrpc 版本
func (m *MCPMessage) MarshalJSON() ([]byte, error) {
	type Alias MCPMessage
	return json.Marshal(&struct {
		JSONRPC string `json:"jsonrpc"`
		*Alias
	}{
		JSONRPC: "2.0",
		Alias:   (*Alias)(m),
	})
}

// IsRequest 是否为需要应答的请求
func (m *MCPMessage) IsRequest() bool { return m.Method != "" && m.ID != nil }

// IsNotification 是否为通知
func (m *MCPMessage) IsNotification() bool { return m.Method != "" && m.ID == nil }

// IsResponse 是否为响应
func (m *MCPMessage) IsResponse() bool { return m.Method == "" && m.ID != nil }

// NewMCPRequest 创建 MCP 请求
func NewMCPRequest(id any, method string, params map[string]any) *MCPMessage {
	return &MCPMessage{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

// NewMCPNotification 创建无 id 的通知
func NewMCPNotification(method string, params map[string]any) *MCPMessage {
	return &MCPMessage{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	}
}

// NewMCPResponse 创建 MCP 响应。result 会被序列化；序列化失败时返回内部错误响应。
func NewMCPResponse(id any, result any) *MCPMessage {
	body, err := json.Marshal(result)
	if err != nil {
		return NewMCPError(id, ErrorCodeInternalError, err.Error(), nil)
	}
	return &MCPMessage{
		JSONRPC: "2.0",
		ID:      id,
		Result:  body,
	}
}

// NewMCPError 创建 MCP 错误响应
func NewMCPError(id any, code int, message string, data any) *MCPMessage {
	return &MCPMessage{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// NormalizeID converts a decoded JSON-RPC id into the int64 form used for
// request correlation. Servers echo ids back as numbers or, occasionally,
// as numeric strings.
func NormalizeID(id any) (int64, bool) {
	switch v := id.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// ToolDefinition MCP 工具定义
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// ToDescriptor 转换为运行时使用的工具描述
func (t ToolDefinition) ToDescriptor() types.ToolDescriptor {
	return types.ToolDescriptor{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: t.InputSchema,
	}
}

// ListToolsResult tools/list 的响应体
type ListToolsResult struct {
	Tools      []ToolDefinition `json:"tools"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

// Implementation 客户端或服务端的名称与版本
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult initialize 的响应体
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
	ServerInfo      Implementation `json:"serverInfo"`
	Instructions    string         `json:"instructions,omitempty"`
}

// ContentBlock tools/call 结果中的单个内容块
type ContentBlock struct {
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	MimeType string            `json:"mimeType,omitempty"`
	Data     string            `json:"data,omitempty"`
	Resource *EmbeddedResource `json:"resource,omitempty"`
}

// EmbeddedResource 内嵌资源
type EmbeddedResource struct {
	URI      string `json:"uri,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// CallToolResult tools/call 的响应体
type CallToolResult struct {
	Content           []ContentBlock `json:"content"`
	StructuredContent any            `json:"structuredContent,omitempty"`
	IsError           bool           `json:"isError,omitempty"`
}

// TextResult 创建只含一个文本块的结果
func TextResult(text string) *CallToolResult {
	return &CallToolResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

// ErrorResult 创建工具级错误结果（isError: true）
func ErrorResult(text string) *CallToolResult {
	r := TextResult(text)
	r.IsError = true
	return r
}
