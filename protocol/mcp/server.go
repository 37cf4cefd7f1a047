package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

// ToolHandler 工具处理函数。返回 error 时以 isError 结果应答，而不是 JSON-RPC 错误。
type ToolHandler func(ctx context.Context, args map[string]any) (*CallToolResult, error)

type registeredTool struct {
	def     ToolDefinition
	handler ToolHandler
}

// Server 最小的 MCP 工具服务端：initialize、ping、tools/list（分页）、tools/call 与取消通知
type Server struct {
	info     Implementation
	logger   *zap.Logger
	pageSize int

	mu    sync.RWMutex
	tools map[string]registeredTool
	order []string

	inflightMu sync.Mutex
	inflight   map[string]context.CancelFunc
}

// NewServer 创建 MCP 服务端
func NewServer(name, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		info:     Implementation{Name: name, Version: version},
		logger:   logger.With(zap.String("component", "mcp_server")),
		tools:    make(map[string]registeredTool),
		inflight: make(map[string]context.CancelFunc),
	}
}

// SetPageSize 设置 tools/list 每页数量；0 表示不分页
func (s *Server) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageSize = n
}

// RegisterTool 注册工具，同名工具会被替换
func (s *Server) RegisterTool(def ToolDefinition, handler ToolHandler) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if handler == nil {
		return fmt.Errorf("tool %q: handler is required", def.Name)
	}
	if def.InputSchema == nil {
		def.InputSchema = map[string]any{"type": "object"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tools[def.Name]; !exists {
		s.order = append(s.order, def.Name)
	}
	s.tools[def.Name] = registeredTool{def: def, handler: handler}
	return nil
}

// Serve 在一个传输上处理请求，直到对端关闭或 ctx 取消。
// 每个请求在独立 goroutine 中处理，因此响应可能乱序返回。
func (s *Server) Serve(ctx context.Context, t Transport) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		msg, err := t.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrTransportClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if resp := s.Dispatch(ctx, msg); resp != nil {
				if err := t.Send(ctx, resp); err != nil {
					s.logger.Debug("failed to send response", zap.Error(err))
				}
			}
		}()
	}
}

// Dispatch 分发一条消息。通知与响应返回 nil。
func (s *Server) Dispatch(ctx context.Context, msg *MCPMessage) *MCPMessage {
	if msg.IsNotification() {
		if msg.Method == MethodCancelled {
			s.cancelInflight(msg.Params["requestId"])
		}
		return nil
	}
	if !msg.IsRequest() {
		return nil
	}

	switch msg.Method {
	case MethodInitialize:
		return NewMCPResponse(msg.ID, InitializeResult{
			ProtocolVersion: MCPVersion,
			Capabilities:    map[string]any{"tools": map[string]any{}},
			ServerInfo:      s.info,
		})

	case MethodPing:
		return NewMCPResponse(msg.ID, map[string]any{})

	case MethodToolsList:
		cursor, _ := msg.Params["cursor"].(string)
		page, err := s.listPage(cursor)
		if err != nil {
			return NewMCPError(msg.ID, ErrorCodeInvalidParams, err.Error(), nil)
		}
		return NewMCPResponse(msg.ID, page)

	case MethodToolsCall:
		return s.callTool(ctx, msg)

	default:
		return NewMCPError(msg.ID, ErrorCodeMethodNotFound,
			fmt.Sprintf("method not found: %s", msg.Method), nil)
	}
}

func (s *Server) listPage(cursor string) (ListToolsResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 || n > len(s.order) {
			return ListToolsResult{}, fmt.Errorf("invalid cursor %q", cursor)
		}
		start = n
	}
	end := len(s.order)
	if s.pageSize > 0 && start+s.pageSize < end {
		end = start + s.pageSize
	}

	out := ListToolsResult{Tools: make([]ToolDefinition, 0, end-start)}
	for _, name := range s.order[start:end] {
		out.Tools = append(out.Tools, s.tools[name].def)
	}
	if end < len(s.order) {
		out.NextCursor = strconv.Itoa(end)
	}
	return out, nil
}

func (s *Server) callTool(ctx context.Context, msg *MCPMessage) *MCPMessage {
	name, _ := msg.Params["name"].(string)
	args, _ := msg.Params["arguments"].(map[string]any)

	s.mu.RLock()
	tool, ok := s.tools[name]
	s.mu.RUnlock()
	if !ok {
		return NewMCPError(msg.ID, ErrorCodeInvalidParams, fmt.Sprintf("Unknown tool: %s", name), nil)
	}

	key := idKey(msg.ID)
	callCtx, cancel := context.WithCancel(ctx)
	s.inflightMu.Lock()
	s.inflight[key] = cancel
	s.inflightMu.Unlock()
	defer func() {
		s.inflightMu.Lock()
		delete(s.inflight, key)
		s.inflightMu.Unlock()
		cancel()
	}()

	result, err := tool.handler(callCtx, args)
	if err != nil {
		result = ErrorResult(err.Error())
	}
	if result == nil {
		result = &CallToolResult{Content: []ContentBlock{}}
	}
	if callCtx.Err() != nil && ctx.Err() == nil {
		s.logger.Debug("tool call cancelled by client", zap.String("tool", name))
	}
	return NewMCPResponse(msg.ID, result)
}

func (s *Server) cancelInflight(requestID any) {
	key := idKey(requestID)
	s.inflightMu.Lock()
	cancel, ok := s.inflight[key]
	s.inflightMu.Unlock()
	if ok {
		cancel()
	}
}

func idKey(id any) string {
	if n, ok := NormalizeID(id); ok {
		return strconv.FormatInt(n, 10)
	}
	b, _ := json.Marshal(id)
	return string(b)
}
