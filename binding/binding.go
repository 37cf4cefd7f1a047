package binding

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/BaSui01/toolport/protocol/mcp"
	"github.com/BaSui01/toolport/types"
)

// Binding is one reachable tool server.
type Binding interface {
	// Name returns the configured server name.
	Name() string
	// Connect establishes the connection if it is not already up.
	Connect(ctx context.Context) error
	// ListTools queries the server's advertised tools.
	ListTools(ctx context.Context) ([]types.ToolDescriptor, error)
	// Invoke calls one tool and returns the raw result payload.
	Invoke(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error)
	// Concurrent reports whether several calls may be in flight at once.
	Concurrent() bool
	// Terminate releases the connection. Safe to call more than once and
	// on bindings whose process or socket is already gone.
	Terminate() error
}

// ResetNotifier is implemented by bindings that can replace a dead
// connection with a new one. fn runs after each replacement.
type ResetNotifier interface {
	OnReset(fn func())
}

// ErrTerminated 绑定已被终止
var ErrTerminated = errors.New("binding terminated")

// wrapErr maps client-level failures onto the error taxonomy.
func wrapErr(server, tool string, err error) error {
	if err == nil {
		return nil
	}
	var te *types.Error
	if errors.As(err, &te) {
		return err
	}

	var rpcErr *mcp.MCPError
	if tool != "" && errors.As(err, &rpcErr) && isUnknownToolRPC(rpcErr, tool) {
		return types.NewUnknownToolError(server, tool).WithCause(err)
	}

	e := types.NewTransportError(server, err).WithTool(tool)
	if errors.Is(err, context.DeadlineExceeded) {
		e.WithRetryable(true)
	}
	return e
}

// isUnknownToolRPC 识别服务端对未知工具的 JSON-RPC 错误
func isUnknownToolRPC(e *mcp.MCPError, tool string) bool {
	if e.Code != mcp.ErrorCodeMethodNotFound && e.Code != mcp.ErrorCodeInvalidParams {
		return false
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "unknown tool") ||
		strings.Contains(msg, "tool not found") ||
		strings.Contains(msg, "no such tool") ||
		strings.Contains(msg, "not found: "+strings.ToLower(tool))
}

func toDescriptors(defs []mcp.ToolDefinition) []types.ToolDescriptor {
	out := make([]types.ToolDescriptor, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.ToDescriptor())
	}
	return out
}
