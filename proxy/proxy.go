package proxy

import (
	"context"
	"strings"
	"unicode"

	"github.com/BaSui01/toolport/naming"
	"github.com/BaSui01/toolport/protocol/mcp"
	"github.com/BaSui01/toolport/result"
	"github.com/BaSui01/toolport/types"
)

// Invoker is the part of runtime.Runtime a proxy needs.
type Invoker interface {
	Invoke(ctx context.Context, server, tool string, args map[string]any) (*result.Result, error)
	ListTools(ctx context.Context, server string) ([]types.ToolDescriptor, error)
	HasServer(name string) bool
	// HandshakeTool returns the handshake tool of a session-scoped server.
	HandshakeTool(server string) (string, bool)
	// Guard fails the way Invoke would for tool without contacting the server.
	Guard(server, tool string) error
}

// ToolFunc calls one tool of the proxied server.
type ToolFunc func(ctx context.Context, args map[string]any) (*result.Result, error)

// ServerProxy addresses one server by method name.
type ServerProxy struct {
	rt     Invoker
	server string
}

// New returns a proxy for server. It fails with UnknownServer when the
// server is not configured; no connection is opened.
func New(rt Invoker, server string) (*ServerProxy, error) {
	if !rt.HasServer(server) {
		return nil, types.NewUnknownServerError(server)
	}
	return &ServerProxy{rt: rt, server: server}, nil
}

// Server returns the proxied server name.
func (p *ServerProxy) Server() string { return p.server }

// Call invokes tool by its literal name.
func (p *ServerProxy) Call(ctx context.Context, tool string, args map[string]any) (*result.Result, error) {
	return p.rt.Invoke(ctx, p.server, tool, args)
}

// Invoke resolves method against the declared tools and calls it. An exact
// tool name wins over a camelCase match; no match is UnknownTool.
func (p *ServerProxy) Invoke(ctx context.Context, method string, args map[string]any) (*result.Result, error) {
	tool, err := p.Resolve(ctx, method)
	if err != nil {
		return nil, err
	}
	return p.rt.Invoke(ctx, p.server, tool, args)
}

// Resolve returns the declared tool name method maps to. On a
// session-scoped server, any method other than the handshake fails with
// SessionNotEstablished before the tool list is fetched. Servers that do
// not implement tools/list get the kebab-case form of a camelCase method
// (resolveLibraryId → resolve-library-id); other methods are used literally.
func (p *ServerProxy) Resolve(ctx context.Context, method string) (string, error) {
	if hs, ok := p.rt.HandshakeTool(p.server); ok && (method == hs || method == naming.ToCamel(hs)) {
		return hs, nil
	}
	if err := p.rt.Guard(p.server, method); err != nil {
		return "", err
	}

	m, err := p.mapper(ctx)
	if mcp.IsMethodNotFound(err) {
		return undiscoveredTool(method), nil
	}
	if err != nil {
		return "", err
	}
	tool, ok := m.Resolve(method)
	if !ok {
		return "", types.NewUnknownToolError(p.server, method)
	}
	return tool, nil
}

// Tools returns one wrapper per declared tool, keyed by method name.
func (p *ServerProxy) Tools(ctx context.Context) (map[string]ToolFunc, error) {
	m, err := p.mapper(ctx)
	if err != nil {
		return nil, err
	}
	methods := m.Methods()
	out := make(map[string]ToolFunc, len(methods))
	for method, tool := range methods {
		out[method] = func(ctx context.Context, args map[string]any) (*result.Result, error) {
			return p.rt.Invoke(ctx, p.server, tool, args)
		}
	}
	return out, nil
}

// Methods returns the sorted method names of the declared tools.
func (p *ServerProxy) Methods(ctx context.Context) ([]string, error) {
	m, err := p.mapper(ctx)
	if err != nil {
		return nil, err
	}
	return m.MethodNames(), nil
}

// undiscoveredTool 无法发现工具时的回退名称
func undiscoveredTool(method string) string {
	if strings.IndexFunc(method, unicode.IsUpper) < 0 || !naming.Mappable(method) {
		return method
	}
	return naming.ToKebab(method)
}

// mapper 基于运行时缓存的工具列表构建，服务重连后自动跟随新列表
func (p *ServerProxy) mapper(ctx context.Context) (*naming.Mapper, error) {
	tools, err := p.rt.ListTools(ctx, p.server)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return naming.NewMapper(names), nil
}
