package fixtures

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/BaSui01/toolport/config"
	"github.com/BaSui01/toolport/protocol/mcp"
)

// 子进程模式的环境变量
const (
	envServer  = "TOOLPORT_FIXTURE_SERVER"
	envFraming = "TOOLPORT_FIXTURE_FRAMING"
	envNoise   = "TOOLPORT_FIXTURE_NOISE"
)

// ServerByName 按名称返回假服务：context7、figma、echo
func ServerByName(name string) (*mcp.Server, error) {
	switch name {
	case "context7":
		return NewContext7Server(), nil
	case "figma":
		return NewFigmaServer().Server, nil
	case "echo":
		return NewEchoServer(), nil
	}
	return nil, fmt.Errorf("unknown fixture server %q", name)
}

// RunHelperIfRequested 在测试二进制被当作子进程启动时提供 stdio 服务并退出。
// 在 TestMain 中、m.Run 之前调用。
func RunHelperIfRequested() {
	name := os.Getenv(envServer)
	if name == "" {
		return
	}
	srv, err := ServerByName(name)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := srv.RegisterTool(mcp.ToolDefinition{Name: "crash"},
		func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
			os.Exit(3)
			return nil, nil
		}); err != nil {
		os.Exit(2)
	}
	if err := srv.RegisterTool(mcp.ToolDefinition{Name: "whoami"},
		func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
			wd, _ := os.Getwd()
			return &mcp.CallToolResult{
				Content: []mcp.ContentBlock{},
				StructuredContent: map[string]any{
					"cwd":  wd,
					"env":  os.Getenv("FIXTURE_VALUE"),
					"args": os.Args[1:],
				},
			}, nil
		}); err != nil {
		os.Exit(2)
	}

	if os.Getenv(envNoise) != "" {
		fmt.Fprintln(os.Stdout, "fixture server starting...")
	}
	fmt.Fprintln(os.Stderr, "fixture server ready")

	t := mcp.NewStdioTransport(os.Stdin, os.Stdout, mcp.Framing(os.Getenv(envFraming)), nil)
	if err := srv.Serve(context.Background(), t); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(0)
}

// HelperSpec 返回以当前测试二进制作为 stdio 子进程的服务配置
func HelperSpec(name, fixture string, framing config.Framing) config.ServerSpec {
	if framing == "" {
		framing = config.FramingNDJSON
	}
	return config.ServerSpec{
		Name:      name,
		Kind:      config.KindSubprocess,
		Transport: config.TransportStdio,
		Command:   os.Args[0],
		Args:      []string{"-test.run=^$"},
		Framing:   framing,
		Env: map[string]string{
			envServer:  fixture,
			envFraming: string(framing),
		},
	}
}

// WithNoise 让子进程在握手前向 stdout 打印一行非 JSON 文本
func WithNoise(spec config.ServerSpec) config.ServerSpec {
	spec = spec.Clone()
	spec.Env[envNoise] = "1"
	return spec
}

// StartWebSocketBridge 通过 httptest 暴露 WebSocket 桥，返回 ws:// 地址
func StartWebSocketBridge(t *testing.T, srv *mcp.Server) string {
	t.Helper()
	hs := httptest.NewServer(srv.WebSocketHandler())
	t.Cleanup(hs.Close)
	return "ws" + strings.TrimPrefix(hs.URL, "http")
}

// StartSSEBridge 通过 httptest 暴露 SSE 桥，返回事件流地址
func StartSSEBridge(t *testing.T, srv *mcp.Server) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("/sse", srv.SSEHandler())
	hs := httptest.NewServer(mux)
	t.Cleanup(hs.Close)
	return hs.URL + "/sse"
}

// PipeDialer 返回一个拨号函数：每次拨号都通过 io.Pipe 连接到进程内服务的新会话
func PipeDialer(t *testing.T, srv *mcp.Server) func(ctx context.Context) (mcp.Transport, error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	return func(context.Context) (mcp.Transport, error) {
		clientIn, serverOut := io.Pipe()
		serverIn, clientOut := io.Pipe()
		serverT := mcp.NewStdioTransport(serverIn, serverOut, mcp.FramingNDJSON, nil)
		go func() {
			_ = srv.Serve(ctx, serverT)
			serverT.Close()
		}()
		return mcp.NewStdioTransport(clientIn, clientOut, mcp.FramingNDJSON, nil), nil
	}
}
