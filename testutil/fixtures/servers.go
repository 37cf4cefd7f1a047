// Package fixtures 提供测试用的假 MCP 服务及其接入方式。
package fixtures

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/toolport/protocol/mcp"
)

func schema(required ...string) map[string]any {
	props := map[string]any{}
	for _, r := range required {
		props[r] = map[string]any{"type": "string"}
	}
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		req := make([]any, 0, len(required))
		for _, r := range required {
			req = append(req, r)
		}
		s["required"] = req
	}
	return s
}

func mustRegister(srv *mcp.Server, def mcp.ToolDefinition, h mcp.ToolHandler) {
	if err := srv.RegisterTool(def, h); err != nil {
		panic(err)
	}
}

// NewContext7Server 返回一个文档检索风格的服务：kebab-case 工具名，文本、markdown 与 JSON 三种结果
func NewContext7Server() *mcp.Server {
	srv := mcp.NewServer("context7", "1.0.0", nil)

	mustRegister(srv, mcp.ToolDefinition{
		Name:        "resolve-library-id",
		Description: "Resolve a package name to a library id",
		InputSchema: schema("libraryName"),
	}, func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
		name, _ := args["libraryName"].(string)
		if name == "" {
			name, _ = args["query"].(string)
		}
		if name == "" {
			return nil, errors.New("libraryName is required")
		}
		return mcp.TextResult(fmt.Sprintf("Available Libraries:\n- /%s/%s", name, name)), nil
	})

	mustRegister(srv, mcp.ToolDefinition{
		Name:        "get-library-docs",
		Description: "Fetch documentation for a library id",
		InputSchema: schema("context7CompatibleLibraryID"),
	}, func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
		id, _ := args["context7CompatibleLibraryID"].(string)
		return &mcp.CallToolResult{Content: []mcp.ContentBlock{{
			Type: "resource",
			Resource: &mcp.EmbeddedResource{
				URI:      "context7://" + strings.TrimPrefix(id, "/"),
				MimeType: "text/markdown",
				Text:     fmt.Sprintf("# %s\n\nUse hooks.", id),
			},
		}}}, nil
	})

	mustRegister(srv, mcp.ToolDefinition{
		Name:        "get_library_stats",
		Description: "Library statistics as JSON text",
		InputSchema: schema("libraryId"),
	}, func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
		id, _ := args["libraryId"].(string)
		return mcp.TextResult(fmt.Sprintf("```json\n{\"id\":%q,\"stars\":1000}\n```", id)), nil
	})

	return srv
}

// FigmaServer 会话型服务：除 join_channel 外的工具都要求先加入频道
type FigmaServer struct {
	*mcp.Server

	mu      sync.Mutex
	channel string
	joins   atomic.Int32
}

// NewFigmaServer 创建会话型假服务
func NewFigmaServer() *FigmaServer {
	f := &FigmaServer{Server: mcp.NewServer("TalkToFigma", "0.4.0", nil)}

	mustRegister(f.Server, mcp.ToolDefinition{
		Name:        "join_channel",
		Description: "Join a channel to talk to the Figma plugin",
		InputSchema: schema("channel"),
	}, func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
		ch, _ := args["channel"].(string)
		if ch == "" {
			return mcp.TextResult("Error: Please provide a channel name to join"), nil
		}
		f.joins.Add(1)
		f.mu.Lock()
		f.channel = ch
		f.mu.Unlock()
		return mcp.TextResult("Successfully joined channel: " + ch), nil
	})

	mustRegister(f.Server, mcp.ToolDefinition{
		Name:        "get_document_info",
		Description: "Get the current document",
	}, func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
		ch := f.Channel()
		if ch == "" {
			return mcp.ErrorResult("Must join a channel before sending commands"), nil
		}
		return &mcp.CallToolResult{
			Content:           []mcp.ContentBlock{{Type: "text", Text: `{"name":"Design","pages":2}`}},
			StructuredContent: map[string]any{"name": "Design", "pages": 2, "channel": ch},
		}, nil
	})

	mustRegister(f.Server, mcp.ToolDefinition{
		Name:        "set_text_content",
		Description: "Set the text of a node",
		InputSchema: schema("nodeId", "text"),
	}, func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
		if f.Channel() == "" {
			return mcp.ErrorResult("Must join a channel before sending commands"), nil
		}
		return mcp.TextResult(fmt.Sprintf("Updated %v", args["nodeId"])), nil
	})

	return f
}

// Channel 当前加入的频道
func (f *FigmaServer) Channel() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channel
}

// Joins join_channel 成功次数
func (f *FigmaServer) Joins() int { return int(f.joins.Load()) }

// NewEchoServer 通用服务：文本、结构化、错误、慢调用以及名字含空格的工具
func NewEchoServer() *mcp.Server {
	srv := mcp.NewServer("echo", "1.0.0", nil)

	mustRegister(srv, mcp.ToolDefinition{Name: "echo", InputSchema: schema("text")},
		func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
			return mcp.TextResult(fmt.Sprint(args["text"])), nil
		})

	mustRegister(srv, mcp.ToolDefinition{Name: "echo_json"},
		func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{Content: []mcp.ContentBlock{}, StructuredContent: args}, nil
		})

	mustRegister(srv, mcp.ToolDefinition{Name: "fail"},
		func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
			return nil, errors.New("tool failed on purpose")
		})

	mustRegister(srv, mcp.ToolDefinition{Name: "slow"},
		func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
			d := 2 * time.Second
			if ms, ok := args["ms"].(float64); ok {
				d = time.Duration(ms) * time.Millisecond
			}
			select {
			case <-ctx.Done():
				return mcp.TextResult("cancelled"), nil
			case <-time.After(d):
				return mcp.TextResult("done"), nil
			}
		})

	mustRegister(srv, mcp.ToolDefinition{Name: "get document"},
		func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
			return mcp.TextResult("spaced"), nil
		})

	return srv
}
