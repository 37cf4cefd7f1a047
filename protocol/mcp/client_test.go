package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestServer 注册 echo、slow、fail 三个工具
func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv := NewServer("test-server", "1.0.0", nil)

	require.NoError(t, srv.RegisterTool(ToolDefinition{Name: "echo", Description: "echo back"},
		func(ctx context.Context, args map[string]any) (*CallToolResult, error) {
			return TextResult(fmt.Sprint(args["text"])), nil
		}))
	require.NoError(t, srv.RegisterTool(ToolDefinition{Name: "slow"},
		func(ctx context.Context, args map[string]any) (*CallToolResult, error) {
			select {
			case <-ctx.Done():
				return TextResult("cancelled"), nil
			case <-time.After(2 * time.Second):
				return TextResult("slow done"), nil
			}
		}))
	require.NoError(t, srv.RegisterTool(ToolDefinition{Name: "fail"},
		func(ctx context.Context, args map[string]any) (*CallToolResult, error) {
			return nil, errors.New("tool exploded")
		}))
	return srv
}

// startPipeClient 通过 io.Pipe 连接客户端与服务端
func startPipeClient(t *testing.T, srv *Server) *Client {
	t.Helper()
	clientT, serverT := newPipeTransports(t, FramingNDJSON)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve(ctx, serverT) }()

	c := NewClient(clientT, nil, WithClientInfo("toolport-test", "0.0.1"))
	t.Cleanup(func() {
		cancel()
		c.Close()
	})
	return c
}

func callText(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var res CallToolResult
	require.NoError(t, json.Unmarshal(raw, &res))
	require.NotEmpty(t, res.Content)
	return res.Content[0].Text
}

func TestClient_InitializeAndCall(t *testing.T) {
	c := startPipeClient(t, newTestServer(t))
	ctx := context.Background()

	info, err := c.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test-server", info.ServerInfo.Name)
	assert.Equal(t, MCPVersion, info.ProtocolVersion)
	assert.Same(t, info, c.ServerInfo())

	require.NoError(t, c.Ping(ctx))

	raw, err := c.CallTool(ctx, "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", callText(t, raw))
}

func TestClient_ListToolsFollowsPagination(t *testing.T) {
	srv := newTestServer(t)
	srv.SetPageSize(1)
	c := startPipeClient(t, srv)

	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)

	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"echo", "slow", "fail"}, names)
}

func TestClient_ToolErrorIsResultNotRPCError(t *testing.T) {
	c := startPipeClient(t, newTestServer(t))

	raw, err := c.CallTool(context.Background(), "fail", nil)
	require.NoError(t, err)

	var res CallToolResult
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.True(t, res.IsError)
	assert.Equal(t, "tool exploded", res.Content[0].Text)
}

func TestClient_UnknownToolIsRPCError(t *testing.T) {
	c := startPipeClient(t, newTestServer(t))

	_, err := c.CallTool(context.Background(), "nope", nil)
	require.Error(t, err)

	var rpcErr *MCPError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, ErrorCodeInvalidParams, rpcErr.Code)
	assert.Contains(t, rpcErr.Message, "Unknown tool")
}

func TestClient_UnknownMethod(t *testing.T) {
	c := startPipeClient(t, newTestServer(t))

	_, err := c.Call(context.Background(), "resources/list", nil)
	var rpcErr *MCPError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, ErrorCodeMethodNotFound, rpcErr.Code)
}

func TestClient_CancelledCallDoesNotLeakResponse(t *testing.T) {
	c := startPipeClient(t, newTestServer(t))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.CallTool(ctx, "slow", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// 下一个调用只能收到自己的响应
	raw, err := c.CallTool(context.Background(), "echo", map[string]any{"text": "second"})
	require.NoError(t, err)
	assert.Equal(t, "second", callText(t, raw))

	c.mu.Lock()
	assert.Empty(t, c.pending)
	c.mu.Unlock()
}

func TestClient_ConcurrentCallsCorrelate(t *testing.T) {
	c := startPipeClient(t, newTestServer(t))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := fmt.Sprintf("msg-%d", i)
			raw, err := c.CallTool(context.Background(), "echo", map[string]any{"text": want})
			if assert.NoError(t, err) {
				assert.Equal(t, want, callText(t, raw))
			}
		}(i)
	}
	wg.Wait()
}

func TestClient_CloseFailsPendingCalls(t *testing.T) {
	c := startPipeClient(t, newTestServer(t))

	errCh := make(chan error, 1)
	go func() {
		_, err := c.CallTool(context.Background(), "slow", nil)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClientClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call hung after Close")
	}

	_, err := c.CallTool(context.Background(), "echo", nil)
	assert.ErrorIs(t, err, ErrClientClosed)
	assert.ErrorIs(t, c.Err(), ErrClientClosed)
	assert.NoError(t, c.Close())
}

func TestClient_PeerExitFailsPendingCalls(t *testing.T) {
	clientT, serverT := newPipeTransports(t, FramingNDJSON)
	c := NewClient(clientT, nil)
	defer c.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.CallTool(context.Background(), "anything", nil)
		errCh <- err
	}()

	// 服务端读到请求后直接退出
	_, err := serverT.Receive(context.Background())
	require.NoError(t, err)
	require.NoError(t, serverT.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClientClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call hung after peer exit")
	}
	<-c.Done()
}

func TestClient_MalformedFrameTerminates(t *testing.T) {
	clientT, serverT := newPipeTransports(t, FramingNDJSON)
	c := NewClient(clientT, nil)
	defer c.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.CallTool(context.Background(), "anything", nil)
		errCh <- err
	}()

	_, err := serverT.Receive(context.Background())
	require.NoError(t, err)
	_, err = serverT.writer.Write([]byte("{\"jsonrpc\":\"2.0\",\"id\":1,\"result\":\n"))
	require.NoError(t, err)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClientClosed)
		assert.ErrorIs(t, err, ErrMalformedFrame)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call hung after malformed frame")
	}
}

func TestClient_AnswersServerPing(t *testing.T) {
	clientT, serverT := newPipeTransports(t, FramingNDJSON)
	c := NewClient(clientT, nil)
	defer c.Close()
	c.Start()

	ctx := context.Background()
	require.NoError(t, serverT.Send(ctx, NewMCPRequest("srv-1", MethodPing, nil)))

	resp, err := serverT.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "srv-1", resp.ID)
	assert.Nil(t, resp.Error)

	require.NoError(t, serverT.Send(ctx, NewMCPRequest("srv-2", "sampling/createMessage", nil)))
	resp, err = serverT.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrorCodeMethodNotFound, resp.Error.Code)
}
