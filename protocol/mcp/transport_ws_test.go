package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsBridge 以 WebSocket 暴露测试服务端，并记录每次升级的 Authorization
type wsBridge struct {
	srv   *httptest.Server
	mu    sync.Mutex
	auths []string
}

func newWSBridge(t *testing.T) *wsBridge {
	t.Helper()
	b := &wsBridge{}
	handler := newTestServer(t).WebSocketHandler()
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.auths = append(b.auths, r.Header.Get("Authorization"))
		b.mu.Unlock()
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *wsBridge) url() string { return wsURL(b.srv) }

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSOptions_Fill(t *testing.T) {
	var o WSOptions
	o.fill()
	assert.Equal(t, defaultPongWait, o.PongWait)
	assert.Equal(t, int64(defaultReadLimit), o.ReadLimit)
	assert.Equal(t, []string{"mcp"}, o.Subprotocols)
	assert.NotNil(t, o.HTTPClient)
	assert.Zero(t, o.PingEvery)
}

func TestDialWebSocket_CallAndClose(t *testing.T) {
	bridge := newWSBridge(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lostCalls := 0
	tr, err := DialWebSocket(ctx, bridge.url(), WSOptions{
		Headers:   http.Header{"Authorization": []string{"Bearer bridge-token"}},
		PingEvery: 20 * time.Millisecond,
		OnLost:    func(error) { lostCalls++ },
	}, nil)
	require.NoError(t, err)

	c := NewClient(tr, nil)
	_, err = c.Initialize(ctx)
	require.NoError(t, err)

	raw, err := c.CallTool(ctx, "echo", map[string]any{"text": "over ws"})
	require.NoError(t, err)
	assert.Equal(t, "over ws", callText(t, raw))

	// 心跳运行若干轮后连接仍然健康
	time.Sleep(80 * time.Millisecond)
	assert.NoError(t, tr.Err())

	require.NoError(t, c.Close())
	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Send(ctx, NewMCPNotification("x", nil)), ErrTransportClosed)
	assert.Zero(t, lostCalls, "explicit close is not a lost connection")

	bridge.mu.Lock()
	defer bridge.mu.Unlock()
	assert.Equal(t, []string{"Bearer bridge-token"}, bridge.auths)
}

func TestDialWebSocket_ConcurrentCalls(t *testing.T) {
	bridge := newWSBridge(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tr, err := DialWebSocket(ctx, bridge.url(), WSOptions{}, nil)
	require.NoError(t, err)
	c := NewClient(tr, nil)
	defer c.Close()

	// slow 调用不应阻塞后续 echo
	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		slowCtx, slowCancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer slowCancel()
		_, _ = c.CallTool(slowCtx, "slow", nil)
	}()

	start := time.Now()
	raw, err := c.CallTool(ctx, "echo", map[string]any{"text": "fast"})
	require.NoError(t, err)
	assert.Equal(t, "fast", callText(t, raw))
	assert.Less(t, time.Since(start), 150*time.Millisecond)
	<-slowDone
}

func TestDialWebSocket_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tr, err := DialWebSocket(ctx, "ws://127.0.0.1:1", WSOptions{}, nil)
	require.Error(t, err)
	assert.Nil(t, tr)
	assert.Contains(t, err.Error(), "websocket connect ws://127.0.0.1:1")
}

// dropAfter 接受连接后等待 d 再以 GoingAway 关闭
func dropAfter(t *testing.T, d time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: []string{"mcp"}})
		if err != nil {
			return
		}
		time.Sleep(d)
		conn.Close(websocket.StatusGoingAway, "bridge restarting")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebSocketTransport_BridgeDropFailsClient(t *testing.T) {
	srv := dropAfter(t, 50*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lost := make(chan error, 1)
	tr, err := DialWebSocket(ctx, wsURL(srv), WSOptions{OnLost: func(err error) { lost <- err }}, nil)
	require.NoError(t, err)

	c := NewClient(tr, nil)
	defer c.Close()

	_, err = c.CallTool(ctx, "echo", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrClientClosed)

	select {
	case <-tr.Lost():
	case <-time.After(3 * time.Second):
		t.Fatal("transport did not notice dropped bridge")
	}
	assert.Error(t, tr.Err())
	assert.Error(t, <-lost)

	// 客户端失败时会关闭传输
	<-c.Done()
	assert.ErrorIs(t, tr.Send(ctx, NewMCPNotification(MethodInitialized, nil)), ErrTransportClosed)
}

func TestWebSocketTransport_SendAfterLost(t *testing.T) {
	srv := dropAfter(t, 20*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tr, err := DialWebSocket(ctx, wsURL(srv), WSOptions{}, nil)
	require.NoError(t, err)
	defer tr.Close()

	_, err = tr.Receive(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTransportClosed)

	err = tr.Send(ctx, NewMCPNotification(MethodInitialized, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection lost")
}

func TestWebSocketTransport_CancelledSendKeepsConnection(t *testing.T) {
	bridge := newWSBridge(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tr, err := DialWebSocket(ctx, bridge.url(), WSOptions{}, nil)
	require.NoError(t, err)
	c := NewClient(tr, nil)
	defer c.Close()

	done, stop := context.WithCancel(ctx)
	stop()
	_, err = c.CallTool(done, "echo", map[string]any{"text": "never"})
	assert.ErrorIs(t, err, context.Canceled)

	raw, err := c.CallTool(ctx, "echo", map[string]any{"text": "still up"})
	require.NoError(t, err)
	assert.Equal(t, "still up", callText(t, raw))
	assert.NoError(t, tr.Err())
}
