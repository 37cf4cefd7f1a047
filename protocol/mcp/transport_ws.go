package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/toolport/internal/tlsutil"
)

const (
	defaultPongWait  = 10 * time.Second
	defaultReadLimit = 16 << 20
)

// WSOptions 控制 WebSocket 桥连接
type WSOptions struct {
	// Headers 升级请求附带的头，鉴权桥需要 Authorization
	Headers http.Header
	// PingEvery ping 间隔；0 关闭心跳
	PingEvery time.Duration
	// PongWait 等待 pong 或单帧写入完成的上限
	PongWait     time.Duration
	Subprotocols []string
	ReadLimit    int64
	HTTPClient   *http.Client
	// OnLost 连接意外断开时调用一次（主动 Close 不触发）
	OnLost func(error)
}

func (o *WSOptions) fill() {
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = defaultReadLimit
	}
	if len(o.Subprotocols) == 0 {
		o.Subprotocols = []string{"mcp"}
	}
	if o.HTTPClient == nil {
		o.HTTPClient = tlsutil.StreamingHTTPClient(30 * time.Second)
	}
}

// WebSocketTransport is a Transport over a single WebSocket connection.
// Losing the connection is terminal; owners re-dial and treat the new
// socket as a new peer (session state does not carry over).
type WebSocketTransport struct {
	conn   *websocket.Conn
	opts   WSOptions
	logger *zap.Logger

	lost     chan struct{}
	lostOnce sync.Once
	lostErr  error

	closeOnce sync.Once
	closing   chan struct{}
}

// DialWebSocket 连接 url 并在 PingEvery > 0 时启动心跳
func DialWebSocket(ctx context.Context, url string, opts WSOptions, logger *zap.Logger) (*WebSocketTransport, error) {
	opts.fill()
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient:   opts.HTTPClient,
		HTTPHeader:   opts.Headers,
		Subprotocols: opts.Subprotocols,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket connect %s: %w", url, err)
	}
	t := wrapWebSocket(conn, opts, logger)
	if opts.PingEvery > 0 {
		go t.keepalive()
	}
	return t, nil
}

// NewAcceptedWebSocketTransport wraps a connection accepted by an HTTP
// handler. The peer is expected to ping, so no keepalive runs here.
func NewAcceptedWebSocketTransport(conn *websocket.Conn, logger *zap.Logger) *WebSocketTransport {
	opts := WSOptions{}
	opts.fill()
	return wrapWebSocket(conn, opts, logger)
}

func wrapWebSocket(conn *websocket.Conn, opts WSOptions, logger *zap.Logger) *WebSocketTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn.SetReadLimit(opts.ReadLimit)
	return &WebSocketTransport{
		conn:    conn,
		opts:    opts,
		logger:  logger.With(zap.String("component", "mcp_ws_transport")),
		lost:    make(chan struct{}),
		closing: make(chan struct{}),
	}
}

// Lost is closed when the connection dies for any reason other than Close.
func (t *WebSocketTransport) Lost() <-chan struct{} { return t.lost }

// Err returns the error that killed the connection, if any.
func (t *WebSocketTransport) Err() error {
	select {
	case <-t.lost:
		return t.lostErr
	default:
		return nil
	}
}

func (t *WebSocketTransport) closed() bool {
	select {
	case <-t.closing:
		return true
	default:
		return false
	}
}

// markLost 记录断线原因；主动关闭后的 I/O 错误忽略
func (t *WebSocketTransport) markLost(err error) {
	if t.closed() {
		return
	}
	t.lostOnce.Do(func() {
		t.lostErr = err
		close(t.lost)
		t.logger.Warn("websocket connection lost", zap.Error(err))
		if t.opts.OnLost != nil {
			t.opts.OnLost(err)
		}
	})
}

// Send writes msg as one text frame. coder/websocket serializes writers.
func (t *WebSocketTransport) Send(ctx context.Context, msg *MCPMessage) error {
	if t.closed() {
		return ErrTransportClosed
	}
	if err := t.Err(); err != nil {
		return fmt.Errorf("websocket: connection lost: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	// coder/websocket 在写入 ctx 取消时会关闭整个连接；
	// 连接由多个调用共享，所以写入只受 PongWait 约束
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.opts.PongWait)
	defer cancel()
	if err := t.conn.Write(wctx, websocket.MessageText, body); err != nil {
		t.markLost(err)
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Receive reads the next frame. Binary frames are decoded as JSON too.
func (t *WebSocketTransport) Receive(ctx context.Context) (*MCPMessage, error) {
	if t.closed() {
		return nil, ErrTransportClosed
	}
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		if t.closed() {
			return nil, ErrTransportClosed
		}
		if ctx.Err() == nil {
			t.markLost(err)
		}
		return nil, fmt.Errorf("websocket read: %w", err)
	}
	return decodeFrame(data)
}

// Close drops the connection without waiting for the peer's close frame.
func (t *WebSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closing)
		err = t.conn.CloseNow()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	})
	return err
}

func (t *WebSocketTransport) keepalive() {
	ticker := time.NewTicker(t.opts.PingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-t.closing:
			return
		case <-t.lost:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), t.opts.PongWait)
		err := t.conn.Ping(ctx)
		cancel()
		if err != nil {
			t.markLost(fmt.Errorf("ping: %w", err))
			// 关闭底层连接，让挂起的 Read 立即返回
			_ = t.conn.CloseNow()
			return
		}
	}
}
