package binding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/toolport/config"
	"github.com/BaSui01/toolport/protocol/mcp"
	"github.com/BaSui01/toolport/types"
)

// TransportDialer opens a connected transport to a preconnected server.
type TransportDialer func(ctx context.Context) (mcp.Transport, error)

// HeaderFunc returns request headers for one dial. Called on every
// (re)connect so short-lived credentials stay fresh.
type HeaderFunc func() (http.Header, error)

// RemoteBinding reaches an already running server through a WebSocket or
// SSE bridge, or through a caller supplied dialer.
type RemoteBinding struct {
	name       string
	concurrent bool
	logger     *zap.Logger
	*conn
}

// NewRemoteBinding creates a preconnected binding for spec. headers may be nil.
func NewRemoteBinding(spec config.ServerSpec, headers HeaderFunc, opts Options) (*RemoteBinding, error) {
	opts = opts.withDefaults()
	logger := opts.Logger.With(zap.String("component", "remote_binding"), zap.String("server", spec.Name))

	var dial TransportDialer
	switch spec.Transport {
	case config.TransportWebSocket:
		dial = websocketDialer(spec, headers, opts, logger)
	case config.TransportSSE:
		dial = sseDialer(spec, headers, logger)
	case config.TransportHandle:
		return nil, types.NewConfigError("server %q: transport handle needs a caller supplied connection", spec.Name).WithServer(spec.Name)
	default:
		return nil, types.NewConfigError("server %q: unsupported transport %q", spec.Name, spec.Transport).WithServer(spec.Name)
	}
	return newRemote(spec, dial, opts, logger), nil
}

// NewDialerBinding wraps a pre-established connection handle supplied by the caller.
func NewDialerBinding(spec config.ServerSpec, dial TransportDialer, opts Options) *RemoteBinding {
	opts = opts.withDefaults()
	logger := opts.Logger.With(zap.String("component", "remote_binding"), zap.String("server", spec.Name))
	return newRemote(spec, dial, opts, logger)
}

func newRemote(spec config.ServerSpec, dial TransportDialer, opts Options, logger *zap.Logger) *RemoteBinding {
	concurrent := true
	if spec.Concurrent != nil {
		concurrent = *spec.Concurrent
	}
	b := &RemoteBinding{
		name:       spec.Name,
		concurrent: concurrent,
		logger:     logger,
	}
	b.conn = newConn(spec.Name, dialFunc(dial), logger, opts.ConnectTimeout, opts.clientOptions()...)
	return b
}

func staticHeaders(spec config.ServerSpec, headers HeaderFunc) (http.Header, error) {
	h := http.Header{}
	for k, v := range spec.Headers {
		h.Set(k, v)
	}
	if headers != nil {
		extra, err := headers()
		if err != nil {
			return nil, fmt.Errorf("build headers: %w", err)
		}
		for k, vs := range extra {
			h.Del(k)
			for _, v := range vs {
				h.Add(k, v)
			}
		}
	}
	return h, nil
}

func websocketDialer(spec config.ServerSpec, headers HeaderFunc, opts Options, logger *zap.Logger) TransportDialer {
	return func(ctx context.Context) (mcp.Transport, error) {
		h, err := staticHeaders(spec, headers)
		if err != nil {
			return nil, err
		}
		t, err := mcp.DialWebSocket(ctx, spec.URL, mcp.WSOptions{
			Headers:   h,
			PingEvery: opts.Heartbeat,
			OnLost: func(err error) {
				logger.Debug("websocket bridge dropped", zap.String("server", spec.Name), zap.Error(err))
			},
		}, logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

func sseDialer(spec config.ServerSpec, headers HeaderFunc, logger *zap.Logger) TransportDialer {
	return func(ctx context.Context) (mcp.Transport, error) {
		h, err := staticHeaders(spec, headers)
		if err != nil {
			return nil, err
		}
		t := mcp.NewSSETransport(spec.URL, mcp.SSETransportConfig{Headers: h}, logger)
		if err := t.Connect(ctx); err != nil {
			return nil, err
		}
		return t, nil
	}
}

// Name 返回服务名
func (b *RemoteBinding) Name() string { return b.name }

// Concurrent 远程桥按 id 关联响应，默认允许并发
func (b *RemoteBinding) Concurrent() bool { return b.concurrent }

// Connect 建立连接并完成 MCP 握手
func (b *RemoteBinding) Connect(ctx context.Context) error {
	_, err := b.ensure(ctx)
	return err
}

// ListTools 列出工具
func (b *RemoteBinding) ListTools(ctx context.Context) ([]types.ToolDescriptor, error) {
	return b.listTools(ctx)
}

// Invoke 调用工具
func (b *RemoteBinding) Invoke(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	return b.invoke(ctx, tool, args)
}

// Terminate 关闭连接
func (b *RemoteBinding) Terminate() error {
	if b.terminate() {
		b.logger.Debug("terminated")
	}
	return nil
}

// Options 构造绑定时的公共参数
type Options struct {
	Logger         *zap.Logger
	ConnectTimeout time.Duration
	ShutdownGrace  time.Duration
	// Heartbeat WebSocket ping 间隔，0 表示关闭
	Heartbeat     time.Duration
	ClientName    string
	ClientVersion string
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 30 * time.Second
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = 2 * time.Second
	}
	if o.ClientName == "" {
		o.ClientName = "toolport"
	}
	if o.ClientVersion == "" {
		o.ClientVersion = "dev"
	}
	return o
}

func (o Options) clientOptions() []mcp.ClientOption {
	return []mcp.ClientOption{mcp.WithClientInfo(o.ClientName, o.ClientVersion)}
}
