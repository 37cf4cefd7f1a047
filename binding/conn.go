package binding

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/toolport/protocol/mcp"
	"github.com/BaSui01/toolport/types"
)

// dialFunc opens a fresh transport to the server.
type dialFunc func(ctx context.Context) (mcp.Transport, error)

// conn owns the MCP client of one binding: lazy connect, reconnect after
// the previous client died, and reset notification.
type conn struct {
	name           string
	logger         *zap.Logger
	dial           dialFunc
	connectTimeout time.Duration
	clientOpts     []mcp.ClientOption

	mu          sync.Mutex
	client      *mcp.Client
	generations int
	terminated  bool
	onReset     []func()

	stop     chan struct{}
	stopOnce sync.Once
}

func newConn(name string, dial dialFunc, logger *zap.Logger, connectTimeout time.Duration, opts ...mcp.ClientOption) *conn {
	return &conn{
		name:           name,
		logger:         logger,
		dial:           dial,
		connectTimeout: connectTimeout,
		clientOpts:     opts,
		stop:           make(chan struct{}),
	}
}

// OnReset 注册重连回调
func (c *conn) OnReset(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReset = append(c.onReset, fn)
}

// ensure 返回可用的客户端，必要时（重新）建立连接。
// 持锁拨号：并发调用方共享同一次连接尝试。
func (c *conn) ensure(ctx context.Context) (*mcp.Client, error) {
	c.mu.Lock()

	if c.terminated {
		c.mu.Unlock()
		return nil, types.NewTransportError(c.name, ErrTerminated)
	}
	replaced := false
	if c.client != nil {
		select {
		case <-c.client.Done():
			c.logger.Info("connection lost, reconnecting", zap.Error(c.client.Err()))
			c.client = nil
			replaced = true
		default:
			cl := c.client
			c.mu.Unlock()
			return cl, nil
		}
	}

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if c.connectTimeout > 0 {
		var cancelTimeout context.CancelFunc
		dialCtx, cancelTimeout = context.WithTimeout(dialCtx, c.connectTimeout)
		defer cancelTimeout()
	}
	// Terminate 会中断正在进行的拨号；watcher 只持有创建完成后的 Done 通道
	go func(done <-chan struct{}) {
		select {
		case <-c.stop:
			cancel()
		case <-done:
		}
	}(dialCtx.Done())

	start := time.Now()
	t, err := c.dial(dialCtx)
	if err != nil {
		c.mu.Unlock()
		c.fireReset(replaced)
		return nil, types.NewTransportError(c.name, err)
	}
	cl := mcp.NewClient(t, c.logger, c.clientOpts...)
	info, err := cl.Initialize(dialCtx)
	if err != nil {
		cl.Close()
		c.mu.Unlock()
		c.fireReset(replaced)
		return nil, types.NewTransportError(c.name, err)
	}
	c.client = cl
	c.generations++
	if c.generations > 1 {
		replaced = true
	}
	c.mu.Unlock()

	c.logger.Debug("connected",
		zap.String("peer", info.ServerInfo.Name),
		zap.Duration("took", time.Since(start)))
	c.fireReset(replaced)
	return cl, nil
}

func (c *conn) fireReset(replaced bool) {
	if !replaced {
		return
	}
	c.mu.Lock()
	fns := append([]func(){}, c.onReset...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (c *conn) listTools(ctx context.Context) ([]types.ToolDescriptor, error) {
	cl, err := c.ensure(ctx)
	if err != nil {
		return nil, err
	}
	defs, err := cl.ListTools(ctx)
	if err != nil {
		return nil, wrapErr(c.name, "", err)
	}
	return toDescriptors(defs), nil
}

func (c *conn) invoke(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	cl, err := c.ensure(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := cl.CallTool(ctx, tool, args)
	if err != nil {
		return nil, wrapErr(c.name, tool, err)
	}
	return raw, nil
}

// terminate 关闭客户端；返回 false 表示此前已终止
func (c *conn) terminate() bool {
	c.stopOnce.Do(func() { close(c.stop) })

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminated {
		return false
	}
	c.terminated = true
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
	return true
}
