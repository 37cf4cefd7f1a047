package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/toolport/internal/tlsutil"
	"go.uber.org/zap"
)

// SSETransportConfig SSE 传输配置
type SSETransportConfig struct {
	Headers      http.Header   // 附加到 GET 与 POST 的请求头（如 Authorization）
	EndpointWait time.Duration // 等待 endpoint 事件的最长时间（默认 10s）
	PostTimeout  time.Duration // 单次 POST 超时（默认 30s）
	EventBuffer  int           // 入站事件缓冲（默认 100）
	StreamClient *http.Client  // 事件流客户端，默认 tlsutil.StreamingHTTPClient
	PostClient   *http.Client  // POST 客户端，默认 tlsutil.SecureHTTPClient
}

// SSETransport SSE 传输：GET 建立事件流，服务端通过 endpoint 事件告知 POST 地址
type SSETransport struct {
	streamURL string
	config    SSETransportConfig
	logger    *zap.Logger

	mu      sync.Mutex
	sendURL string
	cancel  context.CancelFunc

	events    chan *MCPMessage
	endpoint  chan string
	streamErr error
	done      chan struct{}
	closeOnce sync.Once
}

// NewSSETransport 创建 SSE 传输
func NewSSETransport(streamURL string, config SSETransportConfig, logger *zap.Logger) *SSETransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.EndpointWait <= 0 {
		config.EndpointWait = 10 * time.Second
	}
	if config.PostTimeout <= 0 {
		config.PostTimeout = 30 * time.Second
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 100
	}
	if config.StreamClient == nil {
		config.StreamClient = tlsutil.StreamingHTTPClient(config.EndpointWait)
	}
	if config.PostClient == nil {
		config.PostClient = tlsutil.SecureHTTPClient(config.PostTimeout)
	}
	return &SSETransport{
		streamURL: streamURL,
		config:    config,
		logger:    logger.With(zap.String("component", "mcp_sse_transport")),
		events:    make(chan *MCPMessage, config.EventBuffer),
		endpoint:  make(chan string, 1),
		done:      make(chan struct{}),
	}
}

// Connect 建立事件流并等待 endpoint 事件
func (t *SSETransport) Connect(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.streamURL, nil)
	if err != nil {
		cancel()
		return err
	}
	for k, vs := range t.config.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	// 拨号受调用方 ctx 约束，事件流本身的生命周期由 Close 控制
	stop := context.AfterFunc(ctx, cancel)
	resp, err := t.config.StreamClient.Do(req)
	stop()
	if err != nil {
		cancel()
		return fmt.Errorf("SSE connect failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("SSE connect: unexpected status %d", resp.StatusCode)
	}

	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	go t.readEvents(resp.Body)

	waitCtx, waitCancel := context.WithTimeout(ctx, t.config.EndpointWait)
	defer waitCancel()

	select {
	case ep := <-t.endpoint:
		sendURL, err := resolveEndpoint(t.streamURL, ep)
		if err != nil {
			t.Close()
			return err
		}
		t.mu.Lock()
		t.sendURL = sendURL
		t.mu.Unlock()
		t.logger.Debug("SSE endpoint received", zap.String("endpoint", sendURL))
		return nil
	case <-t.done:
		return fmt.Errorf("SSE stream ended before endpoint event: %w", t.err())
	case <-waitCtx.Done():
		t.Close()
		return fmt.Errorf("SSE endpoint event not received: %w", waitCtx.Err())
	}
}

func resolveEndpoint(base, endpoint string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("SSE base url: %w", err)
	}
	ref, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", fmt.Errorf("SSE endpoint %q: %w", endpoint, err)
	}
	return b.ResolveReference(ref).String(), nil
}

// readEvents 后台读取 SSE 事件
func (t *SSETransport) readEvents(body io.ReadCloser) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var (
		event string
		data  []string
	)
	dispatch := func() {
		defer func() { event, data = "", nil }()
		if len(data) == 0 {
			return
		}
		payload := strings.Join(data, "\n")
		switch event {
		case "endpoint":
			select {
			case t.endpoint <- payload:
			default:
			}
		case "", "message":
			msg, err := decodeFrame([]byte(payload))
			if err != nil {
				t.logger.Warn("SSE parse error", zap.Error(err))
				return
			}
			select {
			case t.events <- msg:
			case <-t.done:
			}
		default:
			t.logger.Debug("ignoring SSE event", zap.String("event", event))
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			dispatch()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			data = append(data, value)
		}
	}
	dispatch()

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	t.finish(err)
}

func (t *SSETransport) finish(err error) {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.streamErr = err
		cancel := t.cancel
		t.mu.Unlock()
		close(t.done)
		if cancel != nil {
			cancel()
		}
	})
}

func (t *SSETransport) err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.streamErr == nil {
		return ErrTransportClosed
	}
	return t.streamErr
}

// Send 通过 POST 发送消息
func (t *SSETransport) Send(ctx context.Context, msg *MCPMessage) error {
	t.mu.Lock()
	sendURL := t.sendURL
	t.mu.Unlock()
	if sendURL == "" {
		return fmt.Errorf("SSE send: not connected")
	}
	select {
	case <-t.done:
		return t.err()
	default:
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sendURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	for k, vs := range t.config.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.config.PostClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("SSE send: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Receive 从 SSE 事件通道接收消息
func (t *SSETransport) Receive(ctx context.Context) (*MCPMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-t.events:
		return msg, nil
	case <-t.done:
		// 流结束前已排队的事件仍然交付
		select {
		case msg := <-t.events:
			return msg, nil
		default:
		}
		return nil, t.err()
	}
}

// Close 关闭 SSE 传输
func (t *SSETransport) Close() error {
	t.finish(ErrTransportClosed)
	return nil
}
