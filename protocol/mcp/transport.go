package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrMalformedFrame 对端写出了无法解析的帧
var ErrMalformedFrame = errors.New("mcp: malformed frame")

// ErrTransportClosed 传输已关闭
var ErrTransportClosed = errors.New("mcp: transport closed")

// Transport MCP 传输层接口
type Transport interface {
	// Send 发送消息
	Send(ctx context.Context, msg *MCPMessage) error
	// Receive 接收消息（阻塞）
	Receive(ctx context.Context) (*MCPMessage, error)
	// Close 关闭传输
	Close() error
}

// Framing stdio 分帧方式
type Framing string

const (
	// FramingNDJSON 每行一个 JSON 消息（MCP stdio 规范）
	FramingNDJSON Framing = "ndjson"
	// FramingContentLength LSP 风格的 Content-Length 头
	FramingContentLength Framing = "content-length"
)

// ---------------------------------------------------------------------------
// StdioTransport 标准输入输出传输
// ---------------------------------------------------------------------------

// StdioTransport 基于 bufio.Reader/io.Writer 的 stdio 传输。
// 发送使用配置的分帧方式；接收时两种分帧都能识别。
type StdioTransport struct {
	reader  *bufio.Reader
	rawIn   io.Reader
	writer  io.Writer
	framing Framing
	writeMu sync.Mutex
	logger  *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// NewStdioTransport 创建 stdio 传输
func NewStdioTransport(reader io.Reader, writer io.Writer, framing Framing, logger *zap.Logger) *StdioTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	if framing == "" {
		framing = FramingNDJSON
	}
	return &StdioTransport{
		reader:  bufio.NewReaderSize(reader, 64*1024),
		rawIn:   reader,
		writer:  writer,
		framing: framing,
		logger:  logger.With(zap.String("component", "mcp_stdio_transport")),
		closed:  make(chan struct{}),
	}
}

// Send 发送消息
func (t *StdioTransport) Send(ctx context.Context, msg *MCPMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.framing == FramingContentLength {
		header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(body))
		if _, err := io.WriteString(t.writer, header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		if _, err := t.writer.Write(body); err != nil {
			return fmt.Errorf("write body: %w", err)
		}
		return nil
	}

	body = append(body, '\n')
	if _, err := t.writer.Write(body); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Receive 接收下一条消息。
// 非 JSON 的行（子进程打到 stdout 的日志）会被跳过；以 '{' 开头但无法解析的帧返回 ErrMalformedFrame。
func (t *StdioTransport) Receive(ctx context.Context) (*MCPMessage, error) {
	for {
		line, err := t.reader.ReadBytes('\n')
		if err != nil && (len(line) == 0 || !errors.Is(err, io.EOF)) {
			return nil, t.readErr(err)
		}
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			if err != nil {
				return nil, t.readErr(err)
			}
			continue
		}

		if v, ok := contentLengthHeader(trimmed); ok {
			return t.readContentLengthBody(v)
		}

		if trimmed[0] != '{' {
			t.logger.Debug("skipping non-JSON output", zap.ByteString("line", trimmed))
			if err != nil {
				return nil, t.readErr(err)
			}
			continue
		}
		return decodeFrame(trimmed)
	}
}

// readContentLengthBody 读取剩余的头部直到空行，再读取 body
func (t *StdioTransport) readContentLengthBody(length int) (*MCPMessage, error) {
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			return nil, t.readErr(err)
		}
		if strings.TrimSpace(line) == "" {
			break
		}
		if v, ok := contentLengthHeader([]byte(strings.TrimSpace(line))); ok {
			length = v
		}
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(t.reader, body); err != nil {
		return nil, t.readErr(err)
	}
	return decodeFrame(body)
}

func (t *StdioTransport) readErr(err error) error {
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}
	return err
}

func contentLengthHeader(line []byte) (int, bool) {
	name, value, ok := bytes.Cut(line, []byte(":"))
	if !ok || !strings.EqualFold(string(bytes.TrimSpace(name)), "Content-Length") {
		return 0, false
	}
	n, err := strconv.Atoi(string(bytes.TrimSpace(value)))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func decodeFrame(data []byte) (*MCPMessage, error) {
	var msg MCPMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return &msg, nil
}

// Close 关闭写端（子进程随即读到 EOF），若读端可关闭也一并关闭以解除阻塞的 Receive
func (t *StdioTransport) Close() error {
	var errs []error
	t.closeOnce.Do(func() {
		close(t.closed)
		if c, ok := t.writer.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if c, ok := t.rawIn.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
