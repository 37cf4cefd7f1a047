package binding

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/toolport/config"
	"github.com/BaSui01/toolport/protocol/mcp"
	"github.com/BaSui01/toolport/types"
)

// StdioBinding launches the server as a subprocess and speaks MCP over its
// stdin/stdout. stderr lines are logged at debug level.
type StdioBinding struct {
	spec          config.ServerSpec
	logger        *zap.Logger
	shutdownGrace time.Duration
	concurrent    bool
	*conn

	procMu sync.Mutex
	proc   *process
}

type process struct {
	cmd    *exec.Cmd
	exited chan struct{}
	err    error
}

// NewStdioBinding creates a subprocess binding. Nothing is started until the
// first call.
func NewStdioBinding(spec config.ServerSpec, opts Options) *StdioBinding {
	opts = opts.withDefaults()
	b := &StdioBinding{
		spec:          spec.Clone(),
		logger:        opts.Logger.With(zap.String("component", "stdio_binding"), zap.String("server", spec.Name)),
		shutdownGrace: opts.ShutdownGrace,
		concurrent:    spec.Concurrent != nil && *spec.Concurrent,
	}
	b.conn = newConn(spec.Name, b.dial, b.logger, opts.ConnectTimeout, opts.clientOptions()...)
	return b
}

// Name 返回服务名
func (b *StdioBinding) Name() string { return b.spec.Name }

// Concurrent 默认 false：多数 stdio 服务一次只处理一个请求
func (b *StdioBinding) Concurrent() bool { return b.concurrent }

// Connect 启动子进程并完成 MCP 握手
func (b *StdioBinding) Connect(ctx context.Context) error {
	_, err := b.ensure(ctx)
	return err
}

// ListTools 列出工具
func (b *StdioBinding) ListTools(ctx context.Context) ([]types.ToolDescriptor, error) {
	return b.listTools(ctx)
}

// Invoke 调用工具
func (b *StdioBinding) Invoke(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	return b.invoke(ctx, tool, args)
}

// PID returns the running subprocess id, or 0 when none is running.
func (b *StdioBinding) PID() int {
	b.procMu.Lock()
	defer b.procMu.Unlock()
	if b.proc == nil || b.proc.cmd.Process == nil {
		return 0
	}
	select {
	case <-b.proc.exited:
		return 0
	default:
		return b.proc.cmd.Process.Pid
	}
}

// dial 启动子进程。上一个进程（若仍在运行）先被回收。
func (b *StdioBinding) dial(ctx context.Context) (mcp.Transport, error) {
	b.reap()

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	// 不使用 CommandContext：连接 ctx 结束不应杀死已建立的子进程
	cmd := exec.Command(b.spec.Command, b.spec.Args...)
	cmd.Dir = b.spec.Cwd
	cmd.Env = b.spec.EnvList(os.Environ())
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	startErr := cmd.Start()
	// 子进程持有这些端的副本
	stdinR.Close()
	stdoutW.Close()
	stderrW.Close()
	if startErr != nil {
		stdinW.Close()
		stdoutR.Close()
		stderrR.Close()
		return nil, fmt.Errorf("start %s: %w", b.spec.Command, startErr)
	}

	p := &process{cmd: cmd, exited: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.exited)
		b.logger.Debug("subprocess exited", zap.Int("pid", cmd.Process.Pid), zap.Error(p.err))
	}()
	go b.drainStderr(stderrR)

	b.procMu.Lock()
	b.proc = p
	b.procMu.Unlock()

	b.logger.Debug("subprocess started",
		zap.String("command", b.spec.Command),
		zap.Strings("args", b.spec.Args),
		zap.Int("pid", cmd.Process.Pid))

	return mcp.NewStdioTransport(stdoutR, stdinW, mcp.Framing(b.spec.Framing), b.logger), nil
}

func (b *StdioBinding) drainStderr(r *os.File) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	for scanner.Scan() {
		b.logger.Debug("stderr", zap.String("line", scanner.Text()))
	}
}

// reap 等待当前进程退出，超过宽限期后强制结束
func (b *StdioBinding) reap() error {
	b.procMu.Lock()
	p := b.proc
	b.proc = nil
	b.procMu.Unlock()
	if p == nil {
		return nil
	}

	select {
	case <-p.exited:
		return nil
	case <-time.After(b.shutdownGrace):
	}

	// TODO: kill the whole process group on unix so npx/bunx grandchildren go too.
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill pid %d: %w", p.cmd.Process.Pid, err)
	}
	<-p.exited
	return nil
}

// Terminate 关闭 stdin（子进程读到 EOF 后应自行退出），宽限期后强制结束
func (b *StdioBinding) Terminate() error {
	b.terminate()
	return b.reap()
}
