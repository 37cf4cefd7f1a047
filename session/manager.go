package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/toolport/config"
	"github.com/BaSui01/toolport/result"
	"github.com/BaSui01/toolport/types"
)

const (
	defaultChannelArg    = "channel"
	defaultChannelPrefix = "channel"

	// errorMarker 握手结果文本中出现该标记视为失败
	errorMarker = "Error"
)

// State is the session of one session-scoped server.
type State struct {
	Server      string    `json:"server"`
	ChannelID   string    `json:"channel_id,omitempty"`
	Established bool      `json:"established"`
	JoinedAt    time.Time `json:"joined_at,omitempty"`
}

// Invoker performs the raw handshake call. The runtime passes its
// unguarded invoke path here.
type Invoker func(ctx context.Context, server, tool string, args map[string]any) (*result.Result, error)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithHandshakeObserver registers fn to run after every handshake attempt.
func WithHandshakeObserver(fn func(server string, ok bool)) Option {
	return func(m *Manager) { m.observe = fn }
}

// entry 是单个会话型服务的状态
type entry struct {
	spec config.SessionSpec

	// join 串行化同一服务的握手
	join sync.Mutex

	// 以下字段由 Manager.mu 保护
	state      State
	handshake  *result.Result
	generation uint64
}

// Manager tracks the sessions of one runtime. Servers never share a lock.
type Manager struct {
	invoke  Invoker
	logger  *zap.Logger
	now     func() time.Time
	observe func(server string, ok bool)

	mu      sync.Mutex
	entries map[string]*entry
}

// NewManager creates an empty manager.
func NewManager(invoke Invoker, opts ...Option) *Manager {
	m := &Manager{
		invoke:  invoke,
		logger:  zap.NewNop(),
		now:     time.Now,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "session"))
	return m
}

// Register marks server as session-scoped.
func (m *Manager) Register(server string, spec config.SessionSpec) {
	if spec.ChannelArg == "" {
		spec.ChannelArg = defaultChannelArg
	}
	if spec.ChannelPrefix == "" {
		spec.ChannelPrefix = defaultChannelPrefix
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[server] = &entry{spec: spec, state: State{Server: server}}
}

func (m *Manager) lookup(server string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[server]
}

// Scoped reports whether server requires a handshake.
func (m *Manager) Scoped(server string) bool {
	return m.lookup(server) != nil
}

// HandshakeTool returns the handshake tool of a session-scoped server.
func (m *Manager) HandshakeTool(server string) (string, bool) {
	e := m.lookup(server)
	if e == nil {
		return "", false
	}
	return e.spec.HandshakeTool, true
}

// IsHandshake reports whether tool is server's handshake tool.
func (m *Manager) IsHandshake(server, tool string) bool {
	e := m.lookup(server)
	return e != nil && e.spec.HandshakeTool == tool
}

// Guard rejects calls on a session-scoped server before its handshake.
func (m *Manager) Guard(server, tool string) error {
	e := m.lookup(server)
	if e == nil || e.spec.HandshakeTool == tool {
		return nil
	}
	m.mu.Lock()
	established := e.state.Established
	m.mu.Unlock()
	if !established {
		return types.NewSessionNotEstablishedError(server, tool)
	}
	return nil
}

// State returns a copy of server's session state.
func (m *Manager) State(server string) (State, bool) {
	e := m.lookup(server)
	if e == nil {
		return State{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return e.state, true
}

// Join performs the handshake for server unless a session is already
// active. args are extra handshake arguments; channelID, when non-empty,
// wins over the channel found in args.
func (m *Manager) Join(ctx context.Context, server, channelID string, args map[string]any) (State, *result.Result, error) {
	e := m.lookup(server)
	if e == nil {
		return State{}, nil, types.NewConfigError("server %q is not session-scoped", server).WithServer(server)
	}

	e.join.Lock()
	defer e.join.Unlock()

	m.mu.Lock()
	if e.state.Established {
		st, res := e.state, e.handshake
		m.mu.Unlock()
		if channelID != "" && channelID != st.ChannelID {
			m.logger.Warn("session already active on another channel",
				zap.String("server", server),
				zap.String("active", st.ChannelID),
				zap.String("requested", channelID))
		}
		return st, res, nil
	}
	gen := e.generation
	m.mu.Unlock()

	channel := m.channelFor(e.spec, channelID, args)
	callArgs := make(map[string]any, len(args)+1)
	for k, v := range args {
		callArgs[k] = v
	}
	callArgs[e.spec.ChannelArg] = channel

	m.logger.Debug("joining session", zap.String("server", server), zap.String("channel", channel))
	res, err := m.invoke(ctx, server, e.spec.HandshakeTool, callArgs)
	if err != nil {
		m.notify(server, false)
		return State{Server: server}, nil, err
	}
	if msg, failed := handshakeFailure(res); failed {
		m.notify(server, false)
		return State{Server: server}, res, types.NewSessionNotEstablishedError(server, e.spec.HandshakeTool).
			WithCause(fmt.Errorf("handshake rejected: %s", msg))
	}

	m.mu.Lock()
	if e.generation != gen {
		m.mu.Unlock()
		// 握手期间连接被重置，新连接上没有这个会话
		m.notify(server, false)
		return State{Server: server}, res, types.NewSessionNotEstablishedError(server, e.spec.HandshakeTool).
			WithCause(fmt.Errorf("connection reset during handshake"))
	}
	e.state = State{
		Server:      server,
		ChannelID:   channel,
		Established: true,
		JoinedAt:    m.now(),
	}
	e.handshake = res
	st := e.state
	m.mu.Unlock()

	m.notify(server, true)
	m.logger.Info("session established", zap.String("server", server), zap.String("channel", channel))
	return st, res, nil
}

func (m *Manager) channelFor(spec config.SessionSpec, channelID string, args map[string]any) string {
	if channelID != "" {
		return channelID
	}
	if v, ok := args[spec.ChannelArg]; ok {
		if s := fmt.Sprint(v); s != "" {
			return s
		}
	}
	if spec.ChannelID != "" {
		return spec.ChannelID
	}
	return fmt.Sprintf("%s-%d", spec.ChannelPrefix, m.now().UnixMilli())
}

// handshakeFailure 判断握手结果是否表示失败
func handshakeFailure(res *result.Result) (string, bool) {
	text, _ := res.Text()
	if res.IsError() {
		if text == "" {
			text = "server reported an error"
		}
		return text, true
	}
	if strings.Contains(text, errorMarker) {
		return text, true
	}
	return "", false
}

func (m *Manager) notify(server string, ok bool) {
	if m.observe != nil {
		m.observe(server, ok)
	}
}

// Reset drops server's session, e.g. after its connection was replaced.
func (m *Manager) Reset(server string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[server]
	if !ok {
		return
	}
	if e.state.Established {
		m.logger.Info("session reset", zap.String("server", server), zap.String("channel", e.state.ChannelID))
	}
	e.state = State{Server: server}
	e.handshake = nil
	e.generation++
}

// Close drops every session.
func (m *Manager) Close() {
	m.mu.Lock()
	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		names = append(names, name)
	}
	m.mu.Unlock()
	for _, name := range names {
		m.Reset(name)
	}
}
