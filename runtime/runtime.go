package runtime

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/BaSui01/toolport/binding"
	"github.com/BaSui01/toolport/config"
	"github.com/BaSui01/toolport/internal/journal"
	"github.com/BaSui01/toolport/internal/metrics"
	"github.com/BaSui01/toolport/internal/telemetry"
	"github.com/BaSui01/toolport/session"
	"github.com/BaSui01/toolport/toolcache"
	"github.com/BaSui01/toolport/types"
)

// ErrClosed is the cause of Transport errors returned after Close.
var ErrClosed = errors.New("runtime closed")

// server 是一个已配置的服务及其连接
type server struct {
	spec     config.ServerSpec
	binding  binding.Binding
	limiter  *rate.Limiter
	cacheKey string
	timeout  time.Duration

	mu          sync.Mutex
	tools       []types.ToolDescriptor
	toolsLoaded bool
	generation  uint64
}

// Runtime owns the bindings and session state of a set of named servers.
type Runtime struct {
	servers  map[string]*server
	names    []string
	sessions *session.Manager

	logger     *zap.Logger
	metrics    *metrics.Collector
	tracer     trace.Tracer
	cache      toolcache.Store
	cacheName  string
	journal    journal.Recorder
	now        func() time.Time
	batchLimit int

	discovery singleflight.Group

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// New validates cfg, builds one binding per server and returns the
// runtime. Configuration problems are reported as ConfigError before any
// process is started or socket dialed.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	o := options{factory: binding.DefaultFactory(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(telemetry.InstrumentationName)
	}
	if o.cacheName == "" {
		o.cacheName = "shared"
	}
	if len(o.dialers) > 0 {
		o.factory = withDialers(o.factory, o.dialers)
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	cfg = cfg.WithOverrides(o.overrides...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	specs, err := cfg.ServerSpecs()
	if err != nil {
		return nil, err
	}

	callTimeout := cfg.Runtime.CallTimeout
	if o.callTimeout != nil {
		callTimeout = *o.callTimeout
	}

	rt := &Runtime{
		servers:    make(map[string]*server, len(specs)),
		logger:     o.logger.With(zap.String("component", "runtime")),
		metrics:    o.metrics,
		tracer:     o.tracer,
		cache:      o.cache,
		cacheName:  o.cacheName,
		journal:    o.journal,
		now:        o.now,
		batchLimit: cfg.Runtime.BatchConcurrency,
	}
	sessionOpts := []session.Option{session.WithLogger(o.logger), session.WithClock(o.now)}
	if rt.metrics != nil {
		sessionOpts = append(sessionOpts, session.WithHandshakeObserver(rt.metrics.RecordHandshake))
	}
	rt.sessions = session.NewManager(rt.invokeChecked, sessionOpts...)

	bindingOpts := binding.Options{
		Logger:         o.logger,
		ConnectTimeout: cfg.Runtime.ConnectTimeout,
		ShutdownGrace:  cfg.Runtime.ShutdownGrace,
		Heartbeat:      cfg.Runtime.Heartbeat,
		ClientName:     "toolport",
		ClientVersion:  telemetry.Version(),
	}

	for _, spec := range specs {
		b, err := o.factory.New(spec, bindingOpts)
		if err != nil {
			rt.terminateAll()
			if types.IsCode(err, types.ErrConfig) {
				return nil, err
			}
			return nil, types.NewConfigError("server %q: %v", spec.Name, err).WithServer(spec.Name).WithCause(err)
		}
		// 只支持单个在途调用的绑定（自定义工厂返回的也一样）统一串行化
		if !b.Concurrent() {
			b = binding.Serialize(b)
		}
		s := &server{
			spec:     spec,
			binding:  b,
			limiter:  newLimiter(spec.RateLimit),
			cacheKey: toolcache.Key(spec),
			timeout:  callTimeout,
		}
		if spec.CallTimeout > 0 {
			s.timeout = spec.CallTimeout
		}
		rt.servers[spec.Name] = s
		rt.names = append(rt.names, spec.Name)

		if spec.Session != nil {
			rt.sessions.Register(spec.Name, *spec.Session)
		}
		if n, ok := b.(binding.ResetNotifier); ok {
			name := spec.Name
			n.OnReset(func() { rt.onReset(name) })
		}
	}
	sort.Strings(rt.names)

	rt.logger.Debug("runtime created", zap.Strings("servers", rt.names))

	if cfg.Runtime.EagerConnect {
		if err := rt.connectAll(ctx); err != nil {
			rt.Close()
			return nil, err
		}
	}
	return rt, nil
}

func newLimiter(spec config.RateLimitSpec) *rate.Limiter {
	if spec.RPS <= 0 {
		return nil
	}
	burst := spec.Burst
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(spec.RPS)))
	}
	return rate.NewLimiter(rate.Limit(spec.RPS), burst)
}

// connectAll 并发建立所有连接
func (rt *Runtime) connectAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range rt.names {
		s := rt.servers[name]
		g.Go(func() error {
			if err := s.binding.Connect(ctx); err != nil {
				return err
			}
			rt.setActive(s.spec.Name, true)
			return nil
		})
	}
	return g.Wait()
}

// onReset 在连接被替换后丢弃会话与工具列表
func (rt *Runtime) onReset(name string) {
	rt.logger.Info("server connection replaced", zap.String("server", name))
	rt.sessions.Reset(name)
	if s, ok := rt.servers[name]; ok {
		s.mu.Lock()
		s.tools, s.toolsLoaded = nil, false
		s.generation++
		s.mu.Unlock()
	}
}

func (rt *Runtime) setActive(name string, active bool) {
	if rt.metrics != nil {
		rt.metrics.SetBindingActive(name, active)
	}
}

// lookup 返回服务；运行时关闭或服务未配置时返回对应错误
func (rt *Runtime) lookup(name string) (*server, error) {
	rt.mu.RLock()
	closed := rt.closed
	rt.mu.RUnlock()
	if closed {
		return nil, types.NewTransportError(name, ErrClosed)
	}
	s, ok := rt.servers[name]
	if !ok {
		return nil, types.NewUnknownServerError(name)
	}
	return s, nil
}

// ListServers returns the configured server names, sorted.
func (rt *Runtime) ListServers() []string {
	return append([]string(nil), rt.names...)
}

// Spec returns a copy of a server's normalized spec.
func (rt *Runtime) Spec(name string) (config.ServerSpec, bool) {
	s, ok := rt.servers[name]
	if !ok {
		return config.ServerSpec{}, false
	}
	return s.spec.Clone(), true
}

// HasServer reports whether name is configured.
func (rt *Runtime) HasServer(name string) bool {
	_, ok := rt.servers[name]
	return ok
}

// Concurrent reports whether a server's binding accepts concurrent calls.
func (rt *Runtime) Concurrent(name string) (bool, error) {
	s, err := rt.lookup(name)
	if err != nil {
		return false, err
	}
	return s.binding.Concurrent(), nil
}

// HandshakeTool returns the handshake tool of a session-scoped server.
func (rt *Runtime) HandshakeTool(name string) (string, bool) {
	return rt.sessions.HandshakeTool(name)
}

// Guard reports the error Invoke would return for tool before contacting
// the server: closed runtime, unknown server, or a session-scoped server
// without an established session.
func (rt *Runtime) Guard(name, tool string) error {
	if _, err := rt.lookup(name); err != nil {
		return err
	}
	return rt.sessions.Guard(name, tool)
}

// Join performs the session handshake of a session-scoped server.
// channelID may be empty to use the configured or a generated id.
func (rt *Runtime) Join(ctx context.Context, name, channelID string) (session.State, error) {
	if _, err := rt.lookup(name); err != nil {
		return session.State{}, err
	}
	st, _, err := rt.sessions.Join(ctx, name, channelID, nil)
	return st, err
}

// Session returns the session state of a session-scoped server.
func (rt *Runtime) Session(name string) (session.State, bool) {
	return rt.sessions.State(name)
}

// ResetSession drops a server's session; the next non-handshake call is
// rejected until Join succeeds again.
func (rt *Runtime) ResetSession(name string) {
	rt.sessions.Reset(name)
}

// Close terminates every binding and discards all session state. It is
// idempotent, safe to call concurrently with in-flight calls, and never
// fails because a binding was already dead.
func (rt *Runtime) Close() error {
	rt.closeOnce.Do(func() {
		rt.mu.Lock()
		rt.closed = true
		rt.mu.Unlock()

		rt.sessions.Close()
		rt.terminateAll()
		rt.logger.Debug("runtime closed")
	})
	return nil
}

func (rt *Runtime) terminateAll() {
	var g errgroup.Group
	for name, s := range rt.servers {
		g.Go(func() error {
			if err := s.binding.Terminate(); err != nil {
				rt.logger.Warn("binding teardown failed", zap.String("server", name), zap.Error(err))
			}
			rt.setActive(name, false)
			return nil
		})
	}
	_ = g.Wait()
}
