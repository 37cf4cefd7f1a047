package runtime

import (
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/toolport/binding"
	"github.com/BaSui01/toolport/config"
	"github.com/BaSui01/toolport/internal/journal"
	"github.com/BaSui01/toolport/internal/metrics"
	"github.com/BaSui01/toolport/toolcache"
)

// Option configures a Runtime.
type Option func(*options)

type options struct {
	logger      *zap.Logger
	metrics     *metrics.Collector
	tracer      trace.Tracer
	cache       toolcache.Store
	cacheName   string
	factory     binding.Factory
	journal     journal.Recorder
	overrides   []config.ServerSpec
	dialers     map[string]binding.TransportDialer
	callTimeout *time.Duration
	now         func() time.Time
}

// WithLogger sets the logger. Default zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics records invocation metrics on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithTracer sets the tracer for Invoke and ListTools spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithToolCache shares discovered tool lists through store. name labels
// cache metrics ("memory", "redis").
func WithToolCache(store toolcache.Store, name string) Option {
	return func(o *options) {
		o.cache = store
		o.cacheName = name
	}
}

// WithBindingFactory replaces how bindings are built from specs.
func WithBindingFactory(f binding.Factory) Option {
	return func(o *options) { o.factory = f }
}

// WithJournal records every invocation on r.
func WithJournal(r journal.Recorder) Option {
	return func(o *options) { o.journal = r }
}

// WithServerOverrides adds inline specs that win name collisions against
// the config file.
func WithServerOverrides(specs ...config.ServerSpec) Option {
	return func(o *options) { o.overrides = append(o.overrides, specs...) }
}

// WithConnection supplies the pre-established connection of a preconnected
// server declared with transport "handle". dial runs on first use and again
// after the connection drops.
func WithConnection(name string, dial binding.TransportDialer) Option {
	return func(o *options) {
		if o.dialers == nil {
			o.dialers = make(map[string]binding.TransportDialer)
		}
		o.dialers[name] = dial
	}
}

// withDialers 让提供了连接的服务绕过 next
func withDialers(next binding.Factory, dialers map[string]binding.TransportDialer) binding.Factory {
	return binding.FactoryFunc(func(spec config.ServerSpec, opts binding.Options) (binding.Binding, error) {
		if dial, ok := dialers[spec.Name]; ok && spec.Kind == config.KindPreconnected {
			return binding.NewDialerBinding(spec, dial, opts), nil
		}
		return next.New(spec, opts)
	})
}

// WithCallTimeout overrides the configured default call timeout. 0 leaves
// calls bounded only by the caller's context.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.callTimeout = &d }
}

// withClock is used by tests.
func withClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}
