package metrics

import (
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/toolport/types"
)

// Outcome labels that are not error codes.
const (
	OutcomeOK        = "ok"
	OutcomeToolError = "tool_error"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	invocationsTotal   *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec

	handshakesTotal *prometheus.CounterVec
	bindingsActive  *prometheus.GaugeVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers the toolport metrics on reg. A nil reg uses the
// default Prometheus registry.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.invocationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Total number of tool invocations",
		},
		[]string{"server", "tool", "outcome"},
	)

	c.invocationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Tool invocation duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"server", "tool"},
	)

	c.handshakesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Total number of session handshakes",
		},
		[]string{"server", "result"},
	)

	c.bindingsActive = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bindings_active",
			Help:      "Servers with an open connection (1) or none (0)",
		},
		[]string{"server"},
	)

	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_cache_hits_total",
			Help:      "Total number of tool descriptor cache hits",
		},
		[]string{"store"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_cache_misses_total",
			Help:      "Total number of tool descriptor cache misses",
		},
		[]string{"store"},
	)

	c.logger.Debug("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordInvocation 记录一次工具调用
func (c *Collector) RecordInvocation(server, tool, outcome string, duration time.Duration) {
	c.invocationsTotal.WithLabelValues(server, tool, outcome).Inc()
	c.invocationDuration.WithLabelValues(server, tool).Observe(duration.Seconds())
}

// RecordHandshake 记录一次会话握手
func (c *Collector) RecordHandshake(server string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	c.handshakesTotal.WithLabelValues(server, result).Inc()
}

// SetBindingActive 标记服务连接状态
func (c *Collector) SetBindingActive(server string, active bool) {
	v := 0.0
	if active {
		v = 1
	}
	c.bindingsActive.WithLabelValues(server).Set(v)
}

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(store string) {
	c.cacheHits.WithLabelValues(store).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(store string) {
	c.cacheMisses.WithLabelValues(store).Inc()
}

// Outcome classifies an invocation for the outcome label.
func Outcome(err error, toolError bool) string {
	if err == nil {
		if toolError {
			return OutcomeToolError
		}
		return OutcomeOK
	}
	var te *types.Error
	if errors.As(err, &te) {
		return strings.ToLower(string(te.Code))
	}
	return "error"
}
