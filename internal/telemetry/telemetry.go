package telemetry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/toolport/config"
)

// InstrumentationName names the tracer used for runtime spans.
const InstrumentationName = "github.com/BaSui01/toolport"

// Providers holds the OTel SDK TracerProvider and MeterProvider.
// When telemetry is disabled both are nil and Shutdown is a no-op.
type Providers struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Init initializes the OTel SDK from cfg and registers it globally. When
// cfg.Enabled is false nothing is dialed and the global providers stay
// noop. Spans go to an OTLP gRPC collector at cfg.OTLPEndpoint.
func Init(cfg config.TelemetryConfig, logger *zap.Logger) (*Providers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		logger.Debug("telemetry disabled, using noop providers")
		return &Providers{}, nil
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	ctx := context.Background()
	endpoint, insecure := splitEndpoint(cfg.OTLPEndpoint)

	// 导出器惰性连接，收集器不在线时不会阻塞
	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(endpoint)}
	if insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}
	spans, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	metrics, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		_ = spans.Shutdown(ctx)
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	p, err := newProviders(ctx, cfg, sdktrace.WithBatcher(spans), sdkmetric.NewPeriodicReader(metrics))
	if err != nil {
		_ = spans.Shutdown(ctx)
		_ = metrics.Shutdown(ctx)
		return nil, err
	}
	logger.Info("telemetry initialized",
		zap.String("endpoint", endpoint),
		zap.Bool("insecure", insecure),
		zap.String("service_name", cfg.ServiceName),
		zap.Float64("sample_rate", cfg.SampleRate),
	)
	return p, nil
}

// InitWithExporter is Init with a caller-supplied span exporter and no
// metric export, for tests and embedding programs that ship spans
// elsewhere. Spans are exported synchronously.
func InitWithExporter(cfg config.TelemetryConfig, exporter sdktrace.SpanExporter) (*Providers, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return newProviders(context.Background(), cfg, sdktrace.WithSyncer(exporter), nil)
}

func validate(cfg config.TelemetryConfig) error {
	if cfg.SampleRate < 0 || cfg.SampleRate > 1 {
		return fmt.Errorf("telemetry sample rate %v out of range [0,1]", cfg.SampleRate)
	}
	return nil
}

// newProviders 组装 provider 并注册为全局；reader 为 nil 时不创建 MeterProvider
func newProviders(ctx context.Context, cfg config.TelemetryConfig, spans sdktrace.TracerProviderOption, reader sdkmetric.Reader) (*Providers, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(Version()),
			semconv.ServiceInstanceIDKey.String(uuid.NewString()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}

	p := &Providers{
		tp: sdktrace.NewTracerProvider(
			spans,
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
		),
	}
	otel.SetTracerProvider(p.tp)
	if reader != nil {
		p.mp = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
		otel.SetMeterProvider(p.mp)
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return p, nil
}

// splitEndpoint 接受 host:port 或带 http(s):// 前缀的地址；
// 没有前缀或 http:// 使用明文连接
func splitEndpoint(endpoint string) (hostport string, insecure bool) {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "https://"), "/"), false
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "http://"), "/"), true
	}
	return endpoint, true
}

// Enabled reports whether real SDK providers were created.
func (p *Providers) Enabled() bool {
	return p != nil && p.tp != nil
}

// Tracer returns the runtime tracer: the SDK one when enabled, otherwise
// whatever is registered globally.
func (p *Providers) Tracer() trace.Tracer {
	if p.Enabled() {
		return p.tp.Tracer(InstrumentationName)
	}
	return otel.Tracer(InstrumentationName)
}

// Shutdown flushes pending spans and metrics and closes the exporters.
// Safe on noop and nil Providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Version returns the main module version from build info, or "dev".
func Version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
