package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/toolport/config"
)

// keepGlobals 测试结束后恢复全局 provider
func keepGlobals(t *testing.T) {
	t.Helper()
	tp, mp := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
	})
}

func shutdown(t *testing.T, p *Providers) {
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
}

func TestInit_DisabledIsNoop(t *testing.T) {
	keepGlobals(t)

	p, err := Init(config.TelemetryConfig{OTLPEndpoint: "collector:4317"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.NotNil(t, p.Tracer())
	_, isSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.False(t, isSDK)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_RegistersSDKProviders(t *testing.T) {
	keepGlobals(t)

	// 导出器不会主动连接，这里不需要收集器
	p, err := Init(config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "http://localhost:4317",
		ServiceName:  "toolport-test",
		SampleRate:   0.5,
	}, nil)
	require.NoError(t, err)
	shutdown(t, p)

	assert.True(t, p.Enabled())
	_, tpIsSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	_, mpIsSDK := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, tpIsSDK)
	assert.True(t, mpIsSDK)
}

func TestInitWithExporter_RecordsInvocationSpans(t *testing.T) {
	keepGlobals(t)

	exp := tracetest.NewInMemoryExporter()
	p, err := InitWithExporter(config.TelemetryConfig{ServiceName: "toolport-test", SampleRate: 1}, exp)
	require.NoError(t, err)
	shutdown(t, p)
	assert.Nil(t, p.mp)

	_, span := p.Tracer().Start(context.Background(), "toolport.invoke")
	span.End()

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "toolport.invoke", spans[0].Name)
	assert.Equal(t, InstrumentationName, spans[0].InstrumentationScope.Name)

	attrs := map[string]string{}
	for _, kv := range spans[0].Resource.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "toolport-test", attrs[string(semconv.ServiceNameKey)])
	assert.NotEmpty(t, attrs[string(semconv.ServiceInstanceIDKey)])
}

func TestInitWithExporter_ZeroSampleRateDropsRoots(t *testing.T) {
	keepGlobals(t)

	exp := tracetest.NewInMemoryExporter()
	p, err := InitWithExporter(config.TelemetryConfig{SampleRate: 0}, exp)
	require.NoError(t, err)
	shutdown(t, p)

	_, span := p.Tracer().Start(context.Background(), "dropped")
	span.End()
	assert.Empty(t, exp.GetSpans())
}

func TestSampleRateValidation(t *testing.T) {
	for _, rate := range []float64{-0.1, 1.5} {
		_, err := Init(config.TelemetryConfig{Enabled: true, SampleRate: rate}, nil)
		assert.Error(t, err)
		_, err = InitWithExporter(config.TelemetryConfig{SampleRate: rate}, tracetest.NewInMemoryExporter())
		assert.Error(t, err)
	}
}

func TestSplitEndpoint(t *testing.T) {
	tests := []struct {
		in       string
		hostport string
		insecure bool
	}{
		{"localhost:4317", "localhost:4317", true},
		{"http://otel:4317/", "otel:4317", true},
		{"https://otel.example.com:443", "otel.example.com:443", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			hp, insecure := splitEndpoint(tt.in)
			assert.Equal(t, tt.hostport, hp)
			assert.Equal(t, tt.insecure, insecure)
		})
	}
}

func TestProviders_NilSafe(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.False(t, p.Enabled())
}

func TestVersion_DevInTests(t *testing.T) {
	assert.Equal(t, "dev", Version())
}
