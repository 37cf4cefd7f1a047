// =============================================================================
// 📦 toolport 默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Runtime:   DefaultRuntimeConfig(),
		Cache:     DefaultCacheConfig(),
		Journal:   DefaultJournalConfig(),
		Log:       DefaultLogConfig(),
		Metrics:   DefaultMetricsConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultRuntimeConfig 返回默认运行时配置
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		CallTimeout:      0,
		ConnectTimeout:   30 * time.Second,
		ShutdownGrace:    2 * time.Second,
		Heartbeat:        30 * time.Second,
		EagerConnect:     false,
		BatchConcurrency: 4,
	}
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Driver:    "memory",
		TTL:       0,
		Addr:      "localhost:6379",
		DB:        0,
		KeyPrefix: "toolport:tools:",
	}
}

// DefaultJournalConfig 返回默认调用日志配置
func DefaultJournalConfig() JournalConfig {
	return JournalConfig{
		Enabled:         false,
		Driver:          "sqlite",
		DSN:             "toolport-journal.db",
		RecordArguments: false,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "warn",
		Format:      "console",
		OutputPaths: []string{"stderr"},
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   false,
		Namespace: "toolport",
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "toolport",
		SampleRate:   0.1,
	}
}
