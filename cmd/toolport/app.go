package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/toolport/config"
	"github.com/BaSui01/toolport/internal/journal"
	"github.com/BaSui01/toolport/internal/metrics"
	"github.com/BaSui01/toolport/internal/telemetry"
	"github.com/BaSui01/toolport/runtime"
	"github.com/BaSui01/toolport/toolcache"
)

// shutdownTimeout 退出时刷新遥测的上限
const shutdownTimeout = 5 * time.Second

// app 一次命令执行所需的全部组件
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	otel     *telemetry.Providers
	registry *prometheus.Registry
	metrics  *metrics.Collector
	cache    toolcache.Store
	journal  *journal.Journal
	rt       *runtime.Runtime
}

// appOptions 控制 newApp 启动哪些组件
type appOptions struct {
	runtime     bool
	needJournal bool
	callTimeout time.Duration
}

// newApp 加载配置并按需组装运行时；出错时已创建的组件会被关闭
func newApp(ctx context.Context, configPath string, opts appOptions) (a *app, err error) {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	a = &app{cfg: cfg, logger: initLogger(cfg.Log)}
	defer func() {
		if err != nil {
			a.close()
			a = nil
		}
	}()

	a.logger.Debug("config loaded",
		zap.String("path", configPath),
		zap.String("version", Version))

	if cfg.Journal.Enabled {
		a.journal, err = journal.Open(cfg.Journal, a.logger)
		if err != nil {
			if opts.needJournal {
				return a, err
			}
			a.logger.Warn("journal not available, invocations will not be recorded", zap.Error(err))
			err = nil
		}
	} else if opts.needJournal {
		return a, fmt.Errorf("journal is disabled; set journal.enabled in the config")
	}

	if !opts.runtime {
		return a, nil
	}

	a.otel, err = telemetry.Init(cfg.Telemetry, a.logger)
	if err != nil {
		a.logger.Warn("failed to initialize telemetry", zap.Error(err))
		a.otel, err = nil, nil
	}

	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.metrics = metrics.NewCollector(cfg.Metrics.Namespace, a.registry, a.logger)
	}

	a.cache, err = toolcache.New(cfg.Cache, a.logger)
	if err != nil {
		// 缓存只是加速，不可用时直接访问服务器
		a.logger.Warn("tool cache not available", zap.String("driver", cfg.Cache.Driver), zap.Error(err))
		a.cache, err = nil, nil
	}

	rtOpts := []runtime.Option{
		runtime.WithLogger(a.logger),
		runtime.WithTracer(a.otel.Tracer()),
	}
	if a.metrics != nil {
		rtOpts = append(rtOpts, runtime.WithMetrics(a.metrics))
	}
	if a.cache != nil {
		rtOpts = append(rtOpts, runtime.WithToolCache(a.cache, cacheName(cfg.Cache.Driver)))
	}
	if a.journal != nil {
		rtOpts = append(rtOpts, runtime.WithJournal(a.journal))
	}
	if opts.callTimeout > 0 {
		rtOpts = append(rtOpts, runtime.WithCallTimeout(opts.callTimeout))
	}

	a.rt, err = runtime.New(ctx, cfg, rtOpts...)
	if err != nil {
		return a, err
	}
	return a, nil
}

func cacheName(driver string) string {
	if driver == "" {
		return "memory"
	}
	return driver
}

// close 按创建的逆序关闭组件，失败只记录日志
func (a *app) close() {
	if a.rt != nil {
		_ = a.rt.Close()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("tool cache close failed", zap.Error(err))
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warn("journal close failed", zap.Error(err))
		}
	}
	if a.registry != nil && a.cfg.Metrics.Textfile != "" {
		if err := prometheus.WriteToTextfile(a.cfg.Metrics.Textfile, a.registry); err != nil {
			a.logger.Warn("metrics textfile write failed", zap.String("path", a.cfg.Metrics.Textfile), zap.Error(err))
		}
	}
	if a.otel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.otel.Shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
