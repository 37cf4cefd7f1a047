// Copyright (c) Toolport Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的工具调用指标采集。

# 核心类型

  - Collector：指标收集器，注册到调用方提供的 prometheus.Registerer，
    按 namespace 隔离。

# 指标

  - <ns>_invocations_total{server,tool,outcome}：调用次数，
    outcome 为 ok、tool_error 或错误码（小写）
  - <ns>_invocation_duration_seconds{server,tool}：调用耗时
  - <ns>_handshakes_total{server,result}：会话握手次数
  - <ns>_bindings_active{server}：已建立连接的服务
  - <ns>_tool_cache_hits_total / _misses_total{store}：工具描述缓存命中
*/
package metrics
