// Copyright (c) Toolport Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 toolport 测试的共享工具和辅助函数。

# 核心能力

  - 上下文: TestContext（自动注册 Cleanup）/ CancelledContext
  - WaitForChannel: 带超时的通道接收，轮询断言直接用 assert.Eventually
  - MCP 结果负载: TextPayload / ErrorPayload / StructuredPayload，
    供 mocks.MockBinding 的工具函数直接返回

# 子包

  - testutil/fixtures: 进程内的假 MCP 服务（context7 风格、figma 风格的会话型服务、
    echo），可通过 stdio 管道、WebSocket 桥或 helper 子进程提供
  - testutil/mocks: MockBinding，可编程的 binding.Binding 实现，记录调用并支持错误注入

# 使用示例

	ctx := testutil.TestContext(t)
	url := fixtures.StartWebSocketBridge(t, fixtures.NewFigmaServer().Server)
*/
package testutil
