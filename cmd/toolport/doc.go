// Copyright (c) Toolport Authors.
// Licensed under the MIT License.

/*
Package main 提供 toolport 命令行入口。

# 概述

cmd/toolport 从配置文件加载服务器声明，直接调用其中任意一个 MCP 工具，
不需要任何绑定代码：

	toolport list
	toolport tools context7
	toolport call context7 resolveLibraryId libraryName=react
	toolport call --channel design figma get_document_info
	toolport history --server figma --limit 10

工具名既可以是服务声明的原名，也可以是 camelCase 方法名。key=value
参数按整数、浮点数、true/false、带引号字符串的顺序转换类型。

# 主要能力

  - 子命令：list、tools、call、history、version
  - 会话型服务：call 前自动握手，--channel 指定频道
  - 结构化日志（zap），日志配置来自 log 节
  - 可选的 Redis 工具缓存、调用日志、OTLP 遥测与 Prometheus textfile 输出
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
