// Copyright (c) Toolport Authors.
// Licensed under the MIT License.

// Package mcp 实现 toolport 所需的 Model Context Protocol (MCP) 子集。
//
// 包含 JSON-RPC 2.0 消息模型、stdio（NDJSON 与 Content-Length 两种分帧）、
// SSE 与 WebSocket 三种传输层、带请求关联与取消语义的客户端，
// 以及一个最小的工具服务端（主要用于测试与本地桥接）。
package mcp
