// Copyright (c) Toolport Authors.
// Licensed under the MIT License.

/*
Package session 实现会话型服务（例如 Figma 的 join_channel）的握手状态机。

状态转换：NoSession → Active → NoSession。

  - Join：每个会话只执行一次握手；同一服务的并发 Join 串行化，
    握手进行中或已建立时返回同一个 State
  - Guard：未建立会话时拒绝非握手工具调用，返回 SessionNotEstablished，
    且不接触传输层
  - Reset / Close：回到 NoSession（连接重建、运行时关闭）

频道 ID 的来源顺序：调用方参数 → 握手参数中的频道字段 → 配置中的固定 ID →
自动生成的 <prefix>-<unix 毫秒>。
*/
package session
