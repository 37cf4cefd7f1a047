// Copyright (c) Toolport Authors.
// Licensed under the MIT License.

/*
Package binding 定义运行时与工具服务之间的传输绑定。

Binding 描述如何到达一个命名的工具服务：启动本地子进程（stdio），
或连接到已存在的 WebSocket / SSE 桥接。所有实现都在首次使用时惰性连接，
连接断开后在下一次调用时重新建立，并通知已注册的重置回调
（会话型服务据此回到 NoSession 状态）。

# 并发

Concurrent 报告绑定是否允许多个调用同时在途。stdio 绑定默认只允许一个，
由 Serialize 包装器以可取消的信号量保证；远程绑定按 JSON-RPC id 关联并发调用。
*/
package binding
