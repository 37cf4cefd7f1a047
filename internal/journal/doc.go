// Copyright (c) Toolport Authors.
// Licensed under the MIT License.

// Package journal 将工具调用记录持久化到数据库（sqlite、postgres、mysql），
// 供 CLI 的 history 命令查询。记录失败只写日志，不影响调用结果。
package journal
