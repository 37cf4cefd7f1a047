// Copyright (c) Toolport Authors.
// Licensed under the MIT License.

// Package toolcache 缓存各服务 tools/list 的结果。
//
// 内存实现供单个进程使用；Redis 实现让多次 CLI 运行共享发现结果。
// 键由服务名与启动参数指纹组成，配置变化后旧条目自然失效。
package toolcache
