// Copyright (c) Toolport Authors.
// Licensed under the MIT License.

/*
Package types 提供 toolport 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 runtime、proxy、binding、
session 等上层模块提供统一的类型契约，以避免循环依赖。

# 核心类型

  - ToolDescriptor   : 工具描述（name + description + JSON Schema）
  - InvocationRequest: 一次工具调用请求（server + tool + arguments）
  - Error / ErrorCode: 结构化错误体系，覆盖配置、未知服务/工具、
    会话未建立与传输失败五类错误

# 错误匹配

ErrorCode 本身实现了 error 接口，因此可以直接用 errors.Is 判断错误类别：

	if errors.Is(err, types.ErrUnknownTool) {
	    // 改用 proxy.Call 传入字面工具名
	}
*/
package types
