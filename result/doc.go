// Copyright (c) Toolport Authors.
// Licensed under the MIT License.

/*
Package result 封装一次工具调用的响应，并按需惰性解码为多种视图。

# 视图

  - Raw：原始字节（构造时复制）
  - Text：text 内容块拼接；否则资源文本；否则顶层字符串或 text/result 字段
  - JSON：structuredContent；否则解析 Text；非 MCP 的 JSON 对象/数组原样返回
  - Markdown：仅当内容声明 markdown MIME 类型时返回 Text

每个视图最多计算一次，解码失败以 (零值, false) 表示，从不 panic。
*/
package result
