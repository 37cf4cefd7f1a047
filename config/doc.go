// Copyright (c) Toolport Authors.
// Licensed under the MIT License.

// Package config 提供 toolport 的配置管理功能。
//
// 包含服务器声明（ServerSpec）、配置加载（YAML / JSON 文件 + 环境变量 +
// 内联覆盖）与校验。JSON 是 YAML 1.2 的子集，因此 mcpServers 形式的
// {"mcpServers": {...}} 配置文件与 YAML 配置共用同一个加载器。
package config
