// Package config 提供 MaskFlow 的配置管理功能。
//
// 包含配置加载（默认值 → YAML → 环境变量）、校验、
// 配置文件监听与运行时热重载。
package config
