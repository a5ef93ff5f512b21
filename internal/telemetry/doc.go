// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为 MaskFlow 提供集中式的 TracerProvider 和 MeterProvider 配置。
// 禁用时使用全局 noop 实现，推理网关与 HTTP 中间件照常创建 span。
package telemetry
