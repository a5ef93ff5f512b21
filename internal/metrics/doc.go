// 版权所有 2024 MaskFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 HTTP、
流式会话、推理网关与结果缓存四个维度。

# 概述

Collector 统一注册和记录 Prometheus 指标，使用 promauto 自动注册，
所有指标按 namespace 隔离。Collector 的方法对 nil 接收者安全，
未启用指标时调用方无需判空。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 会话指标：活跃会话 Gauge，接收/丢弃/处理帧计数。
  - 推理指标：按 backend/source/outcome 统计调用次数与耗时。
  - 缓存指标：命中与未命中计数。
*/
package metrics
