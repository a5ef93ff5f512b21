// Copyright (c) MaskFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 MaskFlow 服务端程序入口。

# 概述

cmd/maskflow 是口罩检测服务的可执行入口，基于 urfave/cli 提供
serve、detect、health、version 子命令。serve 启动一次性检测 API、
实时检测 WebSocket 与独立的 Prometheus 指标端口。

# 核心类型

  - Server：组装检测器后端、推理网关、结果缓存、会话管理器与路由，
    管理 API 与 Metrics 两个服务器的启动、运行与优雅关闭
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 路由：gorilla/mux，/api/detect、/api/detect/base64、/api/health、
    /health、/healthz、/ready、/version、/ws 与 /ws/stream
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    OTelTracing、CORS（rs/cors）、RateLimiter（按 IP，流式路径豁免），
    路由级 MetricsMiddleware 与 BodyLimit
  - 配置热重载：日志级别、推理超时、cancel_on_disconnect、缓存 TTL
  - 优雅关闭：关闭实时会话后再关闭 HTTP，错误经 multierr 汇总
  - detect 子命令：本地调用检测器，go-pretty 表格或 JSON 输出
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
