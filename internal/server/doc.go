// Copyright (c) MaskFlow Authors.
// Licensed under the MIT License.

/*
Package server 提供 HTTP/HTTPS 服务器生命周期管理。

# 概述

Manager 封装 net/http.Server，统一管理监听、服务、关闭与错误传播。
API 服务器与 Prometheus 指标服务器各持有一个 Manager。

# 核心类型

  - Manager：持有 http.Server、net.Listener 与异步错误通道，
    提供 Start / Shutdown / Wait / RegisterOnShutdown
  - Config：监听地址、读写与空闲超时、请求头上限、优雅关闭超时与 TLS 证书

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务；配置证书时经
    tlsutil.ServerTLSConfig 以 HTTPS 启动
  - 优雅关闭：Shutdown 在 ctx 与 ShutdownTimeout 内完成请求排空，重复调用无副作用
  - 错误传播：Wait 在服务器异常退出时返回错误，可与 errgroup 组合
*/
package server
