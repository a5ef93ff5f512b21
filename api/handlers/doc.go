// Copyright (c) MaskFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 MaskFlow HTTP API 的请求处理器实现。

# 概述

handlers 包实现一次性图像检测、健康检查与服务描述端点。
检测端点与实时流返回相同的 DetectionResult 结构；服务类错误
使用统一的 Response 结构（success + error + timestamp + request_id）。

# 核心类型

  - DetectHandler：POST /api/detect（multipart 或 JSON）与 /api/detect/base64
  - HealthHandler：/health、/healthz、/ready、/version 与 /api/health
  - Response / ErrorInfo：统一 JSON 响应结构
  - ResponseWriter：包装 http.ResponseWriter 以捕获状态码，支持 Hijack
  - HealthCheck / DetectorProbe：可插拔健康检查接口

# 主要能力

  - 上传校验：大小上限（默认 10 MiB）与按内容嗅探的类型白名单
  - ErrorCode 到 HTTP 状态码自动映射（4xx/5xx）
  - 推理超时可热更新（DetectHandler.SetTimeout）
*/
package handlers
