// Copyright (c) MaskFlow Authors.
// Licensed under the MIT License.

/*
Package inference 把一张编码图像转换为一个 DetectionResult。

# 概述

外部检测器是一个缓慢的单次调用黑盒：输入 {"image": base64}，输出一个
JSON 格式的 DetectionResult。Backend 抽象具体的调用方式，Gateway 在其上
施加硬超时并把所有失败转换为 {success:false, error} 结果，从不返回 error。

# 核心类型

  - Backend：检测器调用能力（Detect / Check / Name）
  - ProcessBackend：每次调用启动一个子进程，stdin 写入请求，stdout 读取结果
  - HTTPBackend：调用常驻模型服务
  - Gateway：超时、指标、追踪与可选的全局并发上限
  - CachedGateway：一次性上传路径的 Redis 结果缓存与同图合并

# 调用结果

每次调用恰好产生一个 Outcome：success、timeout、process_error、
parse_error、startup_error（以及 canceled / internal_error）。
不做重试，由调用方决定是否在下一帧重新尝试。
*/
package inference
