// Copyright (c) MaskFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 MaskFlow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 inference、stream、api
等上层模块提供统一的类型契约。

# 核心类型

  - Detection：单个人脸的检测框与分类
  - DetectionStats：一帧的聚合统计（total / masked / unmasked / incorrect / maskRate）
  - DetectionResult：检测器输出，流式与一次性接口共用同一结构
  - Frame：一帧 base64 图像（序号 + 接收时间）
  - Error / ErrorCode：结构化错误体系，含 HTTP 状态码与 Retryable 标记

# 主要能力

  - NormalizeImage / EncodeImage：剥离 data URL 前缀，原始字节转 base64
  - ClassLabel / ClassColor / ComputeStats：口罩类别表与统计
  - FailedResult：把任意失败转成 {success:false, error} 结果
*/
package types
