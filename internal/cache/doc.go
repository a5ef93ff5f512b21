// 版权所有 2024 MaskFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的检测结果缓存。

# 概述

一次性上传接口可能收到重复图像（前端重试、同一张图片多次提交），
Manager 以图像内容的 SHA-256 作为键缓存成功的 DetectionResult，
命中时跳过外部检测器。失败结果不会写入缓存。流式帧不走缓存。

# 主要能力

  - Get / Set：按键读写原始字符串，未命中返回 ErrCacheMiss
  - GetResult / SetResult：JSON 编解码 DetectionResult
  - ResultKey：图像内容哈希键
  - Ping：供就绪探针使用
*/
package cache
