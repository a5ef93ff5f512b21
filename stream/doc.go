// Copyright (c) MaskFlow Authors.
// Licensed under the MIT License.

/*
Package stream 管理实时检测的双向连接会话。

# 概述

摄像头产生帧的速度远高于检测器的处理速度。每个 Session 同一时刻
最多只有一次推理在途；推理期间到达的帧写入容量为 1 的 pending 槽位，
新帧覆盖旧帧（latest wins）。在途推理完成后，drain 循环取出 pending
中的最新帧继续处理，直到槽位为空再清除 busy。

# 协议

客户端发送：

	{"type":"ping"}
	{"type":"frame","image":"<base64>"}

服务端发送：

	{"type":"connected","message":"..."}
	{"type":"pong"}
	{"type":"detection","success":true,"detections":[...],"stats":{...}}
	{"type":"error","error":"..."}

其他形状的消息被静默忽略。推理失败不会断开连接。

# 核心类型

  - Conn：出站写入抽象，WebSocket 实现基于 github.com/coder/websocket
  - Session：单连接的 busy / pending 状态机与 drain 循环
  - Manager：会话注册表、会话数上限与停机时的批量关闭
  - Handler：WebSocket 升级、读循环与保活 ping
*/
package stream
