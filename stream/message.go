package stream

import (
	"encoding/json"

	"github.com/BaSui01/maskflow/types"
)

// MessageType 协议消息类型
type MessageType string

const (
	TypePing      MessageType = "ping"
	TypePong      MessageType = "pong"
	TypeFrame     MessageType = "frame"
	TypeConnected MessageType = "connected"
	TypeDetection MessageType = "detection"
	TypeError     MessageType = "error"
)

// ConnectedMessage 建立连接后的确认文本
const ConnectedMessage = "Connected to Face Mask Detection stream"

// fallbackErrorMessage 失败结果缺少诊断信息时使用
const fallbackErrorMessage = "Detection failed"

// inboundMessage 客户端消息
type inboundMessage struct {
	Type  MessageType `json:"type"`
	Image string      `json:"image,omitempty"`
}

// controlMessage connected / pong
type controlMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message,omitempty"`
}

// errorMessage 推理失败通知
type errorMessage struct {
	Type  MessageType `json:"type"`
	Error string      `json:"error"`
}

// detectionMessage 检测结果与 type 字段合并
type detectionMessage struct {
	Type MessageType `json:"type"`
	*types.DetectionResult
}

// parseInbound 解析客户端消息，无法识别时返回 false
func parseInbound(raw []byte) (inboundMessage, bool) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return inboundMessage{}, false
	}
	switch msg.Type {
	case TypePing, TypeFrame:
		return msg, true
	default:
		return msg, false
	}
}

// resultMessage 把检测结果转换为出站消息
func resultMessage(res *types.DetectionResult) any {
	if res.Failed() {
		msg := fallbackErrorMessage
		if res != nil && res.Error != "" {
			msg = res.Error
		}
		return errorMessage{Type: TypeError, Error: msg}
	}
	return detectionMessage{Type: TypeDetection, DetectionResult: res}
}
