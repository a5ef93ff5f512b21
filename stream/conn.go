package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/BaSui01/maskflow/types"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Conn 会话的出站连接
//
// WriteJSON 在连接关闭后返回 types.ErrClosed。
type Conn interface {
	WriteJSON(ctx context.Context, v any) error
	IsOpen() bool
	Close(code websocket.StatusCode, reason string) error
}

// WebSocketConn 将 coder/websocket 连接适配为 Conn。
// 写操作通过 mutex 串行化，关闭状态独立于写锁，IsOpen 不会等待进行中的写。
type WebSocketConn struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed atomic.Bool
}

// NewWebSocketConn 包装已建立的 WebSocket 连接
func NewWebSocketConn(conn *websocket.Conn) *WebSocketConn {
	return &WebSocketConn{conn: conn}
}

// WriteJSON 序列化 v 并作为文本消息发送
func (w *WebSocketConn) WriteJSON(ctx context.Context, v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed.Load() {
		return types.ErrClosed
	}
	if err := wsjson.Write(ctx, w.conn, v); err != nil {
		if isClosedErr(err) {
			w.closed.Store(true)
			return types.ErrClosed
		}
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// IsOpen 连接是否仍可写
func (w *WebSocketConn) IsOpen() bool {
	return !w.closed.Load()
}

// Close 以给定状态码关闭连接，重复调用无副作用
func (w *WebSocketConn) Close(code websocket.StatusCode, reason string) error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := w.conn.Close(code, reason)
	if err != nil && isClosedErr(err) {
		return nil
	}
	return err
}

// markClosed 读循环结束后调用，之后的写入直接跳过
func (w *WebSocketConn) markClosed() {
	w.closed.Store(true)
}

func isClosedErr(err error) bool {
	return websocket.CloseStatus(err) != -1 || errors.Is(err, net.ErrClosed)
}
