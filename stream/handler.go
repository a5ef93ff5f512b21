package stream

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/BaSui01/maskflow/types"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// HandlerConfig WebSocket 端点配置
type HandlerConfig struct {
	// ReadLimit 单条消息的最大字节数
	ReadLimit int64
	// KeepaliveInterval 协议层 ping 间隔，0 表示关闭
	KeepaliveInterval time.Duration
	// OriginPatterns 允许的跨域 Origin，为空时只接受同源
	OriginPatterns []string
}

// DefaultHandlerConfig 返回默认配置
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		ReadLimit:         16 << 20,
		KeepaliveInterval: 30 * time.Second,
	}
}

// Handler 把 HTTP 请求升级为检测流会话
type Handler struct {
	manager *Manager
	cfg     HandlerConfig
	logger  *zap.Logger
}

// NewHandler 创建 WebSocket 处理器
func NewHandler(manager *Manager, cfg HandlerConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = DefaultHandlerConfig().ReadLimit
	}
	return &Handler{
		manager: manager,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "stream_handler")),
	}
}

// ServeHTTP 实现 http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 长连接不受 http.Server 的读写超时约束
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.OriginPatterns,
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	ws.SetReadLimit(h.cfg.ReadLimit)
	conn := NewWebSocketConn(ws)

	sess, err := h.manager.Open(r.Context(), conn)
	if err != nil {
		code, reason := websocket.StatusTryAgainLater, "server shutting down"
		if types.IsErrorCode(err, types.ErrTooManySessions) {
			code, reason = websocket.StatusPolicyViolation, "too many sessions"
		}
		h.logger.Warn("session rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		_ = conn.Close(code, reason)
		return
	}
	defer h.manager.Release(sess)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if h.cfg.KeepaliveInterval > 0 {
		go h.keepalive(ctx, ws, conn, sess.ID())
	}

	sess.Start()
	h.readLoop(ctx, ws, sess)

	conn.markClosed()
	sess.Close()
	_ = ws.Close(websocket.StatusNormalClosure, "")
}

// readLoop 逐条读取消息直到连接关闭
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, sess *Session) {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			h.logReadError(sess.ID(), err)
			return
		}
		if typ != websocket.MessageText {
			h.logger.Debug("ignoring binary message", zap.String("session_id", sess.ID()))
			continue
		}
		sess.HandleMessage(data)
	}
}

func (h *Handler) logReadError(sessionID string, err error) {
	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		h.logger.Debug("client disconnected", zap.String("session_id", sessionID))
	case errors.Is(err, context.Canceled):
		h.logger.Debug("session context canceled", zap.String("session_id", sessionID))
	default:
		h.logger.Info("stream read ended", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// keepalive 周期性发送协议层 ping，失败时关闭连接
func (h *Handler) keepalive(ctx context.Context, ws *websocket.Conn, conn *WebSocketConn, sessionID string) {
	ticker := time.NewTicker(h.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, h.cfg.KeepaliveInterval)
			err := ws.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					h.logger.Info("keepalive failed", zap.String("session_id", sessionID), zap.Error(err))
					_ = conn.Close(websocket.StatusPolicyViolation, "keepalive timeout")
				}
				return
			}
		}
	}
}
