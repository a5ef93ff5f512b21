package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/maskflow/inference"
	"github.com/BaSui01/maskflow/internal/ctxkeys"
	"github.com/BaSui01/maskflow/internal/metrics"
	"github.com/BaSui01/maskflow/types"
	"go.uber.org/zap"
)

// defaultWriteTimeout 单条出站消息的写超时
const defaultWriteTimeout = 10 * time.Second

// Settings 会话读取的可热更新参数
type Settings struct {
	timeout            atomic.Int64
	cancelOnDisconnect atomic.Bool
}

// NewSettings 创建会话参数
func NewSettings(timeout time.Duration, cancelOnDisconnect bool) *Settings {
	s := &Settings{}
	s.SetTimeout(timeout)
	s.SetCancelOnDisconnect(cancelOnDisconnect)
	return s
}

// Timeout 单帧推理超时
func (s *Settings) Timeout() time.Duration { return time.Duration(s.timeout.Load()) }

// SetTimeout 更新单帧推理超时，下一次派发生效
func (s *Settings) SetTimeout(d time.Duration) { s.timeout.Store(int64(d)) }

// CancelOnDisconnect 断开时是否取消在途推理
func (s *Settings) CancelOnDisconnect() bool { return s.cancelOnDisconnect.Load() }

// SetCancelOnDisconnect 更新断开取消策略
func (s *Settings) SetCancelOnDisconnect(v bool) { s.cancelOnDisconnect.Store(v) }

// =============================================================================
// 🎞️ 会话
// =============================================================================

// Session 单个连接的帧处理状态
//
// busy 为 true 时恰好有一个 drain goroutine 在运行；pending 最多保存一帧。
type Session struct {
	id        string
	conn      Conn
	gateway   inference.Inferer
	settings  *Settings
	metrics   *metrics.Collector
	logger    *zap.Logger
	createdAt time.Time

	// ctx 在途推理的父 context，cancel 仅在断开或 drain 结束后调用
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	busy    bool
	pending *types.Frame
	closed  bool
	seq     uint64

	wg sync.WaitGroup
}

func newSession(ctx context.Context, id string, conn Conn, gateway inference.Inferer, settings *Settings,
	collector *metrics.Collector, logger *zap.Logger) *Session {
	ctx = ctxkeys.WithSource(ctxkeys.WithSessionID(context.WithoutCancel(ctx), id), ctxkeys.SourceStream)
	ctx, cancel := context.WithCancel(ctx)
	return &Session{
		id:        id,
		conn:      conn,
		gateway:   gateway,
		settings:  settings,
		metrics:   collector,
		logger:    logger.With(zap.String("session_id", id)),
		createdAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// ID 会话标识
func (s *Session) ID() string { return s.id }

// CreatedAt 会话创建时间
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Start 发送 connected 确认
func (s *Session) Start() {
	s.send(controlMessage{Type: TypeConnected, Message: ConnectedMessage})
}

// HandleMessage 处理一条客户端消息，从不阻塞在推理上
func (s *Session) HandleMessage(raw []byte) {
	msg, ok := parseInbound(raw)
	if !ok {
		s.logger.Debug("ignoring unrecognized message", zap.Int("bytes", len(raw)))
		return
	}

	switch msg.Type {
	case TypePing:
		s.send(controlMessage{Type: TypePong})
	case TypeFrame:
		s.enqueue(msg.Image)
	}
}

// enqueue busy 时覆盖 pending，空闲时启动 drain 循环
func (s *Session) enqueue(image string) {
	image, err := types.NormalizeImage(image)
	if err != nil {
		s.logger.Debug("ignoring frame", zap.Error(err))
		return
	}
	s.metrics.RecordFrameReceived()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.seq++
	frame := &types.Frame{Seq: s.seq, Image: image, ReceivedAt: time.Now()}

	if s.busy {
		if s.pending != nil {
			s.metrics.RecordFrameDropped()
			s.logger.Debug("frame superseded", zap.Uint64("dropped_seq", s.pending.Seq), zap.Uint64("seq", frame.Seq))
		}
		s.pending = frame
		s.mu.Unlock()
		return
	}

	s.busy = true
	s.wg.Add(1)
	s.mu.Unlock()

	go s.drain(frame)
}

// drain 依次处理当前帧与 pending 中的最新帧，直到槽位为空
func (s *Session) drain(frame *types.Frame) {
	defer s.wg.Done()

	for frame != nil {
		s.process(frame)

		s.mu.Lock()
		frame = s.pending
		s.pending = nil
		if frame == nil {
			s.busy = false
			if s.closed {
				s.cancel()
			}
		}
		s.mu.Unlock()
	}
}

func (s *Session) process(frame *types.Frame) {
	res := s.gateway.Infer(s.ctx, frame.Image, s.settings.Timeout())
	msg := resultMessage(res)
	if m, ok := msg.(errorMessage); ok {
		s.metrics.RecordFrameProcessed(string(TypeError))
		s.logger.Debug("frame failed", zap.Uint64("seq", frame.Seq), zap.String("error", m.Error))
	} else {
		s.metrics.RecordFrameProcessed(string(TypeDetection))
	}
	s.send(msg)
}

// send 仅在会话与连接都打开时写出，关闭后的写入被吞掉
func (s *Session) send(v any) {
	if !s.IsOpen() {
		s.logger.Debug("skipping send on closed session")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()

	if err := s.conn.WriteJSON(ctx, v); err != nil {
		if errors.Is(err, types.ErrClosed) {
			s.logger.Debug("send after close skipped")
			return
		}
		s.logger.Warn("failed to send message", zap.Error(err))
	}
}

// IsOpen 会话未关闭且连接可写
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	return !closed && s.conn.IsOpen()
}

// Busy 是否有推理在途
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Close 清空 pending 并标记关闭
//
// 在途推理默认继续运行到结束或超时，结果被丢弃；
// 开启 cancel_on_disconnect 时立即取消其 context。
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.pending != nil {
		s.metrics.RecordFrameDropped()
		s.pending = nil
	}
	idle := !s.busy
	s.mu.Unlock()

	if idle || s.settings.CancelOnDisconnect() {
		s.cancel()
	}
}

// Wait 阻塞直到 drain 循环退出
func (s *Session) Wait() {
	s.wg.Wait()
}
