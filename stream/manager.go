package stream

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/BaSui01/maskflow/inference"
	"github.com/BaSui01/maskflow/internal/metrics"
	"github.com/BaSui01/maskflow/types"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ManagerConfig 会话管理器配置
type ManagerConfig struct {
	// Timeout 单帧推理超时
	Timeout time.Duration
	// CancelOnDisconnect 断开时取消在途推理
	CancelOnDisconnect bool
	// MaxSessions 并发会话上限，0 表示不限制
	MaxSessions int
}

// DefaultManagerConfig 返回默认配置
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{Timeout: 5 * time.Second}
}

// Manager 在线会话注册表
type Manager struct {
	gateway     inference.Inferer
	settings    *Settings
	maxSessions int
	metrics     *metrics.Collector
	logger      *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	closing  bool
}

// ManagerOption 配置 Manager
type ManagerOption func(*Manager)

// WithManagerMetrics 设置指标收集器
func WithManagerMetrics(c *metrics.Collector) ManagerOption {
	return func(m *Manager) {
		m.metrics = c
	}
}

// WithManagerLogger 设置记录器
func WithManagerLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager 创建会话管理器
func NewManager(gateway inference.Inferer, cfg ManagerConfig, opts ...ManagerOption) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultManagerConfig().Timeout
	}
	m := &Manager{
		gateway:     gateway,
		settings:    NewSettings(cfg.Timeout, cfg.CancelOnDisconnect),
		maxSessions: cfg.MaxSessions,
		logger:      zap.NewNop(),
		sessions:    make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "stream_manager"))
	return m
}

// Open 注册一个新会话
func (m *Manager) Open(ctx context.Context, conn Conn) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closing {
		m.metrics.SessionRejected()
		return nil, types.NewError(types.ErrServiceUnavailable, "server is shutting down").
			WithHTTPStatus(http.StatusServiceUnavailable)
	}
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		m.metrics.SessionRejected()
		return nil, types.NewError(types.ErrTooManySessions,
			fmt.Sprintf("too many concurrent sessions (limit %d)", m.maxSessions)).
			WithHTTPStatus(http.StatusServiceUnavailable).
			WithRetryable(true)
	}

	s := newSession(ctx, uuid.NewString(), conn, m.gateway, m.settings, m.metrics, m.logger)
	m.sessions[s.id] = s
	m.metrics.SessionOpened()

	m.logger.Info("session opened", zap.String("session_id", s.id), zap.Int("active", len(m.sessions)))
	return s, nil
}

// Release 注销并关闭会话
func (m *Manager) Release(s *Session) {
	m.mu.Lock()
	_, ok := m.sessions[s.id]
	delete(m.sessions, s.id)
	active := len(m.sessions)
	m.mu.Unlock()

	s.Close()
	if ok {
		m.metrics.SessionClosed()
		m.logger.Info("session closed",
			zap.String("session_id", s.id),
			zap.Duration("lifetime", time.Since(s.createdAt)),
			zap.Int("active", active))
	}
}

// Get 按 ID 查找会话
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Count 在线会话数
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Settings 返回共享的会话参数，用于热更新
func (m *Manager) Settings() *Settings {
	return m.settings
}

// CloseAll 拒绝新会话，并发关闭所有连接并等待 drain 循环退出或 ctx 结束
// ctx 结束后立即返回，未完成的关闭握手在后台继续
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	m.logger.Info("closing all sessions", zap.Int("count", len(sessions)))

	// 单个关闭握手最长阻塞约 5s
	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := s.conn.Close(websocket.StatusGoingAway, "server shutting down"); err != nil {
				m.logger.Debug("close connection", zap.String("session_id", s.id), zap.Error(err))
			}
			m.Release(s)
			s.Wait()
		}(s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("closing sessions: %w", ctx.Err())
	}
}
