package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// HealthHandler 健康检查处理器
type HealthHandler struct {
	logger   *zap.Logger
	checks   []HealthCheck
	detector DetectorProbe
	timeout  time.Duration
	mu       sync.RWMutex
}

// HealthCheck 健康检查接口
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// DetectorProbe 检测器可用性探测，返回可读的状态信息
type DetectorProbe interface {
	Check(ctx context.Context) (string, error)
}

// HealthStatus 健康状态响应
type HealthStatus struct {
	Status    string                 `json:"status"` // "healthy", "unhealthy"
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status  string `json:"status"` // "pass", "fail"
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// DetectorStatus /api/health 中的检测器状态
type DetectorStatus struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// APIHealthResponse /api/health 响应
type APIHealthResponse struct {
	Status    string         `json:"status"` // "ok", "degraded"
	Timestamp time.Time      `json:"timestamp"`
	Detector  DetectorStatus `json:"detector"`
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger:  logger.With(zap.String("component", "health")),
		checks:  make([]HealthCheck, 0),
		timeout: 5 * time.Second,
	}
}

// RegisterCheck 注册健康检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// SetDetector 设置 /api/health 使用的检测器探测
func (h *HealthHandler) SetDetector(probe DetectorProbe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detector = probe
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealth 处理 /health 请求（简单健康检查）
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// HandleHealthz 处理 /healthz 请求（Kubernetes 风格）
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	// Liveness probe - 只检查服务是否运行
	WriteJSON(w, http.StatusOK, HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// HandleReady 处理 /ready 请求（就绪检查）
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult),
	}

	allHealthy := true
	for _, check := range checks {
		start := time.Now()
		err := check.Check(ctx)
		latency := time.Since(start)

		result := CheckResult{
			Status:  "pass",
			Latency: latency.String(),
		}

		if err != nil {
			result.Status = "fail"
			result.Message = err.Error()
			allHealthy = false

			h.logger.Warn("health check failed",
				zap.String("check", check.Name()),
				zap.Error(err),
				zap.Duration("latency", latency),
			)
		}

		status.Checks[check.Name()] = result
	}

	if !allHealthy {
		status.Status = "unhealthy"
		WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}

	WriteJSON(w, http.StatusOK, status)
}

// HandleAPIHealth 处理 /api/health 请求
//
// 服务本身可用时总是返回 200，检测器不可用时 status 为 degraded。
func (h *HealthHandler) HandleAPIHealth(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	probe := h.detector
	h.mu.RUnlock()

	resp := APIHealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Detector:  DetectorStatus{OK: true, Message: "not configured"},
	}

	if probe != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		msg, err := probe.Check(ctx)
		resp.Detector = DetectorStatus{OK: err == nil, Message: msg}
		if err != nil {
			resp.Status = "degraded"
			if resp.Detector.Message == "" {
				resp.Detector.Message = err.Error()
			}
			h.logger.Warn("detector health check failed", zap.Error(err))
		}
	}

	WriteJSON(w, http.StatusOK, resp)
}

// HandleVersion 处理 /version 请求
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// =============================================================================
// 🔧 内置健康检查实现
// =============================================================================

// FuncHealthCheck 以函数实现的健康检查
type FuncHealthCheck struct {
	name  string
	check func(ctx context.Context) error
}

// NewRedisHealthCheck 创建 Redis 健康检查
func NewRedisHealthCheck(name string, ping func(ctx context.Context) error) *FuncHealthCheck {
	return &FuncHealthCheck{name: name, check: ping}
}

// NewDetectorHealthCheck 把 DetectorProbe 适配为就绪检查
func NewDetectorHealthCheck(name string, probe DetectorProbe) *FuncHealthCheck {
	return &FuncHealthCheck{
		name: name,
		check: func(ctx context.Context) error {
			_, err := probe.Check(ctx)
			return err
		},
	}
}

func (c *FuncHealthCheck) Name() string {
	return c.name
}

func (c *FuncHealthCheck) Check(ctx context.Context) error {
	return c.check(ctx)
}
