package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/BaSui01/maskflow/api/handlers"
	"github.com/BaSui01/maskflow/config"
	"github.com/BaSui01/maskflow/inference"
	"github.com/BaSui01/maskflow/internal/cache"
	"github.com/BaSui01/maskflow/internal/logging"
	"github.com/BaSui01/maskflow/internal/metrics"
	"github.com/BaSui01/maskflow/internal/server"
	"github.com/BaSui01/maskflow/internal/telemetry"
	"github.com/BaSui01/maskflow/stream"
	"github.com/BaSui01/maskflow/types"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// legacyStreamPath 前端旧版本使用的流式路径
const legacyStreamPath = "/ws/stream"

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 MaskFlow 的主服务器
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *logging.Logger
	namespace  string

	// 检测链路
	collector *metrics.Collector
	backend   inference.Backend
	gateway   *inference.Gateway
	cache     *cache.Manager

	// Handlers
	detectHandler *handlers.DetectHandler
	healthHandler *handlers.HealthHandler
	sessions      *stream.Manager
	router        http.Handler

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	hotReload *config.HotReloadManager
	telemetry *telemetry.Providers

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, configPath string, logger *logging.Logger) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		namespace:  "maskflow",
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务，非阻塞
func (s *Server) Start(ctx context.Context) error {
	providers, err := telemetry.Init(ctx, s.cfg.Telemetry, Version, s.logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	s.telemetry = providers

	if err := s.initComponents(ctx); err != nil {
		return fmt.Errorf("failed to init components: %w", err)
	}

	if err := s.initHotReloadManager(ctx); err != nil {
		return fmt.Errorf("failed to init hot reload manager: %w", err)
	}

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.String("addr", s.httpManager.Addr()),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("stream_path", s.cfg.Stream.Path),
		zap.String("detector_backend", s.backend.Name()),
		zap.Bool("tls", s.httpManager.TLSEnabled()),
		zap.Bool("hot_reload_enabled", s.configPath != ""),
	)
	return nil
}

// initComponents 构建检测链路、handlers 与路由
func (s *Server) initComponents(ctx context.Context) error {
	logger := s.logger.Logger

	s.collector = metrics.NewCollector(s.namespace, logger)

	backend, err := inference.NewBackend(s.cfg.Detector, logger)
	if err != nil {
		return err
	}
	s.backend = backend
	s.gateway = inference.NewGateway(backend,
		inference.WithMaxConcurrent(s.cfg.Detector.MaxConcurrent),
		inference.WithGatewayMetrics(s.collector),
		inference.WithGatewayLogger(logger),
	)

	// 一次性上传路径可选结果缓存，流式帧不缓存
	var uploads inference.Inferer = s.gateway
	if s.cfg.Cache.Enabled {
		c, err := cache.NewManager(ctx, cache.Config{
			Addr:       s.cfg.Cache.Addr,
			Password:   s.cfg.Cache.Password,
			DB:         s.cfg.Cache.DB,
			PoolSize:   s.cfg.Cache.PoolSize,
			MaxRetries: cache.DefaultConfig().MaxRetries,
			DefaultTTL: s.cfg.Cache.TTL,
			KeyPrefix:  s.cfg.Cache.KeyPrefix,
		}, logger)
		if err != nil {
			s.logger.Warn("Result cache unavailable, continuing without it", zap.Error(err))
		} else {
			s.cache = c
			uploads = inference.NewCachedGateway(s.gateway, c, s.collector, logger)
		}
	}

	s.detectHandler = handlers.NewDetectHandler(uploads, handlers.DetectConfig{
		MaxUploadBytes: s.cfg.Server.MaxUploadBytes,
		MaxJSONBytes:   s.cfg.Server.MaxJSONBytes,
		Timeout:        s.cfg.Detector.UploadTimeout,
	}, logger)

	s.healthHandler = handlers.NewHealthHandler(logger)
	s.healthHandler.SetDetector(s.gateway)
	s.healthHandler.RegisterCheck(handlers.NewDetectorHealthCheck("detector", s.gateway))
	if s.cache != nil {
		s.healthHandler.RegisterCheck(handlers.NewRedisHealthCheck("redis", s.cache.Ping))
	}

	s.sessions = stream.NewManager(s.gateway, stream.ManagerConfig{
		Timeout:            s.cfg.Detector.StreamTimeout,
		CancelOnDisconnect: s.cfg.Stream.CancelOnDisconnect,
		MaxSessions:        s.cfg.Stream.MaxSessions,
	},
		stream.WithManagerMetrics(s.collector),
		stream.WithManagerLogger(logger),
	)

	s.router = s.buildRouter()

	s.logger.Info("Handlers initialized",
		zap.Bool("result_cache", s.cache != nil),
		zap.Int("max_sessions", s.cfg.Stream.MaxSessions),
	)
	return nil
}

// streamPaths 返回注册 WebSocket 的所有路径
func (s *Server) streamPaths() []string {
	paths := []string{s.cfg.Stream.Path}
	if s.cfg.Stream.Path != legacyStreamPath {
		paths = append(paths, legacyStreamPath)
	}
	return paths
}

// buildRouter 注册路由并构建中间件链
func (s *Server) buildRouter() http.Handler {
	logger := s.logger.Logger
	router := mux.NewRouter()
	router.Use(MetricsMiddleware(s.collector))

	// ========================================
	// 服务描述与健康检查
	// ========================================
	router.HandleFunc("/", handlers.HandleRoot(Version, s.cfg.Stream.Path)).Methods(http.MethodGet)
	router.HandleFunc("/health", s.healthHandler.HandleHealth).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.healthHandler.HandleHealthz).Methods(http.MethodGet)
	router.HandleFunc("/ready", s.healthHandler.HandleReady).Methods(http.MethodGet)
	router.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit)).Methods(http.MethodGet)

	// ========================================
	// 检测 API
	// ========================================
	bodyLimit := s.cfg.Server.MaxJSONBytes
	if upload := s.cfg.Server.MaxUploadBytes + 1<<20; upload > bodyLimit {
		bodyLimit = upload
	}
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.healthHandler.HandleAPIHealth).Methods(http.MethodGet)
	limit := BodyLimit(bodyLimit)
	api.Handle("/detect", limit(http.HandlerFunc(s.detectHandler.HandleDetect))).Methods(http.MethodPost)
	api.Handle("/detect/base64", limit(http.HandlerFunc(s.detectHandler.HandleDetectBase64))).Methods(http.MethodPost)

	// ========================================
	// 实时检测流
	// ========================================
	streamHandler := stream.NewHandler(s.sessions, stream.HandlerConfig{
		ReadLimit:         s.cfg.Stream.ReadLimit,
		KeepaliveInterval: s.cfg.Stream.KeepaliveInterval,
		OriginPatterns:    s.cfg.Stream.OriginPatterns,
	}, logger)
	for _, p := range s.streamPaths() {
		router.Handle(p, streamHandler).Methods(http.MethodGet)
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteErrorMessage(w, r, http.StatusNotFound, types.ErrInvalidRequest, "not found", nil)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteErrorMessage(w, r, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", nil)
	})

	// ========================================
	// 构建中间件链
	// ========================================
	exempt := append([]string{"/health", "/healthz", "/ready", "/version", "/api/health"}, s.streamPaths()...)
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	return Chain(router,
		Recovery(logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(logger),
		OTelTracing(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, exempt, logger),
	)
}

// initHotReloadManager 初始化热更新管理器
func (s *Server) initHotReloadManager(ctx context.Context) error {
	opts := []config.HotReloadOption{
		config.WithHotReloadLogger(s.logger.Logger),
	}
	if s.configPath != "" {
		opts = append(opts, config.WithConfigPath(s.configPath))
	}

	s.hotReload = config.NewHotReloadManager(s.cfg, opts...)
	s.hotReload.OnReload(s.applyHotConfig)

	return s.hotReload.Start(ctx)
}

// applyHotConfig 应用无需重启的配置项
func (s *Server) applyHotConfig(oldCfg, newCfg *config.Config) {
	if oldCfg.Log.Level != newCfg.Log.Level {
		if err := s.logger.SetLevel(newCfg.Log.Level); err != nil {
			s.logger.Warn("Ignoring invalid log level", zap.String("level", newCfg.Log.Level), zap.Error(err))
		}
	}
	s.detectHandler.SetTimeout(newCfg.Detector.UploadTimeout)

	settings := s.sessions.Settings()
	settings.SetTimeout(newCfg.Detector.StreamTimeout)
	settings.SetCancelOnDisconnect(newCfg.Stream.CancelOnDisconnect)

	if s.cache != nil {
		s.cache.SetTTL(newCfg.Cache.TTL)
	}

	s.logger.Info("Configuration reloaded",
		zap.Duration("upload_timeout", s.detectHandler.Timeout()),
		zap.Duration("stream_timeout", settings.Timeout()),
		zap.Bool("cancel_on_disconnect", settings.CancelOnDisconnect()),
	)
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 API 服务器
func (s *Server) startHTTPServer() error {
	serverConfig := server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     s.cfg.Server.IdleTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
		TLSCertFile:     s.cfg.Server.TLSCertFile,
		TLSKeyFile:      s.cfg.Server.TLSKeyFile,
	}

	s.httpManager = server.NewManager(s.router, serverConfig, s.logger.Logger)
	s.httpManager.RegisterOnShutdown(s.rateLimiterCancel)

	return s.httpManager.Start()
}

// startMetricsServer 启动 Metrics 服务器，端口为 0 时跳过
func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		s.logger.Info("Metrics server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger.Logger)
	return s.metricsManager.Start()
}

// =============================================================================
// 🛑 运行与关闭
// =============================================================================

// Run 阻塞直到 ctx 结束或任一服务器异常退出
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.httpManager.Wait(gctx) })
	if s.metricsManager != nil {
		g.Go(func() error { return s.metricsManager.Wait(gctx) })
	}
	return g.Wait()
}

// Shutdown 优雅关闭所有服务
//
// 先关闭实时会话：升级后的连接不受 http.Server.Shutdown 管理。
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Starting graceful shutdown...")

	var err error
	if s.hotReload != nil {
		err = multierr.Append(err, s.hotReload.Stop())
	}
	if s.sessions != nil {
		err = multierr.Append(err, s.sessions.CloseAll(ctx))
	}
	if s.httpManager != nil {
		err = multierr.Append(err, s.httpManager.Shutdown(ctx))
	}
	if s.metricsManager != nil {
		err = multierr.Append(err, s.metricsManager.Shutdown(ctx))
	}
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.cache != nil {
		err = multierr.Append(err, s.cache.Close())
	}
	if s.telemetry != nil {
		err = multierr.Append(err, s.telemetry.Shutdown(ctx))
	}

	if err != nil {
		s.logger.Error("Graceful shutdown finished with errors", zap.Error(err))
		return err
	}
	s.logger.Info("Graceful shutdown completed")
	return nil
}
