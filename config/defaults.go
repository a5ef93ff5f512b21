// =============================================================================
// 📦 MaskFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// Detector backends.
const (
	BackendProcess = "process"
	BackendHTTP    = "http"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Detector:  DefaultDetectorConfig(),
		Stream:    DefaultStreamConfig(),
		Cache:     DefaultCacheConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:           8080,
		MetricsPort:        9091,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       60 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		CORSAllowedOrigins: []string{"http://localhost:5173", "http://localhost:3000"},
		RateLimitRPS:       50,
		RateLimitBurst:     100,
		MaxUploadBytes:     10 << 20,
		MaxJSONBytes:       50 << 20,
	}
}

// DefaultDetectorConfig 返回默认检测器配置
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Backend:       BackendProcess,
		Command:       "python",
		Args:          []string{"detector.py"},
		WorkDir:       "inference",
		HealthArgs:    []string{"--version"},
		UploadTimeout: 30 * time.Second,
		StreamTimeout: 5 * time.Second,
		KillGrace:     2 * time.Second,
		MaxConcurrent: 0,
	}
}

// DefaultStreamConfig 返回默认流式会话配置
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Path:               "/ws",
		ReadLimit:          16 << 20,
		MaxSessions:        0,
		KeepaliveInterval:  30 * time.Second,
		CancelOnDisconnect: false,
		OriginPatterns:     []string{"localhost:5173", "localhost:3000"},
	}
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:   false,
		Addr:      "localhost:6379",
		DB:        0,
		PoolSize:  10,
		TTL:       10 * time.Minute,
		KeyPrefix: "maskflow:result:",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
		File: LogFileConfig{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
			Compress:   true,
		},
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		ServiceName:  "maskflow",
		SampleRate:   0.1,
	}
}
