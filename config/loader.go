// =============================================================================
// 📦 MaskFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("maskflow.yaml").
//	    WithEnvPrefix("MASKFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix 环境变量默认前缀
const DefaultEnvPrefix = "MASKFLOW"

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 MaskFlow 的完整配置结构
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Detector 外部检测器配置
	Detector DetectorConfig `yaml:"detector" env:"DETECTOR"`

	// Stream 流式会话配置
	Stream StreamConfig `yaml:"stream" env:"STREAM"`

	// Cache 一次性检测结果缓存
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口，0 表示不启动
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时，需覆盖一次性检测的最长耗时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 空闲连接超时
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// CORS 允许的来源
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// 每 IP 每秒请求数，0 表示不限流
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限流突发量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// multipart 上传大小上限
	MaxUploadBytes int64 `yaml:"max_upload_bytes" env:"MAX_UPLOAD_BYTES"`
	// JSON 请求体大小上限（base64 图像）
	MaxJSONBytes int64 `yaml:"max_json_bytes" env:"MAX_JSON_BYTES"`
	// TLS 证书与私钥，均设置时启用 HTTPS
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// DetectorConfig 外部检测器配置
type DetectorConfig struct {
	// 后端类型: process, http
	Backend string `yaml:"backend" env:"BACKEND"`
	// 可执行文件（process 后端）
	Command string `yaml:"command" env:"COMMAND"`
	// 命令参数
	Args []string `yaml:"args" env:"ARGS"`
	// 工作目录
	WorkDir string `yaml:"work_dir" env:"WORK_DIR"`
	// 额外环境变量（KEY=VALUE）
	Env []string `yaml:"env" env:"ENV"`
	// 健康检查参数，默认 --version
	HealthArgs []string `yaml:"health_args" env:"HEALTH_ARGS"`
	// 模型服务地址（http 后端）
	ModelServerURL string `yaml:"model_server_url" env:"MODEL_SERVER_URL"`
	// 一次性上传的推理超时
	UploadTimeout time.Duration `yaml:"upload_timeout" env:"UPLOAD_TIMEOUT"`
	// 流式帧的推理超时
	StreamTimeout time.Duration `yaml:"stream_timeout" env:"STREAM_TIMEOUT"`
	// SIGTERM 之后强制 kill 的宽限期
	KillGrace time.Duration `yaml:"kill_grace" env:"KILL_GRACE"`
	// 全局并发上限，0 表示不限制
	MaxConcurrent int `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
}

// StreamConfig 流式会话配置
type StreamConfig struct {
	// WebSocket 路径
	Path string `yaml:"path" env:"PATH"`
	// 单条消息大小上限
	ReadLimit int64 `yaml:"read_limit" env:"READ_LIMIT"`
	// 最大会话数，0 表示不限制
	MaxSessions int `yaml:"max_sessions" env:"MAX_SESSIONS"`
	// WebSocket ping 间隔，0 表示关闭
	KeepaliveInterval time.Duration `yaml:"keepalive_interval" env:"KEEPALIVE_INTERVAL"`
	// 断开连接时取消进行中的推理
	CancelOnDisconnect bool `yaml:"cancel_on_disconnect" env:"CANCEL_ON_DISCONNECT"`
	// 允许的 Origin 模式
	OriginPatterns []string `yaml:"origin_patterns" env:"ORIGIN_PATTERNS"`
}

// CacheConfig Redis 结果缓存配置
type CacheConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 结果有效期
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
	// 滚动日志文件
	File LogFileConfig `yaml:"file" env:"FILE"`
}

// LogFileConfig 滚动日志文件配置，Filename 为空时不写文件
type LogFileConfig struct {
	Filename   string `yaml:"filename" env:"FILENAME"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"max_age_days" env:"MAX_AGE_DAYS"`
	Compress   bool   `yaml:"compress" env:"COMPRESS"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 是否使用明文 gRPC
	Insecure bool `yaml:"insecure" env:"INSECURE"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  DefaultEnvPrefix,
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置，文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// TLSEnabled 是否配置了 HTTPS
func (c *ServerConfig) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// Validate 验证配置，返回所有问题
func (c *Config) Validate() error {
	var errs []error

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, errors.New("invalid HTTP port"))
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, errors.New("invalid metrics port"))
	}
	if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.HTTPPort {
		errs = append(errs, errors.New("metrics port must differ from HTTP port"))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("max_upload_bytes must be positive"))
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, errors.New("tls_cert_file and tls_key_file must be set together"))
	}
	if c.Server.WriteTimeout > 0 && c.Server.WriteTimeout < c.Detector.UploadTimeout {
		errs = append(errs, errors.New("server write_timeout must not be shorter than detector upload_timeout"))
	}

	switch c.Detector.Backend {
	case BackendProcess:
		if c.Detector.Command == "" {
			errs = append(errs, errors.New("detector command is required for process backend"))
		}
	case BackendHTTP:
		if c.Detector.ModelServerURL == "" {
			errs = append(errs, errors.New("detector model_server_url is required for http backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown detector backend %q", c.Detector.Backend))
	}
	if c.Detector.UploadTimeout <= 0 {
		errs = append(errs, errors.New("detector upload_timeout must be positive"))
	}
	if c.Detector.StreamTimeout <= 0 {
		errs = append(errs, errors.New("detector stream_timeout must be positive"))
	}
	if c.Detector.KillGrace < 0 {
		errs = append(errs, errors.New("detector kill_grace must not be negative"))
	}
	if c.Detector.MaxConcurrent < 0 {
		errs = append(errs, errors.New("detector max_concurrent must not be negative"))
	}

	if !strings.HasPrefix(c.Stream.Path, "/") {
		errs = append(errs, errors.New("stream path must start with /"))
	}
	if c.Stream.ReadLimit <= 0 {
		errs = append(errs, errors.New("stream read_limit must be positive"))
	}
	if c.Stream.MaxSessions < 0 {
		errs = append(errs, errors.New("stream max_sessions must not be negative"))
	}

	if c.Cache.Enabled && c.Cache.Addr == "" {
		errs = append(errs, errors.New("cache addr is required when cache is enabled"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Log.Level))
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, errors.New("telemetry sample_rate must be between 0 and 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %w", errors.Join(errs...))
	}

	return nil
}
