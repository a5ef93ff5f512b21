// 配置热重载管理器实现。
//
// 文件变更 → 重新加载 → 校验 → 应用 → 通知回调；校验失败时保留旧配置。
package config

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 热重载类型定义 ---

// HotReloadManager 管理配置热重载
type HotReloadManager struct {
	mu sync.RWMutex

	config     *Config
	configPath string
	version    int
	lastReload time.Time

	watcher      *FileWatcher
	watcherOpts  []WatcherOption
	validateFunc ValidateFunc

	reloadCallbacks []ReloadCallback

	logger *zap.Logger
}

// ReloadCallback 重新加载配置后调用
type ReloadCallback func(oldConfig, newConfig *Config)

// ValidateFunc 配置验证钩子函数
type ValidateFunc func(newConfig *Config) error

// ConfigChange 代表配置更改
type ConfigChange struct {
	Path            string `json:"path"`
	OldValue        any    `json:"old_value,omitempty"`
	NewValue        any    `json:"new_value,omitempty"`
	RequiresRestart bool   `json:"requires_restart"`
}

// --- 可热重载字段注册表 ---

// hotReloadableFields 无需重启即可生效的字段
var hotReloadableFields = map[string]bool{
	"Log.Level":                 true,
	"Detector.UploadTimeout":    true,
	"Detector.StreamTimeout":    true,
	"Stream.CancelOnDisconnect": true,
	"Cache.TTL":                 true,
}

// sensitiveFields 不写入日志的字段
var sensitiveFields = map[string]bool{
	"Cache.Password": true,
}

// IsHotReloadable 判断字段是否支持热重载
func IsHotReloadable(path string) bool {
	return hotReloadableFields[path]
}

// --- 热重载管理器选项 ---

// HotReloadOption 配置 HotReloadManager
type HotReloadOption func(*HotReloadManager)

// WithHotReloadLogger 设置记录器
func WithHotReloadLogger(logger *zap.Logger) HotReloadOption {
	return func(m *HotReloadManager) {
		m.logger = logger
	}
}

// WithConfigPath 设置配置文件路径
func WithConfigPath(path string) HotReloadOption {
	return func(m *HotReloadManager) {
		m.configPath = path
	}
}

// WithValidateFunc 设置额外的配置验证钩子
func WithValidateFunc(fn ValidateFunc) HotReloadOption {
	return func(m *HotReloadManager) {
		m.validateFunc = fn
	}
}

// WithWatcherOptions 透传文件监听器选项
func WithWatcherOptions(opts ...WatcherOption) HotReloadOption {
	return func(m *HotReloadManager) {
		m.watcherOpts = append(m.watcherOpts, opts...)
	}
}

// --- 热重载管理器实现 ---

// NewHotReloadManager 创建一个新的热重载管理器
func NewHotReloadManager(config *Config, opts ...HotReloadOption) *HotReloadManager {
	m := &HotReloadManager{
		config:  config,
		version: 1,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "hot_reload"))
	return m
}

// Start 启动文件监听；未配置文件路径时不做任何事
func (m *HotReloadManager) Start(ctx context.Context) error {
	if m.configPath == "" {
		m.logger.Info("no config path, hot reload disabled")
		return nil
	}

	opts := append([]WatcherOption{WithWatcherLogger(m.logger)}, m.watcherOpts...)
	watcher, err := NewFileWatcher(m.configPath, opts...)
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	watcher.OnChange(m.handleFileChange)
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("start file watcher: %w", err)
	}

	m.mu.Lock()
	m.watcher = watcher
	m.mu.Unlock()
	return nil
}

// Stop 停止热重载管理器
func (m *HotReloadManager) Stop() error {
	m.mu.Lock()
	watcher := m.watcher
	m.watcher = nil
	m.mu.Unlock()

	if watcher == nil {
		return nil
	}
	return watcher.Stop()
}

// handleFileChange 处理文件更改事件
func (m *HotReloadManager) handleFileChange(event FileEvent) {
	if event.Op == FileOpRemove || event.Op == FileOpRename {
		m.logger.Warn("config file removed, keeping current config", zap.String("path", event.Path))
		return
	}
	if err := m.ReloadFromFile(); err != nil {
		m.logger.Error("config reload failed, keeping current config", zap.Error(err))
	}
}

// ReloadFromFile 从文件重新加载配置
func (m *HotReloadManager) ReloadFromFile() error {
	if m.configPath == "" {
		return fmt.Errorf("no config path")
	}
	newConfig, err := NewLoader().WithConfigPath(m.configPath).Load()
	if err != nil {
		return err
	}
	return m.ApplyConfig(newConfig)
}

// ApplyConfig 校验并应用新配置，回调在锁外执行
func (m *HotReloadManager) ApplyConfig(newConfig *Config) error {
	if err := newConfig.Validate(); err != nil {
		return err
	}
	if m.validateFunc != nil {
		if err := m.validateFunc(newConfig); err != nil {
			return fmt.Errorf("config rejected: %w", err)
		}
	}

	m.mu.Lock()
	oldConfig := m.config
	changes := detectChanges(oldConfig, newConfig)
	if len(changes) == 0 {
		m.mu.Unlock()
		m.logger.Debug("config unchanged")
		return nil
	}
	m.config = newConfig
	m.version++
	m.lastReload = time.Now()
	callbacks := make([]ReloadCallback, len(m.reloadCallbacks))
	copy(callbacks, m.reloadCallbacks)
	version := m.version
	m.mu.Unlock()

	for _, change := range changes {
		m.logChange(change)
	}
	m.logger.Info("config reloaded", zap.Int("version", version), zap.Int("changes", len(changes)))

	return m.notifySafe(callbacks, oldConfig, newConfig)
}

// notifySafe 通知回调并捕获 panic
func (m *HotReloadManager) notifySafe(callbacks []ReloadCallback, oldConfig, newConfig *Config) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("reload callback panicked: %v", r)
		}
	}()
	for _, cb := range callbacks {
		cb(oldConfig, newConfig)
	}
	return nil
}

// detectChanges 检测新旧配置之间的变化
func detectChanges(oldConfig, newConfig *Config) []ConfigChange {
	var changes []ConfigChange
	compareStructs("", reflect.ValueOf(oldConfig).Elem(), reflect.ValueOf(newConfig).Elem(), &changes)
	return changes
}

// compareStructs 递归比较结构体字段
func compareStructs(prefix string, oldVal, newVal reflect.Value, changes *[]ConfigChange) {
	t := oldVal.Type()
	for i := 0; i < oldVal.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		fieldPath := field.Name
		if prefix != "" {
			fieldPath = prefix + "." + field.Name
		}

		oldField := oldVal.Field(i)
		newField := newVal.Field(i)

		if oldField.Kind() == reflect.Struct {
			compareStructs(fieldPath, oldField, newField, changes)
			continue
		}
		if !reflect.DeepEqual(oldField.Interface(), newField.Interface()) {
			*changes = append(*changes, ConfigChange{
				Path:            fieldPath,
				OldValue:        oldField.Interface(),
				NewValue:        newField.Interface(),
				RequiresRestart: !hotReloadableFields[fieldPath],
			})
		}
	}
}

// logChange 记录配置更改
func (m *HotReloadManager) logChange(change ConfigChange) {
	fields := []zap.Field{
		zap.String("path", change.Path),
		zap.Bool("requires_restart", change.RequiresRestart),
	}
	if !sensitiveFields[change.Path] {
		fields = append(fields,
			zap.Any("old_value", change.OldValue),
			zap.Any("new_value", change.NewValue),
		)
	}

	if change.RequiresRestart {
		m.logger.Warn("config changed, restart required to take effect", fields...)
		return
	}
	m.logger.Info("config changed", fields...)
}

// OnReload 注册配置重新加载的回调
func (m *HotReloadManager) OnReload(callback ReloadCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadCallbacks = append(m.reloadCallbacks, callback)
}

// Config 返回当前配置
func (m *HotReloadManager) Config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Version 返回当前配置版本号
func (m *HotReloadManager) Version() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}
