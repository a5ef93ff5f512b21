package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHotReloadManager_ApplyConfig(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig(), WithHotReloadLogger(zap.NewNop()))

	var gotOld, gotNew *Config
	m.OnReload(func(oldConfig, newConfig *Config) {
		gotOld, gotNew = oldConfig, newConfig
	})

	next := DefaultConfig()
	next.Detector.StreamTimeout = 3 * time.Second
	next.Log.Level = "debug"

	require.NoError(t, m.ApplyConfig(next))
	assert.Equal(t, 2, m.Version())
	assert.Same(t, next, m.Config())
	require.NotNil(t, gotOld)
	assert.Equal(t, 5*time.Second, gotOld.Detector.StreamTimeout)
	assert.Equal(t, 3*time.Second, gotNew.Detector.StreamTimeout)
}

func TestHotReloadManager_RejectsInvalidConfig(t *testing.T) {
	current := DefaultConfig()
	m := NewHotReloadManager(current)

	called := false
	m.OnReload(func(*Config, *Config) { called = true })

	bad := DefaultConfig()
	bad.Detector.StreamTimeout = 0

	require.Error(t, m.ApplyConfig(bad))
	assert.Same(t, current, m.Config())
	assert.Equal(t, 1, m.Version())
	assert.False(t, called)
}

func TestHotReloadManager_ValidateFunc(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig(), WithValidateFunc(func(c *Config) error {
		if c.Detector.Backend != BackendProcess {
			return errors.New("backend switch needs restart")
		}
		return nil
	}))

	next := DefaultConfig()
	next.Detector.Backend = BackendHTTP
	next.Detector.ModelServerURL = "http://localhost:8000"

	err := m.ApplyConfig(next)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend switch")
}

func TestHotReloadManager_NoChanges(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig())
	calls := 0
	m.OnReload(func(*Config, *Config) { calls++ })

	require.NoError(t, m.ApplyConfig(DefaultConfig()))
	assert.Equal(t, 1, m.Version())
	assert.Zero(t, calls)
}

func TestHotReloadManager_CallbackPanicRecovered(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig())
	m.OnReload(func(*Config, *Config) { panic("boom") })

	next := DefaultConfig()
	next.Log.Level = "warn"

	err := m.ApplyConfig(next)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestDetectChanges(t *testing.T) {
	oldCfg := DefaultConfig()
	newCfg := DefaultConfig()
	newCfg.Log.Level = "debug"
	newCfg.Server.HTTPPort = 9000
	newCfg.Cache.Password = "secret"

	changes := detectChanges(oldCfg, newCfg)
	byPath := map[string]ConfigChange{}
	for _, c := range changes {
		byPath[c.Path] = c
	}

	require.Len(t, changes, 3)
	assert.False(t, byPath["Log.Level"].RequiresRestart)
	assert.True(t, byPath["Server.HTTPPort"].RequiresRestart)
	assert.Contains(t, byPath, "Cache.Password")
	assert.True(t, IsHotReloadable("Detector.StreamTimeout"))
	assert.False(t, IsHotReloadable("Detector.Command"))
}

func TestHotReloadManager_ReloadsOnFileChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maskflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: info\n"), 0644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	m := NewHotReloadManager(cfg,
		WithConfigPath(path),
		WithWatcherOptions(WithDebounceDelay(20*time.Millisecond)),
	)

	var reloaded atomic.Int32
	m.OnReload(func(_, newConfig *Config) {
		if newConfig.Log.Level == "debug" {
			reloaded.Add(1)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0644))

	assert.Eventually(t, func() bool { return reloaded.Load() >= 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "debug", m.Config().Log.Level)

	// 写入非法配置，旧配置保留
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: shout\n"), 0644))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, "debug", m.Config().Log.Level)
}

func TestHotReloadManager_StartWithoutPath(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig())
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop())
	assert.Error(t, m.ReloadFromFile())
}
