package cache

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/maskflow/types"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Manager 测试
// =============================================================================

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Manager) {
	t.Helper()
	mr := miniredis.RunT(t)

	config := DefaultConfig()
	config.Addr = mr.Addr()
	config.DefaultTTL = time.Minute

	manager, err := NewManager(context.Background(), config, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	return mr, manager
}

func TestNewManager_ConnectionFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	config := DefaultConfig()
	config.Addr = addr
	config.MaxRetries = -1

	_, err := NewManager(context.Background(), config, zap.NewNop())
	assert.Error(t, err)
}

func TestManager_SetAndGet(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "k", "v", time.Minute))

	value, err := manager.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)

	_, err = manager.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, manager.Delete(ctx, "k"))
	_, err = manager.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestManager_DefaultTTL(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "k", "v", 0))
	assert.Equal(t, time.Minute, mr.TTL("k"))

	manager.SetTTL(5 * time.Second)
	require.NoError(t, manager.Set(ctx, "k2", "v", 0))
	assert.Equal(t, 5*time.Second, mr.TTL("k2"))

	mr.FastForward(6 * time.Second)
	_, err := manager.Get(ctx, "k2")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestManager_ResultRoundTrip(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	result := &types.DetectionResult{
		Success:    true,
		Detections: []types.Detection{{X1: 1, Y1: 1, X2: 10, Y2: 10, Confidence: 0.93, Class: 0, Label: "Maskeli", Color: "#22C55E"}},
		Stats:      &types.DetectionStats{Total: 1, Masked: 1, MaskRate: 100},
	}

	_, err := manager.GetResult(ctx, "aW1hZ2U=")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, manager.SetResult(ctx, "aW1hZ2U=", result))

	got, err := manager.GetResult(ctx, "aW1hZ2U=")
	require.NoError(t, err)
	assert.Equal(t, result, got)
}

func TestManager_FailedResultNotCached(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.SetResult(ctx, "img", types.FailedResult("timeout")))
	assert.False(t, mr.Exists(manager.ResultKey("img")))
}

func TestManager_CorruptEntryIsMiss(t *testing.T) {
	mr, manager := setupTestRedis(t)

	require.NoError(t, mr.Set(manager.ResultKey("img"), "{not json"))
	_, err := manager.GetResult(context.Background(), "img")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestManager_ResultKey(t *testing.T) {
	_, manager := setupTestRedis(t)

	a := manager.ResultKey("AAAA")
	assert.Equal(t, a, manager.ResultKey("AAAA"))
	assert.NotEqual(t, a, manager.ResultKey("BBBB"))
	assert.Contains(t, a, "maskflow:result:")
	assert.Len(t, a, len("maskflow:result:")+64)
}

func TestManager_Closed(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Ping(ctx))
	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())

	_, err := manager.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, manager.Set(ctx, "k", "v", 0), ErrClosed)
	assert.ErrorIs(t, manager.Ping(ctx), ErrClosed)
}
