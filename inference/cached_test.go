package inference

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/maskflow/internal/cache"
	"github.com/BaSui01/maskflow/types"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 CachedGateway 测试
// =============================================================================

func newTestCache(t *testing.T) *cache.Manager {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := cache.DefaultConfig()
	cfg.Addr = mr.Addr()
	m, err := cache.NewManager(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// countingInferer 记录调用次数
type countingInferer struct {
	calls  atomic.Int32
	delay  time.Duration
	result func() *types.DetectionResult
}

func (c *countingInferer) Infer(_ context.Context, _ string, _ time.Duration) *types.DetectionResult {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return c.result()
}

func TestCachedGateway_HitSkipsDetector(t *testing.T) {
	next := &countingInferer{result: okResult}
	g := NewCachedGateway(next, newTestCache(t), nil, zap.NewNop())

	first := g.Infer(context.Background(), "QUJD", time.Second)
	second := g.Infer(context.Background(), "QUJD", time.Second)

	assert.True(t, first.Success)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), next.calls.Load())

	g.Infer(context.Background(), "REVG", time.Second)
	assert.Equal(t, int32(2), next.calls.Load())
}

func TestCachedGateway_FailuresAreNotCached(t *testing.T) {
	next := &countingInferer{result: func() *types.DetectionResult { return types.FailedResult(MsgTimeout) }}
	g := NewCachedGateway(next, newTestCache(t), nil, zap.NewNop())

	for i := 0; i < 3; i++ {
		res := g.Infer(context.Background(), "QUJD", time.Second)
		assert.Equal(t, MsgTimeout, res.Error)
	}
	assert.Equal(t, int32(3), next.calls.Load())
}

func TestCachedGateway_CollapsesConcurrentIdenticalCalls(t *testing.T) {
	next := &countingInferer{result: okResult, delay: 100 * time.Millisecond}
	g := NewCachedGateway(next, newTestCache(t), nil, zap.NewNop())

	var wg sync.WaitGroup
	results := make([]*types.DetectionResult, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = g.Infer(context.Background(), "QUJD", time.Second)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), next.calls.Load())
	for _, r := range results {
		assert.True(t, r.Success)
	}
}
