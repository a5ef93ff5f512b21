package inference

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/BaSui01/maskflow/internal/cache"
	"github.com/BaSui01/maskflow/internal/metrics"
	"github.com/BaSui01/maskflow/types"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ResultCache 检测结果缓存
type ResultCache interface {
	GetResult(ctx context.Context, image string) (*types.DetectionResult, error)
	SetResult(ctx context.Context, image string, result *types.DetectionResult) error
}

// CachedGateway 一次性上传路径的结果缓存
//
// 相同图像的并发请求合并为一次检测器调用；只缓存成功结果。
type CachedGateway struct {
	next    Inferer
	cache   ResultCache
	group   singleflight.Group
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewCachedGateway 创建带缓存的网关
func NewCachedGateway(next Inferer, c ResultCache, collector *metrics.Collector, logger *zap.Logger) *CachedGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedGateway{
		next:    next,
		cache:   c,
		metrics: collector,
		logger:  logger.With(zap.String("component", "result_cache")),
	}
}

// Infer 实现 Inferer
func (c *CachedGateway) Infer(ctx context.Context, image string, timeout time.Duration) *types.DetectionResult {
	if res, err := c.cache.GetResult(ctx, image); err == nil {
		c.metrics.RecordCacheHit("redis")
		return res
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.Warn("cache lookup failed, falling through to detector", zap.Error(err))
	}
	c.metrics.RecordCacheMiss("redis")

	sum := sha256.Sum256([]byte(image))
	key := hex.EncodeToString(sum[:])

	// 共享调用不受发起者断开影响，仍由 timeout 约束
	shared := context.WithoutCancel(ctx)
	v, _, _ := c.group.Do(key, func() (any, error) {
		res := c.next.Infer(shared, image, timeout)
		if !res.Failed() {
			if err := c.cache.SetResult(shared, image, res); err != nil {
				c.logger.Warn("failed to store result", zap.Error(err))
			}
		}
		return res, nil
	})
	return v.(*types.DetectionResult)
}
