// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 会话指标
	sessionsActive  prometheus.Gauge
	sessionsTotal   *prometheus.CounterVec
	framesReceived  prometheus.Counter
	framesDropped   prometheus.Counter
	framesProcessed *prometheus.CounterVec

	// 推理指标
	inferenceTotal    *prometheus.CounterVec
	inferenceDuration *prometheus.HistogramVec
	inferenceInflight *prometheus.GaugeVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 7),
		},
		[]string{"method", "path"},
	)

	// 会话指标
	c.sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_sessions_active",
			Help:      "Number of live stream sessions",
		},
	)

	c.sessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_sessions_total",
			Help:      "Total number of stream sessions by result",
		},
		[]string{"result"},
	)

	c.framesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_frames_received_total",
			Help:      "Total number of frames received from stream clients",
		},
	)

	c.framesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_frames_dropped_total",
			Help:      "Total number of pending frames overwritten or discarded",
		},
	)

	c.framesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_frames_processed_total",
			Help:      "Total number of frames dispatched to inference by emitted message type",
		},
		[]string{"type"},
	)

	// 推理指标
	c.inferenceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_requests_total",
			Help:      "Total number of inference calls by outcome",
		},
		[]string{"backend", "source", "outcome"},
	)

	c.inferenceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Inference call duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"backend", "source"},
	)

	c.inferenceInflight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inference_inflight",
			Help:      "Number of inference calls currently running",
		},
		[]string{"backend"},
	)

	// 缓存指标
	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 📡 会话指标记录
// =============================================================================

// SessionOpened 记录会话建立
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Inc()
	c.sessionsTotal.WithLabelValues("accepted").Inc()
}

// SessionClosed 记录会话结束
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Dec()
}

// SessionRejected 记录因容量被拒绝的会话
func (c *Collector) SessionRejected() {
	if c == nil {
		return
	}
	c.sessionsTotal.WithLabelValues("rejected").Inc()
}

// RecordFrameReceived 记录收到一帧
func (c *Collector) RecordFrameReceived() {
	if c == nil {
		return
	}
	c.framesReceived.Inc()
}

// RecordFrameDropped 记录被覆盖或丢弃的待处理帧
func (c *Collector) RecordFrameDropped() {
	if c == nil {
		return
	}
	c.framesDropped.Inc()
}

// RecordFrameProcessed 记录一帧处理完毕，msgType 为 detection 或 error
func (c *Collector) RecordFrameProcessed(msgType string) {
	if c == nil {
		return
	}
	c.framesProcessed.WithLabelValues(msgType).Inc()
}

// =============================================================================
// 🧠 推理指标记录
// =============================================================================

// RecordInference 记录一次推理调用
func (c *Collector) RecordInference(backend, source, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.inferenceTotal.WithLabelValues(backend, source, outcome).Inc()
	c.inferenceDuration.WithLabelValues(backend, source).Observe(duration.Seconds())
}

// InferenceStarted 推理开始，返回结束回调
func (c *Collector) InferenceStarted(backend string) func() {
	if c == nil {
		return func() {}
	}
	g := c.inferenceInflight.WithLabelValues(backend)
	g.Inc()
	return g.Dec
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	if c == nil {
		return
	}
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
