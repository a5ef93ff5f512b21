package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/maskflow/internal/ctxkeys"
	"github.com/BaSui01/maskflow/internal/metrics"
	"github.com/BaSui01/maskflow/internal/telemetry"
	"github.com/BaSui01/maskflow/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Outcome 单次推理调用的终态
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeTimeout      Outcome = "timeout"
	OutcomeProcessError Outcome = "process_error"
	OutcomeParseError   Outcome = "parse_error"
	OutcomeStartupError Outcome = "startup_error"
	OutcomeCanceled     Outcome = "canceled"
	OutcomeInternal     Outcome = "internal_error"
)

// Inferer 把一张图像变成一个检测结果，从不返回 error
type Inferer interface {
	Infer(ctx context.Context, image string, timeout time.Duration) *types.DetectionResult
}

// Response 推理调用的完整结果
type Response struct {
	Result   *types.DetectionResult
	Outcome  Outcome
	Duration time.Duration
}

// =============================================================================
// 🚪 推理网关
// =============================================================================

// Gateway 在 Backend 之上施加硬超时，并把失败转换为结构化结果
type Gateway struct {
	backend Backend
	sem     *semaphore.Weighted
	metrics *metrics.Collector
	tracer  trace.Tracer
	// latency OTel 直方图，与 Prometheus 指标并存，遥测关闭时为 noop
	latency metric.Float64Histogram
	logger  *zap.Logger
}

// GatewayOption 配置 Gateway
type GatewayOption func(*Gateway)

// WithMaxConcurrent 限制所有会话的并发调用数，n <= 0 表示不限制
func WithMaxConcurrent(n int) GatewayOption {
	return func(g *Gateway) {
		if n > 0 {
			g.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithGatewayMetrics 设置指标收集器
func WithGatewayMetrics(c *metrics.Collector) GatewayOption {
	return func(g *Gateway) {
		g.metrics = c
	}
}

// WithGatewayLogger 设置记录器
func WithGatewayLogger(logger *zap.Logger) GatewayOption {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithTracer 设置 tracer，默认使用全局 provider
func WithTracer(tracer trace.Tracer) GatewayOption {
	return func(g *Gateway) {
		g.tracer = tracer
	}
}

// NewGateway 创建推理网关
func NewGateway(backend Backend, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		backend: backend,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.tracer == nil {
		g.tracer = telemetry.Tracer()
	}
	if h, err := telemetry.Meter().Float64Histogram("maskflow.inference.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Detector call latency by outcome")); err == nil {
		g.latency = h
	}
	g.logger = g.logger.With(zap.String("component", "gateway"), zap.String("backend", backend.Name()))
	return g
}

// Backend 返回底层检测器后端
func (g *Gateway) Backend() Backend {
	return g.backend
}

// Infer 实现 Inferer
func (g *Gateway) Infer(ctx context.Context, image string, timeout time.Duration) *types.DetectionResult {
	return g.Call(ctx, image, timeout).Result
}

// Call 执行一次推理，最迟在 timeout 之后（加上很小的调度开销）返回
// 即使后端忽略 ctx，调用方也不会被阻塞
func (g *Gateway) Call(ctx context.Context, image string, timeout time.Duration) Response {
	start := time.Now()
	source := ctxkeys.Source(ctx)

	ctx, span := g.tracer.Start(ctx, "inference.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("inference.backend", g.backend.Name()),
			attribute.String("inference.source", source),
			attribute.Int("inference.image_bytes", len(image)),
			attribute.Int64("inference.timeout_ms", timeout.Milliseconds()),
		))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, outcome := g.invoke(ctx, image)
	duration := time.Since(start)

	span.SetAttributes(attribute.String("inference.outcome", string(outcome)))
	if outcome != OutcomeSuccess {
		span.SetStatus(codes.Error, result.Error)
	}
	g.metrics.RecordInference(g.backend.Name(), source, string(outcome), duration)
	if g.latency != nil {
		g.latency.Record(ctx, duration.Seconds(), metric.WithAttributes(
			attribute.String("backend", g.backend.Name()),
			attribute.String("source", source),
			attribute.String("outcome", string(outcome)),
		))
	}

	fields := []zap.Field{
		zap.String("source", source),
		zap.String("outcome", string(outcome)),
		zap.Duration("duration", duration),
	}
	if id, ok := ctxkeys.SessionID(ctx); ok {
		fields = append(fields, zap.String("session_id", id))
	}
	if id, ok := ctxkeys.RequestID(ctx); ok {
		fields = append(fields, zap.String("request_id", id))
	}
	if outcome == OutcomeSuccess {
		g.logger.Debug("inference finished", fields...)
	} else {
		g.logger.Warn("inference failed", append(fields, zap.String("error", result.Error))...)
	}

	return Response{Result: result, Outcome: outcome, Duration: duration}
}

type backendReply struct {
	result *types.DetectionResult
	err    error
}

func (g *Gateway) invoke(ctx context.Context, image string) (*types.DetectionResult, Outcome) {
	release := func() {}
	if g.sem != nil {
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return contextResult(ctx)
		}
		release = func() { g.sem.Release(1) }
	}

	reply := make(chan backendReply, 1)
	go func() {
		// 槽位在后端返回后释放
		defer release()
		defer func() {
			if r := recover(); r != nil {
				g.logger.Error("detector backend panicked", zap.Any("panic", r))
				reply <- backendReply{err: types.NewError(types.ErrInternalError, MsgBackendPanic).
					WithCause(fmt.Errorf("panic: %v", r))}
			}
		}()
		done := g.metrics.InferenceStarted(g.backend.Name())
		defer done()

		res, err := g.backend.Detect(ctx, image)
		reply <- backendReply{result: res, err: err}
	}()

	select {
	case r := <-reply:
		return classify(r)
	case <-ctx.Done():
		return contextResult(ctx)
	}
}

// classify 把后端返回值映射为恰好一个结果
func classify(r backendReply) (*types.DetectionResult, Outcome) {
	if r.err == nil {
		if r.result == nil {
			return types.FailedResult(MsgEmptyResponse), OutcomeParseError
		}
		return r.result, OutcomeSuccess
	}

	e, ok := types.AsError(r.err)
	if !ok {
		return types.FailedResult(r.err.Error()), OutcomeProcessError
	}
	switch e.Code {
	case types.ErrTimeout:
		if errors.Is(e.Cause, context.Canceled) {
			return types.FailedResult(e.Message), OutcomeCanceled
		}
		return types.FailedResult(e.Message), OutcomeTimeout
	case types.ErrParseFailure:
		return types.FailedResult(e.Message), OutcomeParseError
	case types.ErrStartupFailure:
		return types.FailedResult(e.Message), OutcomeStartupError
	case types.ErrInternalError:
		return types.FailedResult(e.Message), OutcomeInternal
	default:
		return types.FailedResult(e.Message), OutcomeProcessError
	}
}

func contextResult(ctx context.Context) (*types.DetectionResult, Outcome) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return types.FailedResult(MsgTimeout), OutcomeTimeout
	}
	return types.FailedResult(MsgCanceled), OutcomeCanceled
}

// Check 探测后端状态
func (g *Gateway) Check(ctx context.Context) (string, error) {
	return g.backend.Check(ctx)
}
