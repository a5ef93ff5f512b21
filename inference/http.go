package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/BaSui01/maskflow/internal/tlsutil"
	"github.com/BaSui01/maskflow/types"
	"go.uber.org/zap"
)

// maxResponseBytes 模型服务响应体上限
const maxResponseBytes = 8 << 20

// =============================================================================
// 🌐 常驻模型服务
// =============================================================================

// HTTPConfig 模型服务后端配置
type HTTPConfig struct {
	// URL 检测接口地址，例如 http://127.0.0.1:8000/detect
	URL string
	// HealthURL 健康检查地址，为空时使用 URL 同源的 /health
	HealthURL string
	// MaxConnsPerHost 到模型服务的连接上限，0 表示不限制
	MaxConnsPerHost int
	// Client 自定义 HTTP 客户端
	Client *http.Client
}

// HTTPBackend 通过 HTTP 调用常驻模型服务
type HTTPBackend struct {
	cfg    HTTPConfig
	client *http.Client
	logger *zap.Logger
}

// NewHTTPBackend 创建模型服务后端
func NewHTTPBackend(cfg HTTPConfig, logger *zap.Logger) *HTTPBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := cfg.Client
	if client == nil {
		client = tlsutil.ModelServerClient(cfg.MaxConnsPerHost)
	}
	if cfg.HealthURL == "" {
		cfg.HealthURL = healthURLFor(cfg.URL)
	}
	return &HTTPBackend{
		cfg:    cfg,
		client: client,
		logger: logger.With(zap.String("component", "http_backend")),
	}
}

// Name 返回后端名称
func (b *HTTPBackend) Name() string { return "http" }

// Detect POST {"image": base64} 并解析 DetectionResult
func (b *HTTPBackend) Detect(ctx context.Context, image string) (*types.DetectionResult, error) {
	payload, err := json.Marshal(detectorRequest{Image: image})
	if err != nil {
		return nil, types.NewError(types.ErrStartupFailure, "Failed to encode detector request").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrStartupFailure, "Failed to build model server request: "+err.Error()).
			WithCause(err).
			WithBackend(b.Name())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return nil, timeoutError(b.Name(), ctxErr)
			}
			return nil, types.NewError(types.ErrTimeout, MsgCanceled).WithCause(ctxErr).WithBackend(b.Name())
		}
		b.logger.Error("model server unreachable", zap.String("url", b.cfg.URL), zap.Error(err))
		return nil, types.NewError(types.ErrStartupFailure, "Failed to reach model server: "+err.Error()).
			WithCause(err).
			WithBackend(b.Name()).
			WithRetryable(true)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, timeoutError(b.Name(), ctx.Err())
		}
		return nil, parseError(b.Name(), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		diag := truncate(strings.TrimSpace(string(body)), maxStderrBytes)
		return nil, types.NewError(types.ErrProcessExit,
			fmt.Sprintf("model server responded with status %d: %s", resp.StatusCode, diag)).
			WithBackend(b.Name()).
			WithRetryable(resp.StatusCode >= 500)
	}

	var result types.DetectionResult
	if err := json.Unmarshal(bytes.TrimSpace(body), &result); err != nil {
		return nil, parseError(b.Name(), err)
	}
	return &result, nil
}

// Check GET 健康检查地址
func (b *HTTPBackend) Check(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.HealthURL, nil)
	if err != nil {
		return err.Error(), err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return err.Error(), fmt.Errorf("model server health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	if resp.StatusCode != http.StatusOK {
		return msg, fmt.Errorf("model server health check returned %d", resp.StatusCode)
	}
	if msg == "" {
		msg = resp.Status
	}
	return msg, nil
}

// healthURLFor 把 http://host:port/detect 转成 http://host:port/health
func healthURLFor(detectURL string) string {
	u, err := url.Parse(detectURL)
	if err != nil || u.Host == "" {
		return detectURL
	}
	u.Path = "/health"
	u.RawQuery = ""
	return u.String()
}
