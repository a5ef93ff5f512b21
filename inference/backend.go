package inference

import (
	"context"
	"fmt"

	"github.com/BaSui01/maskflow/config"
	"github.com/BaSui01/maskflow/types"
	"go.uber.org/zap"
)

// User-facing diagnostics carried in DetectionResult.Error.
const (
	MsgTimeout       = "Detection timeout - the model took too long to respond"
	MsgCanceled      = "Detection cancelled"
	MsgParseFailure  = "Failed to parse detection results"
	MsgBackendPanic  = "Detector backend failed unexpectedly"
	MsgEmptyResponse = "Detector returned no result"
)

// Backend 检测器调用能力
//
// Detect 返回的 error 必须是 *types.Error，Code 为 ErrTimeout、ErrProcessExit、
// ErrParseFailure 或 ErrStartupFailure 之一。
type Backend interface {
	Name() string
	Detect(ctx context.Context, image string) (*types.DetectionResult, error)
	// Check 探测检测器是否可用，返回可读的状态信息
	Check(ctx context.Context) (string, error)
}

// detectorRequest 检测器输入协议
type detectorRequest struct {
	Image string `json:"image"`
}

// NewBackend 根据配置创建检测器后端
func NewBackend(cfg config.DetectorConfig, logger *zap.Logger) (Backend, error) {
	switch cfg.Backend {
	case config.BackendProcess:
		return NewProcessBackend(ProcessConfig{
			Command:    cfg.Command,
			Args:       cfg.Args,
			WorkDir:    cfg.WorkDir,
			Env:        cfg.Env,
			HealthArgs: cfg.HealthArgs,
			KillGrace:  cfg.KillGrace,
		}, logger), nil
	case config.BackendHTTP:
		return NewHTTPBackend(HTTPConfig{URL: cfg.ModelServerURL}, logger), nil
	default:
		return nil, fmt.Errorf("unknown detector backend %q", cfg.Backend)
	}
}

func timeoutError(backend string, cause error) *types.Error {
	return types.NewError(types.ErrTimeout, MsgTimeout).
		WithCause(cause).
		WithBackend(backend).
		WithRetryable(true)
}

func parseError(backend string, cause error) *types.Error {
	return types.NewError(types.ErrParseFailure, MsgParseFailure).
		WithCause(cause).
		WithBackend(backend)
}
