package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/BaSui01/maskflow/types"
	"go.uber.org/zap"
)

// maxStderrBytes 错误信息中保留的 stderr 长度
const maxStderrBytes = 4096

// =============================================================================
// 🐍 子进程检测器
// =============================================================================

// ProcessConfig 子进程后端配置
type ProcessConfig struct {
	Command    string
	Args       []string
	WorkDir    string
	Env        []string
	HealthArgs []string

	// KillGrace SIGTERM 后等待进程退出的时间，超过后强制 kill
	KillGrace time.Duration
}

// ProcessBackend 每次调用启动一个检测器进程
type ProcessBackend struct {
	cfg    ProcessConfig
	logger *zap.Logger
}

// NewProcessBackend 创建子进程后端
func NewProcessBackend(cfg ProcessConfig, logger *zap.Logger) *ProcessBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.HealthArgs) == 0 {
		cfg.HealthArgs = []string{"--version"}
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 2 * time.Second
	}
	return &ProcessBackend{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "process_backend")),
	}
}

// Name 返回后端名称
func (b *ProcessBackend) Name() string { return "process" }

// Detect 启动检测器进程并等待结果
func (b *ProcessBackend) Detect(ctx context.Context, image string) (*types.DetectionResult, error) {
	payload, err := json.Marshal(detectorRequest{Image: image})
	if err != nil {
		return nil, types.NewError(types.ErrStartupFailure, "Failed to encode detector request").WithCause(err)
	}

	var stdout, stderr bytes.Buffer
	cmd := b.command(ctx, b.cfg.Args)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		b.logger.Error("failed to start detector", zap.String("command", b.cfg.Command), zap.Error(err))
		return nil, types.NewError(types.ErrStartupFailure, "Failed to start detector process: "+err.Error()).
			WithCause(err).
			WithBackend(b.Name())
	}

	waitErr := cmd.Wait()
	duration := time.Since(start)

	if ctxErr := ctx.Err(); ctxErr != nil {
		b.logger.Warn("detector terminated",
			zap.Int("pid", cmd.Process.Pid),
			zap.Duration("duration", duration),
			zap.Error(ctxErr))
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, timeoutError(b.Name(), ctxErr)
		}
		return nil, types.NewError(types.ErrTimeout, MsgCanceled).WithCause(ctxErr).WithBackend(b.Name())
	}

	if waitErr != nil {
		diag := truncate(strings.TrimSpace(stderr.String()), maxStderrBytes)
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			b.logger.Warn("detector exited abnormally",
				zap.Int("exit_code", exitErr.ExitCode()),
				zap.String("stderr", diag))
			return nil, types.NewError(types.ErrProcessExit,
				fmt.Sprintf("detector process exited with code %d: %s", exitErr.ExitCode(), diag)).
				WithCause(waitErr).
				WithBackend(b.Name())
		}
		// I/O 错误或 WaitDelay 超时
		return nil, types.NewError(types.ErrProcessExit, "detector process failed: "+waitErr.Error()).
			WithCause(waitErr).
			WithBackend(b.Name())
	}

	if stderr.Len() > 0 {
		b.logger.Debug("detector stderr", zap.String("stderr", truncate(stderr.String(), maxStderrBytes)))
	}

	var result types.DetectionResult
	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return nil, parseError(b.Name(), errors.New("empty stdout"))
	}
	if err := json.Unmarshal(out, &result); err != nil {
		b.logger.Warn("unparseable detector output",
			zap.String("stdout", truncate(string(out), 256)),
			zap.Error(err))
		return nil, parseError(b.Name(), err)
	}

	b.logger.Debug("detector finished",
		zap.Duration("duration", duration),
		zap.Int("detections", len(result.Detections)))

	return &result, nil
}

// Check 以 HealthArgs 运行检测器命令（默认 --version）
func (b *ProcessBackend) Check(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := b.command(ctx, b.cfg.HealthArgs).CombinedOutput()
	msg := strings.TrimSpace(string(out))
	if err != nil {
		if msg == "" {
			msg = err.Error()
		}
		return msg, fmt.Errorf("detector health check failed: %w", err)
	}
	return msg, nil
}

func (b *ProcessBackend) command(ctx context.Context, args []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, b.cfg.Command, args...)
	cmd.Dir = b.cfg.WorkDir
	if len(b.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), b.cfg.Env...)
	}
	// 先 SIGTERM，KillGrace 后由 exec 强制 kill 并关闭管道
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = b.cfg.KillGrace
	return cmd
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
