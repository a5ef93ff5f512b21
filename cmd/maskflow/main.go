// =============================================================================
// MaskFlow 主入口
// =============================================================================
// 口罩检测服务入口，包含一次性检测 API、实时检测流、健康检查、Prometheus 指标
//
// 使用方法:
//
//	maskflow                               # 启动服务（等同 serve）
//	maskflow serve --config maskflow.yaml  # 指定配置文件
//	maskflow detect photo.jpg              # 本地检测一张图片
//	maskflow detect --json photo.jpg       # 以 JSON 输出检测结果
//	maskflow health                        # 探测运行中的服务
//	maskflow version                       # 显示版本信息
// =============================================================================

// @title Face Mask Detection API
// @version 1.0.0
// @description MaskFlow classifies faces in uploaded images and live webcam streams as
// @description masked, unmasked or incorrectly masked.
// @description
// @description ## Features
// @description - One-shot detection via multipart upload or base64 JSON
// @description - Live detection over WebSocket with latest-frame-wins backpressure
// @description - Pluggable detector backends (subprocess or model server)
// @description - Health monitoring and metrics

// @contact.name MaskFlow Team
// @contact.url https://github.com/BaSui01/maskflow

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BaSui01/maskflow/config"
	"github.com/BaSui01/maskflow/internal/logging"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func configFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to YAML config file",
		EnvVars: []string{config.DefaultEnvPrefix + "_CONFIG"},
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:                 "maskflow",
		Usage:                "face mask detection service",
		Version:              Version,
		HideVersion:          true,
		EnableBashCompletion: true,
		Flags:                []cli.Flag{configFlag()},
		Action:               runServe,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "start the HTTP and WebSocket server",
				Flags:  []cli.Flag{configFlag()},
				Action: runServe,
			},
			{
				Name:      "detect",
				Usage:     "run the detector on a local image",
				ArgsUsage: "<image-file>",
				Flags: []cli.Flag{
					configFlag(),
					&cli.BoolFlag{Name: "json", Usage: "print the raw detection result as JSON"},
					&cli.DurationFlag{Name: "timeout", Usage: "override the upload inference timeout"},
				},
				Action: runDetect,
			},
			{
				Name:  "health",
				Usage: "check the health of a running server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Value: "http://localhost:8080", Usage: "server address"},
					&cli.DurationFlag{Name: "timeout", Value: 5 * time.Second, Usage: "request timeout"},
				},
				Action: runHealthCheck,
			},
			{
				Name:   "version",
				Usage:  "show version information",
				Action: printVersion,
			},
		},
	}
}

// loadConfig 加载并校验配置
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(c *cli.Context) error {
	configPath := c.String("config")
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer logger.Close()

	logger.Info("Starting MaskFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := NewServer(cfg, configPath, logger)
	if err := srv.Start(ctx); err != nil {
		shutdownErr := srv.Shutdown(context.Background())
		logger.Error("Failed to start server", zap.Error(err), zap.NamedError("shutdown_error", shutdownErr))
		return err
	}

	runErr := srv.Run(ctx)
	if runErr != nil {
		logger.Error("Server exited unexpectedly", zap.Error(runErr))
	} else {
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}

	logger.Info("MaskFlow stopped")
	return runErr
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(c *cli.Context) error {
	addr := strings.TrimRight(c.String("addr"), "/")
	client := &http.Client{Timeout: c.Duration("timeout")}

	resp, err := client.Get(addr + "/api/health")
	if err != nil {
		return cli.Exit(fmt.Sprintf("Health check failed: %v", err), 1)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return cli.Exit(fmt.Sprintf("Health check failed: status %d", resp.StatusCode), 1)
	}

	fmt.Fprintln(c.App.Writer, strings.TrimSpace(string(body)))
	return nil
}

// =============================================================================
// 📋 版本
// =============================================================================

func printVersion(c *cli.Context) error {
	fmt.Fprintf(c.App.Writer, "MaskFlow %s\n", Version)
	fmt.Fprintf(c.App.Writer, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(c.App.Writer, "  Git Commit: %s\n", GitCommit)
	return nil
}
