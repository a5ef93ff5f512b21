package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/BaSui01/maskflow/inference"
	"github.com/BaSui01/maskflow/internal/ctxkeys"
	"github.com/BaSui01/maskflow/internal/logging"
	"github.com/BaSui01/maskflow/types"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"
)

// =============================================================================
// 🔍 detect 命令
// =============================================================================

func runDetect(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: maskflow detect [--json] <image-file>", 2)
	}

	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}
	// stdout 留给检测结果
	cfg.Log.OutputPaths = []string{"stderr"}
	cfg.Log.File.Filename = ""
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer logger.Close()

	data, err := os.ReadFile(c.Args().First())
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	backend, err := inference.NewBackend(cfg.Detector, logger.Logger)
	if err != nil {
		return err
	}
	gateway := inference.NewGateway(backend, inference.WithGatewayLogger(logger.Logger))

	timeout := cfg.Detector.UploadTimeout
	if d := c.Duration("timeout"); d > 0 {
		timeout = d
	}

	ctx := ctxkeys.WithSource(c.Context, ctxkeys.SourceCLI)
	res := gateway.Infer(ctx, types.EncodeImage(data), timeout)

	if c.Bool("json") {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		renderResult(c.App.Writer, res)
	}

	if res.Failed() {
		return cli.Exit("", 1)
	}
	return nil
}

// renderResult 以表格输出检测结果
func renderResult(w io.Writer, res *types.DetectionResult) {
	if res.Failed() {
		fmt.Fprintf(w, "Detection failed: %s\n", res.Error)
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"#", "Label", "Confidence", "Box (x1, y1, x2, y2)"})
	for i, d := range res.Detections {
		t.AppendRow(table.Row{
			i + 1,
			d.Label,
			fmt.Sprintf("%.1f%%", d.Confidence*100),
			fmt.Sprintf("%.0f, %.0f, %.0f, %.0f", d.X1, d.Y1, d.X2, d.Y2),
		})
	}

	stats := res.Stats
	if stats == nil {
		computed := types.ComputeStats(res.Detections)
		stats = &computed
	}
	t.AppendFooter(table.Row{
		"",
		fmt.Sprintf("%d faces", stats.Total),
		fmt.Sprintf("mask rate %.1f%%", stats.MaskRate),
		fmt.Sprintf("%d masked / %d unmasked / %d incorrect", stats.Masked, stats.Unmasked, stats.Incorrect),
	})
	t.Render()

	if res.ImageWidth > 0 {
		fmt.Fprintf(w, "Image: %dx%d\n", res.ImageWidth, res.ImageHeight)
	}
}
