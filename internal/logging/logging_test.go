package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BaSui01/maskflow/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{in: "", want: zapcore.InfoLevel},
		{in: "debug", want: zapcore.DebugLevel},
		{in: "warn", want: zapcore.WarnLevel},
		{in: "error", want: zapcore.ErrorLevel},
		{in: "chatty", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_WritesRotatingFile(t *testing.T) {
	cfg := config.DefaultLogConfig()
	cfg.OutputPaths = []string{filepath.Join(t.TempDir(), "stdout.log")}
	cfg.File.Filename = filepath.Join(t.TempDir(), "maskflow.log")

	logger, err := New(cfg)
	require.NoError(t, err)

	logger.Info("frame processed", zap.String("session_id", "s-1"))
	logger.Debug("hidden at info level")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(cfg.File.Filename)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "frame processed", entry["msg"])
	assert.Equal(t, "s-1", entry["session_id"])
	assert.Contains(t, entry, "timestamp")
}

func TestLogger_SetLevel(t *testing.T) {
	cfg := config.DefaultLogConfig()
	cfg.OutputPaths = []string{filepath.Join(t.TempDir(), "out.log")}

	logger, err := New(cfg)
	require.NoError(t, err)
	defer logger.Close()

	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	require.NoError(t, logger.SetLevel("debug"))
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.Error(t, logger.SetLevel("nope"))
}

func TestNew_InvalidLevel(t *testing.T) {
	cfg := config.DefaultLogConfig()
	cfg.Level = "loud"
	_, err := New(cfg)
	assert.Error(t, err)
}
