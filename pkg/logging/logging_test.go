package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zap.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zap.InfoLevel, ParseLevel("info"))
	assert.Equal(t, zap.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zap.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zap.InfoLevel, ParseLevel("bogus"))
}

func TestValidLevel(t *testing.T) {
	for _, l := range []string{"", "debug", "info", "warn", "error"} {
		assert.True(t, ValidLevel(l), l)
	}
	assert.False(t, ValidLevel("trace"))
}

func TestNewLogger_WritesToOutput(t *testing.T) {
	for _, format := range []string{"text", "json"} {
		t.Run(format, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "hello.log")

			logger, err := NewLogger(Config{Level: "info", Format: format, Output: path})
			require.NoError(t, err)

			logger.Info("listening (http, 127.0.0.1, 8000)")
			logger.Debug("filtered out")
			_ = logger.Sync()

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			out := string(data)
			assert.Contains(t, out, "listening (http, 127.0.0.1, 8000)")
			assert.False(t, strings.Contains(out, "filtered out"))
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "stdout", cfg.Output)
	assert.Equal(t, "text", cfg.Format)
}
