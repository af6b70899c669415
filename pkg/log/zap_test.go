package log

import (
	"os"
	"path/filepath"
	"testing"

	"FreightLane/internal/conf"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewZapLogger_NilConfig(t *testing.T) {
	_, err := NewZapLogger(nil)
	assert.ErrorContains(t, err, "log config is nil")
}

func TestNewZapLogger_InvalidLevel(t *testing.T) {
	_, err := NewZapLogger(&conf.Log{Level: "loud", Format: "json"})
	assert.ErrorContains(t, err, "invalid log level")
}

func TestNewZapLogger_Modes(t *testing.T) {
	tests := []struct {
		name string
		cfg  *conf.Log
	}{
		{"production json", &conf.Log{Level: "info", Format: "json", Env: "production"}},
		{"development console", &conf.Log{Level: "debug", Format: "console", Env: "development"}},
		{"env from variable", &conf.Log{Level: "warn", Format: "json"}},
	}

	t.Setenv("FREIGHTLANE_ENV", "development")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewZapLogger(tt.cfg)
			require.NoError(t, err)
			require.NotNil(t, logger)
			logger.Info("test message", zap.String("key", "value"))
		})
	}
}

func TestNewZapLogger_FileOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "freightlane.log")

	logger, err := NewZapLogger(&conf.Log{Level: "info", Format: "json", Env: "production", OutputFile: logFile})
	require.NoError(t, err)

	logger.Info("written to file", zap.String("route_id", "R1"))
	logger.Debug("below level")
	_ = logger.Sync()

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "written to file")
	assert.Contains(t, string(content), `"service":"FreightLane"`)
	assert.NotContains(t, string(content), "below level")
}
