package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newBufferedAdapter(level zapcore.Level) (log.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zapcore.EncoderConfig{
			MessageKey:  "msg",
			LevelKey:    "level",
			EncodeLevel: zapcore.LowercaseLevelEncoder,
		}),
		zapcore.AddSync(buf),
		level,
	)
	return NewKratosAdapter(zap.New(core)), buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestKratosAdapter_EmptyKeyvals(t *testing.T) {
	adapter, buf := newBufferedAdapter(zapcore.DebugLevel)
	assert.NoError(t, adapter.Log(log.LevelInfo))
	assert.Zero(t, buf.Len())
}

func TestKratosAdapter_MessageAndFields(t *testing.T) {
	adapter, buf := newBufferedAdapter(zapcore.DebugLevel)

	require.NoError(t, adapter.Log(log.LevelInfo,
		"msg", "capacity applied",
		"route_id", "R1",
		"new_kg", 600.0,
		"error", errors.New("boom"),
	))

	entry := lastEntry(t, buf)
	assert.Equal(t, "capacity applied", entry["msg"])
	assert.Equal(t, "R1", entry["route_id"])
	assert.Equal(t, 600.0, entry["new_kg"])
	assert.Equal(t, "boom", entry["error"])
}

func TestKratosAdapter_OddKeyvals(t *testing.T) {
	adapter, buf := newBufferedAdapter(zapcore.DebugLevel)
	require.NoError(t, adapter.Log(log.LevelInfo, "msg", "odd", "dangling"))

	entry := lastEntry(t, buf)
	assert.Equal(t, "(MISSING)", entry["dangling"])
}

func TestKratosAdapter_SanitizesSensitiveValues(t *testing.T) {
	adapter, buf := newBufferedAdapter(zapcore.DebugLevel)
	require.NoError(t, adapter.Log(log.LevelWarn, "msg", "connect", "password", "supersecretvalue"))

	entry := lastEntry(t, buf)
	assert.Equal(t, "supe********alue", entry["password"])
}

func TestKratosAdapter_LevelMapping(t *testing.T) {
	tests := []struct {
		level log.Level
		want  string
	}{
		{log.LevelDebug, "debug"},
		{log.LevelInfo, "info"},
		{log.LevelWarn, "warn"},
		{log.LevelError, "error"},
		{log.Level(42), "info"},
	}

	for _, tt := range tests {
		adapter, buf := newBufferedAdapter(zapcore.DebugLevel)
		require.NoError(t, adapter.Log(tt.level, "msg", "x"))
		assert.Equal(t, tt.want, lastEntry(t, buf)["level"])
	}
}

func TestKratosAdapter_WithHelper(t *testing.T) {
	adapter, buf := newBufferedAdapter(zapcore.InfoLevel)
	helper := log.NewHelper(log.With(adapter, "module", "biz/registry"))

	helper.Infow("msg", "service registered", "service", "truck-service")
	helper.Debugw("msg", "filtered out")

	entry := lastEntry(t, buf)
	assert.Equal(t, "service registered", entry["msg"])
	assert.Equal(t, "biz/registry", entry["module"])
}
