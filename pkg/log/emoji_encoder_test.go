package log

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func testEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "level",
		TimeKey:        "time",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}
}

func TestStatusEmoji(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{200, "🟢"},
		{301, "🟡"},
		{404, "🟠"},
		{503, "🔴"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusEmoji(tt.status), "status %d", tt.status)
	}
}

func TestEmojiMap_DomainTypes(t *testing.T) {
	for _, logType := range []string{"registry", "breaker", "consumer", "broker", "request", "database", "scheduler"} {
		emoji, ok := emojiMap[logType]
		assert.True(t, ok, "missing type %s", logType)
		assert.NotEmpty(t, emoji)
	}
}

func TestAddEmojiToMap(t *testing.T) {
	AddEmojiToMap("custom_type", "🎨")
	defer delete(emojiMap, "custom_type")

	assert.Equal(t, "🎨", GetEmojiMap()["custom_type"])
}

func TestGetEmojiMap_ReturnsCopy(t *testing.T) {
	mapCopy := GetEmojiMap()
	assert.Equal(t, len(emojiMap), len(mapCopy))

	mapCopy["test"] = "🧪"
	_, ok := emojiMap["test"]
	assert.False(t, ok)
}

func TestEmojiConsoleEncoder_EncodeEntry(t *testing.T) {
	encoder := NewEmojiConsoleEncoder(testEncoderConfig())
	require.NotNil(t, encoder.Clone())

	tests := []struct {
		name   string
		level  zapcore.Level
		fields []zapcore.Field
		want   string
	}{
		{
			name:   "breaker type",
			level:  zapcore.WarnLevel,
			fields: []zapcore.Field{{Key: "type", Type: zapcore.StringType, String: "breaker"}},
			want:   "🔌",
		},
		{
			name:  "status wins over type",
			level: zapcore.InfoLevel,
			fields: []zapcore.Field{
				{Key: "type", Type: zapcore.StringType, String: "request"},
				{Key: "status", Type: zapcore.Int64Type, Integer: 503},
			},
			want: "🔴",
		},
		{
			name:   "unknown type falls back to level",
			level:  zapcore.ErrorLevel,
			fields: []zapcore.Field{{Key: "type", Type: zapcore.StringType, String: "nope"}},
			want:   "❌",
		},
		{
			name:  "debug without fields",
			level: zapcore.DebugLevel,
			want:  "🐛",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := encoder.EncodeEntry(zapcore.Entry{Level: tt.level, Message: "hello"}, tt.fields)
			require.NoError(t, err)
			defer buf.Free()

			assert.True(t, strings.Contains(buf.String(), tt.want+" hello"), buf.String())
		})
	}
}
