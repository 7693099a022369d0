package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"Error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestStdLogger_FiltersAndFormats(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLoggerTo(&buf, LevelInfo)
	ctx := context.Background()

	l.Debug(ctx, "hidden")
	l.Info(ctx, "tick done", map[string]interface{}{"symbol": "BTCUSDT", "action": "HOLD"})
	l.Error(ctx, errors.New("boom"), "tick failed")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[INFO] tick done | action=HOLD symbol=BTCUSDT")
	assert.Contains(t, out, "[ERROR] tick failed | error: boom")
}

func TestZapLogger_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewZapLogger(zapcore.AddSync(&buf), LevelDebug)
	l.Warn(context.Background(), "slippage above tolerance", map[string]interface{}{"symbol": "ETHUSDT", "slippage": 0.01})
	l.Error(context.Background(), errors.New("timeout"), "order failed")
	require.NoError(t, l.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "slippage above tolerance", entry["msg"])
	assert.Equal(t, "ETHUSDT", entry["symbol"])

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
	assert.Equal(t, "timeout", entry["error"])
}

func TestZapLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewZapLogger(zapcore.AddSync(&buf), LevelError)
	l.Info(context.Background(), "ignored")
	assert.Empty(t, buf.String())
}
